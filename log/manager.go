package log

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"blockdb/file"
	"blockdb/internal/metrics"
)

// LSN is a log sequence number. The first record appended by a Manager gets
// LSN 1; -1 marks "no log record".
type LSN int64

// boundarySize is the width of the boundary value stored at offset 0 of every
// log block. The boundary is the offset of the most recently written record.
const boundarySize = 8

// ErrRecordTooLarge is returned by Append when a record cannot fit in an
// empty log block.
var ErrRecordTooLarge = errors.New("log: record does not fit in a block")

// Manager appends records to the write-ahead log. Records are packed from the
// end of each block toward its start, so the newest record of a block has the
// lowest offset.
type Manager struct {
	mu           sync.Mutex
	fileManager  *file.Manager
	logFile      string
	logPage      *file.Page
	currentBlock file.Block
	latestLSN    LSN
	lastSavedLSN LSN
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a new log manager for a given log file.
// If the log file does not exist, it creates a new one with a single, empty block.
// If the log file exists, it reads the last block of the file into its internal
// log page, so new log records are appended to the end of the existing log.
func NewManager(fileManager *file.Manager, logFile string, opts ...Option) (*Manager, error) {
	m := &Manager{
		fileManager: fileManager,
		logFile:     logFile,
		logPage:     file.NewPage(fileManager.BlockSize()),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewUnregistered()
	}
	m.logger = m.logger.With(zap.String("log_file", logFile))

	logSize, err := fileManager.Size(logFile)
	if err != nil {
		return nil, err
	}

	if logSize == 0 {
		if err := m.appendNewBlock(); err != nil {
			return nil, err
		}
	} else {
		m.currentBlock = file.NewBlock(logFile, logSize-1) // block number is 0-indexed
		if err := fileManager.Read(m.currentBlock, m.logPage); err != nil {
			return nil, err
		}
		if err := m.resetZeroBlock(); err != nil {
			return nil, err
		}
	}

	m.logger.Debug("log manager opened", zap.Int32("blocks", max(logSize, 1)))
	return m, nil
}

// Flush ensures that the record with the given LSN, and every record before
// it, has been written to disk. Records at or below the last saved LSN are
// already durable, so nothing is written for them.
func (m *Manager) Flush(lsn LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lsn >= m.lastSavedLSN {
		return m.flush()
	}
	return nil
}

// LastSavedLSN returns the highest LSN known to be on disk.
func (m *Manager) LastSavedLSN() LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSavedLSN
}

// LatestLSN returns the LSN of the most recently appended record.
func (m *Manager) LatestLSN() LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestLSN
}

// Iterator returns a log iterator starting from the most recent log record.
// All current records are flushed to disk before the iterator is created.
func (m *Manager) Iterator() (*Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flush(); err != nil {
		return nil, err
	}

	return NewIterator(m.fileManager, m.currentBlock)
}

// Append adds a new log record to the log and returns its assigned LSN.
// When the record does not fit below the current boundary, the current block
// is written out and the record goes to a new block.
func (m *Manager) Append(record []byte) (LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	needBytes := file.MaxLength(len(record))
	if needBytes > m.fileManager.BlockSize()-boundarySize {
		return 0, fmt.Errorf("%w: %d bytes, block size %d", ErrRecordTooLarge, len(record), m.fileManager.BlockSize())
	}

	boundary, err := m.boundary()
	if err != nil {
		return 0, err
	}

	if boundary-needBytes < boundarySize {
		// It doesn't fit, so move to the next block.
		if err := m.flush(); err != nil {
			return 0, err
		}
		if err := m.appendNewBlock(); err != nil {
			return 0, err
		}
		boundary = m.fileManager.BlockSize()
	}

	recordPos := boundary - needBytes
	if err := m.logPage.WriteBytesAt(recordPos, record); err != nil {
		return 0, err
	}
	if err := m.logPage.WriteUint64At(0, uint64(recordPos)); err != nil {
		return 0, err
	}

	m.latestLSN++
	m.metrics.LogAppends.Inc()
	return m.latestLSN, nil
}

func (m *Manager) boundary() (int32, error) {
	b, err := m.logPage.ReadUint64At(0)
	if err != nil {
		return 0, err
	}
	if b < boundarySize || b > uint64(m.fileManager.BlockSize()) {
		return 0, fmt.Errorf("log: %s has corrupt boundary %d", m.currentBlock, b)
	}
	return int32(b), nil
}

// flush must be called with the mutex held.
func (m *Manager) flush() error {
	if err := m.fileManager.Write(m.currentBlock, m.logPage); err != nil {
		return err
	}
	m.lastSavedLSN = m.latestLSN
	m.metrics.LogBlockWrites.Inc()
	return nil
}

// resetZeroBlock turns a zero boundary in the current block into an empty
// block. It is left by a crash between appending a log block and writing its
// boundary.
func (m *Manager) resetZeroBlock() error {
	b, err := m.logPage.ReadUint64At(0)
	if err != nil || b != 0 {
		return err
	}

	if err := m.logPage.WriteUint64At(0, uint64(m.fileManager.BlockSize())); err != nil {
		return err
	}
	if err := m.fileManager.Write(m.currentBlock, m.logPage); err != nil {
		return err
	}
	m.logger.Warn("reset log block with zero boundary", zap.Int32("block", m.currentBlock.Number()))
	return nil
}

// appendNewBlock extends the log file by one block, resets the log page to an
// empty block and writes it out. It must be called with the mutex held.
func (m *Manager) appendNewBlock() error {
	block, err := m.fileManager.Append(m.logFile)
	if err != nil {
		return err
	}

	clear(m.logPage.Buf())
	if err := m.logPage.WriteUint64At(0, uint64(m.fileManager.BlockSize())); err != nil {
		return err
	}
	if err := m.fileManager.Write(block, m.logPage); err != nil {
		return err
	}

	m.currentBlock = block
	m.logger.Debug("started log block", zap.Int32("block", block.Number()))
	return nil
}
