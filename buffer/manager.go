package buffer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"blockdb/file"
	"blockdb/internal/metrics"
	"blockdb/internal/syncutil"
	"blockdb/log"
)

// DefaultMaxWait is how long Pin waits for a buffer before giving up.
const DefaultMaxWait = 10 * time.Second

// ErrBufferAbort is returned when a client's request for a buffer times
// out. The transaction that asked for the buffer should roll back.
var ErrBufferAbort = errors.New("buffer: no buffer available within the maximum wait")

// Manager owns a fixed pool of buffers shared by all transactions.
type Manager struct {
	mu         sync.Mutex
	cond       *sync.Cond // signalled whenever a buffer becomes unpinned
	bufferPool []*Buffer
	available  int32
	maxWait    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
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

// WithMaxWait sets how long Pin waits for an unpinned buffer.
func WithMaxWait(d time.Duration) Option {
	return func(m *Manager) {
		m.maxWait = d
	}
}

func NewManager(fileManager *file.Manager, logManager *log.Manager, numBufs int32, opts ...Option) *Manager {
	m := &Manager{
		bufferPool: make([]*Buffer, numBufs),
		available:  numBufs,
		maxWait:    DefaultMaxWait,
		logger:     zap.NewNop(),
	}
	m.cond = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewUnregistered()
	}

	for i := range numBufs {
		m.bufferPool[i] = NewBuffer(fileManager, logManager)
	}
	m.metrics.BuffersAvailable.Set(float64(numBufs))

	return m
}

// Available returns the number of available (unpinned) buffers.
func (m *Manager) Available() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// FlushAll flushes all dirty buffers modified by the specified transaction.
func (m *Manager) FlushAll(txNum int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, buffer := range m.bufferPool {
		if buffer.ModifyingTx() == txNum {
			if err := buffer.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Unpin releases one pin on buf. When the last pin goes away the buffer can
// be replaced, and waiting clients are woken up.
func (m *Manager) Unpin(buf *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !buf.IsPinned() {
		return
	}
	buf.unpin()
	if !buf.IsPinned() {
		m.available++
		m.metrics.BuffersAvailable.Inc()
		m.cond.Broadcast()
	}
}

// Pin pins a buffer for the specified block. The method blocks if no buffers
// are available, waiting up to the manager's maximum wait.
func (m *Manager) Pin(block file.Block) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, err := m.tryToPin(block)
	if err != nil {
		return nil, err
	}
	if buf != nil {
		return buf, nil
	}

	m.metrics.BufferWaits.Inc()
	deadline := time.Now().Add(m.maxWait)
	ready := func() bool {
		buf, err = m.tryToPin(block)
		return err != nil || buf != nil
	}
	if !syncutil.WaitUntil(m.cond, deadline, ready) {
		m.metrics.BufferAborts.Inc()
		m.logger.Warn("buffer pin timed out", zap.Stringer("block", block), zap.Duration("max_wait", m.maxWait))
		return nil, fmt.Errorf("%w: pin %s", ErrBufferAbort, block)
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// tryToPin attempts to pin a buffer for the specified block.
// It first looks for an existing buffer holding that block. If not found,
// it tries to find an unpinned buffer to use. A nil buffer with a nil error
// means every buffer is pinned.
// This method must be called with the mutex lock already held.
func (m *Manager) tryToPin(block file.Block) (*Buffer, error) {
	buf := m.findExistingBuffer(block)

	if buf != nil {
		m.metrics.BufferHits.Inc()
	} else {
		buf = m.chooseUnpinnedBuffer()
		if buf == nil {
			return nil, nil
		}
		if old, ok := buf.Block(); ok {
			m.logger.Debug("replacing buffer", zap.Stringer("old", old), zap.Stringer("new", block))
		}
		if err := buf.assignToBlock(block); err != nil {
			return nil, err
		}
	}

	if !buf.IsPinned() {
		m.available--
		m.metrics.BuffersAvailable.Dec()
	}
	buf.pin()
	m.metrics.BufferPins.Inc()
	return buf, nil
}

// findExistingBuffer searches the buffer pool for a buffer
// already allocated to the specified block.
// This method must be called with the mutex lock already held.
func (m *Manager) findExistingBuffer(block file.Block) *Buffer {
	for _, buf := range m.bufferPool {
		if b, ok := buf.Block(); ok && b.Equals(block) {
			return buf
		}
	}
	return nil
}

// chooseUnpinnedBuffer takes the first unpinned buffer in the pool.
// This method must be called with the mutex lock already held.
func (m *Manager) chooseUnpinnedBuffer() *Buffer {
	for _, buf := range m.bufferPool {
		if !buf.IsPinned() {
			return buf
		}
	}
	return nil
}
