package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Manager maps blocks to byte ranges of the files in one database directory.
// The mutex only protects the open-file cache and file growth; concurrent
// access to the same block is serialized by the transaction lock table.
type Manager struct {
	mu        sync.Mutex
	directory string
	blockSize int32
	openFiles map[string]*os.File
	logger    *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func (m *Manager) BlockSize() int32 {
	return m.blockSize
}

// NewManager creates a new file manager for a given database directory.
// It creates the directory if it does not already exist.
// It also removes any temporary files that may have been leftover from
// previous database sessions.
func NewManager(directory string, blockSize int32, opts ...Option) (*Manager, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("file: block size must be positive, got %d", blockSize)
	}

	// Create the directory if the database is new.
	if err := os.MkdirAll(directory, os.ModePerm); err != nil {
		return nil, fmt.Errorf("file: create directory %s: %w", directory, err)
	}

	m := &Manager{
		directory: directory,
		blockSize: blockSize,
		openFiles: make(map[string]*os.File),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	// Remove any leftover temporary tables.
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, fmt.Errorf("file: read directory %s: %w", directory, err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "temp") {
			if err := os.Remove(filepath.Join(directory, entry.Name())); err != nil {
				return nil, fmt.Errorf("file: remove temporary file %s: %w", entry.Name(), err)
			}
			m.logger.Debug("removed temporary file", zap.String("file", entry.Name()))
		}
	}

	return m, nil
}

// Read reads the contents of a disk block into a page. A block that lies past
// the end of its file reads as zeros, and the file is extended to cover it.
func (m *Manager) Read(block Block, page *Page) error {
	if err := m.checkPage(page); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getOpenFile(block.Filename())
	if err != nil {
		return err
	}

	size, err := m.size(f)
	if err != nil {
		return err
	}
	if block.Number() >= size {
		if err := f.Truncate(m.offset(block.Number() + 1)); err != nil {
			return fmt.Errorf("file: extend %s to cover %s: %w", block.Filename(), block, err)
		}
	}

	if _, err := f.ReadAt(page.Buf(), m.offset(block.Number())); err != nil {
		return fmt.Errorf("file: read %s: %w", block, err)
	}

	return nil
}

// Write writes the contents of a page to a disk block.
func (m *Manager) Write(block Block, page *Page) error {
	if err := m.checkPage(page); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getOpenFile(block.Filename())
	if err != nil {
		return err
	}

	if _, err := f.WriteAt(page.Buf(), m.offset(block.Number())); err != nil {
		return fmt.Errorf("file: write %s: %w", block, err)
	}

	return nil
}

// Append appends a new block to the end of the specified file.
// It calculates the new block number based on the current file size,
// extends the file by writing a block of zeros at that position, and
// returns a Block identifier for the new block.
func (m *Manager) Append(filename string) (Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getOpenFile(filename)
	if err != nil {
		return Block{}, err
	}

	size, err := m.size(f)
	if err != nil {
		return Block{}, err
	}

	block := NewBlock(filename, size)
	b := make([]byte, m.blockSize)
	if _, err := f.WriteAt(b, m.offset(block.Number())); err != nil {
		return Block{}, fmt.Errorf("file: append %s: %w", block, err)
	}

	m.logger.Debug("appended block", zap.Stringer("block", block))
	return block, nil
}

// Size returns the number of blocks in the specified file.
func (m *Manager) Size(filename string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getOpenFile(filename)
	if err != nil {
		return 0, err
	}
	return m.size(f)
}

// Close closes every open file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, f := range m.openFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("file: close %s: %w", name, err)
		}
		delete(m.openFiles, name)
	}
	return firstErr
}

func (m *Manager) size(f *os.File) (int32, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("file: stat %s: %w", f.Name(), err)
	}
	return int32(info.Size() / int64(m.blockSize)), nil
}

func (m *Manager) checkPage(page *Page) error {
	if int32(len(page.Buf())) != m.blockSize {
		return fmt.Errorf("file: page of %d bytes does not match block size %d", len(page.Buf()), m.blockSize)
	}
	return nil
}

func (m *Manager) offset(number int32) int64 {
	return int64(number) * int64(m.blockSize)
}

// getOpenFile retrieves or creates a file handle for the specified filename.
// It first checks a cache of open files. If a handle is not found, it opens
// the file from the disk and adds the new handle to the cache.
// This method must be called with the mutex lock already held.
func (m *Manager) getOpenFile(filename string) (*os.File, error) {
	if f, ok := m.openFiles[filename]; ok {
		return f, nil
	}

	path := filepath.Join(m.directory, filename)

	// O_SYNC makes every write reach the disk before it returns; the
	// recovery algorithm depends on it.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("file: open %s: %w", path, err)
	}

	m.openFiles[filename] = f
	return f, nil
}
