package buffer

import (
	"fmt"
	"sync"

	"blockdb/file"
	"blockdb/log"
)

// Buffer holds the contents of one block in memory, along with the
// information needed to write it back: which transaction modified it and
// the LSN of the log record describing that change.
//
// The pin count and block assignment belong to the Manager and are only
// touched with the Manager's mutex held. The modification fields have their
// own mutex, because the owning transaction sets them while FlushAll from
// another transaction may be reading them.
type Buffer struct {
	fileManager *file.Manager
	logManager  *log.Manager
	contents    *file.Page
	block       file.Block
	assigned    bool
	pins        int32

	mu         sync.Mutex
	modifiedBy int32 // transaction number that made the change
	lsn        log.LSN
}

func NewBuffer(fileManager *file.Manager, logManager *log.Manager) *Buffer {
	return &Buffer{
		fileManager: fileManager,
		logManager:  logManager,
		contents:    file.NewPage(fileManager.BlockSize()),
		modifiedBy:  -1,
		lsn:         -1,
	}
}

func (b *Buffer) Contents() *file.Page {
	return b.contents
}

// Block returns the block the buffer is assigned to. The second result is
// false for a buffer that has never been assigned.
func (b *Buffer) Block() (file.Block, bool) {
	return b.block, b.assigned
}

// SetModified records that txNum changed the buffer. A negative lsn means
// the change was not logged, and the buffer keeps its previous LSN.
func (b *Buffer) SetModified(txNum int32, lsn log.LSN) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.modifiedBy = txNum
	if lsn >= 0 {
		b.lsn = lsn
	}
}

func (b *Buffer) IsPinned() bool {
	return b.pins > 0
}

func (b *Buffer) ModifyingTx() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modifiedBy
}

// assignToBlock flushes any modification of the previous block and reads
// block into the buffer.
func (b *Buffer) assignToBlock(block file.Block) error {
	if err := b.flush(); err != nil {
		return err
	}

	if err := b.fileManager.Read(block, b.contents); err != nil {
		b.assigned = false
		return fmt.Errorf("buffer: assign to %s: %w", block, err)
	}
	b.block = block
	b.assigned = true
	b.pins = 0
	return nil
}

// flush writes the buffer to disk if it is dirty. The log is forced up to
// the buffer's LSN first, so the undo information reaches disk before the
// change it describes.
func (b *Buffer) flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.modifiedBy < 0 {
		return nil
	}
	if err := b.logManager.Flush(b.lsn); err != nil {
		return err
	}
	if err := b.fileManager.Write(b.block, b.contents); err != nil {
		return err
	}
	b.modifiedBy = -1
	return nil
}

func (b *Buffer) pin() {
	b.pins++
}

func (b *Buffer) unpin() {
	b.pins--
}
