package transaction

import (
	"blockdb/buffer"
	"blockdb/file"
)

// pinnedBuffer is a buffer together with the number of times the
// transaction pinned it. A held buffer keeps its buffer manager pin after
// the last unpin.
type pinnedBuffer struct {
	buffer   *buffer.Buffer
	refCount int
	held     bool
}

// BufferList tracks the buffers pinned by one transaction. The buffer
// manager sees a single pin per block; repeated pins by the transaction are
// counted here and need matching unpins.
//
// Blocks with logged writes are held until UnpinAll, so rollback can undo
// them without waiting for a free buffer.
type BufferList struct {
	buffers       map[file.Block]*pinnedBuffer
	bufferManager *buffer.Manager
}

func NewBufferList(bufferManager *buffer.Manager) *BufferList {
	return &BufferList{
		buffers:       make(map[file.Block]*pinnedBuffer),
		bufferManager: bufferManager,
	}
}

// Buffer returns the buffer pinned to block, or nil if the transaction has
// not pinned it.
func (bl *BufferList) Buffer(block file.Block) *buffer.Buffer {
	pb, ok := bl.buffers[block]
	if !ok || pb.refCount == 0 {
		return nil
	}
	return pb.buffer
}

// Hold keeps block pinned in the buffer manager until UnpinAll. The block
// must be pinned.
func (bl *BufferList) Hold(block file.Block) {
	if pb, ok := bl.buffers[block]; ok {
		pb.held = true
	}
}

func (bl *BufferList) Pin(block file.Block) error {
	if pb, ok := bl.buffers[block]; ok {
		pb.refCount++
		return nil
	}

	buf, err := bl.bufferManager.Pin(block)
	if err != nil {
		return err
	}
	bl.buffers[block] = &pinnedBuffer{buffer: buf, refCount: 1}
	return nil
}

// Unpin releases one pin on block. The buffer goes back to the buffer
// manager with the last one, unless the block is held.
func (bl *BufferList) Unpin(block file.Block) {
	pb, ok := bl.buffers[block]
	if !ok {
		return
	}

	if pb.refCount > 0 {
		pb.refCount--
	}
	if pb.refCount == 0 && !pb.held {
		bl.bufferManager.Unpin(pb.buffer)
		delete(bl.buffers, block)
	}
}

func (bl *BufferList) UnpinAll() {
	for _, pb := range bl.buffers {
		bl.bufferManager.Unpin(pb.buffer)
	}
	clear(bl.buffers)
}
