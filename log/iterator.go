package log

import (
	"fmt"
	"io"

	"blockdb/file"
)

// Iterator reads log records from newest to oldest.
//
// Within a block, records sit between the boundary and the end of the block,
// newest first. The iterator walks forward from the boundary, then moves to
// the previous block, down to block 0.
type Iterator struct {
	fileManager *file.Manager
	block       file.Block
	page        *file.Page
	currentPos  int32
}

// NewIterator creates a new iterator for the log records in a file, starting
// from a specific block. The iterator is positioned at the most recent log record
// in that block.
func NewIterator(fileManager *file.Manager, block file.Block) (*Iterator, error) {
	i := &Iterator{
		fileManager: fileManager,
		page:        file.NewPage(fileManager.BlockSize()),
	}

	if err := i.moveToBlock(block); err != nil {
		return nil, err
	}

	return i, nil
}

// HasNext returns true if there are more log records to be read.
func (i *Iterator) HasNext() bool {
	return i.currentPos < i.fileManager.BlockSize() || i.block.Number() > 0
}

// Next returns the next log record, moving to the previous block when the
// current one is exhausted. It returns io.EOF after the oldest record.
func (i *Iterator) Next() ([]byte, error) {
	for i.currentPos >= i.fileManager.BlockSize() {
		if i.block.Number() == 0 {
			return nil, io.EOF
		}
		if err := i.moveToBlock(file.NewBlock(i.block.Filename(), i.block.Number()-1)); err != nil {
			return nil, err
		}
	}

	record, err := i.page.ReadBytesAt(i.currentPos)
	if err != nil {
		return nil, fmt.Errorf("log: read record at %s offset %d: %w", i.block, i.currentPos, err)
	}

	i.currentPos += file.MaxLength(len(record))
	return record, nil
}

// moveToBlock loads a block into the iterator's page and positions the
// iterator at its boundary, which is the block's newest record.
func (i *Iterator) moveToBlock(block file.Block) error {
	if err := i.fileManager.Read(block, i.page); err != nil {
		return err
	}

	boundary, err := i.page.ReadUint64At(0)
	if err != nil {
		return err
	}
	if boundary < boundarySize || boundary > uint64(i.fileManager.BlockSize()) {
		return fmt.Errorf("log: %s has corrupt boundary %d", block, boundary)
	}

	i.block = block
	i.currentPos = int32(boundary)
	return nil
}
