package record

import (
	"fmt"

	"blockdb/file"
	"blockdb/transaction"
)

// TableScan iterates over the records of a table file, block by block. It
// keeps one block pinned at a time.
type TableScan struct {
	tx          *transaction.Transaction
	layout      *Layout
	recordPage  *Page
	filename    string
	currentSlot int32
}

// NewTableScan opens the file "<tableName>.tbl" and positions the scan
// before its first record. An empty file gets a formatted first block.
func NewTableScan(tx *transaction.Transaction, tableName string, layout *Layout) (*TableScan, error) {
	ts := &TableScan{
		tx:       tx,
		layout:   layout,
		filename: tableName + ".tbl",
	}

	size, err := tx.Size(ts.filename)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		err = ts.moveToNewBlock()
	} else {
		err = ts.moveToBlock(0)
	}
	if err != nil {
		return nil, err
	}

	return ts, nil
}

// Close unpins the current block. The scan can not be used afterwards.
func (ts *TableScan) Close() {
	if ts.recordPage != nil {
		ts.tx.Unpin(ts.recordPage.Block())
		ts.recordPage = nil
	}
}

func (ts *TableScan) BeforeFirst() error {
	return ts.moveToBlock(0)
}

// Next moves to the next record and reports whether there is one.
func (ts *TableScan) Next() (bool, error) {
	for {
		slot, err := ts.recordPage.NextAfter(ts.currentSlot)
		if err != nil {
			return false, err
		}
		ts.currentSlot = slot
		if slot >= 0 {
			return true, nil
		}

		last, err := ts.atLastBlock()
		if err != nil || last {
			return false, err
		}
		if err := ts.moveToBlock(ts.recordPage.Block().Number() + 1); err != nil {
			return false, err
		}
	}
}

func (ts *TableScan) ReadInt32(fieldName string) (int32, error) {
	return ts.recordPage.ReadInt32(ts.currentSlot, fieldName)
}

func (ts *TableScan) ReadString(fieldName string) (string, error) {
	return ts.recordPage.ReadString(ts.currentSlot, fieldName)
}

func (ts *TableScan) HasField(fieldName string) bool {
	return ts.layout.Schema().HasField(fieldName)
}

func (ts *TableScan) WriteInt32(fieldName string, value int32) error {
	return ts.recordPage.WriteInt32(ts.currentSlot, fieldName, value)
}

func (ts *TableScan) WriteString(fieldName string, value string) error {
	return ts.recordPage.WriteString(ts.currentSlot, fieldName, value)
}

// Insert claims an empty slot after the current position, appending a new
// block to the file when the remaining blocks are full. The scan is left on
// the new record.
func (ts *TableScan) Insert() error {
	for {
		slot, err := ts.recordPage.InsertAfter(ts.currentSlot)
		if err != nil {
			return err
		}
		ts.currentSlot = slot
		if slot >= 0 {
			return nil
		}

		last, err := ts.atLastBlock()
		if err != nil {
			return err
		}
		if last {
			err = ts.moveToNewBlock()
		} else {
			err = ts.moveToBlock(ts.recordPage.Block().Number() + 1)
		}
		if err != nil {
			return err
		}
	}
}

func (ts *TableScan) Delete() error {
	return ts.recordPage.Delete(ts.currentSlot)
}

func (ts *TableScan) MoveToRID(rid RID) error {
	if err := ts.moveToBlock(rid.BlockNumber()); err != nil {
		return err
	}
	ts.currentSlot = rid.Slot()
	return nil
}

// RID returns the identifier of the current record.
func (ts *TableScan) RID() RID {
	return NewRID(ts.recordPage.Block().Number(), ts.currentSlot)
}

func (ts *TableScan) moveToBlock(blockNum int32) error {
	ts.Close()
	recordPage, err := NewPage(ts.tx, file.NewBlock(ts.filename, blockNum), ts.layout)
	if err != nil {
		return err
	}
	ts.recordPage = recordPage
	ts.currentSlot = -1
	return nil
}

func (ts *TableScan) moveToNewBlock() error {
	ts.Close()
	block, err := ts.tx.Append(ts.filename)
	if err != nil {
		return err
	}

	recordPage, err := NewPage(ts.tx, block, ts.layout)
	if err != nil {
		return err
	}
	ts.recordPage = recordPage
	ts.currentSlot = -1

	return ts.recordPage.Format()
}

func (ts *TableScan) atLastBlock() (bool, error) {
	size, err := ts.tx.Size(ts.filename)
	if err != nil {
		return false, err
	}
	return ts.recordPage.Block().Number() == size-1, nil
}

// RID identifies a record by block number and slot.
type RID struct {
	blockNum int32
	slot     int32
}

func NewRID(blockNum, slot int32) RID {
	return RID{blockNum: blockNum, slot: slot}
}

func (r RID) BlockNumber() int32 {
	return r.blockNum
}

func (r RID) Slot() int32 {
	return r.slot
}

func (r RID) Equals(other RID) bool {
	return r == other
}

func (r RID) String() string {
	return fmt.Sprintf("[%d, %d]", r.blockNum, r.slot)
}
