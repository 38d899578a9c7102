package record

import (
	"fmt"

	"blockdb/file"
	"blockdb/transaction"
)

const (
	empty int32 = iota
	used
)

// Page stores records in the slots of one block. Each slot starts with an
// empty/used flag followed by the fields at the offsets of the layout.
type Page struct {
	tx     *transaction.Transaction
	block  file.Block
	layout *Layout
}

// NewPage pins block for the lifetime of the page.
func NewPage(tx *transaction.Transaction, block file.Block, layout *Layout) (*Page, error) {
	if layout.SlotSize() > tx.BlockSize() {
		return nil, fmt.Errorf("record: slot of %d bytes does not fit in a %d byte block", layout.SlotSize(), tx.BlockSize())
	}
	if err := tx.Pin(block); err != nil {
		return nil, err
	}
	return &Page{
		tx:     tx,
		block:  block,
		layout: layout,
	}, nil
}

func (p *Page) ReadInt32(slot int32, fieldName string) (int32, error) {
	return p.tx.ReadInt32(p.block, p.fieldPos(slot, fieldName))
}

func (p *Page) ReadString(slot int32, fieldName string) (string, error) {
	return p.tx.ReadString(p.block, p.fieldPos(slot, fieldName))
}

func (p *Page) WriteInt32(slot int32, fieldName string, value int32) error {
	return p.tx.WriteInt32(p.block, p.fieldPos(slot, fieldName), value, true)
}

func (p *Page) WriteString(slot int32, fieldName string, value string) error {
	if n := p.layout.Schema().FieldLength(fieldName); int32(len(value)) > n {
		return fmt.Errorf("record: value of %d bytes too long for field %s(%d)", len(value), fieldName, n)
	}
	return p.tx.WriteString(p.block, p.fieldPos(slot, fieldName), value, true)
}

func (p *Page) Delete(slot int32) error {
	return p.setFlag(slot, empty)
}

// Format marks every slot empty and zeroes its fields. The writes are not
// logged: a freshly appended block has no earlier contents to restore.
func (p *Page) Format() error {
	schema := p.layout.Schema()
	for slot := int32(0); p.isValidSlot(slot); slot++ {
		if err := p.tx.WriteInt32(p.block, p.offset(slot), empty, false); err != nil {
			return err
		}

		for _, fieldName := range schema.fields {
			pos := p.fieldPos(slot, fieldName)
			var err error
			if schema.FieldType(fieldName) == Integer {
				err = p.tx.WriteInt32(p.block, pos, 0, false)
			} else {
				err = p.tx.WriteString(p.block, pos, "", false)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// NextAfter returns the first used slot after slot, or -1.
func (p *Page) NextAfter(slot int32) (int32, error) {
	return p.searchAfter(slot, used)
}

// InsertAfter claims the first empty slot after slot and returns it, or
// returns -1 if the block is full.
func (p *Page) InsertAfter(slot int32) (int32, error) {
	newSlot, err := p.searchAfter(slot, empty)
	if err != nil {
		return 0, err
	}
	if newSlot >= 0 {
		if err := p.setFlag(newSlot, used); err != nil {
			return 0, err
		}
	}
	return newSlot, nil
}

func (p *Page) Block() file.Block {
	return p.block
}

func (p *Page) setFlag(slot int32, flag int32) error {
	return p.tx.WriteInt32(p.block, p.offset(slot), flag, true)
}

func (p *Page) searchAfter(slot int32, flag int32) (int32, error) {
	for slot++; p.isValidSlot(slot); slot++ {
		value, err := p.tx.ReadInt32(p.block, p.offset(slot))
		if err != nil {
			return 0, err
		}
		if value == flag {
			return slot, nil
		}
	}
	return -1, nil
}

func (p *Page) isValidSlot(slot int32) bool {
	return p.offset(slot+1) <= p.tx.BlockSize()
}

func (p *Page) fieldPos(slot int32, fieldName string) int32 {
	return p.offset(slot) + p.layout.Offset(fieldName)
}

func (p *Page) offset(slot int32) int32 {
	return slot * p.layout.SlotSize()
}
