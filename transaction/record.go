package transaction

import (
	"errors"
	"fmt"

	"blockdb/file"
	"blockdb/log"
)

// Op identifies the kind of a log record. It is the first field of every
// record, stored as a u64. Zero is never written.
type Op uint64

const (
	Start Op = iota + 1
	Commit
	Rollback
	SetInt
	SetString
)

func (op Op) String() string {
	switch op {
	case Start:
		return "START"
	case Commit:
		return "COMMIT"
	case Rollback:
		return "ROLLBACK"
	case SetInt:
		return "SETINT"
	case SetString:
		return "SETSTRING"
	default:
		return fmt.Sprintf("Op(%d)", uint64(op))
	}
}

// ErrUnknownRecord is returned by ParseRecord for a payload whose leading tag
// is not a known Op.
var ErrUnknownRecord = errors.New("transaction: unknown log record")

// Field offsets shared by every record kind.
const (
	opPos   = 0
	txPos   = 8
	filePos = txPos + 4
)

// Record is a log record. The set of implementations is closed: StartRecord,
// CommitRecord, RollbackRecord, SetIntRecord and SetStringRecord.
type Record interface {
	Op() Op
	TxNumber() int32
	fmt.Stringer
}

// undoer is implemented by the records that carry a pre-image.
type undoer interface {
	Record
	Undo(tx *Transaction) error
}

// ParseRecord decodes a payload returned by the log iterator.
func ParseRecord(b []byte) (Record, error) {
	p := file.NewPageFromBytes(b)

	op, err := p.ReadUint64At(opPos)
	if err != nil {
		return nil, fmt.Errorf("transaction: parse record: %w", err)
	}
	txNum, err := p.ReadInt32At(txPos)
	if err != nil {
		return nil, fmt.Errorf("transaction: parse record: %w", err)
	}

	switch Op(op) {
	case Start:
		return StartRecord{TxNum: txNum}, nil
	case Commit:
		return CommitRecord{TxNum: txNum}, nil
	case Rollback:
		return RollbackRecord{TxNum: txNum}, nil
	case SetInt:
		r, err := parseSetInt(p, txNum)
		if err != nil {
			return nil, err
		}
		return r, nil
	case SetString:
		r, err := parseSetString(p, txNum)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownRecord, op)
	}
}

// writeMarker appends a record made of only a tag and a transaction number.
func writeMarker(lm *log.Manager, op Op, txNum int32) (log.LSN, error) {
	p := file.NewPage(filePos)
	if err := p.WriteUint64At(opPos, uint64(op)); err != nil {
		return 0, err
	}
	if err := p.WriteInt32At(txPos, txNum); err != nil {
		return 0, err
	}
	return lm.Append(p.Buf())
}

type StartRecord struct {
	TxNum int32
}

func (r StartRecord) Op() Op          { return Start }
func (r StartRecord) TxNumber() int32 { return r.TxNum }
func (r StartRecord) String() string  { return fmt.Sprintf("<START %d>", r.TxNum) }

func (r StartRecord) WriteToLog(lm *log.Manager) (log.LSN, error) {
	return writeMarker(lm, Start, r.TxNum)
}

type CommitRecord struct {
	TxNum int32
}

func (r CommitRecord) Op() Op          { return Commit }
func (r CommitRecord) TxNumber() int32 { return r.TxNum }
func (r CommitRecord) String() string  { return fmt.Sprintf("<COMMIT %d>", r.TxNum) }

func (r CommitRecord) WriteToLog(lm *log.Manager) (log.LSN, error) {
	return writeMarker(lm, Commit, r.TxNum)
}

type RollbackRecord struct {
	TxNum int32
}

func (r RollbackRecord) Op() Op          { return Rollback }
func (r RollbackRecord) TxNumber() int32 { return r.TxNum }
func (r RollbackRecord) String() string  { return fmt.Sprintf("<ROLLBACK %d>", r.TxNum) }

func (r RollbackRecord) WriteToLog(lm *log.Manager) (log.LSN, error) {
	return writeMarker(lm, Rollback, r.TxNum)
}

// How a Set record is laid out after the tag and transaction number:
//
//	[filename: len-prefixed string][block: u64][offset: u64][old value]
//
// The old value is a u64 for SetInt and a len-prefixed string for SetString.
type setHeader struct {
	block  file.Block
	offset int32
	valPos int32
}

func parseSetHeader(p *file.Page) (setHeader, error) {
	filename, err := p.ReadStringAt(filePos)
	if err != nil {
		return setHeader{}, err
	}
	bpos := filePos + file.MaxLength(len(filename))
	blockNum, err := p.ReadInt64At(bpos)
	if err != nil {
		return setHeader{}, err
	}
	offset, err := p.ReadInt64At(bpos + 8)
	if err != nil {
		return setHeader{}, err
	}
	return setHeader{
		block:  file.NewBlock(filename, int32(blockNum)),
		offset: int32(offset),
		valPos: bpos + 16,
	}, nil
}

// newSetPage allocates a page for a Set record and fills in everything but
// the old value, whose offset it returns.
func newSetPage(op Op, txNum int32, block file.Block, offset int32, valueSize int32) (*file.Page, int32, error) {
	bpos := filePos + file.MaxLength(len(block.Filename()))
	vpos := bpos + 16

	p := file.NewPage(vpos + valueSize)
	for _, err := range []error{
		p.WriteUint64At(opPos, uint64(op)),
		p.WriteInt32At(txPos, txNum),
		p.WriteStringAt(filePos, block.Filename()),
		p.WriteInt64At(bpos, int64(block.Number())),
		p.WriteInt64At(bpos+8, int64(offset)),
	} {
		if err != nil {
			return nil, 0, err
		}
	}
	return p, vpos, nil
}

// SetIntRecord holds the value an int32 field had before a logged write.
type SetIntRecord struct {
	TxNum    int32
	Block    file.Block
	Offset   int32
	OldValue int32
}

func parseSetInt(p *file.Page, txNum int32) (SetIntRecord, error) {
	h, err := parseSetHeader(p)
	if err != nil {
		return SetIntRecord{}, fmt.Errorf("transaction: parse SETINT: %w", err)
	}
	v, err := p.ReadInt64At(h.valPos)
	if err != nil {
		return SetIntRecord{}, fmt.Errorf("transaction: parse SETINT: %w", err)
	}
	return SetIntRecord{TxNum: txNum, Block: h.block, Offset: h.offset, OldValue: int32(v)}, nil
}

func (r SetIntRecord) Op() Op          { return SetInt }
func (r SetIntRecord) TxNumber() int32 { return r.TxNum }

func (r SetIntRecord) String() string {
	return fmt.Sprintf("<SETINT %d %s %d %d>", r.TxNum, r.Block, r.Offset, r.OldValue)
}

func (r SetIntRecord) WriteToLog(lm *log.Manager) (log.LSN, error) {
	p, vpos, err := newSetPage(SetInt, r.TxNum, r.Block, r.Offset, 8)
	if err != nil {
		return 0, err
	}
	if err := p.WriteInt64At(vpos, int64(r.OldValue)); err != nil {
		return 0, err
	}
	return lm.Append(p.Buf())
}

// Undo writes the old value back. The write is not logged.
func (r SetIntRecord) Undo(tx *Transaction) error {
	if err := tx.Pin(r.Block); err != nil {
		return err
	}
	defer tx.Unpin(r.Block)

	return tx.WriteInt32(r.Block, r.Offset, r.OldValue, false)
}

// SetStringRecord holds the value a string field had before a logged write.
type SetStringRecord struct {
	TxNum    int32
	Block    file.Block
	Offset   int32
	OldValue string
}

func parseSetString(p *file.Page, txNum int32) (SetStringRecord, error) {
	h, err := parseSetHeader(p)
	if err != nil {
		return SetStringRecord{}, fmt.Errorf("transaction: parse SETSTRING: %w", err)
	}
	v, err := p.ReadStringAt(h.valPos)
	if err != nil {
		return SetStringRecord{}, fmt.Errorf("transaction: parse SETSTRING: %w", err)
	}
	return SetStringRecord{TxNum: txNum, Block: h.block, Offset: h.offset, OldValue: v}, nil
}

func (r SetStringRecord) Op() Op          { return SetString }
func (r SetStringRecord) TxNumber() int32 { return r.TxNum }

func (r SetStringRecord) String() string {
	return fmt.Sprintf("<SETSTRING %d %s %d %q>", r.TxNum, r.Block, r.Offset, r.OldValue)
}

func (r SetStringRecord) WriteToLog(lm *log.Manager) (log.LSN, error) {
	p, vpos, err := newSetPage(SetString, r.TxNum, r.Block, r.Offset, file.MaxLength(len(r.OldValue)))
	if err != nil {
		return 0, err
	}
	if err := p.WriteStringAt(vpos, r.OldValue); err != nil {
		return 0, err
	}
	return lm.Append(p.Buf())
}

func (r SetStringRecord) Undo(tx *Transaction) error {
	if err := tx.Pin(r.Block); err != nil {
		return err
	}
	defer tx.Unpin(r.Block)

	return tx.WriteString(r.Block, r.Offset, r.OldValue, false)
}
