package file

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// How a length-prefixed value is stored in a Page at a given `offset`:
//
//	 [ Value starts at `offset` ]
//	<------------------ 4 + N bytes ------------------>
//	+-----------------+-------------------------------+
//	|   Length (size) |            Content            |
//	|    (4 bytes)    |           (N bytes)           |
//	+-----------------+-------------------------------+
//	^                 ^                               ^
//	|                 |                               |
//
// offset           offset + 4                      offset + 4 + N
//
// Integers are stored big-endian.

// ErrOutOfBounds is returned when a read or write would touch bytes outside
// the page. It means the caller computed a bad offset, so the operation that
// hit it cannot continue.
var ErrOutOfBounds = errors.New("file: page access out of bounds")

// Page provides methods for reading and writing data to a fixed-size byte slice,
// which corresponds to a disk block. It is essentially a wrapper around a []byte
// that provides convenient, offset-based I/O operations.
type Page struct {
	buf []byte
}

// NewPage creates a new page backed by a byte slice of the specified size.
func NewPage(blockSize int32) *Page {
	return &Page{buf: make([]byte, blockSize)}
}

// NewPageFromBytes wraps b without copying it. It is used to decode log
// records, whose size is not a block size.
func NewPageFromBytes(b []byte) *Page {
	return &Page{buf: b}
}

// Buf returns the underlying byte slice of the page.
func (p *Page) Buf() []byte {
	return p.buf
}

// MaxLength returns the number of bytes needed to store a string or byte
// slice of n bytes: the 4-byte length prefix plus the payload.
func MaxLength(n int) int32 {
	return 4 + int32(n)
}

func (p *Page) check(offset, n int32) error {
	if offset < 0 || n < 0 || int64(offset)+int64(n) > int64(len(p.buf)) {
		return fmt.Errorf("%w: offset %d length %d page size %d", ErrOutOfBounds, offset, n, len(p.buf))
	}
	return nil
}

// WriteInt32At writes an int32 value to the page at a specific offset.
func (p *Page) WriteInt32At(offset int32, n int32) error {
	return p.WriteUint32At(offset, uint32(n))
}

// ReadInt32At reads an int32 value from the page at a specific offset.
func (p *Page) ReadInt32At(offset int32) (int32, error) {
	n, err := p.ReadUint32At(offset)
	return int32(n), err
}

func (p *Page) WriteUint32At(offset int32, n uint32) error {
	if err := p.check(offset, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p.buf[offset:], n)
	return nil
}

func (p *Page) ReadUint32At(offset int32) (uint32, error) {
	if err := p.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p.buf[offset : offset+4]), nil
}

func (p *Page) WriteInt64At(offset int32, n int64) error {
	return p.WriteUint64At(offset, uint64(n))
}

func (p *Page) ReadInt64At(offset int32) (int64, error) {
	n, err := p.ReadUint64At(offset)
	return int64(n), err
}

func (p *Page) WriteUint64At(offset int32, n uint64) error {
	if err := p.check(offset, 8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(p.buf[offset:], n)
	return nil
}

func (p *Page) ReadUint64At(offset int32) (uint64, error) {
	if err := p.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p.buf[offset : offset+8]), nil
}

// WriteBytesAt writes a byte slice to the page at a specific offset.
// It first writes the length of the slice as a 4-byte integer, followed by the
// bytes of the slice itself.
func (p *Page) WriteBytesAt(offset int32, b []byte) error {
	if err := p.check(offset, MaxLength(len(b))); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p.buf[offset:], uint32(len(b)))
	copy(p.buf[offset+4:], b)
	return nil
}

// ReadBytesAt reads a byte slice from the page at a specific offset.
// It first reads a 4-byte integer representing the length of the slice,
// and then returns a copy of the subsequent bytes.
func (p *Page) ReadBytesAt(offset int32) ([]byte, error) {
	length, err := p.ReadInt32At(offset)
	if err != nil {
		return nil, err
	}
	if err := p.check(offset+4, length); err != nil {
		return nil, err
	}

	b := make([]byte, length)
	copy(b, p.buf[offset+4:offset+4+length])
	return b, nil
}

// WriteStringAt writes a string to the page at a specific offset as a 4-byte
// length prefix followed by its UTF-8 bytes.
func (p *Page) WriteStringAt(offset int32, s string) error {
	return p.WriteBytesAt(offset, []byte(s))
}

// ReadStringAt reads a length-prefixed string from the page.
func (p *Page) ReadStringAt(offset int32) (string, error) {
	b, err := p.ReadBytesAt(offset)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
