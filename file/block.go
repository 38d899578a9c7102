package file

import "fmt"

// Block identifies one fixed-size block of a file. It is a comparable value
// and can be used directly as a map key.
type Block struct {
	filename string
	number   int32
}

func NewBlock(filename string, number int32) Block {
	return Block{filename, number}
}

func (b Block) Filename() string {
	return b.filename
}

func (b Block) Number() int32 {
	return b.number
}

func (b Block) Equals(other Block) bool {
	return b == other
}

func (b Block) String() string {
	return fmt.Sprintf("[file %s, block %d]", b.filename, b.number)
}
