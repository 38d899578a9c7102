package record

import "blockdb/file"

// flagSize is the width of the empty/used flag at the start of each slot.
const flagSize = 4

// Layout gives the position of every field inside a slot.
type Layout struct {
	schema   *Schema
	offsets  map[string]int32
	slotSize int32
}

func NewLayout(schema *Schema) *Layout {
	offsets := make(map[string]int32)
	pos := int32(flagSize)
	for _, fieldName := range schema.fields {
		offsets[fieldName] = pos
		pos += lengthInBytes(schema, fieldName)
	}
	return &Layout{
		schema:   schema,
		offsets:  offsets,
		slotSize: pos,
	}
}

func (l *Layout) Schema() *Schema {
	return l.schema
}

func (l *Layout) Offset(fieldName string) int32 {
	return l.offsets[fieldName]
}

func (l *Layout) SlotSize() int32 {
	return l.slotSize
}

func lengthInBytes(schema *Schema, fieldName string) int32 {
	switch schema.FieldType(fieldName) {
	case Integer:
		return 4
	case Varchar:
		return file.MaxLength(int(schema.FieldLength(fieldName)))
	default:
		return 0
	}
}
