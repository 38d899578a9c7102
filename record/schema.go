// Package record stores fixed-size records in the blocks of a table file,
// on top of the transaction layer.
package record

type FieldType int32

const (
	Integer FieldType = iota
	Varchar
)

type fieldInfo struct {
	fieldType FieldType
	length    int32
}

// Schema is the list of fields of a table, with their types. For Varchar
// fields the length is the maximum number of bytes.
type Schema struct {
	fields []string
	info   map[string]fieldInfo
}

func NewSchema() *Schema {
	return &Schema{
		info: make(map[string]fieldInfo),
	}
}

func (s *Schema) AddField(fieldName string, fieldType FieldType, length int32) {
	if _, ok := s.info[fieldName]; !ok {
		s.fields = append(s.fields, fieldName)
	}
	s.info[fieldName] = fieldInfo{
		fieldType: fieldType,
		length:    length,
	}
}

func (s *Schema) AddIntField(fieldName string) {
	s.AddField(fieldName, Integer, 0)
}

func (s *Schema) AddStringField(fieldName string, length int32) {
	s.AddField(fieldName, Varchar, length)
}

// Add copies a field definition from another schema.
func (s *Schema) Add(fieldName string, schema *Schema) {
	s.AddField(fieldName, schema.FieldType(fieldName), schema.FieldLength(fieldName))
}

func (s *Schema) AddAll(schema *Schema) {
	for _, fieldName := range schema.fields {
		s.Add(fieldName, schema)
	}
}

// Fields returns the field names in the order they were added.
func (s *Schema) Fields() []string {
	return append([]string(nil), s.fields...)
}

func (s *Schema) HasField(fieldName string) bool {
	_, exist := s.info[fieldName]
	return exist
}

func (s *Schema) FieldType(fieldName string) FieldType {
	return s.info[fieldName].fieldType
}

func (s *Schema) FieldLength(fieldName string) int32 {
	return s.info[fieldName].length
}
