// Package schema holds the column-schema value types and the description
// merge engine that applies update documents onto them.
package schema

// FieldType is the catalog type tag of a column.
type FieldType string

const (
	TypeRecord FieldType = "RECORD"
	TypeStruct FieldType = "STRUCT" // standard SQL alias of RECORD
	TypeString FieldType = "STRING"
)

// IsRecord reports whether the column carries nested child columns.
func (t FieldType) IsRecord() bool {
	return t == TypeRecord || t == TypeStruct
}

// Mode is the column's nullability/repetition.
type Mode string

const (
	ModeNullable Mode = "NULLABLE"
	ModeRequired Mode = "REQUIRED"
	ModeRepeated Mode = "REPEATED"
)

// Field is one column of a table schema. Fields is only populated for
// record columns.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Mode        Mode      `json:"mode,omitempty"`
	Description string    `json:"description,omitempty"`
	Fields      []Field   `json:"fields,omitempty"`
}

// Clone returns a deep copy of f.
func (f Field) Clone() Field {
	f.Fields = cloneFields(f.Fields)
	return f
}

func cloneFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = f.Clone()
	}
	return out
}

// UpdateNode is one column entry of an update document. A nil Description
// leaves the matched column's description as it is.
type UpdateNode struct {
	Name        string       `json:"name"`
	Description *string      `json:"description,omitempty"`
	Fields      []UpdateNode `json:"fields,omitempty"`
}

// UpdateSpec is a parsed update document.
type UpdateSpec struct {
	TableDescription string
	Fields           []UpdateNode
}
