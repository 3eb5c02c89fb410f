package entities

import "fmt"

// AttrBase is a scalar attribute base type.
type AttrBase string

const (
	AttrBoolean AttrBase = "boolean"
	AttrString  AttrBase = "string"
	AttrInteger AttrBase = "integer"
	AttrDouble  AttrBase = "double"
)

// AttrType is a declared attribute type: a base type, optionally an array.
type AttrType struct {
	Base  AttrBase
	Array bool
}

// String returns the DSL spelling of the type (e.g., "string[]").
func (t AttrType) String() string {
	if t.Array {
		return string(t.Base) + "[]"
	}
	return string(t.Base)
}

// ParseAttrType parses a DSL type spelling into an AttrType.
func ParseAttrType(s string) (AttrType, error) {
	t := AttrType{}
	if len(s) > 2 && s[len(s)-2:] == "[]" {
		t.Array = true
		s = s[:len(s)-2]
	}
	switch AttrBase(s) {
	case AttrBoolean, AttrString, AttrInteger, AttrDouble:
		t.Base = AttrBase(s)
		return t, nil
	default:
		return AttrType{}, fmt.Errorf("unknown attribute type: %s", s)
	}
}

// AttributeSchema represents an attribute type declaration on an entity.
// Example: "attribute public boolean" or "attribute ip_range string[]"
// No value is stored in the schema; values live in the attribute store.
type AttributeSchema struct {
	Name string // Attribute name (e.g., "public", "ip_range")
	Type AttrType
}
