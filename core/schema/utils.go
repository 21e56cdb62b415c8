package schema

import (
	"fmt"
	"maps"
)

// FindField returns the field definition with the given name, or nil.
func (s *SchemaDefinition) FindField(name string) *FieldDefinition {
	if s == nil {
		return nil
	}
	return s.Fields[name]
}

// HasField reports whether the collection declares the given field.
func (s *SchemaDefinition) HasField(name string) bool {
	return s.FindField(name) != nil
}

// FindRelation returns the declared relation for a path segment, or nil.
func (s *SchemaDefinition) FindRelation(segment string) *RelationDefinition {
	if s == nil {
		return nil
	}
	return s.Relations[segment]
}

// ID returns the document identity rendered as a string, or "" when absent.
func (d Document) ID() string {
	return KeyOf(d[IDField])
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// KeyOf renders a column value as a grouping key. Numeric ids coming back from
// different drivers (int64, float64, string) compare equal after this.
func KeyOf(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	case float32:
		return KeyOf(float64(val))
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
