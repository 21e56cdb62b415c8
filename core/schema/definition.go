// Package schema describes the collections the query engine works against:
// their fields, the relations they declare, and which of them are generic
// reference collections. The definitions here are descriptors only; they never
// touch a store.
package schema

import "fmt"

// FieldType represents the data type of a field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"   // Text data
	FieldTypeNumber   FieldType = "number"   // Numeric data
	FieldTypeInteger  FieldType = "integer"  // Numeric data
	FieldTypeDecimal  FieldType = "decimal"  // Numeric data
	FieldTypeBoolean  FieldType = "boolean"  // True/false values
	FieldTypeDateTime FieldType = "datetime" // Timestamps, stored as RFC3339 text where the store has no native type
	FieldTypeArray    FieldType = "array"    // Ordered list of items
	FieldTypeEnum     FieldType = "enum"     // One out of a set of pre-defined items
	FieldTypeObject   FieldType = "object"   // Structured data with nested fields
	FieldTypeRecord   FieldType = "record"   // Unorganized key-value object, resolves to map[string]any
)

// IndexType defines the type of an index.
type IndexType string

const (
	IndexTypeNormal  IndexType = "normal"
	IndexTypeUnique  IndexType = "unique"
	IndexTypePrimary IndexType = "primary"
)

// RelationKind describes the cardinality of a declared relation.
type RelationKind string

const (
	// RelationBelongsTo: the source row holds the key of exactly one target row.
	RelationBelongsTo RelationKind = "belongsTo"
	// RelationHasOne: one target row holds the key of the source row.
	RelationHasOne RelationKind = "hasOne"
	// RelationHasMany: many target rows hold the key of the source row.
	RelationHasMany RelationKind = "hasMany"
)

// IDField is the identity column every collection is expected to carry.
const IDField = "id"

// CreatedAtField is the creation timestamp used for default ordering.
const CreatedAtField = "createdAt"

// FieldDefinition defines a field within a schema.
type FieldDefinition struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
	// Required indicates if the field is mandatory.
	Required *bool `json:"required,omitempty" yaml:"required,omitempty"`
	// Default provides a default value for the field.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
	// Values specifies the allowed values for an 'enum' type field.
	Values []any `json:"values,omitempty" yaml:"values,omitempty"`
	// Unique indicates if the field must have unique values.
	Unique *bool `json:"unique,omitempty" yaml:"unique,omitempty"`
	// Description provides a brief explanation of the field.
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
}

// IndexDefinition defines an index for optimizing queries or enforcing uniqueness.
type IndexDefinition struct {
	Fields []string  `json:"fields" yaml:"fields"`
	Type   IndexType `json:"type" yaml:"type"`
	Unique *bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	Order  *string   `json:"order,omitempty" yaml:"order,omitempty"` // "asc" | "desc"
	Name   string    `json:"name" yaml:"name"`
}

// RelationDefinition declares a fixed association from one collection to another.
// The segment name used in include paths is the map key in SchemaDefinition.Relations;
// Target is the real collection it points at and need not match that name.
type RelationDefinition struct {
	Target string       `json:"target" yaml:"target"`
	Kind   RelationKind `json:"kind" yaml:"kind"`
	// LocalField is the column on the source collection used for the join.
	LocalField string `json:"localField,omitempty" yaml:"localField,omitempty"`
	// ForeignField is the column on the target collection used for the join.
	ForeignField string `json:"foreignField,omitempty" yaml:"foreignField,omitempty"`
}

// Many reports whether the relation resolves to a list.
func (r *RelationDefinition) Many() bool {
	return r.Kind == RelationHasMany
}

// normalize fills in the join columns implied by the relation kind.
func (r *RelationDefinition) normalize(name string) error {
	if r.Target == "" {
		return fmt.Errorf("relation '%s' has no target collection", name)
	}
	switch r.Kind {
	case "", RelationBelongsTo:
		r.Kind = RelationBelongsTo
		if r.LocalField == "" {
			r.LocalField = name + "Id"
		}
		if r.ForeignField == "" {
			r.ForeignField = IDField
		}
	case RelationHasOne, RelationHasMany:
		if r.LocalField == "" {
			r.LocalField = IDField
		}
		if r.ForeignField == "" {
			return fmt.Errorf("relation '%s' of kind %s requires a foreign field", name, r.Kind)
		}
	default:
		return fmt.Errorf("relation '%s' has unknown kind '%s'", name, r.Kind)
	}
	return nil
}

// SchemaDefinition describes a single collection.
type SchemaDefinition struct {
	Name        string                         `json:"name" yaml:"name"`
	Version     string                         `json:"version,omitempty" yaml:"version,omitempty"`
	Description *string                        `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      map[string]*FieldDefinition    `json:"fields" yaml:"fields"`
	Relations   map[string]*RelationDefinition `json:"relations,omitempty" yaml:"relations,omitempty"`
	Indexes     []IndexDefinition              `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// Issue represents a validation or operational issue.
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
	Severity string `json:"severity,omitempty"` // e.g., "error", "warning"
}

// Document is a single row as the engine sees it, independent of the store.
type Document map[string]any
