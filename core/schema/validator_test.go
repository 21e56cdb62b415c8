package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestValidator_Validate(t *testing.T) {
	def := &SchemaDefinition{
		Name: "products",
		Fields: map[string]*FieldDefinition{
			"id":        {Name: "id", Type: FieldTypeString},
			"name":      {Name: "name", Type: FieldTypeString, Required: boolPtr(true)},
			"price":     {Name: "price", Type: FieldTypeNumber},
			"stock":     {Name: "stock", Type: FieldTypeInteger},
			"active":    {Name: "active", Type: FieldTypeBoolean},
			"status":    {Name: "status", Type: FieldTypeEnum, Values: []any{"draft", "live"}},
			"createdAt": {Name: "createdAt", Type: FieldTypeDateTime},
		},
		Relations: map[string]*RelationDefinition{
			"category": {Target: "categories"},
		},
	}

	tests := []struct {
		name     string
		doc      Document
		loose    bool
		valid    bool
		expected []string
	}{
		{
			name:  "valid document",
			doc:   Document{"name": "Mug", "price": 9.5, "stock": 3, "active": true, "status": "live", "createdAt": "2024-01-02T03:04:05Z"},
			valid: true,
		},
		{
			name:     "missing required field",
			doc:      Document{"price": 1.0},
			expected: []string{"REQUIRED_FIELD_MISSING"},
		},
		{
			name:  "missing required field in loose mode",
			doc:   Document{"id": "p1", "price": 1.0},
			loose: true,
			valid: true,
		},
		{
			name:     "type mismatch",
			doc:      Document{"name": "Mug", "price": "cheap"},
			expected: []string{"TYPE_MISMATCH"},
		},
		{
			name:     "fractional integer",
			doc:      Document{"name": "Mug", "stock": 1.5},
			expected: []string{"TYPE_MISMATCH"},
		},
		{
			name:     "enum outside allowed values",
			doc:      Document{"name": "Mug", "status": "archived"},
			expected: []string{"INVALID_ENUM_VALUE"},
		},
		{
			name:     "unexpected field",
			doc:      Document{"name": "Mug", "colour": "red"},
			expected: []string{"UNEXPECTED_FIELD"},
		},
		{
			name:  "attached relation is not unexpected",
			doc:   Document{"name": "Mug", "category": Document{"id": "c1"}},
			valid: true,
		},
		{
			name:     "null for required field",
			doc:      Document{"name": nil},
			expected: []string{"NULL_VALUE"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, issues := NewValidator(def).Validate(tt.doc, tt.loose)
			assert.Equal(t, tt.valid, valid)
			codes := make([]string, 0, len(issues))
			for _, issue := range issues {
				codes = append(codes, issue.Code)
			}
			if tt.expected == nil {
				assert.Empty(t, codes)
			} else {
				assert.ElementsMatch(t, tt.expected, codes)
			}
		})
	}
}
