package schema

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"
)

// Validator checks documents against a collection definition before they are
// handed to a store. It reports every issue it finds instead of stopping at the
// first one.
type Validator struct {
	schema *SchemaDefinition
	issues []Issue
}

// NewValidator creates a new Validator instance for a given schema.
// The returned validator can be reused for multiple validation operations.
func NewValidator(schema *SchemaDefinition) *Validator {
	return &Validator{
		schema: schema,
		issues: make([]Issue, 0),
	}
}

// Validate checks if a given document conforms to the validator's schema.
// The `loose` parameter ignores missing required fields, which is what partial
// updates need.
func (v *Validator) Validate(data Document, loose bool) (bool, []Issue) {
	v.issues = make([]Issue, 0)
	v.validateData(data)

	if !loose {
		return len(v.issues) == 0, v.issues
	}
	filtered := make([]Issue, 0, len(v.issues))
	for _, issue := range v.issues {
		if issue.Code != "REQUIRED_FIELD_MISSING" {
			filtered = append(filtered, issue)
		}
	}
	return len(filtered) == 0, filtered
}

func (v *Validator) validateData(data Document) {
	for fieldName, fieldDef := range v.schema.Fields {
		value, exists := data[fieldName]
		if !exists {
			if fieldDef.Required != nil && *fieldDef.Required && fieldDef.Default == nil {
				v.addIssue("REQUIRED_FIELD_MISSING", fmt.Sprintf("Required field '%s' is missing", fieldName), fieldName)
			}
			continue
		}
		v.validateFieldValue(value, fieldDef, fieldName)
	}

	for key := range data {
		if v.schema.HasField(key) || v.schema.FindRelation(key) != nil {
			continue
		}
		v.addIssue("UNEXPECTED_FIELD", fmt.Sprintf("Unexpected field '%s' not defined in schema", key), key)
	}
}

func (v *Validator) validateFieldValue(value any, fieldDef *FieldDefinition, path string) {
	if value == nil {
		if fieldDef.Required != nil && *fieldDef.Required {
			v.addIssue("NULL_VALUE", "Field cannot be null", path)
		}
		return
	}
	if !v.validateFieldType(value, fieldDef.Type, path) {
		return
	}
	if fieldDef.Type == FieldTypeEnum && len(fieldDef.Values) > 0 {
		v.validateEnumValue(value, fieldDef.Values, path)
	}
}

// validateFieldType checks if a value's type matches the expected type.
func (v *Validator) validateFieldType(value any, expectedType FieldType, path string) bool {
	switch expectedType {
	case FieldTypeString:
		if _, ok := value.(string); !ok {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("Expected string, got %T", value), path)
			return false
		}
	case FieldTypeNumber, FieldTypeDecimal:
		if !v.isNumericType(value) {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("Expected number, got %T", value), path)
			return false
		}
	case FieldTypeInteger:
		if !v.isIntegerType(value) {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("Expected integer, got %T", value), path)
			return false
		}
	case FieldTypeBoolean:
		if _, ok := value.(bool); !ok {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("Expected boolean, got %T", value), path)
			return false
		}
	case FieldTypeDateTime:
		if !v.isTimeValue(value) {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("Expected timestamp, got %T", value), path)
			return false
		}
	case FieldTypeArray:
		if !v.isArrayType(value) {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("Expected array, got %T", value), path)
			return false
		}
	case FieldTypeObject, FieldTypeRecord:
		if !v.isObjectType(value) {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("Expected object, got %T", value), path)
			return false
		}
	}
	return true
}

func (v *Validator) validateEnumValue(value any, allowed []any, path string) {
	if slices.ContainsFunc(allowed, func(a any) bool { return KeyOf(a) == KeyOf(value) }) {
		return
	}
	v.addIssue("INVALID_ENUM_VALUE", fmt.Sprintf("Value '%v' is not one of the allowed values", value), path)
}

func (v *Validator) isNumericType(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func (v *Validator) isIntegerType(value any) bool {
	switch val := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return val == float64(int64(val))
	}
	return false
}

func (v *Validator) isTimeValue(value any) bool {
	switch val := value.(type) {
	case time.Time:
		return true
	case string:
		_, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(val))
		return err == nil
	}
	return false
}

func (v *Validator) isArrayType(value any) bool {
	rv := reflect.ValueOf(value)
	return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
}

func (v *Validator) isObjectType(value any) bool {
	switch value.(type) {
	case map[string]any, Document:
		return true
	}
	return false
}

func (v *Validator) addIssue(code, message, path string) {
	v.issues = append(v.issues, Issue{
		Code:     code,
		Message:  message,
		Path:     path,
		Severity: "error",
	})
}
