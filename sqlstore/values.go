package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/query"
	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

// prepareValue converts a Go value into what the column of field stores.
// Filter values arrive as text from the query string, so numeric and boolean
// columns accept their textual forms. Undeclared fields pass values through.
func (c *Compiler) prepareValue(field *schema.FieldDefinition, value any) (any, error) {
	if field == nil || value == nil {
		return value, nil
	}

	switch field.Type {
	case schema.FieldTypeInteger:
		if f, ok := query.ToFloat64(value); ok && f == float64(int64(f)) {
			return int64(f), nil
		}
		return value, nil
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		if f, ok := query.ToFloat64(value); ok {
			return f, nil
		}
		return value, nil
	case schema.FieldTypeBoolean:
		var b bool
		switch v := value.(type) {
		case bool:
			b = v
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1":
				b = true
			case "false", "0":
				b = false
			default:
				return nil, fmt.Errorf("expected boolean for field '%s', got %q", field.Name, v)
			}
		default:
			f, ok := query.ToFloat64(value)
			if !ok || (f != 0 && f != 1) {
				return nil, fmt.Errorf("expected boolean for field '%s', got %T", field.Name, value)
			}
			b = f == 1
		}
		if c.dialect.NativeBool() {
			return b, nil
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeRecord:
		if s, ok := value.(string); ok {
			return s, nil
		}
		jsonBytes, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize field '%s' to JSON: %w", field.Name, err)
		}
		return string(jsonBytes), nil
	case schema.FieldTypeEnum:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	default:
		return value, nil
	}
}

// readRows reads all rows into documents, converting driver values back to
// the types the collection declares. sc may be nil.
func readRows(logger *zap.Logger, sc *schema.SchemaDefinition, rows *sql.Rows) ([]schema.Document, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := []schema.Document{}
	for rows.Next() {
		row := make(schema.Document, len(columns))
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}

		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, col := range columns {
			val := values[i]
			if val == nil {
				row[col] = nil
				continue
			}

			fieldDef := fieldOf(sc, col)
			if fieldDef == nil {
				if b, ok := val.([]byte); ok {
					val = string(b)
				}
				if sc != nil {
					logger.Debug("Column not found in schema, using raw value", zap.String("column", col))
				}
				row[col] = val
				continue
			}
			row[col] = decodeValue(fieldDef.Type, val)
		}
		results = append(results, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}

func decodeValue(t schema.FieldType, val any) any {
	switch t {
	case schema.FieldTypeBoolean:
		switch v := val.(type) {
		case int64:
			return v != 0
		case bool:
			return v
		}
	case schema.FieldTypeString, schema.FieldTypeEnum, schema.FieldTypeDateTime:
		if b, ok := val.([]byte); ok {
			return string(b)
		}
	case schema.FieldTypeInteger:
		switch v := val.(type) {
		case int64:
			return v
		case int32:
			return int64(v)
		case float64:
			return int64(v)
		}
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		if f, ok := query.ToFloat64(val); ok {
			return f
		}
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeRecord:
		var raw []byte
		switch v := val.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return val
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
		return string(raw)
	}
	return val
}
