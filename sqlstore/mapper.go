package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
	"go.uber.org/zap"
)

// Options controls DDL generation.
type Options struct {
	// IfNotExists guards CREATE statements so they can run on every start.
	IfNotExists bool
	// CreateIndexes creates the indexes declared on each collection.
	CreateIndexes bool
}

// DefaultOptions returns options that are safe to apply repeatedly.
func DefaultOptions() *Options {
	return &Options{
		IfNotExists:   true,
		CreateIndexes: true,
	}
}

// EnsureCollections creates a table, and its indexes, for every registered
// collection.
func (s *Store) EnsureCollections(ctx context.Context) error {
	if s.registry == nil {
		return nil
	}
	for _, name := range s.registry.Collections() {
		sc, err := s.registry.Schema(name)
		if err != nil {
			return err
		}
		if err := s.CreateCollection(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

// CreateCollection creates the table for sc and its declared indexes.
func (s *Store) CreateCollection(ctx context.Context, sc *schema.SchemaDefinition) error {
	statements, err := s.compiler.CreateTableSQL(sc, s.options)
	if err != nil {
		return fmt.Errorf("failed to generate SQL for table %s: %w", sc.Name, err)
	}
	for _, stmt := range statements {
		s.logger.Debug("Executing DDL", zap.String("sql", stmt))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
		}
	}
	return nil
}

// CreateTableSQL renders the DDL for a collection: the table, then one
// statement per declared index when opts asks for them.
func (c *Compiler) CreateTableSQL(sc *schema.SchemaDefinition, opts *Options) ([]string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := schema.ValidateIdentifier(sc.Name); err != nil {
		return nil, err
	}
	table := QuoteIdentifier(sc.Name)

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if opts.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(table + " (\n")

	var primaryKeys []string
	for _, index := range sc.Indexes {
		if index.Type == schema.IndexTypePrimary && len(index.Fields) > 0 {
			primaryKeys = index.Fields
			break
		}
	}
	if len(primaryKeys) == 0 && sc.HasField(schema.IDField) {
		primaryKeys = []string{schema.IDField}
	}

	names := make([]string, 0, len(sc.Fields))
	for name := range sc.Fields {
		names = append(names, name)
	}
	slices.Sort(names)

	var columns []string
	for _, name := range names {
		columnDef, err := c.buildColumnDefinition(name, sc.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("error on field '%s': %w", name, err)
		}
		columns = append(columns, "    "+columnDef)
	}
	if len(primaryKeys) > 0 {
		quotedPKs := make([]string, len(primaryKeys))
		for i, pk := range primaryKeys {
			quotedPKs[i] = QuoteIdentifier(pk)
		}
		columns = append(columns, "    PRIMARY KEY ("+strings.Join(quotedPKs, ", ")+")")
	}
	sb.WriteString(strings.Join(columns, ",\n"))
	sb.WriteString("\n);")

	statements := []string{sb.String()}
	if opts.CreateIndexes {
		for _, index := range sc.Indexes {
			stmt, err := c.CreateIndexSQL(sc.Name, index)
			if err != nil {
				return nil, fmt.Errorf("failed to generate SQL for index %s: %w", index.Name, err)
			}
			if stmt != "" {
				statements = append(statements, stmt)
			}
		}
	}
	return statements, nil
}

func (c *Compiler) buildColumnDefinition(fieldName string, field *schema.FieldDefinition) (string, error) {
	if err := schema.ValidateIdentifier(fieldName); err != nil {
		return "", err
	}
	parts := []string{QuoteIdentifier(fieldName), c.dialect.ColumnType(field.Type)}

	if field.Required != nil && *field.Required {
		parts = append(parts, "NOT NULL")
	}
	if field.Default != nil {
		defVal, err := c.formatDefaultValue(field.Default, field.Type)
		if err != nil {
			return "", err
		}
		parts = append(parts, "DEFAULT "+defVal)
	}
	if field.Unique != nil && *field.Unique {
		parts = append(parts, "UNIQUE")
	}
	if field.Type == schema.FieldTypeEnum && len(field.Values) > 0 {
		var checkValues []string
		for _, v := range field.Values {
			valStr, _ := c.formatDefaultValue(v, schema.FieldTypeString)
			checkValues = append(checkValues, valStr)
		}
		parts = append(parts, fmt.Sprintf("CHECK(%s IN (%s))", QuoteIdentifier(fieldName), strings.Join(checkValues, ", ")))
	}
	return strings.Join(parts, " "), nil
}

// formatDefaultValue renders a literal for a DDL DEFAULT clause.
func (c *Compiler) formatDefaultValue(value any, fieldType schema.FieldType) (string, error) {
	if value == nil {
		return "NULL", nil
	}
	switch fieldType {
	case schema.FieldTypeString, schema.FieldTypeEnum, schema.FieldTypeDateTime:
		return fmt.Sprintf("'%s'", strings.ReplaceAll(fmt.Sprintf("%v", value), "'", "''")), nil
	case schema.FieldTypeNumber, schema.FieldTypeInteger, schema.FieldTypeDecimal:
		return fmt.Sprintf("%v", value), nil
	case schema.FieldTypeBoolean:
		b, _ := value.(bool)
		if c.dialect.NativeBool() {
			return fmt.Sprintf("%t", b), nil
		}
		if b {
			return "1", nil
		}
		return "0", nil
	case schema.FieldTypeObject, schema.FieldTypeArray, schema.FieldTypeRecord:
		jsonBytes, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("failed to marshal default value to JSON: %w", err)
		}
		return fmt.Sprintf("'%s'", strings.ReplaceAll(string(jsonBytes), "'", "''")), nil
	default:
		return "", fmt.Errorf("unsupported type for default value: %s", fieldType)
	}
}

// CreateIndexSQL renders the DDL for one index. Primary indexes are part of
// the table definition and render nothing.
func (c *Compiler) CreateIndexSQL(collection string, index schema.IndexDefinition) (string, error) {
	if index.Type == schema.IndexTypePrimary {
		return "", nil
	}
	if len(index.Fields) == 0 {
		return "", fmt.Errorf("index on '%s' has no fields", collection)
	}

	var sb strings.Builder
	sb.WriteString("CREATE ")
	if (index.Unique != nil && *index.Unique) || index.Type == schema.IndexTypeUnique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX IF NOT EXISTS ")
	indexName := index.Name
	if indexName == "" {
		indexName = fmt.Sprintf("idx_%s_%s", collection, strings.Join(index.Fields, "_"))
	}
	sb.WriteString(QuoteIdentifier(indexName))
	sb.WriteString(fmt.Sprintf(" ON %s (", QuoteIdentifier(collection)))

	var fieldParts []string
	for _, field := range index.Fields {
		if err := schema.ValidateIdentifier(field); err != nil {
			return "", err
		}
		part := QuoteIdentifier(field)
		if index.Order != nil && strings.ToUpper(*index.Order) == "DESC" {
			part += " DESC"
		}
		fieldParts = append(fieldParts, part)
	}
	sb.WriteString(strings.Join(fieldParts, ", ") + ");")
	return sb.String(), nil
}
