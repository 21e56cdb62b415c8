package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ToDocument converts a struct, or a pointer to one, into a Document through
// its JSON form, so `json` tags name the fields. Nested structs become
// map[string]any, which stores accept for object fields.
func ToDocument[T any](record T) (Document, error) {
	val := reflect.ValueOf(record)
	if !val.IsValid() {
		return nil, fmt.Errorf("record cannot be nil")
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("record cannot be a nil pointer")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return doc, nil
}

// FromDocument is the inverse of ToDocument.
func FromDocument[T any](doc Document) (T, error) {
	var zero T
	if doc == nil {
		return zero, fmt.Errorf("document cannot be nil")
	}
	typ := reflect.TypeOf(zero)
	if typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("target must be a struct or a pointer to a struct")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return zero, fmt.Errorf("failed to encode document: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("failed to decode document into %s: %w", typ.Name(), err)
	}
	return out, nil
}

// ToDocuments converts every record with ToDocument.
func ToDocuments[T any](records []T) ([]Document, error) {
	out := make([]Document, 0, len(records))
	for i, r := range records {
		doc, err := ToDocument(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

// FromDocuments converts every document with FromDocument.
func FromDocuments[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for i, d := range docs {
		v, err := FromDocument[T](d)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
