package schema

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Default owner columns carried by rows of reference collections.
const (
	DefaultOwnerIDField         = "ownerId"
	DefaultOwnerCollectionField = "ownerCollection"
)

// ReferenceRegistry is the static set of collections whose rows point at their
// owner through an (ownerId, ownerCollection) pair instead of a foreign key.
type ReferenceRegistry struct {
	collections          map[string]struct{}
	OwnerIDField         string
	OwnerCollectionField string
}

// NewReferenceRegistry creates a registry recognising the given collections.
func NewReferenceRegistry(collections ...string) *ReferenceRegistry {
	r := &ReferenceRegistry{
		collections:          make(map[string]struct{}, len(collections)),
		OwnerIDField:         DefaultOwnerIDField,
		OwnerCollectionField: DefaultOwnerCollectionField,
	}
	for _, c := range collections {
		r.collections[c] = struct{}{}
	}
	return r
}

// IsReference reports whether name is a generic reference collection.
func (r *ReferenceRegistry) IsReference(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.collections[name]
	return ok
}

// Collections returns the registered names in sorted order.
func (r *ReferenceRegistry) Collections() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.collections))
	for c := range r.collections {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// OwnerID returns the owner id carried by doc, or "".
func (r *ReferenceRegistry) OwnerID(doc Document) string {
	return KeyOf(doc[r.OwnerIDField])
}

// OwnerCollection returns the owner collection carried by doc, or "".
func (r *ReferenceRegistry) OwnerCollection(doc Document) string {
	return KeyOf(doc[r.OwnerCollectionField])
}

// Registry answers schema questions for the engine: which collections exist,
// which fields they carry, and where their declared relations point.
type Registry struct {
	mu         sync.RWMutex
	schemas    map[string]*SchemaDefinition
	references *ReferenceRegistry
}

// NewRegistry builds a registry from the given definitions.
func NewRegistry(references *ReferenceRegistry, schemas ...*SchemaDefinition) (*Registry, error) {
	if references == nil {
		references = NewReferenceRegistry()
	}
	r := &Registry{
		schemas:    make(map[string]*SchemaDefinition, len(schemas)),
		references: references,
	}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a collection definition. Names of the collection,
// its fields and its relations are validated as identifiers since they end up
// in query text.
func (r *Registry) Register(s *SchemaDefinition) error {
	if s == nil {
		return fmt.Errorf("schema definition cannot be nil")
	}
	if err := ValidateIdentifier(s.Name); err != nil {
		return fmt.Errorf("collection name: %w", err)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]*FieldDefinition)
	}
	for name, f := range s.Fields {
		if err := ValidateIdentifier(name); err != nil {
			return fmt.Errorf("collection '%s' field: %w", s.Name, err)
		}
		if f == nil {
			return fmt.Errorf("collection '%s' field '%s' has no definition", s.Name, name)
		}
		if f.Name == "" {
			f.Name = name
		}
	}
	for name, rel := range s.Relations {
		if err := ValidateIdentifier(name); err != nil {
			return fmt.Errorf("collection '%s' relation: %w", s.Name, err)
		}
		if rel == nil {
			return fmt.Errorf("collection '%s' relation '%s' has no definition", s.Name, name)
		}
		if err := rel.normalize(name); err != nil {
			return fmt.Errorf("collection '%s': %w", s.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Name] = s
	return nil
}

// Schema returns the definition for a collection.
func (r *Registry) Schema(collection string) (*SchemaDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[collection]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownCollection, collection)
	}
	return s, nil
}

// Has reports whether the collection is registered.
func (r *Registry) Has(collection string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[collection]
	return ok
}

// Relation resolves a path segment on a collection to its declared relation.
// The returned definition carries the real target collection.
func (r *Registry) Relation(collection, segment string) (*RelationDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[collection]
	if !ok {
		return nil, false
	}
	rel := s.FindRelation(segment)
	return rel, rel != nil
}

// References returns the reference-collection registry.
func (r *Registry) References() *ReferenceRegistry {
	return r.references
}

// Collections lists registered collection names in sorted order.
func (r *Registry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// registryFile is the on-disk layout read by LoadRegistry. JSON documents are
// valid YAML, so either format works.
type registryFile struct {
	References struct {
		Collections          []string `yaml:"collections"`
		OwnerIDField         string   `yaml:"ownerIdField"`
		OwnerCollectionField string   `yaml:"ownerCollectionField"`
	} `yaml:"references"`
	Collections []*SchemaDefinition `yaml:"collections"`
}

// LoadRegistry decodes a registry description from r.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var file registryFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}
	refs := NewReferenceRegistry(file.References.Collections...)
	if file.References.OwnerIDField != "" {
		refs.OwnerIDField = file.References.OwnerIDField
	}
	if file.References.OwnerCollectionField != "" {
		refs.OwnerCollectionField = file.References.OwnerCollectionField
	}
	return NewRegistry(refs, file.Collections...)
}
