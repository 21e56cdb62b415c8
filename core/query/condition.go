package query

import (
	"maps"
	"slices"
)

// Condition is a node of the typed condition AST. Store backends compile it
// with a type switch over the concrete node types below.
type Condition interface {
	conditionNode()
}

// Equals matches values equal to Value.
type Equals struct {
	Value any
}

// Not negates the wrapped condition.
type Not struct {
	Condition Condition
}

// Bound is one end of a Range.
type Bound struct {
	Value     any
	Inclusive bool
}

// Range matches values between Lower and Upper. A nil end is unbounded.
type Range struct {
	Lower *Bound
	Upper *Bound
}

// PatternMode positions the pattern inside the matched value.
type PatternMode int

const (
	PatternContains PatternMode = iota
	PatternPrefix
	PatternSuffix
)

// Pattern is a case-insensitive text match. With Unaccented set, diacritics are
// stripped from both sides before comparing.
type Pattern struct {
	Value      string
	Mode       PatternMode
	Unaccented bool
}

// Like renders the pattern with SQL LIKE wildcards.
func (p Pattern) Like() string {
	switch p.Mode {
	case PatternPrefix:
		return p.Value + "%"
	case PatternSuffix:
		return "%" + p.Value
	default:
		return "%" + p.Value + "%"
	}
}

// SetMembership matches values contained in Values.
type SetMembership struct {
	Values []any
}

// IsNull matches missing or null values.
type IsNull struct{}

// Or matches when any of its members match.
type Or struct {
	Conditions []Condition
}

func (Equals) conditionNode()        {}
func (Not) conditionNode()           {}
func (Range) conditionNode()         {}
func (Pattern) conditionNode()       {}
func (SetMembership) conditionNode() {}
func (IsNull) conditionNode()        {}
func (Or) conditionNode()            {}

// AnyOf joins two conditions into a flat Or.
func AnyOf(a, b Condition) Condition {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	var members []Condition
	for _, c := range []Condition{a, b} {
		if or, ok := c.(Or); ok {
			members = append(members, or.Conditions...)
		} else {
			members = append(members, c)
		}
	}
	return Or{Conditions: members}
}

// Where is a condition tree rooted at one collection. Conditions apply to the
// collection's own fields; Relations hold the trees applied through declared
// relations of the same name. All entries are AND-ed.
type Where struct {
	Conditions map[string]Condition
	Relations  map[string]*Where
}

// NewWhere returns an empty tree.
func NewWhere() *Where {
	return &Where{
		Conditions: make(map[string]Condition),
		Relations:  make(map[string]*Where),
	}
}

// WhereEquals is a one-condition tree matching field = value.
func WhereEquals(field string, value any) *Where {
	return NewWhere().Set(field, Equals{Value: value})
}

// WhereIn is a one-condition tree matching field IN values.
func WhereIn[T any](field string, values []T) *Where {
	set := make([]any, len(values))
	for i, v := range values {
		set[i] = v
	}
	return NewWhere().Set(field, SetMembership{Values: set})
}

// Set replaces the condition on field.
func (w *Where) Set(field string, c Condition) *Where {
	w.Conditions[field] = c
	return w
}

// Add places c on field, OR-ing it with whatever is already there.
func (w *Where) Add(field string, c Condition) *Where {
	w.Conditions[field] = AnyOf(w.Conditions[field], c)
	return w
}

// Nested returns the sub-tree for a relation, creating it when absent.
func (w *Where) Nested(relation string) *Where {
	if sub, ok := w.Relations[relation]; ok {
		return sub
	}
	sub := NewWhere()
	w.Relations[relation] = sub
	return sub
}

// Condition returns the condition on field.
func (w *Where) Condition(field string) (Condition, bool) {
	if w == nil {
		return nil, false
	}
	c, ok := w.Conditions[field]
	return c, ok
}

// Fields lists the fields carrying a condition in sorted order.
func (w *Where) Fields() []string {
	if w == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(w.Conditions))
}

// RelationNames lists the nested relations in sorted order.
func (w *Where) RelationNames() []string {
	if w == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(w.Relations))
}

// IsEmpty reports whether the tree constrains nothing.
func (w *Where) IsEmpty() bool {
	if w == nil {
		return true
	}
	if len(w.Conditions) > 0 {
		return false
	}
	for _, sub := range w.Relations {
		if !sub.IsEmpty() {
			return false
		}
	}
	return true
}

// Merge copies other into w. Conditions from other replace those on the same field.
func (w *Where) Merge(other *Where) *Where {
	if other == nil {
		return w
	}
	maps.Copy(w.Conditions, other.Conditions)
	for name, sub := range other.Relations {
		w.Nested(name).Merge(sub)
	}
	return w
}

// Clone returns a deep copy of the tree structure. Conditions are values and
// are shared.
func (w *Where) Clone() *Where {
	out := NewWhere()
	if w == nil {
		return out
	}
	maps.Copy(out.Conditions, w.Conditions)
	for name, sub := range w.Relations {
		out.Relations[name] = sub.Clone()
	}
	return out
}

// RelationTree is a nested inclusion tree: relation name to the relations to
// load beneath it.
type RelationTree map[string]RelationTree

// Add merges a path into the tree.
func (t RelationTree) Add(path RelationPath) {
	node := t
	for _, seg := range path {
		next, ok := node[seg]
		if !ok {
			next = RelationTree{}
			node[seg] = next
		}
		node = next
	}
}

// Paths flattens the tree back into dotted leaf paths in sorted order.
func (t RelationTree) Paths() []string {
	var out []string
	var walk func(prefix string, node RelationTree)
	walk = func(prefix string, node RelationTree) {
		for _, name := range slices.Sorted(maps.Keys(node)) {
			path := name
			if prefix != "" {
				path = prefix + PathSeparator + name
			}
			if len(node[name]) == 0 {
				out = append(out, path)
				continue
			}
			walk(path, node[name])
		}
	}
	walk("", t)
	return out
}

// Names lists the top-level relations in sorted order.
func (t RelationTree) Names() []string {
	return slices.Sorted(maps.Keys(t))
}
