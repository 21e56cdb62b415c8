package schema

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidIdentifier is returned when a column, alias or collection token
	// contains characters outside [A-Za-z0-9_].
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrUnknownCollection is returned for collections missing from the registry.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownRelation is returned when a segment is not a declared relation.
	ErrUnknownRelation = errors.New("unknown relation")
	// ErrUnknownField is returned when a field is not declared on the collection.
	ErrUnknownField = errors.New("unknown field")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateIdentifier checks a token that will be interpolated into query text.
// Identifiers cannot be bound as parameters, so every alias and column name must
// pass this check before it reaches a statement.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}
