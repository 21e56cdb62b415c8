package relation

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrAllRelationLookupsFailed is matched by the error returned when every
// requested path failed.
var ErrAllRelationLookupsFailed = errors.New("all relation lookups failed")

// LookupError records why one include path could not be resolved.
type LookupError struct {
	Path string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("failed to lookup %s: %v", e.Path, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// AllLookupsFailedError carries the failure of every path of a resolution.
type AllLookupsFailedError struct {
	Failures []*LookupError
	combined error
}

func newAllLookupsFailed(failures []*LookupError) *AllLookupsFailedError {
	var combined error
	for _, f := range failures {
		combined = multierr.Append(combined, f)
	}
	return &AllLookupsFailedError{Failures: failures, combined: combined}
}

func (e *AllLookupsFailedError) Error() string {
	return fmt.Sprintf("%s: %v", ErrAllRelationLookupsFailed, e.combined)
}

func (e *AllLookupsFailedError) Is(target error) bool {
	return target == ErrAllRelationLookupsFailed
}

// Unwrap exposes the individual path failures to errors.Is and errors.As.
func (e *AllLookupsFailedError) Unwrap() []error {
	return multierr.Errors(e.combined)
}
