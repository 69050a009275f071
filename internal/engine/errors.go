package engine

import (
	"errors"
	"fmt"

	"github.com/tidemark-io/tidemark/internal/keys"
)

// BodyError wraps an error raised by a component body. It invalidates the
// component's memo fingerprint and marks the tracking of effects declared
// by the component's subtree as may-be-missing (CP-3).
type BodyError struct {
	Path keys.Path
	Err  error
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("component %s failed: %v", e.Path, e.Err)
}

func (e *BodyError) Unwrap() error { return e.Err }

// IsBodyError returns true if the error is a BodyError.
// Uses errors.As to handle wrapped errors.
func IsBodyError(err error) bool {
	var be *BodyError
	return errors.As(err, &be)
}

// DuplicateMountError reports a second Mount/MountRun for the same path
// within one update pass. Mounting is idempotent per (pass, path) in the
// sense that doing it twice is a caller bug, never a silent merge.
type DuplicateMountError struct {
	Path keys.Path
}

func (e *DuplicateMountError) Error() string {
	return fmt.Sprintf("path %s already mounted in this update pass", e.Path)
}

// IsDuplicateMount returns true if the error is a DuplicateMountError.
func IsDuplicateMount(err error) bool {
	var de *DuplicateMountError
	return errors.As(err, &de)
}

// UnknownProviderError reports tracking state for a provider name that has
// no live registration - GC cannot reconcile it.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("no registered effect provider %q for tracked state", e.Provider)
}
