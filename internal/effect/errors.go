package effect

import (
	"errors"
	"fmt"

	"github.com/tidemark-io/tidemark/internal/keys"
)

// DuplicateEffectError reports a second declaration for the same
// (provider, key) pair within one update pass. This is a caller bug, not
// something the engine merges.
type DuplicateEffectError struct {
	Provider string
	Key      keys.Key
}

func (e *DuplicateEffectError) Error() string {
	return fmt.Sprintf("duplicate effect declaration for provider %q key %s: one desired value per key per pass", e.Provider, e.Key)
}

// IsDuplicateEffect returns true if the error is a DuplicateEffectError.
// Uses errors.As to handle wrapped errors.
func IsDuplicateEffect(err error) bool {
	var de *DuplicateEffectError
	return errors.As(err, &de)
}

// SinkError wraps a failure from a sink batch apply. The engine marks the
// batch's tracking records may-be-missing before propagating it, so the
// next pass writes defensively.
type SinkError struct {
	Provider string
	Sink     string // sink token
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %q for provider %q failed: %v", e.Sink, e.Provider, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// IsSinkError returns true if the error is a SinkError.
func IsSinkError(err error) bool {
	var se *SinkError
	return errors.As(err, &se)
}
