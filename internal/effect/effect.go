package effect

import (
	"bytes"
	"context"

	"github.com/tidemark-io/tidemark/internal/keys"
)

// TargetValue is a desired state for one key: either a concrete value or
// NonExistence (the key should not exist in the external system).
type TargetValue struct {
	data   []byte
	exists bool
}

// Value returns a TargetValue holding the given serialized value.
func Value(data []byte) TargetValue {
	return TargetValue{data: data, exists: true}
}

// NonExistence returns the TargetValue meaning "this key must not exist".
func NonExistence() TargetValue {
	return TargetValue{}
}

// Exists reports whether the target is a concrete value.
func (t TargetValue) Exists() bool { return t.exists }

// Bytes returns the serialized value; nil for NonExistence.
func (t TargetValue) Bytes() []byte { return t.data }

// PrevState is the set of previously possibly-applied tracking records for
// a (provider, key) pair.
//
// Invariant: if MayBeMissing is false, Records is the complete and exact
// set of previously-applied states. If true, an untracked prior state may
// exist (e.g. a prior run crashed between write and tracking persist).
type PrevState struct {
	Records      [][]byte
	MayBeMissing bool
}

// Output is a reconciliation decision: an opaque action for the sink, the
// sink that will batch-apply it, and the tracking record to persist after
// the apply succeeds (nil NewTracking = the key's tracking is deleted).
type Output struct {
	Action      any
	Sink        Sink
	NewTracking []byte
}

// Reconciler is the contract every external-system provider implements.
//
// Returning (nil, nil) means "no observable change required" and is valid
// iff NoChange(desired, prev) holds - the idempotence fast path. Anything
// else must produce an Output.
type Reconciler interface {
	Reconcile(ctx context.Context, key keys.Key, desired TargetValue, prev PrevState) (*Output, error)
}

// ChildResolver is implemented by two-level providers that can rebuild the
// child provider for an already-applied parent key. The engine uses it
// when a parent effect hits the no-op fast path (so no sink apply produced
// an ApplyResult.Child) but child effects were declared in the pass.
type ChildResolver interface {
	ChildFor(key keys.Key) Reconciler
}

// NoChange reports whether the no-op fast path is valid: the desired state
// provably equals every previously possible state.
//
// For NonExistence that means no prior records and no uncertainty. For a
// concrete value it means at least one record exists, every record equals
// the desired bytes, and there is no uncertainty. Providers whose tracking
// records are not the raw value bytes implement their own comparison, but
// must preserve the same "never falsely skip" property.
func NoChange(desired TargetValue, prev PrevState) bool {
	if prev.MayBeMissing {
		return false
	}
	if !desired.Exists() {
		return len(prev.Records) == 0
	}
	if len(prev.Records) == 0 {
		return false
	}
	for _, rec := range prev.Records {
		if !bytes.Equal(rec, desired.Bytes()) {
			return false
		}
	}
	return true
}

// DerivedProviderName returns the provider name under which a child effect
// provider's tracking is persisted: the parent provider name plus a stable
// digest of the parent key. The "@" separator never appears in registered
// root provider names (Registry rejects it), so derived names cannot
// collide with roots, and tearing down a parent key is a prefix delete.
func DerivedProviderName(parent string, parentKey keys.Key) string {
	return parent + "@" + keys.KeyHash(parentKey)[:16]
}
