package effect

import (
	"context"

	"github.com/tidemark-io/tidemark/internal/keys"
)

// SinkAction pairs one reconciled action with the key it belongs to.
// Batches are ordered by the key's canonical encoding, so a sink sees its
// actions in the same order on every run.
type SinkAction struct {
	Key    keys.Key
	Action any
}

// ApplyResult is the per-action outcome of a sink batch apply. Child is
// non-nil when the applied effect produces a child effect provider (the
// two-level variant, e.g. "create table" yielding a provider for rows);
// nil means the key has no children (e.g. on deletion).
type ApplyResult struct {
	Child Reconciler
}

// Sink performs a batch of reconciled actions against an external system.
//
// Apply is invoked once per update pass with every action accumulated for
// this sink, and must be idempotent: re-applying the same batch after a
// crash must converge to the same external state. Apply returns one
// ApplyResult per action, in order.
//
// Token is a stable identity for interning: two Sink values with the same
// token are treated as the same physical sink, and their actions are
// batched together.
type Sink interface {
	Token() string
	Apply(ctx context.Context, actions []SinkAction) ([]ApplyResult, error)
}
