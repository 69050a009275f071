package engine

import "context"

// Handle tracks one mounted child. Ready and Result block until the
// child and everything it mounted have completed, then re-acquire the
// caller's quota permit before returning (CP-2): the await is the point
// where the suspended parent becomes a running component again.
type Handle struct {
	r      *run
	parent *permit
}

// Ready blocks until the child has completed. It returns the child's
// error, if any; the error also propagates through the parent's own
// completion, so ignoring Ready never loses a failure.
func (h *Handle) Ready(ctx context.Context) error {
	select {
	case <-h.r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := h.resume(ctx); err != nil {
		return err
	}
	return h.r.err
}

// Result blocks until the child has completed and returns its body's
// return value. For memoized components a memo skip replays the cached
// value.
func (h *Handle) Result(ctx context.Context) (any, error) {
	if err := h.Ready(ctx); err != nil {
		return nil, err
	}
	return h.r.result, nil
}

func (h *Handle) resume(ctx context.Context) error {
	if h.parent == nil {
		return nil
	}
	return h.parent.reacquire(ctx)
}
