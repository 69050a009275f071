package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidemark-io/tidemark/internal/keys"
	"github.com/tidemark-io/tidemark/internal/memo"
	"github.com/tidemark-io/tidemark/internal/state"
)

// run is one component execution slot for a (pass, path). The done channel
// closes when the body and every child it mounted have finished; result
// and err are immutable after that.
type run struct {
	path      keys.Path
	pathKey   string
	parentKey string
	comp      *Component
	args      []any

	keepResult bool
	done       chan struct{}
	result     any
	err        error

	// bodyFailed is true when this run's own body raised, as opposed to
	// a propagated child failure. Only body failures mark the subtree's
	// declared tracking uncertain (CP-3).
	bodyFailed  bool
	memoSkipped bool

	// populated on success for the persist phase
	fingerprint []byte
	resultJSON  []byte
}

// Mount starts a child component under c's path, addressed by key, and
// returns a handle whose Ready resolves once the child and everything it
// mounted have completed. Mounting releases the caller's quota permit
// (CP-2); the handle re-acquires it before returning control.
//
// Mounting the same path twice in one pass is a DuplicateMountError.
func Mount(c *Ctx, key any, comp *Component, args ...any) (*Handle, error) {
	return c.mountChild(key, comp, args, false)
}

// MountRun is Mount plus a retrievable return value: Handle.Result yields
// what the child's body returned. For memoized components the value is
// cached across passes and replayed on a memo skip.
func MountRun(c *Ctx, key any, comp *Component, args ...any) (*Handle, error) {
	return c.mountChild(key, comp, args, true)
}

func (c *Ctx) mountChild(key any, comp *Component, args []any, keepResult bool) (*Handle, error) {
	if comp == nil {
		return nil, fmt.Errorf("mount under %s: nil component", c.path)
	}
	k, err := keys.Canonicalize(key)
	if err != nil {
		return nil, err
	}
	childPath := c.path.Child(k)
	r := &run{
		path:       childPath,
		pathKey:    childPath.Text(),
		parentKey:  c.path.Text(),
		comp:       comp,
		args:       args,
		keepResult: keepResult,
		done:       make(chan struct{}),
	}
	if err := c.p.registerRun(r); err != nil {
		return nil, err
	}

	// The caller is suspended, not running, while children execute.
	c.permit.yield()

	go c.p.execute(r)
	h := &Handle{r: r, parent: c.permit}
	c.handles = append(c.handles, h)
	return h, nil
}

// mountRoot schedules the root component at the root path.
func (p *pass) mountRoot(comp *Component, args []any) (*Handle, error) {
	root := keys.Root()
	r := &run{
		path:       root,
		pathKey:    root.Text(),
		comp:       comp,
		args:       args,
		keepResult: true,
		done:       make(chan struct{}),
	}
	if err := p.registerRun(r); err != nil {
		return nil, err
	}
	go p.execute(r)
	return &Handle{r: r}, nil
}

// execute runs one component to completion: quota acquire, memo check,
// body, then waiting out every child the body mounted.
func (p *pass) execute(r *run) {
	defer close(r.done)

	if err := p.app.quota.acquire(p.ctx); err != nil {
		r.err = &BodyError{Path: r.path, Err: err}
		return
	}
	perm := &permit{q: p.app.quota, held: true}
	defer perm.dropFinal()

	p.markVisited(r.pathKey)

	if r.comp.memoize && !p.full {
		skipped, err := p.tryMemoSkip(r)
		if err != nil {
			r.bodyFailed = true
			r.err = &BodyError{Path: r.path, Err: err}
			return
		}
		if skipped {
			r.memoSkipped = true
			return
		}
	}

	// Record the run before the body executes. The nil fingerprint is the
	// invalidation: a crash mid-body must not memo-skip on the next pass.
	rec := state.ComponentRecord{
		PathKey:     r.pathKey,
		PathDisplay: r.path.String(),
		ParentKey:   r.parentKey,
		Status:      state.StatusRunning,
		UpdatedPass: p.id,
	}
	if err := p.app.store.UpsertComponent(p.ctx, rec); err != nil {
		r.bodyFailed = true
		r.err = &BodyError{Path: r.path, Err: err}
		return
	}

	c := &Ctx{p: p, path: r.path, permit: perm}
	result, err := p.invokeBody(c, r)

	// Body code is done; waiting on children needs no permit.
	perm.dropFinal()

	var childErr error
	for _, h := range c.handles {
		<-h.r.done
		if childErr == nil && h.r.err != nil {
			childErr = h.r.err
		}
	}

	switch {
	case err != nil:
		r.bodyFailed = true
		r.err = &BodyError{Path: r.path, Err: err}
	case childErr != nil:
		r.err = childErr
	default:
		r.result = result
		if r.comp.memoize && result != nil {
			data, jerr := json.Marshal(result)
			if jerr != nil {
				r.bodyFailed = true
				r.err = &BodyError{Path: r.path, Err: fmt.Errorf("memoized return value not serializable: %w", jerr)}
				return
			}
			r.resultJSON = data
		}
	}
}

// invokeBody calls the component function, converting panics into body
// errors so a panicking component aborts its pass instead of the process.
func (p *pass) invokeBody(c *Ctx, r *run) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	if r.comp.memoize {
		fp, ferr := memo.Fingerprint(r.comp.id, r.path, r.args)
		if ferr != nil {
			return nil, ferr
		}
		r.fingerprint = fp
	}

	p.app.log.Debug("component running",
		"pass", p.id, "path", r.path.String(), "component", r.comp.id)
	return r.comp.fn(c, r.args...)
}

// tryMemoSkip checks whether the component's last succeeded run had the
// same fingerprint. On a skip the whole persisted subtree is retained:
// component records stay, owned tracking stays, and the cached return
// value is replayed. No sink sees a skipped subtree.
func (p *pass) tryMemoSkip(r *run) (bool, error) {
	fp, err := memo.Fingerprint(r.comp.id, r.path, r.args)
	if err != nil {
		return false, err
	}
	rec, err := p.app.store.GetComponent(p.ctx, r.pathKey)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Status != state.StatusSucceeded || !bytes.Equal(rec.Fingerprint, fp) {
		return false, nil
	}

	subtree, err := p.app.store.ListSubtree(p.ctx, r.pathKey)
	if err != nil {
		return false, err
	}
	pathKeys := make([]string, len(subtree))
	for i, s := range subtree {
		pathKeys[i] = s.PathKey
	}
	p.retain(r.pathKey, pathKeys)

	if r.keepResult && rec.CachedReturn != nil {
		var v any
		if err := json.Unmarshal(rec.CachedReturn, &v); err != nil {
			return false, fmt.Errorf("cached return for %s: %w", r.path, err)
		}
		r.result = v
	}
	r.fingerprint = fp

	p.app.log.Debug("component memo skip",
		"pass", p.id, "path", r.path.String(), "component", r.comp.id)
	return true, nil
}
