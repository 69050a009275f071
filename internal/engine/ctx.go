package engine

import (
	"context"
	"fmt"

	"github.com/tidemark-io/tidemark/internal/effect"
	"github.com/tidemark-io/tidemark/internal/keys"
)

// Ctx is the explicit component context threaded through every body:
// the current path, the update pass, and the declaration surface. There
// is no ambient "current component" - a body can only act through the
// Ctx it was handed.
//
// A Ctx belongs to one body invocation and is not safe for concurrent
// use; share work by mounting children, not by sharing the Ctx.
type Ctx struct {
	p      *pass
	path   keys.Path
	permit *permit

	handles []*Handle
}

// Path returns the component's stable path.
func (c *Ctx) Path() keys.Path { return c.path }

// PassID returns the id of the update pass this body runs in.
func (c *Ctx) PassID() string { return c.p.id }

// Context returns the pass's context, for blocking calls inside a body.
func (c *Ctx) Context() context.Context { return c.p.ctx }

// UseContext looks up an app-scoped dependency by key. Values are
// provided at App construction; the second return is false for keys
// never provided.
func (c *Ctx) UseContext(key any) (any, bool) {
	v, ok := c.p.app.ctxValues[key]
	return v, ok
}

// DeclareEffect declares desired state for one key against a registered
// provider: after this pass, the external system should hold value under
// key. Declaring the same (provider, key) twice in one pass is a
// DuplicateEffectError.
func (c *Ctx) DeclareEffect(provider string, key any, value []byte) error {
	_, err := c.declare(provider, key, effect.Value(value), false)
	return err
}

// DeclareDeletion declares that key should not exist in the provider's
// external system after this pass.
func (c *Ctx) DeclareDeletion(provider string, key any) error {
	_, err := c.declare(provider, key, effect.NonExistence(), false)
	return err
}

// DeclareEffectWithChild declares a parent effect whose reconciliation
// produces a child effect provider (the two-level variant, e.g. "create
// table" yielding a provider for rows). Effects declared through the
// returned handle reconcile after the parent has applied, and are torn
// down wholesale when the parent is reconciled to NonExistence.
func (c *Ctx) DeclareEffectWithChild(provider string, key any, value []byte) (*ChildEffects, error) {
	return c.declare(provider, key, effect.Value(value), true)
}

func (c *Ctx) declare(provider string, key any, desired effect.TargetValue, withChild bool) (*ChildEffects, error) {
	prov, ok := c.p.app.providers.Get(provider)
	if !ok {
		return nil, fmt.Errorf("declare effect at %s: no registered provider %q", c.path, provider)
	}
	k, err := keys.Canonicalize(key)
	if err != nil {
		return nil, err
	}
	de := &declaredEffect{
		provider: provider,
		rec:      prov.Reconciler(),
		key:      k,
		keyEnc:   keys.EncodeText(k),
		desired:  desired,
		owner:    c.path.Text(),
	}
	if withChild {
		de.withChild = true
		de.childName = effect.DerivedProviderName(provider, k)
	}
	if err := c.p.declare(de); err != nil {
		return nil, err
	}
	if !withChild {
		return nil, nil
	}
	return &ChildEffects{name: de.childName, parent: de, p: c.p}, nil
}

// ChildEffects is the declaration surface for a child provider derived
// from one parent effect. It is valid for the remainder of the pass that
// created it.
type ChildEffects struct {
	name   string
	parent *declaredEffect
	p      *pass
}

// Declare declares desired state for one child key, e.g. one row of the
// parent's table.
func (h *ChildEffects) Declare(c *Ctx, key any, value []byte) error {
	return h.declareChild(c, key, effect.Value(value))
}

// DeclareDeletion declares that the child key should not exist.
func (h *ChildEffects) DeclareDeletion(c *Ctx, key any) error {
	return h.declareChild(c, key, effect.NonExistence())
}

func (h *ChildEffects) declareChild(c *Ctx, key any, desired effect.TargetValue) error {
	k, err := keys.Canonicalize(key)
	if err != nil {
		return err
	}
	de := &declaredEffect{
		provider: h.name,
		key:      k,
		keyEnc:   keys.EncodeText(k),
		desired:  desired,
		owner:    c.path.Text(),
	}
	return h.p.declareChild(de)
}
