package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/tidemark-io/tidemark/internal/effect"
	"github.com/tidemark-io/tidemark/internal/keys"
	"github.com/tidemark-io/tidemark/internal/state"
)

// declaredEffect is one (provider, key) pair touched in the current pass,
// either declared by a component body or synthesized by GC with a desired
// value of NonExistence.
type declaredEffect struct {
	provider string // effective provider name (root or derived)
	rec      effect.Reconciler
	key      keys.Key
	keyEnc   string
	desired  effect.TargetValue
	owner    string // path_key of the declaring component
	gc       bool

	withChild bool
	childName string // derived provider name when withChild

	out *effect.Output // reconcile decision, nil = no observable change
}

// pass is the mutable state of one App.Update (or App.Drop) invocation.
// Bodies run concurrently, so every map behind mu is shared state; the
// phase methods in reconcile.go run single-threaded after the tree
// completes and read these maps without the lock.
type pass struct {
	app  *App
	id   string
	full bool
	ctx  context.Context

	mu       sync.Mutex
	runs     map[string]*run
	visited  map[string]bool
	// retained holds the path_keys of memo-skipped subtree roots.
	retained []string
	effects  map[string]map[string]*declaredEffect // provider -> keyEnc
	children map[string]map[string]*declaredEffect // derived provider -> keyEnc

	// childParents maps a derived provider name back to the parent pair
	// declared this pass, for child reconciler resolution after apply.
	childParents map[string]*declaredEffect

	// childResolved holds child reconcilers returned by parent sink
	// applies (the two-level variant).
	childResolved map[string]effect.Reconciler

	// populated by the post-tree phases in reconcile.go
	gcEffects       []*declaredEffect
	derivedTracked  []state.TrackedKey
	pendingDeletion []string
}

func newPass(app *App, ctx context.Context, full bool) *pass {
	return &pass{
		app:           app,
		id:            app.passIDs.Generate(),
		full:          full,
		ctx:           ctx,
		runs:          make(map[string]*run),
		visited:       make(map[string]bool),
		effects:       make(map[string]map[string]*declaredEffect),
		children:      make(map[string]map[string]*declaredEffect),
		childParents:  make(map[string]*declaredEffect),
		childResolved: make(map[string]effect.Reconciler),
	}
}

// registerRun claims the per-path critical section for this pass (CP-1).
// A second mount for the same path is a caller bug, never a silent merge.
func (p *pass) registerRun(r *run) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.runs[r.pathKey]; ok {
		return &DuplicateMountError{Path: r.path}
	}
	p.runs[r.pathKey] = r
	return nil
}

func (p *pass) markVisited(pathKey string) {
	p.mu.Lock()
	p.visited[pathKey] = true
	p.mu.Unlock()
}

// retain records a memo-skipped subtree root: every component record and
// tracked pair owned under this path prefix survives the pass untouched.
func (p *pass) retain(pathKey string, subtree []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retained = append(p.retained, pathKey)
	p.visited[pathKey] = true
	for _, pk := range subtree {
		p.visited[pk] = true
	}
}

// retainedCovers reports whether a tracked pair owned at ownerPath is
// retained by a memo skip. Path encodings extend their ancestors
// literally, so prefix comparison over path_key is subtree containment.
func (p *pass) retainedCovers(ownerPath string) bool {
	for _, root := range p.retained {
		if strings.HasPrefix(ownerPath, root) {
			return true
		}
	}
	return false
}

// declare records one desired value for a (provider, key) pair. Exactly
// one desired value per pair per pass (CP-2 of the effect protocol); a
// second declaration is a DuplicateEffectError.
func (p *pass) declare(de *declaredEffect) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	byKey, ok := p.effects[de.provider]
	if !ok {
		byKey = make(map[string]*declaredEffect)
		p.effects[de.provider] = byKey
	}
	if _, dup := byKey[de.keyEnc]; dup {
		return &effect.DuplicateEffectError{Provider: de.provider, Key: de.key}
	}
	byKey[de.keyEnc] = de
	if de.withChild {
		p.childParents[de.childName] = de
	}
	return nil
}

// declareChild records one desired value against a derived (child)
// provider. Child pairs reconcile in a second wave, after the parent
// batches have applied and resolved their child reconcilers.
func (p *pass) declareChild(de *declaredEffect) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	byKey, ok := p.children[de.provider]
	if !ok {
		byKey = make(map[string]*declaredEffect)
		p.children[de.provider] = byKey
	}
	if _, dup := byKey[de.keyEnc]; dup {
		return &effect.DuplicateEffectError{Provider: de.provider, Key: de.key}
	}
	byKey[de.keyEnc] = de
	return nil
}

// findChildParent maps a derived provider name back to the parent pair
// declared this pass. Names minted by DeclareEffectWithChild are indexed
// directly; otherwise the parent provider's declarations are searched, so
// a parent re-declared without the child variant still tears down stale
// child pairs. Only called from the single-threaded post-tree phases.
func (p *pass) findChildParent(name string) *declaredEffect {
	if de, ok := p.childParents[name]; ok {
		return de
	}
	idx := strings.Index(name, "@")
	if idx < 0 {
		return nil
	}
	for _, de := range p.effects[name[:idx]] {
		if effect.DerivedProviderName(de.provider, de.key) == name {
			p.childParents[name] = de
			return de
		}
	}
	return nil
}

// setChildResolved records a child reconciler returned by a parent sink
// apply. Batches apply concurrently, hence the lock.
func (p *pass) setChildResolved(name string, rec effect.Reconciler) {
	p.mu.Lock()
	p.childResolved[name] = rec
	p.mu.Unlock()
}

func (p *pass) declaredPair(provider, keyEnc string) bool {
	if byKey, ok := p.effects[provider]; ok {
		if _, ok := byKey[keyEnc]; ok {
			return true
		}
	}
	if byKey, ok := p.children[provider]; ok {
		if _, ok := byKey[keyEnc]; ok {
			return true
		}
	}
	return false
}
