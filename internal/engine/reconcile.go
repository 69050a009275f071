package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tidemark-io/tidemark/internal/effect"
	"github.com/tidemark-io/tidemark/internal/keys"
	"github.com/tidemark-io/tidemark/internal/state"
)

// finish runs the ordered post-tree phases of an update pass: mark
// disappeared paths, reconcile every touched (provider, key) pair exactly
// once, batch-apply per sink, wire child effects, persist.
//
// Everything here is single-threaded except sink applies, which run one
// goroutine per batch - sinks target independent external systems and may
// never assume cross-provider ordering.
func (p *pass) finish() error {
	if err := p.markPendingDeletion(); err != nil {
		return err
	}
	if err := p.reconcileDeclared(); err != nil {
		return err
	}
	if err := p.reconcileGC(); err != nil {
		return err
	}

	rootEffects := make([]*declaredEffect, 0, len(p.gcEffects))
	for _, provider := range sortedMapKeys(p.effects) {
		byKey := p.effects[provider]
		for _, keyEnc := range sortedMapKeys(byKey) {
			if de := byKey[keyEnc]; de.out != nil {
				rootEffects = append(rootEffects, de)
			}
		}
	}
	rootEffects = append(rootEffects, p.gcEffects...)

	batches, err := p.buildBatches(rootEffects)
	if err != nil {
		return err
	}
	if err := p.applyBatches(batches); err != nil {
		return err
	}

	if err := p.childPhase(); err != nil {
		return err
	}

	return p.persistSuccess()
}

// markPendingDeletion flags every previously-known path not revisited in
// this pass. The flag survives a failed teardown, so the next pass
// retries; a path that reappears before then is simply re-run and its
// record overwritten (reappearance wins over GC).
func (p *pass) markPendingDeletion() error {
	recs, err := p.app.store.ListComponents(p.ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if p.visited[rec.PathKey] {
			continue
		}
		if err := p.app.store.SetStatus(p.ctx, rec.PathKey, state.StatusPendingDeletion, p.id); err != nil {
			return err
		}
		p.pendingDeletion = append(p.pendingDeletion, rec.PathKey)
	}
	return nil
}

// reconcileDeclared invokes each declared pair's reconciler exactly once
// against its previous tracking records, in deterministic provider/key
// order. A nil output is the provider's no-op fast path; the pair is
// still treated as alive (never GC'd this pass).
func (p *pass) reconcileDeclared() error {
	for _, provider := range sortedMapKeys(p.effects) {
		byKey := p.effects[provider]
		for _, keyEnc := range sortedMapKeys(byKey) {
			de := byKey[keyEnc]
			if err := p.reconcileOne(de); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *pass) reconcileOne(de *declaredEffect) error {
	prev, err := p.app.store.GetTracking(p.ctx, de.provider, de.keyEnc)
	if err != nil {
		return err
	}
	out, err := de.rec.Reconcile(p.ctx, de.key, de.desired, effect.PrevState{
		Records:      prev.Records,
		MayBeMissing: prev.MayBeMissing,
	})
	if err != nil {
		return fmt.Errorf("reconcile %s key %s: %w", de.provider, de.key, err)
	}
	de.out = out
	return nil
}

// reconcileGC synthesizes desired = NonExistence for every tracked pair
// that was neither re-declared nor retained by a memo skip. GC is not a
// separate sweep: the synthesized pairs join the same sink batches as the
// declared ones, so one batch can carry upserts and deletes together.
func (p *pass) reconcileGC() error {
	tracked, err := p.app.store.ListTrackedKeys(p.ctx)
	if err != nil {
		return err
	}
	for _, tk := range tracked {
		if strings.Contains(tk.Provider, "@") {
			p.derivedTracked = append(p.derivedTracked, tk)
			continue
		}
		if p.declaredPair(tk.Provider, tk.KeyEnc) || p.retainedCovers(tk.OwnerPath) {
			continue
		}
		prov, ok := p.app.providers.Get(tk.Provider)
		if !ok {
			return &UnknownProviderError{Provider: tk.Provider}
		}
		k, err := keys.DecodeText(tk.KeyEnc)
		if err != nil {
			return fmt.Errorf("tracked key for %s: %w", tk.Provider, err)
		}
		de := &declaredEffect{
			provider: tk.Provider,
			rec:      prov.Reconciler(),
			key:      k,
			keyEnc:   tk.KeyEnc,
			desired:  effect.NonExistence(),
			owner:    tk.OwnerPath,
			gc:       true,
		}
		if err := p.reconcileOne(de); err != nil {
			return err
		}
		if de.out == nil {
			// Nothing external to undo; drop the rows directly.
			if err := p.app.store.DeleteTracking(p.ctx, de.provider, de.keyEnc); err != nil {
				return err
			}
			continue
		}
		p.gcEffects = append(p.gcEffects, de)
	}
	return nil
}

// sinkBatch is every action accumulated for one physical sink in this
// pass, ordered by key encoding.
type sinkBatch struct {
	token string
	sink  effect.Sink
	items []*declaredEffect
}

func (p *pass) buildBatches(effects []*declaredEffect) ([]*sinkBatch, error) {
	byToken := make(map[string]*sinkBatch)
	for _, de := range effects {
		sink, err := p.app.providers.InternSink(de.out.Sink)
		if err != nil {
			return nil, err
		}
		token := sink.Token()
		b, ok := byToken[token]
		if !ok {
			b = &sinkBatch{token: token, sink: sink}
			byToken[token] = b
		}
		b.items = append(b.items, de)
	}
	batches := make([]*sinkBatch, 0, len(byToken))
	for _, token := range sortedMapKeys(byToken) {
		b := byToken[token]
		sort.Slice(b.items, func(i, j int) bool { return b.items[i].keyEnc < b.items[j].keyEnc })
		batches = append(batches, b)
	}
	return batches, nil
}

// applyBatches applies every batch, one goroutine per sink. Store writes
// use the pass context, not the group context: a batch that succeeded
// persists its tracking even when a sibling batch fails (known-safe
// state survives an aborted pass).
func (p *pass) applyBatches(batches []*sinkBatch) error {
	g, gctx := errgroup.WithContext(p.ctx)
	for _, b := range batches {
		b := b
		g.Go(func() error { return p.applyBatch(gctx, b) })
	}
	return g.Wait()
}

func (p *pass) applyBatch(ctx context.Context, b *sinkBatch) error {
	actions := make([]effect.SinkAction, len(b.items))
	for i, de := range b.items {
		actions[i] = effect.SinkAction{Key: de.key, Action: de.out.Action}
	}

	p.app.log.Debug("applying sink batch",
		"pass", p.id, "sink", b.token, "actions", len(actions))

	results, err := b.sink.Apply(ctx, actions)
	if err != nil {
		// The sink may have applied any prefix of the batch. Every pair in
		// it becomes uncertain: old records stay as possibilities, the new
		// tracking joins them as one more possibility.
		for _, de := range b.items {
			if merr := p.app.store.MarkUncertain(p.ctx, de.provider, de.keyEnc, de.owner, p.id); merr != nil {
				p.app.log.Error("marking tracking uncertain failed",
					"pass", p.id, "provider", de.provider, "error", merr)
			}
			if de.out.NewTracking == nil {
				continue
			}
			row := state.TrackingRow{
				Provider:     de.provider,
				KeyEnc:       de.keyEnc,
				Record:       de.out.NewTracking,
				MayBeMissing: true,
				OwnerPath:    de.owner,
				UpdatedPass:  p.id,
			}
			if merr := p.app.store.AddPossibleTracking(p.ctx, row); merr != nil {
				p.app.log.Error("adding possible tracking failed",
					"pass", p.id, "provider", de.provider, "error", merr)
			}
		}
		return &effect.SinkError{Provider: b.items[0].provider, Sink: b.token, Err: err}
	}

	for i, de := range b.items {
		if de.out.NewTracking != nil {
			err = p.app.store.ReplaceTracking(p.ctx, de.provider, de.keyEnc, de.out.NewTracking, de.owner, p.id)
		} else {
			err = p.app.store.DeleteTracking(p.ctx, de.provider, de.keyEnc)
		}
		if err != nil {
			return err
		}
		if !de.desired.Exists() && !strings.Contains(de.provider, "@") {
			// A deleted parent tears down its derived children wholesale.
			prefix := effect.DerivedProviderName(de.provider, de.key)
			if err := p.app.store.DeleteTrackingByProviderPrefix(p.ctx, prefix); err != nil {
				return err
			}
		}
		if de.withChild && i < len(results) && results[i].Child != nil {
			p.setChildResolved(de.childName, results[i].Child)
		}
	}
	return nil
}

// childPhase reconciles and applies the second wave: pairs declared
// against derived providers, plus GC of tracked child pairs whose parent
// was re-declared without them.
func (p *pass) childPhase() error {
	names := make(map[string]bool, len(p.children))
	for name := range p.children {
		names[name] = true
	}
	for _, tk := range p.derivedTracked {
		if p.declaredPair(tk.Provider, tk.KeyEnc) || p.retainedCovers(tk.OwnerPath) {
			continue
		}
		// A tracked child pair can only be reconciled through its parent's
		// declaration this pass. Parents that were GC'd or deleted already
		// tore their children down by provider prefix in wave one.
		if p.findChildParent(tk.Provider) != nil {
			names[tk.Provider] = true
		}
	}

	var childEffects []*declaredEffect
	for _, name := range sortedSet(names) {
		rec, err := p.resolveChild(name)
		if err != nil {
			return err
		}
		if rec == nil {
			continue // parent reconciled to NonExistence, already torn down
		}

		byKey := p.children[name]
		for _, keyEnc := range sortedMapKeys(byKey) {
			de := byKey[keyEnc]
			de.rec = rec
			if err := p.reconcileOne(de); err != nil {
				return err
			}
			if de.out != nil {
				childEffects = append(childEffects, de)
			}
		}

		for _, tk := range p.derivedTracked {
			if tk.Provider != name || p.declaredPair(tk.Provider, tk.KeyEnc) || p.retainedCovers(tk.OwnerPath) {
				continue
			}
			k, err := keys.DecodeText(tk.KeyEnc)
			if err != nil {
				return fmt.Errorf("tracked child key for %s: %w", name, err)
			}
			de := &declaredEffect{
				provider: name,
				rec:      rec,
				key:      k,
				keyEnc:   tk.KeyEnc,
				desired:  effect.NonExistence(),
				owner:    tk.OwnerPath,
				gc:       true,
			}
			if err := p.reconcileOne(de); err != nil {
				return err
			}
			if de.out == nil {
				if err := p.app.store.DeleteTracking(p.ctx, name, tk.KeyEnc); err != nil {
					return err
				}
				continue
			}
			childEffects = append(childEffects, de)
		}
	}

	batches, err := p.buildBatches(childEffects)
	if err != nil {
		return err
	}
	return p.applyBatches(batches)
}

// resolveChild returns the reconciler for one derived provider: the one
// the parent's sink returned on apply, or the parent reconciler's
// ChildFor when the parent was a no-op this pass.
func (p *pass) resolveChild(name string) (effect.Reconciler, error) {
	parent := p.findChildParent(name)
	if parent == nil {
		// Only reachable for declared child pairs, and those always have a
		// parent registered by DeclareEffectWithChild.
		return nil, fmt.Errorf("derived provider %q has no parent declaration in this pass", name)
	}
	if !parent.desired.Exists() {
		if len(p.children[name]) > 0 {
			return nil, fmt.Errorf("child effects declared under deleted parent %s key %s", parent.provider, parent.key)
		}
		return nil, nil
	}
	if rec, ok := p.childResolved[name]; ok && rec != nil {
		return rec, nil
	}
	if cr, ok := parent.rec.(effect.ChildResolver); ok {
		if rec := cr.ChildFor(parent.key); rec != nil {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("provider %q produced no child reconciler for key %s", parent.provider, parent.key)
}

// persistSuccess advances every executed component to succeeded and
// deletes the records of paths whose teardown completed. Reaching this
// point means every sink batch applied, so pending-deletion tracking is
// known clean.
func (p *pass) persistSuccess() error {
	for _, pathKey := range sortedMapKeys(p.runs) {
		r := p.runs[pathKey]
		if r.memoSkipped {
			continue
		}
		rec := state.ComponentRecord{
			PathKey:      r.pathKey,
			PathDisplay:  r.path.String(),
			ParentKey:    r.parentKey,
			Status:       state.StatusSucceeded,
			Fingerprint:  r.fingerprint,
			CachedReturn: r.resultJSON,
			UpdatedPass:  p.id,
		}
		if err := p.app.store.UpsertComponent(p.ctx, rec); err != nil {
			return err
		}
	}
	for _, pathKey := range p.pendingDeletion {
		if err := p.app.store.DeleteComponent(p.ctx, pathKey); err != nil {
			return err
		}
	}
	return nil
}

// persistFailure records best-effort state after an aborted pass: failed
// components stay failed with no fingerprint, clean components drop back
// to pending, and every pair declared under a failed body's subtree is
// marked may-be-missing (CP-3). Persistence errors are logged, never
// masked over the original failure.
func (p *pass) persistFailure() {
	for _, pathKey := range sortedMapKeys(p.runs) {
		r := p.runs[pathKey]
		if r.memoSkipped {
			continue
		}
		if r.err != nil {
			// Failed runs lose their memo state outright: fingerprint and
			// cached return cleared, status failed.
			if err := p.app.store.InvalidateFingerprint(p.ctx, r.pathKey, p.id); err != nil {
				p.app.log.Error("invalidating failed component failed",
					"pass", p.id, "path", r.path.String(), "error", err)
			}
		} else if err := p.app.store.SetStatus(p.ctx, r.pathKey, state.StatusPending, p.id); err != nil {
			p.app.log.Error("persisting component status failed",
				"pass", p.id, "path", r.path.String(), "error", err)
		}
		if !r.bodyFailed {
			continue
		}
		p.markSubtreeUncertain(r.pathKey)
	}
}

// markSubtreeUncertain flags every pair declared this pass by components
// at or under pathKey. The pass aborted before apply, but the next run
// must still assume divergence and write defensively.
func (p *pass) markSubtreeUncertain(pathKey string) {
	mark := func(byProvider map[string]map[string]*declaredEffect) {
		for _, provider := range sortedMapKeys(byProvider) {
			for _, keyEnc := range sortedMapKeys(byProvider[provider]) {
				de := byProvider[provider][keyEnc]
				if !strings.HasPrefix(de.owner, pathKey) {
					continue
				}
				if err := p.app.store.MarkUncertain(p.ctx, de.provider, de.keyEnc, de.owner, p.id); err != nil {
					p.app.log.Error("marking tracking uncertain failed",
						"pass", p.id, "provider", de.provider, "error", err)
				}
			}
		}
	}
	mark(p.effects)
	mark(p.children)
}

func sortedMapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedSet(s map[string]bool) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
