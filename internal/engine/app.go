package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidemark-io/tidemark/internal/effect"
	"github.com/tidemark-io/tidemark/internal/keys"
	"github.com/tidemark-io/tidemark/internal/state"
)

// Config carries everything an App needs at construction. Either Store
// or StorePath must be set; a Store handed in stays owned by the caller,
// a path-opened store is closed by App.Close.
type Config struct {
	StorePath string
	Store     *state.Store

	// MaxInflight bounds concurrently-running component bodies. Zero
	// means the TIDEMARK_MAX_INFLIGHT_COMPONENTS environment override,
	// falling back to DefaultMaxInflight.
	MaxInflight int64

	Logger *slog.Logger

	// Providers defaults to the process-wide effect registry.
	Providers *effect.Registry

	// Context holds the app-scoped dependency values served by
	// Ctx.UseContext. Read-only after construction.
	Context map[any]any

	// RootArgs are passed to the root component on every update.
	RootArgs []any

	// PassIDs defaults to UUIDv7 generation; tests substitute a
	// FixedGenerator for deterministic traces.
	PassIDs PassIDGenerator
}

// App owns one component tree and its persisted state. Update runs one
// pass; passes are serialized per App, and Update is safe to call from
// any goroutine.
type App struct {
	store     *state.Store
	ownStore  bool
	quota     *quota
	log       *slog.Logger
	providers *effect.Registry
	ctxValues map[any]any
	passIDs   PassIDGenerator
	root      *Component
	rootArgs  []any

	mu sync.Mutex // one pass at a time
}

// New constructs an App around a root component.
func New(root *Component, cfg Config) (*App, error) {
	if root == nil {
		return nil, errors.New("engine: nil root component")
	}

	store := cfg.Store
	ownStore := false
	if store == nil {
		if cfg.StorePath == "" {
			return nil, errors.New("engine: Config needs Store or StorePath")
		}
		var err error
		store, err = state.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		ownStore = true
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	providers := cfg.Providers
	if providers == nil {
		providers = effect.DefaultRegistry()
	}
	passIDs := cfg.PassIDs
	if passIDs == nil {
		passIDs = UUIDv7Generator{}
	}

	return &App{
		store:     store,
		ownStore:  ownStore,
		quota:     newQuota(cfg.MaxInflight),
		log:       log,
		providers: providers,
		ctxValues: cfg.Context,
		passIDs:   passIDs,
		root:      root,
		rootArgs:  cfg.RootArgs,
	}, nil
}

// Close releases the store if the App opened it.
func (a *App) Close() error {
	if a.ownStore {
		return a.store.Close()
	}
	return nil
}

// Store exposes the underlying state store, for inspection tooling and
// tests.
func (a *App) Store() *state.Store { return a.store }

type updateConfig struct {
	fullReprocess bool
}

// UpdateOption configures one Update call.
type UpdateOption func(*updateConfig)

// WithFullReprocess forces re-execution and rewrite of every component
// regardless of memo or tracking matches.
func WithFullReprocess() UpdateOption {
	return func(c *updateConfig) { c.fullReprocess = true }
}

// Update runs one pass: execute the tree from the root, reconcile
// declared effects against tracked state, GC what disappeared, persist.
// It returns the root component's return value.
//
// On error the pass aborts after best-effort persistence of known-safe
// state; the next Update is the retry mechanism.
func (a *App) Update(ctx context.Context, opts ...UpdateOption) (any, error) {
	var cfg updateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p := newPass(a, ctx, cfg.fullReprocess)
	a.log.Info("update pass starting", "pass", p.id, "full_reprocess", cfg.fullReprocess)

	h, err := p.mountRoot(a.root, a.rootArgs)
	if err != nil {
		return nil, err
	}
	<-h.r.done
	if h.r.err != nil {
		p.persistFailure()
		a.log.Warn("update pass failed", "pass", p.id, "error", h.r.err)
		return nil, h.r.err
	}

	if err := p.finish(); err != nil {
		p.persistFailure()
		a.log.Warn("update pass failed", "pass", p.id, "error", err)
		return nil, err
	}

	a.log.Info("update pass complete", "pass", p.id, "components", len(p.runs))
	return h.r.result, nil
}

// Drop reconciles every tracked pair to NonExistence and clears all
// persisted state. After a successful Drop the store is empty; a failed
// Drop leaves uncertainty markers and can be retried.
func (a *App) Drop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := newPass(a, ctx, true)
	a.log.Info("drop starting", "pass", p.id)

	tracked, err := a.store.ListTrackedKeys(ctx)
	if err != nil {
		return err
	}

	var teardown []*declaredEffect
	for _, tk := range tracked {
		if strings.Contains(tk.Provider, "@") {
			continue // torn down with its parent, or swept below
		}
		prov, ok := a.providers.Get(tk.Provider)
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
			if err := a.store.DeleteTracking(ctx, de.provider, de.keyEnc); err != nil {
				return err
			}
			continue
		}
		teardown = append(teardown, de)
	}

	batches, err := p.buildBatches(teardown)
	if err != nil {
		return err
	}
	if err := p.applyBatches(batches); err != nil {
		return err
	}

	// Sweep leftovers: derived rows whose parent pair was not tracked,
	// then every component record.
	remaining, err := a.store.ListTrackedKeys(ctx)
	if err != nil {
		return err
	}
	for _, tk := range remaining {
		if err := a.store.DeleteTracking(ctx, tk.Provider, tk.KeyEnc); err != nil {
			return err
		}
	}
	recs, err := a.store.ListComponents(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := a.store.DeleteComponent(ctx, rec.PathKey); err != nil {
			return err
		}
	}

	a.log.Info("drop complete", "pass", p.id, "pairs", len(tracked))
	return nil
}
