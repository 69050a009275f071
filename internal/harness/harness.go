// Package harness runs yaml-defined conformance scenarios against the
// reconciliation engine.
//
// A scenario is a sequence of update passes, each declaring the desired
// set of effects for that pass. The harness runs them against a fresh App
// backed by an in-memory store and in-memory key-value providers, derives
// a deterministic trace of applied actions from provider snapshots taken
// around each pass, and evaluates assertions over the trace, the final
// provider contents, and the tracking store.
//
// Traces are deterministic: pass ids come from a sequence generator,
// events are numbered by a logical clock, and applied actions within a
// pass are ordered by provider name and key encoding. This makes golden
// file comparison byte-stable across runs.
package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/tidemark-io/tidemark/internal/effect"
	"github.com/tidemark-io/tidemark/internal/engine"
	"github.com/tidemark-io/tidemark/internal/keys"
	"github.com/tidemark-io/tidemark/internal/state"
	"github.com/tidemark-io/tidemark/internal/testutil"
)

// ErrInjectedApply is the failure injected by a pass's fail_apply list.
var ErrInjectedApply = errors.New("injected apply failure")

// Harness executes one scenario. Each scenario runs in a fresh in-memory
// store with its own provider registry for isolation.
type Harness struct {
	kvs     map[string]*effect.MemKV
	names   []string
	clock   *testutil.DeterministicClock
	current []EffectDecl
	log     *slog.Logger
}

// Run executes a scenario and returns its result.
//
// A pass that errors without expect_error, or succeeds with it, aborts the
// run; assertion failures are collected into the result instead.
func Run(scenario *Scenario) (*Result, error) {
	st, err := state.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	reg := effect.NewRegistry()
	h := &Harness{
		kvs:   make(map[string]*effect.MemKV, len(scenario.Providers)),
		clock: testutil.NewDeterministicClock(),
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, name := range scenario.Providers {
		kv := effect.NewMemKV(name)
		if _, err := reg.Register(name, kv); err != nil {
			return nil, fmt.Errorf("register provider %q: %w", name, err)
		}
		h.kvs[name] = kv
		h.names = append(h.names, name)
	}
	sort.Strings(h.names)

	root := engine.NewComponent("scenario-root", func(c *engine.Ctx, args ...any) (any, error) {
		for _, decl := range h.current {
			key, err := parseKey(decl.Key)
			if err != nil {
				return nil, err
			}
			if decl.Absent {
				err = c.DeclareDeletion(decl.Provider, key)
			} else {
				err = c.DeclareEffect(decl.Provider, key, []byte(decl.Value))
			}
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	app, err := engine.New(root, engine.Config{
		Store:     st,
		Logger:    h.log,
		Providers: reg,
		PassIDs:   testutil.NewSequenceIDs("pass"),
	})
	if err != nil {
		return nil, fmt.Errorf("create app: %w", err)
	}
	defer app.Close()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Passes {
		label := step.Name
		if label == "" {
			label = fmt.Sprintf("pass-%06d", i+1)
		}

		for _, p := range step.FailApply {
			h.kvs[p].FailNextApply(ErrInjectedApply)
		}

		var opts []engine.UpdateOption
		if step.FullReprocess {
			opts = append(opts, engine.WithFullReprocess())
		}

		before := h.snapshotAll()
		h.current = step.Effects
		result.Trace = append(result.Trace, TraceEvent{
			Type: EventPass,
			Seq:  h.clock.Next(),
			Pass: label,
		})

		_, err := app.Update(ctx, opts...)
		switch {
		case err != nil && !step.ExpectError:
			return nil, fmt.Errorf("pass %q: %w", label, err)
		case err == nil && step.ExpectError:
			return nil, fmt.Errorf("pass %q: expected an error, update succeeded", label)
		case err != nil:
			result.Trace = append(result.Trace, TraceEvent{
				Type:    EventError,
				Seq:     h.clock.Next(),
				Pass:    label,
				Message: err.Error(),
			})
		}

		h.appendDiff(result, label, before, h.snapshotAll())
	}

	for _, name := range h.names {
		final := make(map[string]string)
		for enc, v := range h.kvs[name].Snapshot() {
			final[displayKeyText(enc)] = string(v)
		}
		result.State[name] = final
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// snapshotAll captures every provider's contents keyed by key encoding.
func (h *Harness) snapshotAll() map[string]map[string][]byte {
	out := make(map[string]map[string][]byte, len(h.kvs))
	for name, kv := range h.kvs {
		out[name] = kv.Snapshot()
	}
	return out
}

// appendDiff derives applied actions from the snapshots taken around one
// pass and appends them to the trace in provider, then key, order.
func (h *Harness) appendDiff(result *Result, label string, before, after map[string]map[string][]byte) {
	for _, name := range h.names {
		b, a := before[name], after[name]
		union := make(map[string]bool, len(b)+len(a))
		for k := range b {
			union[k] = true
		}
		for k := range a {
			union[k] = true
		}
		encs := make([]string, 0, len(union))
		for k := range union {
			encs = append(encs, k)
		}
		sort.Strings(encs)

		for _, enc := range encs {
			av, aok := a[enc]
			bv, bok := b[enc]
			switch {
			case aok && (!bok || !bytes.Equal(av, bv)):
				result.Trace = append(result.Trace, TraceEvent{
					Type:     EventUpsert,
					Seq:      h.clock.Next(),
					Pass:     label,
					Provider: name,
					Key:      displayKeyText(enc),
					Value:    string(av),
				})
			case bok && !aok:
				result.Trace = append(result.Trace, TraceEvent{
					Type:     EventDelete,
					Seq:      h.clock.Next(),
					Pass:     label,
					Provider: name,
					Key:      displayKeyText(enc),
				})
			}
		}
	}
}

// parseKey converts a yaml key value to a canonical key. yaml lists
// become tuple keys.
func parseKey(v any) (keys.Key, error) {
	if list, ok := v.([]any); ok {
		tuple := make(keys.Tuple, 0, len(list))
		for _, elem := range list {
			k, err := keys.Canonicalize(elem)
			if err != nil {
				return nil, err
			}
			tuple = append(tuple, k)
		}
		return tuple, nil
	}
	return keys.Canonicalize(v)
}

// displayKey renders a key the way scenario files write it: bare for
// strings, the diagnostic form for everything else.
func displayKey(k keys.Key) string {
	if s, ok := k.(keys.String); ok {
		return string(s)
	}
	return k.String()
}

func displayKeyText(enc string) string {
	k, err := keys.DecodeText(enc)
	if err != nil {
		return enc
	}
	return displayKey(k)
}
