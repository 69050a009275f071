package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidemark-io/tidemark/internal/state"
)

// AssertionContext carries the store handle assertions may query.
type AssertionContext struct {
	Store *state.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails. It includes the
// trace so failures can be debugged from the message alone.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\ntrace:\n")
	for _, event := range e.Trace {
		switch event.Type {
		case EventPass:
			fmt.Fprintf(&buf, "  [%d] pass %s\n", event.Seq, event.Pass)
		case EventError:
			fmt.Fprintf(&buf, "  [%d] error: %s\n", event.Seq, event.Message)
		default:
			fmt.Fprintf(&buf, "  [%d] %s %s/%s %q\n", event.Seq, event.Type, event.Provider, event.Key, event.Value)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all assertions held.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.State, result.Trace, a)
		case AssertTracked:
			err = assertTracked(actx, result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

// assertTraceContains checks that an applied action matching the
// provider, action, key, and optional value and pass appears in the trace.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	key, err := parseKey(a.Key)
	if err != nil {
		return fmt.Errorf("trace_contains: bad key: %w", err)
	}
	want := displayKey(key)

	for _, event := range trace {
		if event.Type != a.Action || event.Provider != a.Provider || event.Key != want {
			continue
		}
		if a.Value != "" && event.Value != a.Value {
			continue
		}
		if a.Pass != "" && event.Pass != a.Pass {
			continue
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s of %s/%s", a.Action, a.Provider, want),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks that an action kind was applied exactly Count
// times for the provider across all passes.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == a.Action && event.Provider == a.Provider {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s actions for %s", a.Count, a.Action, a.Provider),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares a provider's final contents exactly.
func assertFinalState(stateByProvider map[string]map[string]string, trace []TraceEvent, a Assertion) error {
	got := stateByProvider[a.Provider]
	want := a.Expect
	if want == nil {
		want = map[string]string{}
	}
	if len(got) != len(want) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d entries in %s: %v", len(want), a.Provider, want),
			Actual:   fmt.Sprintf("%d entries: %v", len(got), got),
			Trace:    trace,
		}
	}
	for k, v := range want {
		if got[k] != v {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s/%s = %q", a.Provider, k, v),
				Actual:   fmt.Sprintf("%q", got[k]),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTracked checks the number of tracked pairs recorded for the
// provider in the store.
func assertTracked(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	rows, err := actx.Store.ListTrackedKeysForProvider(actx.Ctx, a.Provider)
	if err != nil {
		return fmt.Errorf("tracked: list tracked keys: %w", err)
	}
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     AssertTracked,
			Expected: fmt.Sprintf("%d tracked pairs for %s", a.Count, a.Provider),
			Actual:   fmt.Sprintf("%d", len(rows)),
			Trace:    trace,
		}
	}
	return nil
}
