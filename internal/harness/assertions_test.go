package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/internal/keys"
	"github.com/tidemark-io/tidemark/internal/state"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Type: EventPass, Seq: 1, Pass: "seed"},
		{Type: EventUpsert, Seq: 2, Pass: "seed", Provider: "kv", Key: "a", Value: "1"},
		{Type: EventUpsert, Seq: 3, Pass: "seed", Provider: "kv", Key: "b", Value: "2"},
		{Type: EventPass, Seq: 4, Pass: "shift"},
		{Type: EventDelete, Seq: 5, Pass: "shift", Provider: "kv", Key: "a"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	require.NoError(t, assertTraceContains(trace, Assertion{
		Type: AssertTraceContains, Provider: "kv", Action: EventUpsert, Key: "a", Value: "1",
	}))
	require.NoError(t, assertTraceContains(trace, Assertion{
		Type: AssertTraceContains, Provider: "kv", Action: EventDelete, Key: "a", Pass: "shift",
	}))

	err := assertTraceContains(trace, Assertion{
		Type: AssertTraceContains, Provider: "kv", Action: EventDelete, Key: "a", Pass: "seed",
	})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Contains(t, err.Error(), "not found in trace")

	err = assertTraceContains(trace, Assertion{
		Type: AssertTraceContains, Provider: "kv", Action: EventUpsert, Key: "a", Value: "9",
	})
	require.Error(t, err)
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	require.NoError(t, assertTraceCount(trace, Assertion{
		Type: AssertTraceCount, Provider: "kv", Action: EventUpsert, Count: 2,
	}))
	require.NoError(t, assertTraceCount(trace, Assertion{
		Type: AssertTraceCount, Provider: "other", Action: EventUpsert, Count: 0,
	}))

	err := assertTraceCount(trace, Assertion{
		Type: AssertTraceCount, Provider: "kv", Action: EventDelete, Count: 2,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 delete actions")
}

func TestAssertFinalState(t *testing.T) {
	st := map[string]map[string]string{
		"kv": {"b": "2"},
	}

	require.NoError(t, assertFinalState(st, nil, Assertion{
		Type: AssertFinalState, Provider: "kv", Expect: map[string]string{"b": "2"},
	}))

	err := assertFinalState(st, nil, Assertion{
		Type: AssertFinalState, Provider: "kv", Expect: map[string]string{"b": "2", "c": "3"},
	})
	require.Error(t, err)

	err = assertFinalState(st, nil, Assertion{
		Type: AssertFinalState, Provider: "kv", Expect: map[string]string{"b": "9"},
	})
	require.Error(t, err)

	// A nil expect means the provider must be empty.
	require.NoError(t, assertFinalState(map[string]map[string]string{"kv": {}}, nil, Assertion{
		Type: AssertFinalState, Provider: "kv",
	}))
}

func TestAssertTracked(t *testing.T) {
	st, err := state.OpenMemory()
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	enc := keys.EncodeText(keys.String("a"))
	require.NoError(t, st.ReplaceTracking(ctx, "kv", enc, []byte("1"), "", "pass-1"))

	actx := &AssertionContext{Store: st, Ctx: ctx}
	require.NoError(t, assertTracked(actx, nil, Assertion{Type: AssertTracked, Provider: "kv", Count: 1}))
	require.NoError(t, assertTracked(actx, nil, Assertion{Type: AssertTracked, Provider: "other", Count: 0}))

	err = assertTracked(actx, nil, Assertion{Type: AssertTracked, Provider: "kv", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 tracked pairs")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()
	result.State = map[string]map[string]string{"kv": {"b": "2"}}

	st, err := state.OpenMemory()
	require.NoError(t, err)
	defer st.Close()
	actx := &AssertionContext{Store: st, Ctx: context.Background()}

	msgs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Provider: "kv", Action: EventUpsert, Count: 2},
		{Type: AssertFinalState, Provider: "kv", Expect: map[string]string{"missing": "x"}},
	}, actx)

	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "assertions[1]")
}
