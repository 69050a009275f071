package effect

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/internal/keys"
)

// TestNoChange_FastPathValidity tests the exact conditions under which
// the no-op short circuit is allowed.
func TestNoChange_FastPathValidity(t *testing.T) {
	v := Value([]byte("x"))

	tests := []struct {
		name    string
		desired TargetValue
		prev    PrevState
		want    bool
	}{
		{"nonexistence, empty prev", NonExistence(), PrevState{}, true},
		{"nonexistence, has record", NonExistence(), PrevState{Records: [][]byte{[]byte("x")}}, false},
		{"nonexistence, uncertain", NonExistence(), PrevState{MayBeMissing: true}, false},
		{"value matches single record", v, PrevState{Records: [][]byte{[]byte("x")}}, true},
		{"value matches all records", v, PrevState{Records: [][]byte{[]byte("x"), []byte("x")}}, true},
		{"value, no prior record", v, PrevState{}, false},
		{"value, one record differs", v, PrevState{Records: [][]byte{[]byte("x"), []byte("y")}}, false},
		{"value matches but uncertain", v, PrevState{Records: [][]byte{[]byte("x")}, MayBeMissing: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NoChange(tt.desired, tt.prev))
		})
	}
}

// TestMemKV_ReconcileNoOp tests that the reference provider honors the
// fast path.
func TestMemKV_ReconcileNoOp(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV("kv")
	key := keys.String("a")

	out, err := kv.Reconcile(ctx, key, Value([]byte("1")), PrevState{Records: [][]byte{[]byte("1")}})
	require.NoError(t, err)
	assert.Nil(t, out, "matching record must short-circuit")

	out, err = kv.Reconcile(ctx, key, NonExistence(), PrevState{})
	require.NoError(t, err)
	assert.Nil(t, out, "nonexistence with empty prev must short-circuit")
}

// TestMemKV_DefensiveWriteWhenUncertain tests that may-be-missing always
// produces a write even when the desired value matches.
func TestMemKV_DefensiveWriteWhenUncertain(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV("kv")

	out, err := kv.Reconcile(ctx, keys.String("a"), Value([]byte("1")),
		PrevState{Records: [][]byte{[]byte("1")}, MayBeMissing: true})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, []byte("1"), out.NewTracking)
}

// TestMemKV_ApplyBatch tests batched sink application and counters.
func TestMemKV_ApplyBatch(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV("kv")
	a, b := keys.String("a"), keys.String("b")

	outA, err := kv.Reconcile(ctx, a, Value([]byte("1")), PrevState{})
	require.NoError(t, err)
	outB, err := kv.Reconcile(ctx, b, Value([]byte("2")), PrevState{})
	require.NoError(t, err)

	results, err := outA.Sink.Apply(ctx, []SinkAction{
		{Key: a, Action: outA.Action},
		{Key: b, Action: outB.Action},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Child)

	got, ok := kv.Get(a)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), got)

	batches, upserts, deletes := kv.Counts()
	assert.Equal(t, 1, batches)
	assert.Equal(t, 2, upserts)
	assert.Equal(t, 0, deletes)
}

// TestMemKV_FailNextApply tests the fault injection hook.
func TestMemKV_FailNextApply(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV("kv")
	kv.FailNextApply(errors.New("boom"))

	out, err := kv.Reconcile(ctx, keys.String("a"), Value([]byte("1")), PrevState{})
	require.NoError(t, err)

	_, err = out.Sink.Apply(ctx, []SinkAction{{Key: keys.String("a"), Action: out.Action}})
	require.Error(t, err)

	// Next apply succeeds.
	_, err = out.Sink.Apply(ctx, []SinkAction{{Key: keys.String("a"), Action: out.Action}})
	require.NoError(t, err)
}

// TestRegistry_RegisterAndResolve tests provider registration semantics.
func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	p, err := r.Register("kv", NewMemKV("kv"))
	require.NoError(t, err)
	assert.Equal(t, "kv", p.Name())

	got, ok := r.Get("kv")
	require.True(t, ok)
	assert.Same(t, p, got)
}

// TestRegistry_DuplicateRegistration tests that re-registering a live
// name is an error, and that Unregister frees it.
func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("kv", NewMemKV("kv"))
	require.NoError(t, err)

	_, err = r.Register("kv", NewMemKV("kv"))
	require.Error(t, err)

	r.Unregister("kv")
	_, err = r.Register("kv", NewMemKV("kv"))
	require.NoError(t, err)
}

// TestRegistry_RejectsReservedNames tests that "@" is reserved for
// derived child provider names.
func TestRegistry_RejectsReservedNames(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("kv@child", NewMemKV("kv"))
	require.Error(t, err)
}

// TestRegistry_InternSink tests token-based sink interning.
func TestRegistry_InternSink(t *testing.T) {
	r := NewRegistry()
	tbl := NewMemTables("tbl")

	s1 := &rowSink{tables: tbl, tableEnc: "01"}
	s2 := &rowSink{tables: tbl, tableEnc: "01"} // fresh instance, same token
	s3 := &rowSink{tables: tbl, tableEnc: "02"}

	c1, err := r.InternSink(s1)
	require.NoError(t, err)
	c2, err := r.InternSink(s2)
	require.NoError(t, err)
	c3, err := r.InternSink(s3)
	require.NoError(t, err)

	assert.Same(t, c1.(*rowSink), c2.(*rowSink), "same token collapses to one instance")
	assert.NotSame(t, c1.(*rowSink), c3.(*rowSink))
}

// TestDerivedProviderName tests stability and collision-freedom of
// derived child provider names.
func TestDerivedProviderName(t *testing.T) {
	n1 := DerivedProviderName("tbl", keys.String("users"))
	n2 := DerivedProviderName("tbl", keys.String("users"))
	n3 := DerivedProviderName("tbl", keys.String("orders"))

	assert.Equal(t, n1, n2)
	assert.NotEqual(t, n1, n3)
	assert.Contains(t, n1, "@")
}

// TestMemTables_TwoLevelLifecycle tests create-table -> child rows ->
// drop-table teardown.
func TestMemTables_TwoLevelLifecycle(t *testing.T) {
	ctx := context.Background()
	tbl := NewMemTables("tbl")
	tableKey := keys.String("users")
	rowKey := keys.Int(1)

	// Create table; apply returns a child reconciler.
	out, err := tbl.Reconcile(ctx, tableKey, Value([]byte("schema")), PrevState{})
	require.NoError(t, err)
	require.NotNil(t, out)

	results, err := out.Sink.Apply(ctx, []SinkAction{{Key: tableKey, Action: out.Action}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Child)

	// Use the child to reconcile and apply a row.
	child := results[0].Child
	rowOut, err := child.Reconcile(ctx, rowKey, Value([]byte("alice")), PrevState{})
	require.NoError(t, err)
	require.NotNil(t, rowOut)

	_, err = rowOut.Sink.Apply(ctx, []SinkAction{{Key: rowKey, Action: rowOut.Action}})
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), tbl.Rows(tableKey)[keys.EncodeText(rowKey)])

	// ChildFor rebuilds the same child for a no-op parent.
	again := tbl.ChildFor(tableKey)
	noop, err := again.Reconcile(ctx, rowKey, Value([]byte("alice")),
		PrevState{Records: [][]byte{[]byte("alice")}})
	require.NoError(t, err)
	assert.Nil(t, noop)

	// Drop the table: rows disappear, no child after deletion.
	drop, err := tbl.Reconcile(ctx, tableKey, NonExistence(),
		PrevState{Records: [][]byte{[]byte("schema")}})
	require.NoError(t, err)
	require.NotNil(t, drop)

	results, err = drop.Sink.Apply(ctx, []SinkAction{{Key: tableKey, Action: drop.Action}})
	require.NoError(t, err)
	assert.Nil(t, results[0].Child)
	assert.False(t, tbl.HasTable(tableKey))
}

// TestErrors_Matching tests errors.As matching through wrapping.
func TestErrors_Matching(t *testing.T) {
	dup := &DuplicateEffectError{Provider: "kv", Key: keys.String("a")}
	wrapped := fmt.Errorf("pass failed: %w", dup)
	assert.True(t, IsDuplicateEffect(wrapped))
	assert.False(t, IsDuplicateEffect(errors.New("other")))

	se := &SinkError{Provider: "kv", Sink: "kv/sink", Err: errors.New("io")}
	assert.True(t, IsSinkError(fmt.Errorf("x: %w", se)))
}
