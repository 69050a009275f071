package effect

import (
	"context"
	"sync"

	"github.com/tidemark-io/tidemark/internal/keys"
)

// MemKV is an in-memory key-value effect provider. It is the reference
// implementation of the reconciliation contract and the workhorse of the
// engine's tests and the conformance harness: it counts sink batch calls
// and individual actions so tests can pin the idempotence and convergence
// properties.
type MemKV struct {
	mu   sync.Mutex
	name string
	data map[string][]byte // key encoding -> value

	batchCalls int
	upserts    int
	deletes    int
	failNext   error
}

// NewMemKV creates an empty in-memory provider. The name is used for the
// sink token; register the provider under the same name.
func NewMemKV(name string) *MemKV {
	return &MemKV{
		name: name,
		data: make(map[string][]byte),
	}
}

// kvOp distinguishes upsert from delete actions.
type kvOp int

const (
	kvUpsert kvOp = iota + 1
	kvDelete
)

// kvAction is the opaque action MemKV's reconciler hands to its sink.
type kvAction struct {
	op    kvOp
	value []byte
}

// Reconcile implements the no-op fast path exactly as specified: nil is
// returned only when the desired state provably equals the previous state.
// May-be-missing previous state always produces a defensive write.
func (m *MemKV) Reconcile(ctx context.Context, key keys.Key, desired TargetValue, prev PrevState) (*Output, error) {
	if NoChange(desired, prev) {
		return nil, nil
	}

	if !desired.Exists() {
		return &Output{
			Action:      kvAction{op: kvDelete},
			Sink:        (*memKVSink)(m),
			NewTracking: nil,
		}, nil
	}

	return &Output{
		Action:      kvAction{op: kvUpsert, value: desired.Bytes()},
		Sink:        (*memKVSink)(m),
		NewTracking: desired.Bytes(),
	}, nil
}

// memKVSink is MemKV's batch sink. Defined as a distinct type so that the
// provider and sink halves of the contract stay separate even though they
// share state.
type memKVSink MemKV

func (s *memKVSink) Token() string { return s.name + "/sink" }

func (s *memKVSink) Apply(ctx context.Context, actions []SinkAction) ([]ApplyResult, error) {
	m := (*MemKV)(s)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchCalls++
	if err := m.failNext; err != nil {
		m.failNext = nil
		return nil, err
	}

	results := make([]ApplyResult, len(actions))
	for i, a := range actions {
		act := a.Action.(kvAction)
		enc := keys.EncodeText(a.Key)
		switch act.op {
		case kvUpsert:
			m.data[enc] = act.value
			m.upserts++
		case kvDelete:
			delete(m.data, enc)
			m.deletes++
		}
		results[i] = ApplyResult{}
	}
	return results, nil
}

// Get returns the stored value for a key.
func (m *MemKV) Get(key keys.Key) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[keys.EncodeText(key)]
	return v, ok
}

// Len returns the number of stored keys.
func (m *MemKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Snapshot returns a copy of the stored data keyed by key encoding.
func (m *MemKV) Snapshot() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Counts returns (batch calls, upserts, deletes) observed so far.
func (m *MemKV) Counts() (batches, upserts, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls, m.upserts, m.deletes
}

// ResetCounts zeroes the counters. Used between harness passes.
func (m *MemKV) ResetCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls, m.upserts, m.deletes = 0, 0, 0
}

// FailNextApply makes the next sink Apply fail with err, simulating a
// partially-failing external system.
func (m *MemKV) FailNextApply(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}
