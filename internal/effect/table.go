package effect

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidemark-io/tidemark/internal/keys"
)

// MemTables is an in-memory two-level effect provider modeled on a
// relational target: the parent level reconciles tables, and applying a
// table upsert yields a child provider that reconciles rows inside that
// table. Dropping a table tears its rows down with it.
//
// Exists to exercise and pin the ChildEffectHandler variant of the
// protocol; shaped like a real connector would be.
type MemTables struct {
	mu     sync.Mutex
	name   string
	tables map[string]map[string][]byte // table key enc -> row key enc -> value

	batchCalls    int
	rowBatchCalls int
}

// NewMemTables creates an empty two-level provider.
func NewMemTables(name string) *MemTables {
	return &MemTables{
		name:   name,
		tables: make(map[string]map[string][]byte),
	}
}

type tableOp int

const (
	tableCreate tableOp = iota + 1
	tableDrop
)

type tableAction struct {
	op     tableOp
	schema []byte
}

// Reconcile handles the parent (table) level.
func (t *MemTables) Reconcile(ctx context.Context, key keys.Key, desired TargetValue, prev PrevState) (*Output, error) {
	if NoChange(desired, prev) {
		// No observable change, but the engine still needs the child
		// provider for this key's row effects; it resolves the child
		// through ChildFor on the retained tracking.
		return nil, nil
	}

	if !desired.Exists() {
		return &Output{
			Action:      tableAction{op: tableDrop},
			Sink:        (*memTableSink)(t),
			NewTracking: nil,
		}, nil
	}

	return &Output{
		Action:      tableAction{op: tableCreate, schema: desired.Bytes()},
		Sink:        (*memTableSink)(t),
		NewTracking: desired.Bytes(),
	}, nil
}

// ChildFor returns the row-level reconciler for an existing table key.
// Used when the parent effect hit the no-op fast path (table unchanged)
// but row effects were declared in the pass.
func (t *MemTables) ChildFor(key keys.Key) Reconciler {
	return &rowReconciler{tables: t, tableEnc: keys.EncodeText(key)}
}

// memTableSink applies table-level actions.
type memTableSink MemTables

func (s *memTableSink) Token() string { return s.name + "/tables" }

func (s *memTableSink) Apply(ctx context.Context, actions []SinkAction) ([]ApplyResult, error) {
	t := (*MemTables)(s)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.batchCalls++
	results := make([]ApplyResult, len(actions))
	for i, a := range actions {
		act := a.Action.(tableAction)
		enc := keys.EncodeText(a.Key)
		switch act.op {
		case tableCreate:
			if t.tables[enc] == nil {
				t.tables[enc] = make(map[string][]byte)
			}
			results[i] = ApplyResult{Child: &rowReconciler{tables: t, tableEnc: enc}}
		case tableDrop:
			delete(t.tables, enc)
			results[i] = ApplyResult{} // no children after deletion
		}
	}
	return results, nil
}

// rowReconciler is the child provider for one table's rows.
type rowReconciler struct {
	tables   *MemTables
	tableEnc string
}

func (r *rowReconciler) Reconcile(ctx context.Context, key keys.Key, desired TargetValue, prev PrevState) (*Output, error) {
	if NoChange(desired, prev) {
		return nil, nil
	}

	sink := &rowSink{tables: r.tables, tableEnc: r.tableEnc}
	if !desired.Exists() {
		return &Output{Action: kvAction{op: kvDelete}, Sink: sink, NewTracking: nil}, nil
	}
	return &Output{
		Action:      kvAction{op: kvUpsert, value: desired.Bytes()},
		Sink:        sink,
		NewTracking: desired.Bytes(),
	}, nil
}

// rowSink applies row-level actions for one table. Its token embeds the
// table key so rows of different tables batch separately; the interning
// table still dedupes instances created across reconciles.
type rowSink struct {
	tables   *MemTables
	tableEnc string
}

func (s *rowSink) Token() string {
	return s.tables.name + "/rows/" + s.tableEnc
}

func (s *rowSink) Apply(ctx context.Context, actions []SinkAction) ([]ApplyResult, error) {
	t := s.tables
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, ok := t.tables[s.tableEnc]
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", s.tableEnc)
	}

	t.rowBatchCalls++
	results := make([]ApplyResult, len(actions))
	for i, a := range actions {
		act := a.Action.(kvAction)
		enc := keys.EncodeText(a.Key)
		switch act.op {
		case kvUpsert:
			rows[enc] = act.value
		case kvDelete:
			delete(rows, enc)
		}
		results[i] = ApplyResult{}
	}
	return results, nil
}

// Rows returns a copy of a table's rows, or nil if the table is absent.
func (t *MemTables) Rows(tableKey keys.Key) map[string][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, ok := t.tables[keys.EncodeText(tableKey)]
	if !ok {
		return nil
	}
	out := make(map[string][]byte, len(rows))
	for k, v := range rows {
		out[k] = v
	}
	return out
}

// HasTable reports whether a table exists.
func (t *MemTables) HasTable(tableKey keys.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tables[keys.EncodeText(tableKey)]
	return ok
}

// Counts returns (table batch calls, row batch calls).
func (t *MemTables) Counts() (tableBatches, rowBatches int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batchCalls, t.rowBatchCalls
}
