package harness

// TraceEvent is one entry in a scenario trace.
//
// Events are either pass boundaries (type "pass"), applied sink actions
// (type "upsert" or "delete"), or pass errors (type "error"). Applied
// actions are derived from provider snapshots taken around each pass and
// are emitted in provider order, then key order, so repeated runs of the
// same scenario produce identical traces.
type TraceEvent struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq"`
	Pass     string `json:"pass,omitempty"`
	Provider string `json:"provider,omitempty"`
	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Trace event type constants.
const (
	EventPass   = "pass"
	EventUpsert = "upsert"
	EventDelete = "delete"
	EventError  = "error"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains pass boundaries and applied actions in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion failure messages. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds each provider's final contents, keyed by provider name
	// and then by the key's display form.
	State map[string]map[string]string `json:"state"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []TraceEvent{},
		State: make(map[string]map[string]string),
	}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
