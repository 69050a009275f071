package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
//
// A scenario runs a sequence of passes against a fresh App backed by an
// in-memory store, each pass declaring a desired set of effects, and then
// evaluates assertions over the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Providers lists the in-memory key-value providers to register.
	// Every effect declaration must name one of them.
	Providers []string `yaml:"providers"`

	// Passes is the ordered sequence of update passes to run.
	Passes []PassStep `yaml:"passes"`

	// Assertions validate the trace and final state after all passes ran.
	Assertions []Assertion `yaml:"assertions"`
}

// PassStep is one update pass: the full desired set of effects for that
// pass. Anything declared in an earlier pass but absent here is garbage
// collected by the engine.
type PassStep struct {
	// Name labels the pass in failure messages. Optional.
	Name string `yaml:"name,omitempty"`

	// Effects are the declarations the root component makes this pass.
	Effects []EffectDecl `yaml:"effects"`

	// FullReprocess forces re-execution of memoized components.
	FullReprocess bool `yaml:"full_reprocess,omitempty"`

	// FailApply lists providers whose next sink batch fails, simulating a
	// partially unavailable external system. The pass is then expected to
	// return an error; set ExpectError accordingly.
	FailApply []string `yaml:"fail_apply,omitempty"`

	// ExpectError marks a pass that must fail. The run aborts if a pass
	// errors unexpectedly, or succeeds where an error was expected.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// EffectDecl is one declared (provider, key) pair.
type EffectDecl struct {
	// Provider names the registered effect provider.
	Provider string `yaml:"provider"`

	// Key is the effect key: a scalar (string, int, bool) or a list of
	// scalars, which becomes a tuple key.
	Key any `yaml:"key"`

	// Value is the desired stored value. Mutually exclusive with Absent.
	Value string `yaml:"value,omitempty"`

	// Absent declares desired non-existence (an explicit deletion).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants below.
	Type string `yaml:"type"`

	// Provider scopes the assertion to one provider.
	Provider string `yaml:"provider,omitempty"`

	// Action is "upsert" or "delete" (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Key is the effect key (trace_contains).
	Key any `yaml:"key,omitempty"`

	// Value is the expected stored value (trace_contains upserts).
	Value string `yaml:"value,omitempty"`

	// Pass restricts trace_contains to a single pass, by step name.
	Pass string `yaml:"pass,omitempty"`

	// Count is the expected number of occurrences (trace_count, tracked).
	Count int `yaml:"count,omitempty"`

	// Expect is the exact final provider contents (final_state),
	// keyed by the key's display form.
	Expect map[string]string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	// AssertTraceContains checks the trace holds a matching applied action.
	AssertTraceContains = "trace_contains"
	// AssertTraceCount checks an action kind was applied exactly N times.
	AssertTraceCount = "trace_count"
	// AssertFinalState compares a provider's final contents exactly.
	AssertFinalState = "final_state"
	// AssertTracked checks the number of tracked pairs for a provider.
	AssertTracked = "tracked"
)

// LoadScenario reads and parses a scenario yaml file. Unknown fields are
// rejected so that typos like "assertion:" fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario yaml: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Providers) == 0 {
		return fmt.Errorf("providers list is required and must be non-empty")
	}
	if len(s.Passes) == 0 {
		return fmt.Errorf("passes list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	known := make(map[string]bool, len(s.Providers))
	for i, p := range s.Providers {
		if p == "" {
			return fmt.Errorf("providers[%d]: name must be non-empty", i)
		}
		if known[p] {
			return fmt.Errorf("providers[%d]: duplicate provider %q", i, p)
		}
		known[p] = true
	}

	for i, pass := range s.Passes {
		for j, decl := range pass.Effects {
			where := fmt.Sprintf("passes[%d].effects[%d]", i, j)
			if decl.Provider == "" {
				return fmt.Errorf("%s: provider is required", where)
			}
			if !known[decl.Provider] {
				return fmt.Errorf("%s: unknown provider %q", where, decl.Provider)
			}
			if decl.Key == nil {
				return fmt.Errorf("%s: key is required", where)
			}
			if decl.Absent && decl.Value != "" {
				return fmt.Errorf("%s: value and absent are mutually exclusive", where)
			}
		}
		for j, p := range pass.FailApply {
			if !known[p] {
				return fmt.Errorf("passes[%d].fail_apply[%d]: unknown provider %q", i, j, p)
			}
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertTraceContains, AssertTraceCount, AssertFinalState, AssertTracked:
		default:
			return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
		}
		if a.Provider == "" {
			return fmt.Errorf("assertions[%d]: provider is required", i)
		}
		if !known[a.Provider] {
			return fmt.Errorf("assertions[%d]: unknown provider %q", i, a.Provider)
		}
	}
	return nil
}
