package engine

// Func is a component body. It receives the component's context and the
// arguments it was mounted with, and may mount children and declare
// effects through the context. The return value is surfaced through
// Handle.Result and, for memoized components, cached across passes.
type Func func(c *Ctx, args ...any) (any, error)

// Component is an explicit wrapper over a body function: identity plus
// behavior flags. The id is the function's stable identity for memo
// fingerprinting - it must not change across runs for the same logical
// function, so use a qualified name, not anything derived from pointers.
type Component struct {
	id      string
	fn      Func
	memoize bool
}

// NewComponent wraps fn under the stable identity id.
func NewComponent(id string, fn Func) *Component {
	return &Component{id: id, fn: fn}
}

// Memoized returns a copy of the component with memoization enabled:
// when its fingerprint (id + path + args) matches the last succeeded run
// and full reprocess is not requested, the body is skipped and the cached
// return value and previously tracked effects are reused.
func (c *Component) Memoized() *Component {
	cp := *c
	cp.memoize = true
	return &cp
}

// ID returns the component's stable identity.
func (c *Component) ID() string { return c.id }
