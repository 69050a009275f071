package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates pass ids "prefix-000001", "prefix-000002", ...
//
// It never exhausts, which makes it the right generator for scenario
// harness runs where the number of passes is data-driven. For tests that
// want to pin an exact id list, use engine.NewFixedGenerator instead.
//
// Implements engine.PassIDGenerator. Safe for concurrent use.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator with the given prefix.
// An empty prefix defaults to "pass".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "pass"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}

// Reset restarts the sequence from 1.
func (g *SequenceIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
