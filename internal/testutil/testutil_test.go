package testutil

import (
	"sync"
	"testing"
)

func TestDeterministicClock(t *testing.T) {
	c := NewDeterministicClock()
	if got := c.Current(); got != 0 {
		t.Fatalf("new clock should start at 0, got %d", got)
	}
	if got := c.Next(); got != 1 {
		t.Fatalf("first Next should return 1, got %d", got)
	}
	if got := c.Next(); got != 2 {
		t.Fatalf("second Next should return 2, got %d", got)
	}
	c.Reset()
	if got := c.Next(); got != 1 {
		t.Fatalf("Next after Reset should return 1, got %d", got)
	}
}

func TestDeterministicClockConcurrent(t *testing.T) {
	c := NewDeterministicClock()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.Next()
			}
		}()
	}
	wg.Wait()
	if got := c.Current(); got != 1000 {
		t.Fatalf("expected 1000 ticks, got %d", got)
	}
}

func TestSequenceIDs(t *testing.T) {
	g := NewSequenceIDs("scenario")
	if got := g.Generate(); got != "scenario-000001" {
		t.Fatalf("unexpected first id %q", got)
	}
	if got := g.Generate(); got != "scenario-000002" {
		t.Fatalf("unexpected second id %q", got)
	}
	g.Reset()
	if got := g.Generate(); got != "scenario-000001" {
		t.Fatalf("unexpected id after reset %q", got)
	}
}

func TestSequenceIDsDefaultPrefix(t *testing.T) {
	g := NewSequenceIDs("")
	if got := g.Generate(); got != "pass-000001" {
		t.Fatalf("unexpected default-prefix id %q", got)
	}
}
