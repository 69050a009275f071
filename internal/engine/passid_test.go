package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_Format(t *testing.T) {
	gen := UUIDv7Generator{}
	id := gen.Generate()

	require.Equal(t, 36, len(id))
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Uniqueness(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen.Generate()
		assert.False(t, seen[id], "duplicate pass id %s", id)
		seen[id] = true
	}
}

func TestFixedGenerator_ReturnsInOrder(t *testing.T) {
	gen := NewFixedGenerator("pass-1", "pass-2", "pass-3")
	assert.Equal(t, "pass-1", gen.Generate())
	assert.Equal(t, "pass-2", gen.Generate())
	assert.Equal(t, "pass-3", gen.Generate())
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator("only")
	gen.Generate()
	assert.Panics(t, func() { gen.Generate() })
}

func TestMaxInflightFromEnv(t *testing.T) {
	t.Run("unset uses default", func(t *testing.T) {
		t.Setenv(EnvMaxInflight, "")
		assert.Equal(t, int64(DefaultMaxInflight), maxInflightFromEnv())
	})
	t.Run("valid override", func(t *testing.T) {
		t.Setenv(EnvMaxInflight, "16")
		assert.Equal(t, int64(16), maxInflightFromEnv())
	})
	t.Run("malformed falls back", func(t *testing.T) {
		t.Setenv(EnvMaxInflight, "lots")
		assert.Equal(t, int64(DefaultMaxInflight), maxInflightFromEnv())
	})
	t.Run("non-positive falls back", func(t *testing.T) {
		t.Setenv(EnvMaxInflight, "0")
		assert.Equal(t, int64(DefaultMaxInflight), maxInflightFromEnv())
	})
}

func TestPermit_YieldAndReacquire(t *testing.T) {
	q := newQuota(1)
	require.NoError(t, q.acquire(context.Background()))
	p := &permit{q: q, held: true}

	// Yielding frees the only permit; another holder can take it.
	p.yield()
	require.NoError(t, q.acquire(context.Background()))

	// Reacquire blocks until the other holder releases.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.release()
	}()
	wg.Wait()
	require.NoError(t, p.reacquire(context.Background()))
	assert.True(t, p.held)

	// Reacquiring while held is a no-op.
	require.NoError(t, p.reacquire(context.Background()))
	p.dropFinal()
	assert.False(t, p.held)
}
