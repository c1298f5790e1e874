package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExerciseCache_GetSet(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 10})

	c.Set("a", "exercise-a")

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "exercise-a", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestExerciseCache_LRUEviction(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 2})

	c.Set("first", 1)
	c.Set("second", 2)
	c.Set("third", 3) // evicts "first"

	_, ok := c.Get("first")
	assert.False(t, ok)

	_, ok = c.Get("second")
	assert.True(t, ok)
	_, ok = c.Get("third")
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.GetStats().Evictions)
}

func TestExerciseCache_AccessProtectsFromEviction(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 2})

	c.Set("first", 1)
	c.Set("second", 2)

	// Touch "first" so "second" becomes the LRU victim.
	_, ok := c.Get("first")
	require.True(t, ok)

	c.Set("third", 3)

	_, ok = c.Get("first")
	assert.True(t, ok)
	_, ok = c.Get("second")
	assert.False(t, ok)
}

func TestExerciseCache_UpdateExistingKeyNeverEvicts(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 2})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // update in place at capacity

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, got)

	_, ok = c.Get("b")
	assert.True(t, ok)
	assert.Zero(t, c.GetStats().Evictions)
}

func TestExerciseCache_TTLExpiry(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 10})

	c.SetWithTTL("short", "value", 50*time.Millisecond)

	_, ok := c.Get("short")
	require.True(t, ok)

	time.Sleep(70 * time.Millisecond)

	_, ok = c.Get("short")
	assert.False(t, ok)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestExerciseCache_CleanExpired(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 10})

	c.SetWithTTL("a", 1, 30*time.Millisecond)
	c.SetWithTTL("b", 2, 30*time.Millisecond)
	c.SetWithTTL("c", 3, time.Hour)

	time.Sleep(50 * time.Millisecond)

	removed := c.CleanExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestExerciseCache_HasDoesNotMutate(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 2})

	c.Set("a", 1)
	c.Set("b", 2)

	// Has must not refresh recency: "a" stays the LRU victim.
	assert.True(t, c.Has("a"))
	assert.Zero(t, c.AccessCount("a"))

	c.Set("c", 3)
	assert.False(t, c.Has("a"))
	assert.True(t, c.Has("b"))
}

func TestExerciseCache_HasExpiredEntry(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 10})

	c.SetWithTTL("gone", 1, 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	assert.False(t, c.Has("gone"))
}

func TestExerciseCache_AccessCount(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 10})

	c.Set("a", 1)
	for i := 0; i < 3; i++ {
		_, ok := c.Get("a")
		require.True(t, ok)
	}

	assert.Equal(t, int64(3), c.AccessCount("a"))
}

func TestExerciseCache_HitRate(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 10})

	assert.Zero(t, c.GetStats().HitRate())

	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	assert.InDelta(t, 0.5, c.GetStats().HitRate(), 1e-9)
}

func TestExerciseCache_Clear(t *testing.T) {
	c := NewExerciseCache(Config{Capacity: 10})

	c.Set("a", 1)
	c.Get("a")
	c.Clear()

	assert.Zero(t, c.Len())
	stats := c.GetStats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Sets)
}
