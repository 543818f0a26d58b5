package cache

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryOfSize(n int) *Entry {
	return &Entry{Result: json.RawMessage(`"` + strings.Repeat("x", n-2) + `"`)}
}

func TestMemoryLayer_GetPut(t *testing.T) {
	t.Parallel()

	l := newMemoryLayer(1024)

	_, ok := l.get("a")
	assert.False(t, ok)

	l.put("a", entryOfSize(10))

	got, ok := l.get("a")
	require.True(t, ok)
	assert.Len(t, got.Result, 10)

	entries, size := l.stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(10), size)
}

func TestMemoryLayer_ReplaceUpdatesSize(t *testing.T) {
	t.Parallel()

	l := newMemoryLayer(1024)

	l.put("a", entryOfSize(100))
	l.put("a", entryOfSize(40))

	entries, size := l.stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(40), size)
}

func TestMemoryLayer_EvictsToFit(t *testing.T) {
	t.Parallel()

	l := newMemoryLayer(100)

	l.put("a", entryOfSize(40))
	l.put("b", entryOfSize(40))
	l.put("c", entryOfSize(40))

	entries, size := l.stats()
	assert.Equal(t, 2, entries)
	assert.LessOrEqual(t, size, int64(100))

	_, ok := l.get("c")
	assert.True(t, ok)
}

func TestMemoryLayer_PrefersEvictingColdEntries(t *testing.T) {
	t.Parallel()

	l := newMemoryLayer(100)

	l.put("hot", entryOfSize(40))
	l.put("cold", entryOfSize(40))

	for range 5 {
		_, ok := l.get("hot")
		require.True(t, ok)
	}

	l.put("new", entryOfSize(40))

	_, hot := l.get("hot")
	_, cold := l.get("cold")

	assert.True(t, hot)
	assert.False(t, cold)
}

func TestMemoryLayer_OversizedNotKept(t *testing.T) {
	t.Parallel()

	l := newMemoryLayer(10)

	l.put("big", entryOfSize(50))

	entries, _ := l.stats()
	assert.Zero(t, entries)
}

func TestMemoryLayer_Clear(t *testing.T) {
	t.Parallel()

	l := newMemoryLayer(1024)
	l.put("a", entryOfSize(10))
	l.clear()

	entries, size := l.stats()
	assert.Zero(t, entries)
	assert.Zero(t, size)
}
