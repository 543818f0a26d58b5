package persist

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// persisterState is a struct for persister round-trip testing.
type persisterState struct {
	Label  string   `json:"label"`
	Values []string `json:"values"`
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[persisterState]("mystate", NewJSONCodec())

	original := persisterState{Label: "hello", Values: []string{"a"}}

	require.NoError(t, p.Save(dir, &original))

	restored, err := p.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, original, *restored)
	assert.Equal(t, "mystate.json", p.Filename())
}

func TestPersister_LoadMissing(t *testing.T) {
	t.Parallel()

	p := NewPersister[persisterState]("absent", NewJSONCodec())

	_, err := p.Load(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPersister_UpdateConcurrentAppends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[persisterState]("list", NewLZ4Codec(nil))

	const writers = 16

	var wg sync.WaitGroup

	for range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, p.Update(dir, func(s *persisterState) {
				s.Values = append(s.Values, "x")
			}))
		}()
	}

	wg.Wait()

	restored, err := p.Load(dir)
	require.NoError(t, err)
	assert.Len(t, restored.Values, writers)
}

func TestPersister_UpdateReplacesCorruptedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[persisterState]("list", NewJSONCodec())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.json"), []byte(`{"label": 12`), 0o600))

	require.NoError(t, p.Update(dir, func(s *persisterState) {
		s.Values = append(s.Values, "fresh")
	}))

	restored, err := p.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, restored.Values)
}
