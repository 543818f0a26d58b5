package persist

import "sync"

// Persister handles I/O for a specific state type using a Codec.
// Save and Load on the same Persister are serialized.
type Persister[T any] struct {
	mu       sync.Mutex
	basename string
	codec    Codec
}

// NewPersister creates a persister with the given basename and codec.
func NewPersister[T any](basename string, codec Codec) *Persister[T] {
	return &Persister[T]{
		basename: basename,
		codec:    codec,
	}
}

// Filename returns the on-disk file name (basename plus codec extension).
func (p *Persister[T]) Filename() string {
	return p.basename + p.codec.Extension()
}

// Save atomically writes state to the given directory.
func (p *Persister[T]) Save(dir string, state *T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return SaveState(dir, p.basename, p.codec, state)
}

// Load restores state from the given directory.
func (p *Persister[T]) Load(dir string) (*T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var state T

	err := LoadState(dir, p.basename, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Update loads the current state (zero value if absent), applies fn and saves
// the result, all under the persister's lock.
func (p *Persister[T]) Update(dir string, fn func(*T)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var state T

	err := LoadState(dir, p.basename, p.codec, &state)
	if err != nil {
		if IsTransient(err) {
			return err
		}

		var zero T

		state = zero
	}

	fn(&state)

	return SaveState(dir, p.basename, p.codec, &state)
}
