package analyzer

import (
	"sync"
)

// Factory constructs an Analyzer, typically an API client.
type Factory func() (Analyzer, error)

// Provider lazily builds one Analyzer and shares it between callers until
// Reset. A failed construction is not cached.
type Provider struct {
	mu      sync.Mutex
	factory Factory
	current Analyzer
}

// NewProvider creates a provider around factory.
func NewProvider(factory Factory) *Provider {
	return &Provider{factory: factory}
}

// Get returns the shared Analyzer, constructing it on first use.
func (p *Provider) Get() (Analyzer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		return p.current, nil
	}

	built, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.current = built

	return built, nil
}

// Reset drops the shared Analyzer; the next Get constructs a new one.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = nil
}
