package config

import "sync"

// Provider serves the current Set and allows it to be swapped on reload.
type Provider struct {
	mu  sync.RWMutex
	set Set
}

func NewProvider(set Set) *Provider {
	return &Provider{set: set.clone()}
}

func (p *Provider) Defaults() Defaults {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set.clone().Defaults
}

func (p *Provider) Scenarios() []Scenario {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set.clone().Scenarios
}

func (p *Provider) Replace(set Set) {
	set = set.clone()
	p.mu.Lock()
	p.set = set
	p.mu.Unlock()
}
