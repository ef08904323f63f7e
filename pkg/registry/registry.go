// Package registry provides the registry of extraction strategies.
package registry

import (
	"sync"

	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/types"
)

// StrategyRegistry manages extraction strategies. Selection is driven
// by configuration (which page kinds need script execution); the
// fallback strategy serves everything else.
type StrategyRegistry struct {
	mu         sync.RWMutex
	byName     map[string]interfaces.ExtractionStrategy
	fallback   interfaces.ExtractionStrategy
	kindChoice func(kind types.PageKind) string
}

// NewStrategyRegistry creates a registry. kindChoice maps a page kind to
// a strategy name; an empty result selects the fallback.
func NewStrategyRegistry(kindChoice func(kind types.PageKind) string) *StrategyRegistry {
	return &StrategyRegistry{
		byName:     make(map[string]interfaces.ExtractionStrategy),
		kindChoice: kindChoice,
	}
}

// Register adds a strategy to the registry.
func (r *StrategyRegistry) Register(s interfaces.ExtractionStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[s.Name()] = s
}

// SetFallback sets the strategy used when no specific choice applies.
func (r *StrategyRegistry) SetFallback(s interfaces.ExtractionStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = s
	r.byName[s.Name()] = s
}

// Select returns the strategy for a page kind.
func (r *StrategyRegistry) Select(kind types.PageKind) interfaces.ExtractionStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.kindChoice != nil {
		if name := r.kindChoice(kind); name != "" {
			if s, ok := r.byName[name]; ok {
				return s
			}
		}
	}
	return r.fallback
}

// Close closes all registered strategies.
func (r *StrategyRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.byName {
		_ = s.Close()
	}
	return nil
}
