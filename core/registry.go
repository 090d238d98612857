package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderRegistry maps provider kinds to adapter factories. Adding a
// provider means registering one factory; the orchestrator never branches
// on kind.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[ProviderKind]ProviderFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{factories: make(map[ProviderKind]ProviderFactory)}
}

func (r *ProviderRegistry) Register(kind ProviderKind, factory ProviderFactory) error {
	if factory == nil {
		return fmt.Errorf("core: provider factory is nil")
	}
	normalized := normalizeKind(kind)
	if normalized == "" {
		return fmt.Errorf("core: provider kind is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[normalized]; exists {
		return fmt.Errorf("core: provider already registered: %s", normalized)
	}
	r.factories[normalized] = factory
	return nil
}

func (r *ProviderRegistry) Resolve(kind ProviderKind) (ProviderFactory, bool) {
	normalized := normalizeKind(kind)
	if normalized == "" {
		return nil, false
	}
	r.mu.RLock()
	factory, ok := r.factories[normalized]
	r.mu.RUnlock()
	return factory, ok
}

func (r *ProviderRegistry) Kinds() []ProviderKind {
	r.mu.RLock()
	kinds := make([]ProviderKind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	r.mu.RUnlock()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func normalizeKind(kind ProviderKind) ProviderKind {
	return ProviderKind(strings.TrimSpace(strings.ToLower(string(kind))))
}

var _ Registry = (*ProviderRegistry)(nil)
