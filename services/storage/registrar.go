package storage

import (
	"sort"
	"sync"
)

// StoreActioner exposes maintenance actions that can be performed on a
// registered store.
type StoreActioner interface {
	// Rebuild recreates the entire store, an expensive action.
	Rebuild() error
}

// StoreRegistry tracks named stores so store wide actions can be
// triggered through the API.
type StoreRegistry struct {
	mu     sync.RWMutex
	stores map[string]StoreActioner
}

func NewStoreRegistry() *StoreRegistry {
	return &StoreRegistry{
		stores: make(map[string]StoreActioner),
	}
}

func (r *StoreRegistry) Register(name string, store StoreActioner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = store
}

func (r *StoreRegistry) Get(name string) (StoreActioner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[name]
	return store, ok
}

// List returns the registered store names in sorted order.
func (r *StoreRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
