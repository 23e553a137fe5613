package store

import (
	"sort"
	"sync"

	"iapkeeper/internal/models"
)

// Registry holds the purchasables the host app sells, keyed by bundle id.
type Registry struct {
	mu    sync.RWMutex
	items map[string]models.Purchasable
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]models.Purchasable)}
}

// Register merges items into the registry. A repeated id takes the kind of
// the latest registration.
func (r *Registry) Register(items ...models.Purchasable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		r.items[it.BundleID] = it
	}
}

func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

func (r *Registry) Lookup(id string) (models.Purchasable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	return it, ok
}

// All returns every entry ordered by bundle id.
func (r *Registry) All() []models.Purchasable {
	r.mu.RLock()
	out := make([]models.Purchasable, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BundleID < out[j].BundleID })
	return out
}

func (r *Registry) IDs() []string {
	all := r.All()
	ids := make([]string, len(all))
	for i, it := range all {
		ids[i] = it.BundleID
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
