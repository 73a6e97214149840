// Package permissions gates data points on the authorization scopes granted
// by the vehicle owner.
package permissions

import (
	"sync"

	"carbridge/internal/catalog"
	"carbridge/internal/models"
)

// Registry caches the granted scope set. The set is replaced wholesale when
// re-authorization occurs; individual scopes are never mutated in place.
type Registry struct {
	catalog *catalog.Catalog

	mu     sync.RWMutex
	scopes map[models.Scope]struct{}
}

// NewRegistry builds a registry over the given catalog and granted scopes.
func NewRegistry(cat *catalog.Catalog, scopes []models.Scope) *Registry {
	r := &Registry{catalog: cat}
	r.ReplaceScopes(scopes)
	return r
}

// ReplaceScopes swaps the granted scope set.
func (r *Registry) ReplaceScopes(scopes []models.Scope) {
	next := make(map[models.Scope]struct{}, len(scopes))
	for _, s := range scopes {
		next[s] = struct{}{}
	}
	r.mu.Lock()
	r.scopes = next
	r.mu.Unlock()
}

// IsEnabled reports whether every scope required by the data point is
// granted. Unknown keys are treated as not enabled.
func (r *Registry) IsEnabled(key models.Key) bool {
	desc, ok := r.catalog.Get(key)
	if !ok {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, required := range desc.RequiredScopes {
		if _, granted := r.scopes[required]; !granted {
			return false
		}
	}
	return true
}

// Scopes returns a copy of the granted scope set.
func (r *Registry) Scopes() []models.Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Scope, 0, len(r.scopes))
	for s := range r.scopes {
		out = append(out, s)
	}
	return out
}
