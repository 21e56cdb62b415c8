package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/kenny-nguyen-softdev/go-criteria/core/schema"
)

// Router maps collection names to the store that holds them. It is built once
// at startup and handed to the components that need to reach more than one
// store, such as the relation resolver.
type Router struct {
	mu       sync.RWMutex
	fallback Finder
	routes   map[string]Finder
}

// NewRouter creates a router sending unrouted collections to fallback, which
// may be nil.
func NewRouter(fallback Finder) *Router {
	return &Router{
		fallback: fallback,
		routes:   make(map[string]Finder),
	}
}

// Route sends collection to f.
func (r *Router) Route(collection string, f Finder) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[collection] = f
	return r
}

// For returns the finder responsible for collection.
func (r *Router) For(collection string) (Finder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.routes[collection]; ok {
		return f, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: no store routed for '%s'", schema.ErrUnknownCollection, collection)
}

// Find dispatches to the finder responsible for collection.
func (r *Router) Find(ctx context.Context, collection string, opts FindOptions) ([]schema.Document, error) {
	f, err := r.For(collection)
	if err != nil {
		return nil, err
	}
	return f.Find(ctx, collection, opts)
}
