package store

import (
	"context"
	"fmt"
	"sync"

	"iapkeeper/internal/models"
)

// Router dispatches verification by the envelope's Source, so one service
// can accept transactions from several platforms.
type Router struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

func NewRouter() *Router {
	return &Router{verifiers: make(map[string]Verifier)}
}

// Handle registers v for source and returns the router for chaining.
func (r *Router) Handle(source string, v Verifier) *Router {
	r.mu.Lock()
	r.verifiers[source] = v
	r.mu.Unlock()
	return r
}

func (r *Router) Verify(ctx context.Context, signed models.SignedTransaction) (models.Transaction, error) {
	r.mu.RLock()
	v, ok := r.verifiers[signed.Source]
	r.mu.RUnlock()
	if !ok {
		return models.Transaction{}, fmt.Errorf("%w: %w %q", models.ErrUnverified, models.ErrUnknownSource, signed.Source)
	}
	return v.Verify(ctx, signed)
}
