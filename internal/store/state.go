package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"iapkeeper/internal/models"
)

// listenerHandle owns one running update listener.
type listenerHandle struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   <-chan struct{}
}

// State is the single owner of mutable run-time store data. Every field is
// read and written under mu; no other component touches them directly.
type State struct {
	mu            sync.RWMutex
	products      []models.Product
	purchased     []models.Product
	subscriptions map[string]models.SubscriptionInfo
	availability  models.StoreAvailability
	syncing       bool
	syncDone      chan struct{}
	listener      *listenerHandle
}

func NewState() *State {
	return &State{
		availability:  models.StoreChecking,
		subscriptions: map[string]models.SubscriptionInfo{},
	}
}

// SetProducts replaces the catalog.
func (s *State) SetProducts(products []models.Product) {
	cp := append([]models.Product(nil), products...)
	s.mu.Lock()
	s.products = cp
	s.mu.Unlock()
}

// SetPurchasedProducts replaces the entitled products and the subscription
// snapshot of the same pass in one step.
func (s *State) SetPurchasedProducts(purchased []models.Product, subs map[string]models.SubscriptionInfo) {
	cp := append([]models.Product(nil), purchased...)
	subsCopy := make(map[string]models.SubscriptionInfo, len(subs))
	for id, info := range subs {
		subsCopy[id] = info
	}
	s.mu.Lock()
	s.purchased = cp
	s.subscriptions = subsCopy
	s.mu.Unlock()
}

// TryBeginSync marks a pass as running. When another pass already runs it
// returns false together with a channel closed when that pass ends.
func (s *State) TryBeginSync() (bool, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing {
		return false, s.syncDone
	}
	s.syncing = true
	s.syncDone = make(chan struct{})
	return true, s.syncDone
}

// EndSync clears the running flag and wakes waiters.
func (s *State) EndSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.syncing {
		return
	}
	s.syncing = false
	close(s.syncDone)
	s.syncDone = nil
}

// SyncDone returns a channel closed when the running pass ends, or nil when
// no pass runs.
func (s *State) SyncDone() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.syncing {
		return nil
	}
	return s.syncDone
}

func (s *State) IsSyncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncing
}

// SetListener installs a new listener, cancelling the one it replaces. The
// replaced handle's done channel is returned so callers may wait for it.
func (s *State) SetListener(cancel context.CancelFunc, done <-chan struct{}) (uuid.UUID, <-chan struct{}) {
	h := &listenerHandle{id: uuid.New(), cancel: cancel, done: done}
	s.mu.Lock()
	old := s.listener
	s.listener = h
	s.mu.Unlock()
	if old == nil {
		return h.id, nil
	}
	old.cancel()
	return h.id, old.done
}

// CancelListener stops the current listener, if any.
func (s *State) CancelListener() <-chan struct{} {
	s.mu.Lock()
	old := s.listener
	s.listener = nil
	s.mu.Unlock()
	if old == nil {
		return nil
	}
	old.cancel()
	return old.done
}

// ListenerID returns the id of the installed listener.
func (s *State) ListenerID() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return uuid.Nil, false
	}
	return s.listener.id, true
}

func (s *State) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products) == 0
}

func (s *State) HasProduct(id string) bool {
	_, ok := s.Product(id)
	return ok
}

func (s *State) Product(id string) (models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return models.Product{}, false
}

func (s *State) IsPurchased(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.purchased {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Subscription returns the snapshot computed by the last pass.
func (s *State) Subscription(id string) (models.SubscriptionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.subscriptions[id]
	return info, ok
}

// SetAvailability stores the new value and reports whether it changed.
func (s *State) SetAvailability(a models.StoreAvailability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.availability == a {
		return false
	}
	s.availability = a
	return true
}

func (s *State) Availability() models.StoreAvailability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availability
}

// StoreIsAvailable is true when the live catalog can be trusted.
func (s *State) StoreIsAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availability == models.StoreAvailable && len(s.products) > 0
}

// Snapshot is a consistent copy of the state.
type Snapshot struct {
	Products     []models.Product
	Purchased    []models.Product
	Availability models.StoreAvailability
	Syncing      bool
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Products:     append([]models.Product(nil), s.products...),
		Purchased:    append([]models.Product(nil), s.purchased...),
		Availability: s.availability,
		Syncing:      s.syncing,
	}
}
