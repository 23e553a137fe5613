// Package localstore persists the last known entitlement snapshot: the set of
// purchased product ids and the subscription map. Reads never fail; a missing
// or corrupt item reads as empty.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"iapkeeper/internal/models"
	"iapkeeper/internal/vault"
)

// Logger is the logging surface used by the manager.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const (
	purchasesSuffix     = ".purchases"
	subscriptionsSuffix = ".subscriptions"
)

// Manager serializes all access to the two persisted items.
type Manager struct {
	mu        sync.Mutex
	vault     vault.Vault
	namespace string
	logger    Logger
	now       func() time.Time
}

func New(v vault.Vault, namespace string, logger Logger) *Manager {
	return &Manager{vault: v, namespace: namespace, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for LastUpdated.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Keys returns the two vault keys owned by this manager.
func (m *Manager) Keys() []string {
	return []string{m.namespace + purchasesSuffix, m.namespace + subscriptionsSuffix}
}

// StorePurchasedProductIDs overwrites the persisted id set.
func (m *Manager) StorePurchasedProductIDs(ctx context.Context, ids []string) error {
	ids = normalizeIDs(ids)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.vault.Save(ctx, m.namespace+purchasesSuffix, data); err != nil {
		m.logger.Errorf("localstore: save purchases: %v", err)
		return err
	}
	return nil
}

// PurchasedProductIDs returns the persisted id set, sorted.
func (m *Manager) PurchasedProductIDs(ctx context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.vault.Load(ctx, m.namespace+purchasesSuffix)
	if err != nil {
		if !errors.Is(err, vault.ErrNotFound) {
			m.logger.Errorf("localstore: load purchases: %v", err)
		}
		return []string{}
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		m.logger.Errorf("localstore: decode purchases: %v", err)
		return []string{}
	}
	return normalizeIDs(ids)
}

// StoreSubscriptions overwrites the persisted subscription map and stamps it
// with the current time.
func (m *Manager) StoreSubscriptions(ctx context.Context, subs map[string]models.SubscriptionInfo) error {
	if subs == nil {
		subs = map[string]models.SubscriptionInfo{}
	}
	data, err := json.Marshal(models.StoredSubscriptionData{
		Subscriptions: subs,
		LastUpdated:   m.now().UTC(),
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.vault.Save(ctx, m.namespace+subscriptionsSuffix, data); err != nil {
		m.logger.Errorf("localstore: save subscriptions: %v", err)
		return err
	}
	return nil
}

// SubscriptionData returns the persisted subscription map. The zero
// LastUpdated means nothing was ever stored.
func (m *Manager) SubscriptionData(ctx context.Context) models.StoredSubscriptionData {
	empty := models.StoredSubscriptionData{Subscriptions: map[string]models.SubscriptionInfo{}}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.vault.Load(ctx, m.namespace+subscriptionsSuffix)
	if err != nil {
		if !errors.Is(err, vault.ErrNotFound) {
			m.logger.Errorf("localstore: load subscriptions: %v", err)
		}
		return empty
	}
	var stored models.StoredSubscriptionData
	if err := json.Unmarshal(data, &stored); err != nil {
		m.logger.Errorf("localstore: decode subscriptions: %v", err)
		return empty
	}
	if stored.Subscriptions == nil {
		stored.Subscriptions = map[string]models.SubscriptionInfo{}
	}
	return stored
}

// SubscriptionInfo returns the persisted snapshot for one product.
func (m *Manager) SubscriptionInfo(ctx context.Context, productID string) (models.SubscriptionInfo, bool) {
	info, ok := m.SubscriptionData(ctx).Subscriptions[productID]
	return info, ok
}

// Reset removes both items.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, key := range []string{m.namespace + purchasesSuffix, m.namespace + subscriptionsSuffix} {
		if err := m.vault.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func normalizeIDs(ids []string) []string {
	out := slices.Clone(ids)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SameIDs reports whether two id lists describe the same set.
func SameIDs(a, b []string) bool {
	return slices.Equal(normalizeIDs(a), normalizeIDs(b))
}

// SameSubscriptions compares two maps ignoring LastUpdated.
func SameSubscriptions(a, b map[string]models.SubscriptionInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for id, info := range a {
		other, ok := b[id]
		if !ok || !info.SameAs(other) {
			return false
		}
	}
	return true
}
