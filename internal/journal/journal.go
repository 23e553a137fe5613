// Package journal records store notifications that were already applied so
// redelivered webhooks are acknowledged without being processed twice.
package journal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Entry is one processed notification.
type Entry struct {
	NotificationID string
	Source         string
	Type           string
	TransactionID  string
	OriginalID     string
	ProductID      string
	Environment    string
	Raw            string
	ReceivedAt     time.Time
}

// Journal stores entries keyed by NotificationID.
type Journal interface {
	// Record stores e and reports whether it was new.
	Record(ctx context.Context, e Entry) (bool, error)
	// Latest returns the newest entry for an original transaction id.
	Latest(ctx context.Context, originalID string) (Entry, error)
}

var ErrNotFound = errors.New("journal: not found")

type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Record(_ context.Context, e Entry) (bool, error) {
	if e.NotificationID == "" {
		return false, errors.New("journal: notification id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.NotificationID]; ok {
		return false, nil
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	m.entries[e.NotificationID] = e
	m.order = append(m.order, e.NotificationID)
	return true, nil
}

func (m *Memory) Latest(_ context.Context, originalID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if e := m.entries[m.order[i]]; e.OriginalID == originalID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}
