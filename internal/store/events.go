package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"iapkeeper/internal/models"
)

// Event is published on the service's event stream.
type Event interface {
	Name() string
}

// AvailabilityChanged is published whenever the store availability moves.
type AvailabilityChanged struct {
	ID    uuid.UUID                `json:"id"`
	State models.StoreAvailability `json:"state"`
	At    time.Time                `json:"at"`
}

func (AvailabilityChanged) Name() string { return "availability_changed" }

// EntitlementsChanged is published when a pass persisted a different
// snapshot than the one stored before it.
type EntitlementsChanged struct {
	ID         uuid.UUID `json:"id"`
	ProductIDs []string  `json:"product_ids"`
	At         time.Time `json:"at"`
}

func (EntitlementsChanged) Name() string { return "entitlements_changed" }

// broker fans events out to subscribers. Publishing never blocks; a
// subscriber whose buffer is full misses the event.
type broker struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]chan Event
	buffer int
	closed bool
	logger Logger
}

func newBroker(buffer int, logger Logger) *broker {
	return &broker{subs: make(map[uuid.UUID]chan Event), buffer: buffer, logger: logger}
}

func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := uuid.New()
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Errorf("store: subscriber %s is full, dropping %s", id, ev.Name())
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
