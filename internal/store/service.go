// Package store keeps the answer to "does the user own X" correct while the
// live commerce service comes and goes. It reconciles the platform's
// entitlement stream into an in-memory state, mirrors it into a persisted
// snapshot and routes every read to whichever of the two can be trusted.
package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"iapkeeper/internal/models"
)

// ConnectivitySource reports network reachability. The channel carries the
// initial state followed by every transition.
type ConnectivitySource interface {
	Run(ctx context.Context) <-chan bool
}

// Service is the entitlement layer. Build one per app with New; instances
// share nothing.
type Service struct {
	registry *Registry
	state    *State
	platform Platform
	verifier Verifier
	local    Persistence
	logger   Logger
	cfg      Config
	now      func() time.Time
	events   *broker

	changed atomic.Bool
	passes  atomic.Int64

	rootCtx   context.Context
	cancel    context.CancelFunc
	spawnMu   sync.Mutex
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(deps Deps) (*Service, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		registry: NewRegistry(),
		state:    NewState(),
		platform: deps.Platform,
		verifier: deps.Verifier,
		local:    deps.Local,
		logger:   deps.Logger,
		cfg:      deps.Config,
		now:      deps.Clock,
		events:   newBroker(deps.Config.EventBuffer, deps.Logger),
		rootCtx:  ctx,
		cancel:   cancel,
	}, nil
}

// Register declares sellable items. See Registry.Register.
func (s *Service) Register(items ...models.Purchasable) {
	s.registry.Register(items...)
}

func (s *Service) Registry() *Registry { return s.registry }

// Start registers items, marks the store as checking and runs the first sync.
// When conn is non-nil the service resyncs every time connectivity returns.
func (s *Service) Start(ctx context.Context, conn ConnectivitySource, items ...models.Purchasable) bool {
	s.Register(items...)
	s.setAvailability(models.StoreChecking)
	ok := s.Sync(ctx)
	if conn != nil {
		s.WatchConnectivity(conn.Run(s.rootCtx))
	}
	return ok
}

// Sync restarts the update listener, refreshes the catalog and runs one
// reconciliation pass. It returns false without doing anything when a pass
// is already running.
func (s *Service) Sync(ctx context.Context) bool {
	if !s.beginPass(ctx, false) {
		s.logger.Infof("store: sync already in progress, skipping")
		return false
	}
	defer s.state.EndSync()
	s.fullSync(ctx)
	return true
}

// RetryConnection queues behind a running pass, then marks the store as
// checking and runs a full sync. It returns false only when ctx ends or the
// service is closed before the sync could start.
func (s *Service) RetryConnection(ctx context.Context) bool {
	if !s.beginPass(ctx, true) {
		return false
	}
	defer s.state.EndSync()
	s.setAvailability(models.StoreChecking)
	s.fullSync(ctx)
	return true
}

// fullSync must run under the sync guard.
func (s *Service) fullSync(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	s.startListener()
	s.requestProducts(ctx)
	s.reconcile(ctx)
}

// Reconcile runs one pass without touching the catalog. Like Sync it is
// dropped when a pass is already running.
func (s *Service) Reconcile(ctx context.Context) bool {
	return s.runPass(ctx, false)
}

// beginPass takes the sync guard. With wait set it queues behind a running
// pass instead of dropping.
func (s *Service) beginPass(ctx context.Context, wait bool) bool {
	for {
		ok, done := s.state.TryBeginSync()
		if ok {
			return true
		}
		if !wait {
			return false
		}
		select {
		case <-done:
		case <-ctx.Done():
			return false
		}
	}
}

// runPass reconciles under the sync guard.
func (s *Service) runPass(ctx context.Context, wait bool) bool {
	if !s.beginPass(ctx, wait) {
		return false
	}
	defer s.state.EndSync()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()
	s.reconcile(ctx)
	return true
}

// spawn runs fn on a tracked goroutine. It refuses once Close has begun so
// the WaitGroup never grows while Close waits on it.
func (s *Service) spawn(fn func()) bool {
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()
	if s.rootCtx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Service) requestProducts(ctx context.Context) {
	ids := s.registry.IDs()
	products, err := s.platform.Products(ctx, ids)
	if err != nil {
		s.logger.Errorf("store: failed to load products: %v", err)
		s.state.SetProducts(nil)
		s.setAvailability(models.StoreUnavailable)
		return
	}
	s.state.SetProducts(products)
	s.logger.Infof("store: loaded %d of %d products", len(products), len(ids))
}

func (s *Service) startListener() {
	if s.rootCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.rootCtx)
	updates, err := s.platform.Updates(ctx)
	if err != nil {
		cancel()
		s.logger.Errorf("store: subscribe to transaction updates: %v", err)
		return
	}
	done := make(chan struct{})
	id, _ := s.state.SetListener(cancel, done)
	started := s.spawn(func() {
		defer close(done)
		s.listen(ctx, id, updates)
	})
	if !started {
		cancel()
		close(done)
	}
}

func (s *Service) listen(ctx context.Context, id uuid.UUID, updates <-chan models.SignedTransaction) {
	for {
		select {
		case <-ctx.Done():
			return
		case signed, ok := <-updates:
			if !ok {
				s.logger.Infof("store: listener %s: update stream closed", id)
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.handleUpdate(ctx, signed)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, signed models.SignedTransaction) {
	txn, err := s.verifier.Verify(ctx, signed)
	if err != nil {
		s.logger.Errorf("store: transaction update failed verification: %v", err)
		return
	}
	if !s.runPass(ctx, true) {
		return
	}
	if err := s.platform.Finish(ctx, txn); err != nil {
		s.logger.Errorf("store: finish transaction %s: %v", txn.ID, err)
	}
}

// WatchConnectivity resyncs when the network comes back. The first value
// only triggers a sync when the store is not available yet.
func (s *Service) WatchConnectivity(updates <-chan bool) {
	s.spawn(func() {
		var known, up bool
		for {
			select {
			case <-s.rootCtx.Done():
				return
			case v, ok := <-updates:
				if !ok {
					return
				}
				if v && ((known && !up) || (!known && !s.state.StoreIsAvailable())) {
					s.logger.Infof("store: connectivity restored, resyncing")
					s.RetryConnection(s.rootCtx)
				}
				known, up = true, v
			}
		}
	})
}

func (s *Service) setAvailability(a models.StoreAvailability) {
	if s.state.SetAvailability(a) {
		s.events.publish(AvailabilityChanged{ID: uuid.New(), State: a, At: s.now()})
	}
}

func (s *Service) Availability() models.StoreAvailability { return s.state.Availability() }

func (s *Service) StoreIsAvailable() bool { return s.state.StoreIsAvailable() }

// DataChanged reports whether the last pass persisted a different snapshot.
func (s *Service) DataChanged() bool { return s.changed.Load() }

// Passes counts reconciliation passes run so far.
func (s *Service) Passes() int64 { return s.passes.Load() }

// Products returns the live catalog.
func (s *Service) Products() []models.Product { return s.state.Snapshot().Products }

func (s *Service) Snapshot() Snapshot { return s.state.Snapshot() }

// Subscribe returns a stream of AvailabilityChanged and EntitlementsChanged
// events and a func that ends the subscription.
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Close stops the listener and connectivity watch and closes every
// subscription.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.spawnMu.Lock()
		s.cancel()
		s.spawnMu.Unlock()
		s.state.CancelListener()
		s.wg.Wait()
		s.events.close()
	})
}
