package appstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"iapkeeper/internal/models"
)

// ErrPurchaseOnDevice is returned by Purchase. App Store purchases are made
// by the device; the server only observes them.
var ErrPurchaseOnDevice = errors.New("appstore: purchases are made on device")

// API is the part of the App Store Server API the platform needs.
type API interface {
	TransactionHistory(ctx context.Context, transactionID string) ([]string, error)
	RenewalInfo(ctx context.Context, transactionID string) (map[string]string, error)
}

type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Platform serves one customer, identified by any of their transaction ids,
// from the App Store Server API and Server Notifications.
type Platform struct {
	api      API
	verifier *Verifier
	logger   Logger
	catalog  map[string]models.Product
	now      func() time.Time

	mu       sync.Mutex
	customer string
	subs     map[uuid.UUID]chan models.SignedTransaction
}

func NewPlatform(api API, verifier *Verifier, logger Logger, catalog ...models.Product) *Platform {
	p := &Platform{
		api:      api,
		verifier: verifier,
		logger:   logger,
		catalog:  make(map[string]models.Product, len(catalog)),
		now:      time.Now,
		subs:     make(map[uuid.UUID]chan models.SignedTransaction),
	}
	for _, pr := range catalog {
		p.catalog[pr.ID] = pr
	}
	return p
}

func (p *Platform) WithClock(now func() time.Time) *Platform {
	p.now = now
	return p
}

// SetCustomer anchors history lookups on transactionID.
func (p *Platform) SetCustomer(transactionID string) {
	p.mu.Lock()
	p.customer = transactionID
	p.mu.Unlock()
}

func (p *Platform) Customer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.customer
}

// Products serves the configured catalog. The App Store Server API has no
// product metadata endpoint.
func (p *Platform) Products(_ context.Context, ids []string) ([]models.Product, error) {
	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if pr, ok := p.catalog[id]; ok {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CurrentEntitlements returns the latest transaction per product from the
// customer's history. Auto-renewables past expiration and grace are left out.
func (p *Platform) CurrentEntitlements(ctx context.Context) ([]models.SignedTransaction, error) {
	customer := p.Customer()
	if customer == "" {
		return nil, nil
	}
	history, err := p.api.TransactionHistory(ctx, customer)
	if err != nil {
		return nil, fmt.Errorf("transaction history: %w", err)
	}
	renewals, err := p.api.RenewalInfo(ctx, customer)
	if err != nil {
		p.logger.Errorf("appstore: renewal info: %v", err)
		renewals = nil
	}

	type entry struct {
		signed models.SignedTransaction
		txn    models.Transaction
	}
	latest := make(map[string]entry)
	for _, token := range history {
		signed := models.SignedTransaction{Source: Source, Payload: token}
		txn, err := p.verifier.Verify(ctx, signed)
		if err != nil {
			p.logger.Errorf("appstore: skip history entry: %v", err)
			continue
		}
		if txn.Kind == models.KindConsumable {
			continue
		}
		if cur, ok := latest[txn.ProductID]; ok && !txn.PurchaseDate.After(cur.txn.PurchaseDate) {
			continue
		}
		signed.Renewal = renewals[txn.OriginalID]
		latest[txn.ProductID] = entry{signed: signed, txn: txn}
	}

	now := p.now()
	ids := make([]string, 0, len(latest))
	for id, e := range latest {
		if e.txn.Kind == models.KindAutoRenewableSubscription && !p.liveSubscription(ctx, e.signed, now) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.SignedTransaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, latest[id].signed)
	}
	return out, nil
}

func (p *Platform) liveSubscription(ctx context.Context, signed models.SignedTransaction, now time.Time) bool {
	txn, err := p.verifier.Verify(ctx, signed)
	if err != nil {
		return false
	}
	if txn.ExpirationDate != nil && txn.ExpirationDate.After(now) {
		return true
	}
	return txn.GracePeriodExpirationDate != nil && txn.GracePeriodExpirationDate.After(now)
}

// Updates delivers transactions carried by notifications passed to
// HandleNotification.
func (p *Platform) Updates(ctx context.Context) (<-chan models.SignedTransaction, error) {
	ch := make(chan models.SignedTransaction, 16)
	id := uuid.New()
	p.mu.Lock()
	p.subs[id] = ch
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// HandleNotification verifies an App Store Server Notification and forwards
// its transaction to listeners.
func (p *Platform) HandleNotification(ctx context.Context, signedPayload string) (Notification, error) {
	n, err := p.verifier.ParseNotification(signedPayload)
	if err != nil {
		return Notification{}, err
	}
	if n.Data.SignedTransactionInfo == "" {
		return n, nil
	}
	signed := models.SignedTransaction{
		Source:  Source,
		Payload: n.Data.SignedTransactionInfo,
		Renewal: n.Data.SignedRenewalInfo,
	}
	txn, err := p.verifier.Verify(ctx, signed)
	if err != nil {
		return Notification{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.customer == "" {
		p.customer = txn.OriginalID
	}
	for _, ch := range p.subs {
		select {
		case ch <- signed:
		default:
			p.logger.Errorf("appstore: listener full, dropped %s", n.NotificationUUID)
		}
	}
	return n, nil
}

func (p *Platform) Purchase(context.Context, string) (models.PurchaseOutcome, error) {
	return models.PurchaseOutcome{}, ErrPurchaseOnDevice
}

// Finish is a no-op: the device finishes App Store transactions.
func (p *Platform) Finish(context.Context, models.Transaction) error {
	return nil
}

// Sync checks that the history endpoint answers for the current customer.
func (p *Platform) Sync(ctx context.Context) error {
	customer := p.Customer()
	if customer == "" {
		return nil
	}
	_, err := p.api.TransactionHistory(ctx, customer)
	return err
}

func (p *Platform) Verify(ctx context.Context, signed models.SignedTransaction) (models.Transaction, error) {
	return p.verifier.Verify(ctx, signed)
}
