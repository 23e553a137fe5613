// Package sandbox is an in-process commerce platform. It keeps a catalog and
// a ledger in memory, signs its envelopes with HMAC-SHA256 and can simulate
// outages, cancelled or pending purchases, renewals and revocations.
package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"iapkeeper/internal/models"
)

// Source tags envelopes produced by this platform.
const Source = "sandbox"

const (
	defaultAutoRenewDuration = 30 * 24 * time.Hour
	updateBuffer             = 64
)

// ErrUnreachable is returned by every network-backed call while the
// platform is set unreachable.
var ErrUnreachable = errors.New("sandbox: store unreachable")

type Platform struct {
	mu         sync.Mutex
	secret     []byte
	catalog    map[string]models.Product
	ledger     map[string]models.Transaction
	raw        []models.SignedTransaction
	reachable  bool
	outcome    *models.PurchaseStatus
	durations  map[string]time.Duration
	finished   map[string]int
	syncs      int
	subs       map[uuid.UUID]chan models.SignedTransaction
	hook       func()
	purchaseFn func(productID string)
	now        func() time.Time
}

func New(secret []byte, products ...models.Product) *Platform {
	p := &Platform{
		secret:    append([]byte(nil), secret...),
		catalog:   make(map[string]models.Product),
		ledger:    make(map[string]models.Transaction),
		reachable: true,
		durations: make(map[string]time.Duration),
		finished:  make(map[string]int),
		subs:      make(map[uuid.UUID]chan models.SignedTransaction),
		now:       time.Now,
	}
	for _, pr := range products {
		p.catalog[pr.ID] = pr
	}
	return p
}

// WithClock replaces the clock used for purchase and expiration dates.
func (p *Platform) WithClock(now func() time.Time) *Platform {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
	return p
}

func (p *Platform) SetReachable(ok bool) {
	p.mu.Lock()
	p.reachable = ok
	p.mu.Unlock()
}

// SetPurchaseOutcome makes the next purchase end with status instead of a
// success.
func (p *Platform) SetPurchaseOutcome(status models.PurchaseStatus) {
	p.mu.Lock()
	p.outcome = &status
	p.mu.Unlock()
}

// SetSubscriptionDuration sets the period granted by a purchase of id.
func (p *Platform) SetSubscriptionDuration(id string, d time.Duration) {
	p.mu.Lock()
	p.durations[id] = d
	p.mu.Unlock()
}

// SetEntitlementsHook runs fn at the start of every CurrentEntitlements call.
func (p *Platform) SetEntitlementsHook(fn func()) {
	p.mu.Lock()
	p.hook = fn
	p.mu.Unlock()
}

// SetPurchaseHook runs fn at the start of every Purchase call.
func (p *Platform) SetPurchaseHook(fn func(productID string)) {
	p.mu.Lock()
	p.purchaseFn = fn
	p.mu.Unlock()
}

// Finished reports how often the transaction was finished.
func (p *Platform) Finished(txnID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished[txnID]
}

func (p *Platform) Syncs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncs
}

// Catalog returns every product, ordered by id.
func (p *Platform) Catalog() []models.Product {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Product, 0, len(p.catalog))
	for _, pr := range p.catalog {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Platform) Products(_ context.Context, ids []string) ([]models.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reachable {
		return nil, ErrUnreachable
	}
	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if pr, ok := p.catalog[id]; ok {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *Platform) CurrentEntitlements(_ context.Context) ([]models.SignedTransaction, error) {
	p.mu.Lock()
	hook := p.hook
	p.mu.Unlock()
	if hook != nil {
		hook()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reachable {
		return nil, ErrUnreachable
	}
	ids := make([]string, 0, len(p.ledger))
	for id := range p.ledger {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.SignedTransaction, 0, len(ids)+len(p.raw))
	for _, id := range ids {
		out = append(out, p.sign(p.ledger[id]))
	}
	return append(out, p.raw...), nil
}

func (p *Platform) Updates(ctx context.Context) (<-chan models.SignedTransaction, error) {
	ch := make(chan models.SignedTransaction, updateBuffer)
	id := uuid.New()
	p.mu.Lock()
	p.subs[id] = ch
	p.mu.Unlock()
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subs, id)
		close(ch)
		p.mu.Unlock()
	}()
	return ch, nil
}

func (p *Platform) Purchase(_ context.Context, productID string) (models.PurchaseOutcome, error) {
	p.mu.Lock()
	fn := p.purchaseFn
	p.mu.Unlock()
	if fn != nil {
		fn(productID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reachable {
		return models.PurchaseOutcome{}, ErrUnreachable
	}
	if p.outcome != nil {
		status := *p.outcome
		p.outcome = nil
		if status != models.PurchaseSuccess {
			return models.PurchaseOutcome{Status: status}, nil
		}
	}
	pr, ok := p.catalog[productID]
	if !ok {
		return models.PurchaseOutcome{}, fmt.Errorf("sandbox: no product %q", productID)
	}
	txn := p.newTransaction(pr)
	if pr.Kind != models.KindConsumable {
		p.ledger[pr.ID] = txn
	}
	return models.PurchaseOutcome{Status: models.PurchaseSuccess, Transaction: p.sign(txn)}, nil
}

func (p *Platform) newTransaction(pr models.Product) models.Transaction {
	now := p.now()
	txn := models.Transaction{
		ID:           uuid.NewString(),
		ProductID:    pr.ID,
		Kind:         pr.Kind,
		PurchaseDate: now,
		Environment:  Source,
	}
	txn.OriginalID = txn.ID
	if prev, ok := p.ledger[pr.ID]; ok && prev.OriginalID != "" {
		txn.OriginalID = prev.OriginalID
	}
	switch pr.Kind {
	case models.KindAutoRenewableSubscription:
		d, ok := p.durations[pr.ID]
		if !ok {
			d = defaultAutoRenewDuration
		}
		exp := now.Add(d)
		txn.ExpirationDate = &exp
		txn.RenewalDate = &exp
		txn.SubscriptionGroupID = Source
	case models.KindNonRenewableSubscription:
		if d, ok := p.durations[pr.ID]; ok {
			exp := now.Add(d)
			txn.ExpirationDate = &exp
		}
	}
	return txn
}

func (p *Platform) Finish(_ context.Context, txn models.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished[txn.ID]++
	return nil
}

func (p *Platform) Sync(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reachable {
		return ErrUnreachable
	}
	p.syncs++
	return nil
}

// Seed puts transactions in the ledger without announcing them.
func (p *Platform) Seed(txns ...models.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range txns {
		p.ledger[t.ProductID] = t
	}
}

// Grant records txn and pushes it on the update stream, like a renewal or a
// purchase made on another device.
func (p *Platform) Grant(txn models.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.Kind != models.KindConsumable {
		p.ledger[txn.ProductID] = txn
	}
	p.push(p.sign(txn))
}

// Revoke marks the ledger entry of productID as revoked and announces it.
func (p *Platform) Revoke(productID string, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	txn, ok := p.ledger[productID]
	if !ok {
		return false
	}
	txn.RevocationDate = &at
	p.ledger[productID] = txn
	p.push(p.sign(txn))
	return true
}

// LedgerEntry returns the recorded transaction for productID.
func (p *Platform) LedgerEntry(productID string) (models.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	txn, ok := p.ledger[productID]
	return txn, ok
}

// Remove drops productID from the ledger.
func (p *Platform) Remove(productID string) {
	p.mu.Lock()
	delete(p.ledger, productID)
	p.mu.Unlock()
}

// AddRaw appends an arbitrary envelope to the entitlement stream.
func (p *Platform) AddRaw(st models.SignedTransaction) {
	p.mu.Lock()
	p.raw = append(p.raw, st)
	p.mu.Unlock()
}

// Push announces an arbitrary envelope on the update stream.
func (p *Platform) Push(st models.SignedTransaction) {
	p.mu.Lock()
	p.push(st)
	p.mu.Unlock()
}

func (p *Platform) push(st models.SignedTransaction) {
	for _, ch := range p.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

// Sign wraps txn in an envelope this platform verifies.
func (p *Platform) Sign(txn models.Transaction) models.SignedTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sign(txn)
}

func (p *Platform) sign(txn models.Transaction) models.SignedTransaction {
	body, _ := json.Marshal(txn)
	payload := base64.RawURLEncoding.EncodeToString(body)
	return models.SignedTransaction{
		Source:    Source,
		Payload:   payload,
		Signature: signHMAC([]byte(payload), p.secret),
	}
}

// Forge wraps txn in an envelope with a bad signature.
func Forge(txn models.Transaction) models.SignedTransaction {
	body, _ := json.Marshal(txn)
	return models.SignedTransaction{
		Source:    Source,
		Payload:   base64.RawURLEncoding.EncodeToString(body),
		Signature: "00",
	}
}

func (p *Platform) Verify(_ context.Context, st models.SignedTransaction) (models.Transaction, error) {
	if st.Source != Source {
		return models.Transaction{}, fmt.Errorf("%w: source %q", models.ErrUnverified, st.Source)
	}
	if !verifyHMAC([]byte(st.Payload), st.Signature, p.secret) {
		return models.Transaction{}, fmt.Errorf("%w: bad signature", models.ErrUnverified)
	}
	body, err := base64.RawURLEncoding.DecodeString(st.Payload)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%w: payload: %v", models.ErrUnverified, err)
	}
	var txn models.Transaction
	if err := json.Unmarshal(body, &txn); err != nil {
		return models.Transaction{}, fmt.Errorf("%w: payload: %v", models.ErrUnverified, err)
	}
	return txn, nil
}
