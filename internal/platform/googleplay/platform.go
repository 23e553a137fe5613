package googleplay

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

// ErrPurchaseOnDevice is returned by Purchase: Play Billing runs on the
// device and the server learns about purchases afterwards.
var ErrPurchaseOnDevice = errors.New("googleplay: purchases are made on device")

// Subscription notification types that end an entitlement.
const (
	subscriptionRevoked     = 12
	oneTimeProductCancelled = 2
)

type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Platform tracks the purchase tokens of one customer. Tokens arrive from
// the device with Track or from Real-time Developer Notifications.
type Platform struct {
	verifier *Verifier
	logger   Logger
	catalog  map[string]models.Product

	mu     sync.Mutex
	tokens map[string]Ref
	subs   map[uuid.UUID]chan models.SignedTransaction
}

func NewPlatform(verifier *Verifier, logger Logger, catalog ...models.Product) *Platform {
	p := &Platform{
		verifier: verifier,
		logger:   logger,
		catalog:  make(map[string]models.Product, len(catalog)),
		tokens:   make(map[string]Ref),
		subs:     make(map[uuid.UUID]chan models.SignedTransaction),
	}
	for _, pr := range catalog {
		p.catalog[pr.ID] = pr
	}
	return p
}

// Track adds ref to the customer's tokens and forwards it to listeners.
func (p *Platform) Track(ref Ref) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[ref.PurchaseToken] = ref
	signed := Envelope(ref)
	for _, ch := range p.subs {
		select {
		case ch <- signed:
		default:
			p.logger.Errorf("googleplay: listener full, dropped token for %s", ref.ProductID)
		}
	}
}

func (p *Platform) Tokens() []Ref {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Ref, 0, len(p.tokens))
	for _, ref := range p.tokens {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchaseToken < out[j].PurchaseToken })
	return out
}

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

// CurrentEntitlements returns every tracked token. The reconciliation pass
// verifies each against the Play Developer API.
func (p *Platform) CurrentEntitlements(context.Context) ([]models.SignedTransaction, error) {
	refs := p.Tokens()
	out := make([]models.SignedTransaction, 0, len(refs))
	for _, ref := range refs {
		out = append(out, Envelope(ref))
	}
	return out, nil
}

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

func (p *Platform) Purchase(context.Context, string) (models.PurchaseOutcome, error) {
	return models.PurchaseOutcome{}, ErrPurchaseOnDevice
}

// Finish acknowledges txn with Play. Unacknowledged purchases are refunded
// after three days.
func (p *Platform) Finish(ctx context.Context, txn models.Transaction) error {
	return p.verifier.Acknowledge(ctx, txn)
}

func (p *Platform) Sync(context.Context) error {
	return nil
}

func (p *Platform) Verify(ctx context.Context, signed models.SignedTransaction) (models.Transaction, error) {
	return p.verifier.Verify(ctx, signed)
}

// PushMessage is the body Pub/Sub posts to a push endpoint.
type PushMessage struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DeveloperNotification is the decoded RTDN payload.
type DeveloperNotification struct {
	Version                  string `json:"version"`
	PackageName              string `json:"packageName"`
	EventTimeMillis          int64  `json:"eventTimeMillis,string"`
	SubscriptionNotification *struct {
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification,omitempty"`
	OneTimeProductNotification *struct {
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SKU              string `json:"sku"`
	} `json:"oneTimeProductNotification,omitempty"`
	TestNotification *struct {
		Version string `json:"version"`
	} `json:"testNotification,omitempty"`
}

// HandlePush decodes a Pub/Sub push body carrying an RTDN and tracks the
// token it names.
func (p *Platform) HandlePush(body []byte) (DeveloperNotification, error) {
	var msg PushMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return DeveloperNotification{}, fmt.Errorf("decode push message: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(msg.Message.Data)
	if err != nil {
		return DeveloperNotification{}, fmt.Errorf("decode push data: %w", err)
	}
	var n DeveloperNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return DeveloperNotification{}, fmt.Errorf("decode developer notification: %w", err)
	}
	if n.PackageName != "" && n.PackageName != p.verifier.packageName {
		return DeveloperNotification{}, fmt.Errorf("package name mismatch: %s", n.PackageName)
	}

	at := time.UnixMilli(n.EventTimeMillis).UTC()
	switch {
	case n.SubscriptionNotification != nil:
		sn := n.SubscriptionNotification
		if sn.NotificationType == subscriptionRevoked {
			p.verifier.MarkRevoked(sn.PurchaseToken, at)
		}
		p.Track(Ref{Kind: "subscription", ProductID: sn.SubscriptionID, PurchaseToken: sn.PurchaseToken})
	case n.OneTimeProductNotification != nil:
		on := n.OneTimeProductNotification
		if on.NotificationType == oneTimeProductCancelled {
			p.verifier.MarkRevoked(on.PurchaseToken, at)
		}
		p.Track(Ref{Kind: "product", ProductID: on.SKU, PurchaseToken: on.PurchaseToken})
	case n.TestNotification != nil:
		p.logger.Infof("googleplay: test notification %s", n.TestNotification.Version)
	}
	return n, nil
}
