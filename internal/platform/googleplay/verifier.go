// Package googleplay verifies Google Play purchase tokens with the Play
// Developer API and tracks the tokens a customer owns from Real-time
// Developer Notifications.
package googleplay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"iapkeeper/internal/models"
)

// Source tags envelopes that carry Play purchase tokens.
const Source = "googleplay"

const (
	purchaseStatePurchased = 0
	purchaseStateCanceled  = 1
	purchaseStatePending   = 2
)

type Config struct {
	PackageName        string `yaml:"package_name" env:"GOOGLE_PLAY_PACKAGE_NAME"`
	ServiceAccountJSON string `yaml:"service_account_json" env:"GOOGLE_PLAY_SERVICE_ACCOUNT_JSON"`
}

// Ref is the envelope payload: what the device reports after a purchase.
type Ref struct {
	Kind          string `json:"kind"` // "product" or "subscription"
	ProductID     string `json:"productId"`
	PurchaseToken string `json:"purchaseToken"`
}

// Envelope wraps ref for the entitlement service.
func Envelope(ref Ref) models.SignedTransaction {
	data, _ := json.Marshal(ref)
	return models.SignedTransaction{Source: Source, Payload: string(data)}
}

// Verifier resolves purchase tokens against the Play Developer API.
type Verifier struct {
	packageName string
	svc         *androidpublisher.Service
	kinds       map[string]models.ProductKind
	now         func() time.Time

	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewVerifier builds the API client. Service account credentials from cfg
// are used unless opts carry their own transport.
func NewVerifier(ctx context.Context, cfg Config, catalog []models.Product, opts ...option.ClientOption) (*Verifier, error) {
	cfg.PackageName = strings.TrimSpace(cfg.PackageName)
	if cfg.PackageName == "" {
		return nil, errors.New("googleplay: package name is empty")
	}
	if strings.TrimSpace(cfg.ServiceAccountJSON) != "" {
		opts = append([]option.ClientOption{
			option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)),
			option.WithScopes(androidpublisher.AndroidpublisherScope),
		}, opts...)
	} else if len(opts) == 0 {
		return nil, errors.New("googleplay: service account json is empty")
	}
	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}
	kinds := make(map[string]models.ProductKind, len(catalog))
	for _, p := range catalog {
		kinds[p.ID] = p.Kind
	}
	return &Verifier{
		packageName: cfg.PackageName,
		svc:         svc,
		kinds:       kinds,
		now:         time.Now,
		revoked:     make(map[string]time.Time),
	}, nil
}

func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// MarkRevoked records that Play revoked token at when.
func (v *Verifier) MarkRevoked(token string, when time.Time) {
	v.mu.Lock()
	v.revoked[token] = when
	v.mu.Unlock()
}

func (v *Verifier) revokedAt(token string) *time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if t, ok := v.revoked[token]; ok {
		return &t
	}
	return nil
}

func decodeRef(signed models.SignedTransaction) (Ref, error) {
	if signed.Source != Source {
		return Ref{}, fmt.Errorf("%w: source %q", models.ErrUnverified, signed.Source)
	}
	var ref Ref
	if err := json.Unmarshal([]byte(signed.Payload), &ref); err != nil {
		return Ref{}, fmt.Errorf("%w: decode purchase reference: %v", models.ErrUnverified, err)
	}
	ref.ProductID = strings.TrimSpace(ref.ProductID)
	ref.PurchaseToken = strings.TrimSpace(ref.PurchaseToken)
	if ref.ProductID == "" || ref.PurchaseToken == "" {
		return Ref{}, fmt.Errorf("%w: product_id and purchase_token are required", models.ErrUnverified)
	}
	return ref, nil
}

func (v *Verifier) Verify(ctx context.Context, signed models.SignedTransaction) (models.Transaction, error) {
	ref, err := decodeRef(signed)
	if err != nil {
		return models.Transaction{}, err
	}
	if ref.Kind == "subscription" {
		return v.verifySubscription(ctx, ref)
	}
	return v.verifyProduct(ctx, ref)
}

func (v *Verifier) verifyProduct(ctx context.Context, ref Ref) (models.Transaction, error) {
	resp, err := v.svc.Purchases.Products.Get(v.packageName, ref.ProductID, ref.PurchaseToken).
		Context(ctx).
		Do()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%w: google products.get: %w", models.ErrUnverified, err)
	}
	if resp.PurchaseState == purchaseStatePending {
		return models.Transaction{}, fmt.Errorf("%w: purchase %s is pending", models.ErrUnverified, resp.OrderId)
	}

	kind, ok := v.kinds[ref.ProductID]
	if !ok {
		kind = models.KindNonConsumable
		if resp.ConsumptionState == 1 {
			kind = models.KindConsumable
		}
	}
	txn := models.Transaction{
		ID:            resp.OrderId,
		OriginalID:    resp.OrderId,
		ProductID:     ref.ProductID,
		Kind:          kind,
		PurchaseDate:  time.UnixMilli(resp.PurchaseTimeMillis).UTC(),
		Environment:   environment(resp.PurchaseType),
		PurchaseToken: ref.PurchaseToken,
	}
	if txn.ID == "" {
		txn.ID = ref.PurchaseToken
		txn.OriginalID = ref.PurchaseToken
	}
	txn.RevocationDate = v.revokedAt(ref.PurchaseToken)
	if resp.PurchaseState == purchaseStateCanceled && txn.RevocationDate == nil {
		now := v.now().UTC()
		txn.RevocationDate = &now
	}
	return txn, nil
}

func (v *Verifier) verifySubscription(ctx context.Context, ref Ref) (models.Transaction, error) {
	resp, err := v.svc.Purchases.Subscriptions.Get(v.packageName, ref.ProductID, ref.PurchaseToken).
		Context(ctx).
		Do()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%w: google subscriptions.get: %w", models.ErrUnverified, err)
	}
	if resp.ExpiryTimeMillis <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: subscription %s has no expiry", models.ErrUnverified, resp.OrderId)
	}

	expires := time.UnixMilli(resp.ExpiryTimeMillis).UTC()
	original := ref.PurchaseToken
	if resp.LinkedPurchaseToken != "" {
		original = resp.LinkedPurchaseToken
	}
	txn := models.Transaction{
		ID:             resp.OrderId,
		OriginalID:     original,
		ProductID:      ref.ProductID,
		Kind:           models.KindAutoRenewableSubscription,
		PurchaseDate:   time.UnixMilli(resp.StartTimeMillis).UTC(),
		ExpirationDate: &expires,
		Environment:    environment(resp.PurchaseType),
		PurchaseToken:  ref.PurchaseToken,
		RevocationDate: v.revokedAt(ref.PurchaseToken),
	}
	if txn.ID == "" {
		txn.ID = ref.PurchaseToken
	}
	if resp.AutoRenewing {
		txn.RenewalDate = &expires
	}
	// PaymentState: 0 pending, 1 received, 2 free trial, 3 deferred.
	if int64PtrEq(resp.PaymentState, 0) {
		txn.InBillingRetry = true
	}
	return txn, nil
}

// Acknowledge confirms txn to Play. Consumables are consumed instead.
func (v *Verifier) Acknowledge(ctx context.Context, txn models.Transaction) error {
	if txn.ProductID == "" || txn.PurchaseToken == "" {
		return errors.New("product_id and purchase_token are required")
	}
	switch txn.Kind {
	case models.KindAutoRenewableSubscription:
		req := &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}
		if err := v.svc.Purchases.Subscriptions.Acknowledge(v.packageName, txn.ProductID, txn.PurchaseToken, req).
			Context(ctx).
			Do(); err != nil {
			return fmt.Errorf("google subscriptions.acknowledge: %w", err)
		}
	case models.KindConsumable:
		if err := v.svc.Purchases.Products.Consume(v.packageName, txn.ProductID, txn.PurchaseToken).
			Context(ctx).
			Do(); err != nil {
			return fmt.Errorf("google products.consume: %w", err)
		}
	default:
		req := &androidpublisher.ProductPurchasesAcknowledgeRequest{}
		if err := v.svc.Purchases.Products.Acknowledge(v.packageName, txn.ProductID, txn.PurchaseToken, req).
			Context(ctx).
			Do(); err != nil {
			return fmt.Errorf("google products.acknowledge: %w", err)
		}
	}
	return nil
}

func environment(purchaseType *int64) string {
	// PurchaseType is only set for test (0) and promo (1) purchases.
	if int64PtrEq(purchaseType, 0) {
		return "Sandbox"
	}
	return "Production"
}

func int64PtrEq(v *int64, want int64) bool {
	return v != nil && *v == want
}
