package store

import (
	"context"
	"errors"
	"time"

	"iapkeeper/internal/models"
)

// Logger provides minimal logging required by the store.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Platform is the commerce API the service sits on.
type Platform interface {
	// Products fetches the live catalog entries for ids.
	Products(ctx context.Context, ids []string) ([]models.Product, error)
	// CurrentEntitlements returns the complete set of currently entitled
	// transactions.
	CurrentEntitlements(ctx context.Context) ([]models.SignedTransaction, error)
	// Updates streams transactions as the platform learns about them. The
	// channel is closed when ctx ends.
	Updates(ctx context.Context) (<-chan models.SignedTransaction, error)
	Purchase(ctx context.Context, productID string) (models.PurchaseOutcome, error)
	// Finish acknowledges a processed transaction so it is not redelivered.
	Finish(ctx context.Context, txn models.Transaction) error
	// Sync asks the platform to refresh its ledger from the backend.
	Sync(ctx context.Context) error
}

// Verifier turns a signed envelope into a trusted transaction.
type Verifier interface {
	Verify(ctx context.Context, signed models.SignedTransaction) (models.Transaction, error)
}

// Persistence is the durable snapshot the service falls back to.
type Persistence interface {
	StorePurchasedProductIDs(ctx context.Context, ids []string) error
	PurchasedProductIDs(ctx context.Context) []string
	StoreSubscriptions(ctx context.Context, subs map[string]models.SubscriptionInfo) error
	SubscriptionData(ctx context.Context) models.StoredSubscriptionData
	SubscriptionInfo(ctx context.Context, productID string) (models.SubscriptionInfo, bool)
}

// Deps groups external dependencies needed by the service.
type Deps struct {
	Platform Platform
	// Verifier defaults to Platform when the platform can verify its own
	// envelopes.
	Verifier Verifier
	Local    Persistence
	Logger   Logger
	Config   Config
	Clock    func() time.Time
}

// Validate ensures required dependencies are provided.
func (d *Deps) Validate() error {
	if d.Platform == nil {
		return errors.New("store deps: Platform is required")
	}
	if d.Verifier == nil {
		v, ok := d.Platform.(Verifier)
		if !ok {
			return errors.New("store deps: Verifier is required")
		}
		d.Verifier = v
	}
	if d.Local == nil {
		return errors.New("store deps: Local is required")
	}
	if d.Logger == nil {
		return errors.New("store deps: Logger is required")
	}
	if d.Config == (Config{}) {
		d.Config = DefaultConfig()
	}
	if err := d.Config.Validate(); err != nil {
		return err
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return nil
}
