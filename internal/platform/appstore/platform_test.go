package appstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iapkeeper/internal/models"
)

type fakeAPI struct {
	history  []string
	renewals map[string]string
	err      error
	asked    []string
}

func (f *fakeAPI) TransactionHistory(_ context.Context, id string) ([]string, error) {
	f.asked = append(f.asked, id)
	return f.history, f.err
}

func (f *fakeAPI) RenewalInfo(context.Context, string) (map[string]string, error) {
	return f.renewals, nil
}

type testLogger struct{ t *testing.T }

func (l testLogger) Infof(format string, args ...interface{})  { l.t.Logf(format, args...) }
func (l testLogger) Errorf(format string, args ...interface{}) { l.t.Logf(format, args...) }

var testCatalog = []models.Product{
	{ID: "weekly", DisplayName: "Weekly", DisplayPrice: "$2.99", PriceMinor: 299, Currency: "USD", Kind: models.KindAutoRenewableSubscription},
	{ID: "superpack", DisplayName: "Super pack", DisplayPrice: "$9.99", PriceMinor: 999, Currency: "USD", Kind: models.KindNonConsumable},
}

func TestPlatformCurrentEntitlements(t *testing.T) {
	pki := newTestPKI(t)
	now := time.Now().UTC()
	ms := func(d time.Duration) int64 { return now.Add(d).UnixMilli() }

	older := pki.sign(t, transactionPayload{TransactionID: "10", OriginalTransactionID: "10", BundleID: testBundle, ProductID: "weekly",
		PurchaseDate: ms(-14 * 24 * time.Hour), ExpiresDate: ms(-7 * 24 * time.Hour), Type: "Auto-Renewable Subscription"})
	newer := pki.sign(t, transactionPayload{TransactionID: "11", OriginalTransactionID: "10", BundleID: testBundle, ProductID: "weekly",
		PurchaseDate: ms(-24 * time.Hour), ExpiresDate: ms(6 * 24 * time.Hour), Type: "Auto-Renewable Subscription"})
	pack := pki.sign(t, transactionPayload{TransactionID: "12", OriginalTransactionID: "12", BundleID: testBundle, ProductID: "superpack",
		PurchaseDate: ms(-time.Hour), Type: "Non-Consumable"})
	coins := pki.sign(t, transactionPayload{TransactionID: "13", OriginalTransactionID: "13", BundleID: testBundle, ProductID: "coins",
		PurchaseDate: ms(-time.Hour), Type: "Consumable"})
	lapsed := pki.sign(t, transactionPayload{TransactionID: "14", OriginalTransactionID: "14", BundleID: testBundle, ProductID: "monthly",
		PurchaseDate: ms(-60 * 24 * time.Hour), ExpiresDate: ms(-30 * 24 * time.Hour), Type: "Auto-Renewable Subscription"})
	forged := newTestPKI(t).sign(t, transactionPayload{TransactionID: "15", ProductID: "forged", Type: "Non-Consumable"})
	renewal := pki.sign(t, renewalPayload{OriginalTransactionID: "10", RenewalDate: ms(6 * 24 * time.Hour)})

	api := &fakeAPI{
		history:  []string{newer, older, pack, coins, lapsed, forged},
		renewals: map[string]string{"10": renewal},
	}
	p := NewPlatform(api, pki.verifier(t, testBundle), testLogger{t}, testCatalog...).WithClock(func() time.Time { return now })

	got, err := p.CurrentEntitlements(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got, "no customer yet")

	p.SetCustomer("10")
	got, err = p.CurrentEntitlements(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, pack, got[0].Payload)
	assert.Equal(t, newer, got[1].Payload)
	assert.Equal(t, renewal, got[1].Renewal)
	assert.Equal(t, []string{"10"}, api.asked)

	txn, err := p.Verify(context.Background(), got[1])
	require.NoError(t, err)
	assert.Equal(t, "11", txn.ID)
	assert.NotNil(t, txn.RenewalDate)
}

func TestPlatformHistoryFailure(t *testing.T) {
	pki := newTestPKI(t)
	api := &fakeAPI{err: errors.New("boom")}
	p := NewPlatform(api, pki.verifier(t, testBundle), testLogger{t})
	p.SetCustomer("1")

	_, err := p.CurrentEntitlements(context.Background())
	assert.Error(t, err)
	assert.Error(t, p.Sync(context.Background()))
}

func TestPlatformNotificationsFeedUpdates(t *testing.T) {
	pki := newTestPKI(t)
	p := NewPlatform(&fakeAPI{}, pki.verifier(t, testBundle), testLogger{t}, testCatalog...)

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := p.Updates(ctx)
	require.NoError(t, err)

	info := pki.sign(t, transactionPayload{TransactionID: "21", OriginalTransactionID: "20", BundleID: testBundle,
		ProductID: "superpack", PurchaseDate: time.Now().UnixMilli(), Type: "Non-Consumable"})
	var n Notification
	n.NotificationType = "ONE_TIME_CHARGE"
	n.NotificationUUID = "n-1"
	n.Data.BundleID = testBundle
	n.Data.SignedTransactionInfo = info

	got, err := p.HandleNotification(context.Background(), pki.sign(t, n))
	require.NoError(t, err)
	assert.Equal(t, "n-1", got.NotificationUUID)
	assert.Equal(t, "20", p.Customer())

	select {
	case signed := <-updates:
		assert.Equal(t, Source, signed.Source)
		assert.Equal(t, info, signed.Payload)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	_, err = p.HandleNotification(context.Background(), newTestPKI(t).sign(t, n))
	assert.ErrorIs(t, err, models.ErrUnverified)

	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("updates not closed")
	}
}

func TestPlatformCatalogAndPurchase(t *testing.T) {
	pki := newTestPKI(t)
	p := NewPlatform(&fakeAPI{}, pki.verifier(t, testBundle), testLogger{t}, testCatalog...)

	products, err := p.Products(context.Background(), []string{"superpack", "weekly", "missing"})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "superpack", products[0].ID)

	_, err = p.Purchase(context.Background(), "superpack")
	assert.ErrorIs(t, err, ErrPurchaseOnDevice)
	assert.NoError(t, p.Finish(context.Background(), models.Transaction{}))
	assert.NoError(t, p.Sync(context.Background()))
}
