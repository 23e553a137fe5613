package localstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"iapkeeper/internal/models"
	"iapkeeper/internal/vault"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

type failingVault struct{}

func (failingVault) Load(context.Context, string) ([]byte, error) { return nil, errors.New("locked") }
func (failingVault) Save(context.Context, string, []byte) error   { return errors.New("locked") }
func (failingVault) Delete(context.Context, string) error         { return errors.New("locked") }

func TestPurchasedProductIDsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := New(vault.NewMemory(), "app", testLogger{})

	if got := m.PurchasedProductIDs(ctx); len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
	if err := m.StorePurchasedProductIDs(ctx, []string{"pro", "coins", "pro"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	got := m.PurchasedProductIDs(ctx)
	if len(got) != 2 || got[0] != "coins" || got[1] != "pro" {
		t.Fatalf("unexpected ids %v", got)
	}
	if err := m.StorePurchasedProductIDs(ctx, nil); err != nil {
		t.Fatalf("store empty: %v", err)
	}
	if got := m.PurchasedProductIDs(ctx); len(got) != 0 {
		t.Fatalf("expected overwrite to empty, got %v", got)
	}
}

func TestSubscriptionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := New(vault.NewMemory(), "app", testLogger{}).WithClock(func() time.Time { return now })

	if data := m.SubscriptionData(ctx); len(data.Subscriptions) != 0 || !data.LastUpdated.IsZero() {
		t.Fatalf("expected empty data, got %+v", data)
	}

	exp := now.Add(24 * time.Hour)
	subs := map[string]models.SubscriptionInfo{
		"monthly": {ProductID: "monthly", ExpirationDate: exp, IsActive: true, SubscriptionGroupID: "g1"},
	}
	if err := m.StoreSubscriptions(ctx, subs); err != nil {
		t.Fatalf("store: %v", err)
	}
	data := m.SubscriptionData(ctx)
	if !data.LastUpdated.Equal(now) {
		t.Fatalf("lastUpdated = %v", data.LastUpdated)
	}
	info, ok := m.SubscriptionInfo(ctx, "monthly")
	if !ok || !info.ExpirationDate.Equal(exp) || !info.IsActive {
		t.Fatalf("unexpected info %+v %v", info, ok)
	}
	if _, ok := m.SubscriptionInfo(ctx, "yearly"); ok {
		t.Fatalf("unexpected yearly info")
	}
}

func TestCorruptItemsReadAsEmpty(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemory()
	m := New(v, "app", testLogger{})
	v.Save(ctx, "app.purchases", []byte("{not json"))
	v.Save(ctx, "app.subscriptions", []byte("[]"))

	if got := m.PurchasedProductIDs(ctx); len(got) != 0 {
		t.Fatalf("expected empty ids, got %v", got)
	}
	if got := m.SubscriptionData(ctx); len(got.Subscriptions) != 0 {
		t.Fatalf("expected empty subscriptions, got %v", got)
	}
}

func TestVaultFailures(t *testing.T) {
	ctx := context.Background()
	m := New(failingVault{}, "app", testLogger{})
	if got := m.PurchasedProductIDs(ctx); len(got) != 0 {
		t.Fatalf("expected empty ids")
	}
	if err := m.StorePurchasedProductIDs(ctx, []string{"pro"}); err == nil {
		t.Fatalf("expected save error")
	}
	if err := m.StoreSubscriptions(ctx, nil); err == nil {
		t.Fatalf("expected save error")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	m := New(vault.NewMemory(), "app", testLogger{})
	m.StorePurchasedProductIDs(ctx, []string{"pro"})
	m.StoreSubscriptions(ctx, map[string]models.SubscriptionInfo{"m": {ProductID: "m"}})
	if err := m.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(m.PurchasedProductIDs(ctx)) != 0 || len(m.SubscriptionData(ctx).Subscriptions) != 0 {
		t.Fatalf("expected empty snapshot after reset")
	}
}

func TestSameHelpers(t *testing.T) {
	if !SameIDs([]string{"b", "a"}, []string{"a", "b", "a"}) {
		t.Fatalf("expected equal sets")
	}
	if SameIDs([]string{"a"}, []string{"a", "b"}) {
		t.Fatalf("expected different sets")
	}
	exp := time.Now()
	a := map[string]models.SubscriptionInfo{"m": {ProductID: "m", ExpirationDate: exp}}
	b := map[string]models.SubscriptionInfo{"m": {ProductID: "m", ExpirationDate: exp.UTC()}}
	if !SameSubscriptions(a, b) {
		t.Fatalf("expected equal maps")
	}
	b["m"] = models.SubscriptionInfo{ProductID: "m", ExpirationDate: exp.Add(time.Second)}
	if SameSubscriptions(a, b) {
		t.Fatalf("expected different maps")
	}
}
