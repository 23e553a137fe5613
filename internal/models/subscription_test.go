package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSubscriptionInfoStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		info SubscriptionInfo
		want SubscriptionStatus
		live bool
	}{
		{"active", SubscriptionInfo{ExpirationDate: future}, SubscriptionActive, true},
		{"expired", SubscriptionInfo{ExpirationDate: past}, SubscriptionExpired, false},
		{"grace", SubscriptionInfo{ExpirationDate: past, GracePeriodExpirationDate: &future}, SubscriptionInGracePeriod, true},
		{"retry", SubscriptionInfo{ExpirationDate: past, InBillingRetry: true}, SubscriptionInBillingRetry, false},
		{"revoked", SubscriptionInfo{ExpirationDate: future, RevocationDate: &past}, SubscriptionRevoked, false},
	}
	for _, tc := range cases {
		if got := tc.info.Status(now); got != tc.want {
			t.Fatalf("%s: status=%s want %s", tc.name, got, tc.want)
		}
		if got := tc.info.IsLive(now); got != tc.live {
			t.Fatalf("%s: live=%v want %v", tc.name, got, tc.live)
		}
	}
}

func TestSubscriptionInfoRemaining(t *testing.T) {
	now := time.Now()
	info := SubscriptionInfo{ExpirationDate: now.Add(90 * time.Minute)}
	left, ok := info.Remaining(now)
	if !ok || left != 90*time.Minute {
		t.Fatalf("unexpected remaining %v %v", left, ok)
	}
	info.ExpirationDate = now
	if _, ok := info.Remaining(now); ok {
		t.Fatalf("expected expired subscription to report no remaining time")
	}
}

func TestPurchaseErrorIs(t *testing.T) {
	err := fmt.Errorf("buy: %w", NewPurchaseError(PurchaseErrUserCancelled, nil))
	if !errors.Is(err, ErrUserCancelled) {
		t.Fatalf("expected user cancelled match")
	}
	if errors.Is(err, ErrPendingPurchase) {
		t.Fatalf("unexpected pending match")
	}

	cause := errors.New("boom")
	err = NewPurchaseError(PurchaseErrPlatform, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause")
	}
	var pe *PurchaseError
	if !errors.As(err, &pe) || pe.Code != PurchaseErrPlatform {
		t.Fatalf("expected platform purchase error, got %v", err)
	}
}

func TestParseProductKind(t *testing.T) {
	for in, want := range map[string]ProductKind{
		"consumable":               KindConsumable,
		"nonConsumable":            KindNonConsumable,
		"autoRenewable":            KindAutoRenewableSubscription,
		"non_renewable":            KindNonRenewableSubscription,
		" Auto_Renewable ":         KindAutoRenewableSubscription,
		"nonRenewableSubscription": KindNonRenewableSubscription,
	} {
		got, err := ParseProductKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseProductKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseProductKind("lifetime"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if !KindNonRenewableSubscription.IsSubscription() || KindConsumable.IsSubscription() {
		t.Fatalf("IsSubscription mismatch")
	}
}

func TestPurchasableEqualByBundleID(t *testing.T) {
	a := Purchasable{BundleID: "pro", Kind: KindNonConsumable}
	b := Purchasable{BundleID: "pro", Kind: KindConsumable}
	if !a.Equal(b) {
		t.Fatalf("purchasables with same bundle id must be equal")
	}
}

func TestSubscriptionPeriodWeeks(t *testing.T) {
	if PeriodWeekly.WeeksPerPeriod() != 1 || PeriodMonthly.WeeksPerPeriod() != 4 || PeriodYearly.WeeksPerPeriod() != 52 {
		t.Fatalf("unexpected weeks per period")
	}
}
