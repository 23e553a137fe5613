package models

import "time"

// SubscriptionInfo is the per-product subscription snapshot written by a
// reconciliation pass. IsActive reflects the moment of that pass only; every
// read-time activity check goes through ExpirationDate.
type SubscriptionInfo struct {
	ProductID                 string     `json:"productID"`
	ExpirationDate            time.Time  `json:"expirationDate"`
	IsActive                  bool       `json:"isActive"`
	RenewalDate               *time.Time `json:"renewalDate,omitempty"`
	GracePeriodExpirationDate *time.Time `json:"gracePeriodExpirationDate,omitempty"`
	SubscriptionGroupID       string     `json:"subscriptionGroupID"`
	RevocationDate            *time.Time `json:"revocationDate,omitempty"`
	InBillingRetry            bool       `json:"inBillingRetry,omitempty"`
}

// IsLive reports whether the subscription still grants access at now:
// not revoked, and either unexpired or inside its grace period.
func (s SubscriptionInfo) IsLive(now time.Time) bool {
	if s.RevocationDate != nil {
		return false
	}
	if s.ExpirationDate.After(now) {
		return true
	}
	return s.inGracePeriod(now)
}

func (s SubscriptionInfo) inGracePeriod(now time.Time) bool {
	return s.GracePeriodExpirationDate != nil && s.GracePeriodExpirationDate.After(now)
}

// Status classifies the snapshot against now.
func (s SubscriptionInfo) Status(now time.Time) SubscriptionStatus {
	switch {
	case s.RevocationDate != nil:
		return SubscriptionRevoked
	case s.ExpirationDate.After(now):
		return SubscriptionActive
	case s.inGracePeriod(now):
		return SubscriptionInGracePeriod
	case s.InBillingRetry:
		return SubscriptionInBillingRetry
	}
	return SubscriptionExpired
}

// Remaining returns the time left until expiration, or false when the
// subscription is already expired.
func (s SubscriptionInfo) Remaining(now time.Time) (time.Duration, bool) {
	left := s.ExpirationDate.Sub(now)
	if left <= 0 {
		return 0, false
	}
	return left, true
}

// SameAs compares two snapshots field by field.
func (s SubscriptionInfo) SameAs(o SubscriptionInfo) bool {
	return s.ProductID == o.ProductID &&
		s.ExpirationDate.Equal(o.ExpirationDate) &&
		s.IsActive == o.IsActive &&
		equalTimePtr(s.RenewalDate, o.RenewalDate) &&
		equalTimePtr(s.GracePeriodExpirationDate, o.GracePeriodExpirationDate) &&
		s.SubscriptionGroupID == o.SubscriptionGroupID &&
		equalTimePtr(s.RevocationDate, o.RevocationDate) &&
		s.InBillingRetry == o.InBillingRetry
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type SubscriptionStatus string

const (
	SubscriptionActive         SubscriptionStatus = "active"
	SubscriptionExpired        SubscriptionStatus = "expired"
	SubscriptionInGracePeriod  SubscriptionStatus = "in_grace_period"
	SubscriptionInBillingRetry SubscriptionStatus = "in_billing_retry"
	SubscriptionRevoked        SubscriptionStatus = "revoked"
	SubscriptionUnknown        SubscriptionStatus = "unknown"
)

// StoredSubscriptionData is the persisted subscription map.
type StoredSubscriptionData struct {
	Subscriptions map[string]SubscriptionInfo `json:"subscriptions"`
	LastUpdated   time.Time                   `json:"lastUpdated"`
}
