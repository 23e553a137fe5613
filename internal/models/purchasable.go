package models

import (
	"fmt"
	"strings"
)

// ProductKind is the commerce category of a sellable item.
type ProductKind string

const (
	KindNonConsumable             ProductKind = "non_consumable"
	KindAutoRenewableSubscription ProductKind = "auto_renewable"
	KindNonRenewableSubscription  ProductKind = "non_renewable"
	KindConsumable                ProductKind = "consumable"
)

// IsSubscription reports whether the kind is one of the two subscription kinds.
func (k ProductKind) IsSubscription() bool {
	return k == KindAutoRenewableSubscription || k == KindNonRenewableSubscription
}

func (k ProductKind) Valid() bool {
	switch k {
	case KindNonConsumable, KindAutoRenewableSubscription, KindNonRenewableSubscription, KindConsumable:
		return true
	}
	return false
}

// ParseProductKind accepts the canonical snake_case names as well as the
// camelCase spellings used by most store consoles.
func ParseProductKind(s string) (ProductKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "non_consumable", "nonconsumable", "non-consumable":
		return KindNonConsumable, nil
	case "auto_renewable", "autorenewable", "autorenewablesubscription", "auto-renewable subscription", "auto_renewable_subscription":
		return KindAutoRenewableSubscription, nil
	case "non_renewable", "nonrenewable", "nonrenewablesubscription", "non-renewing subscription", "non_renewable_subscription":
		return KindNonRenewableSubscription, nil
	case "consumable":
		return KindConsumable, nil
	}
	return "", fmt.Errorf("unknown product kind: %q", s)
}

// Purchasable identifies one sellable unit. Two purchasables are the same
// item when their bundle ids match.
type Purchasable struct {
	BundleID string      `json:"bundle_id"`
	Kind     ProductKind `json:"kind"`
}

func (p Purchasable) Equal(other Purchasable) bool {
	return p.BundleID == other.BundleID
}

func (p Purchasable) String() string {
	return fmt.Sprintf("%s (%s)", p.BundleID, p.Kind)
}
