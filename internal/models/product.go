package models

// Product is a catalog entry as reported by the commerce platform. The
// catalog is replaced wholesale on every fetch.
type Product struct {
	ID           string      `json:"id"`
	DisplayName  string      `json:"display_name,omitempty"`
	DisplayPrice string      `json:"display_price"`
	PriceMinor   int64       `json:"price_minor"`
	Currency     string      `json:"currency"`
	Kind         ProductKind `json:"kind"`
}

// SubscriptionPeriod is the billing period length used for price comparisons.
type SubscriptionPeriod string

const (
	PeriodWeekly  SubscriptionPeriod = "weekly"
	PeriodMonthly SubscriptionPeriod = "monthly"
	PeriodYearly  SubscriptionPeriod = "yearly"
)

func (p SubscriptionPeriod) WeeksPerPeriod() int {
	switch p {
	case PeriodWeekly:
		return 1
	case PeriodMonthly:
		return 4
	case PeriodYearly:
		return 52
	}
	return 0
}

// SubscriptionItem pairs a subscription with its billing period.
type SubscriptionItem struct {
	Purchasable Purchasable
	Period      SubscriptionPeriod
}
