package appstore

import (
	"time"

	"iapkeeper/internal/models"
)

// transactionPayload is the decoded JWSTransaction.
type transactionPayload struct {
	TransactionID               string `json:"transactionId"`
	OriginalTransactionID       string `json:"originalTransactionId"`
	BundleID                    string `json:"bundleId"`
	ProductID                   string `json:"productId"`
	SubscriptionGroupIdentifier string `json:"subscriptionGroupIdentifier,omitempty"`
	PurchaseDate                int64  `json:"purchaseDate"`
	ExpiresDate                 int64  `json:"expiresDate,omitempty"`
	RevocationDate              int64  `json:"revocationDate,omitempty"`
	Type                        string `json:"type"`
	Environment                 string `json:"environment"`
	SignedDate                  int64  `json:"signedDate"`
}

// renewalPayload is the decoded JWSRenewalInfo.
type renewalPayload struct {
	OriginalTransactionID  string `json:"originalTransactionId"`
	ProductID              string `json:"productId"`
	AutoRenewProductID     string `json:"autoRenewProductId,omitempty"`
	AutoRenewStatus        int    `json:"autoRenewStatus"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod"`
	GracePeriodExpiresDate int64  `json:"gracePeriodExpiresDate,omitempty"`
	RenewalDate            int64  `json:"renewalDate,omitempty"`
	Environment            string `json:"environment"`
	SignedDate             int64  `json:"signedDate"`
}

// Notification is a decoded App Store Server Notification V2.
type Notification struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype,omitempty"`
	NotificationUUID string `json:"notificationUUID"`
	Data             struct {
		BundleID              string `json:"bundleId,omitempty"`
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo,omitempty"`
		SignedRenewalInfo     string `json:"signedRenewalInfo,omitempty"`
	} `json:"data"`
	Version    string `json:"version"`
	SignedDate int64  `json:"signedDate"`
}

func productKind(t string) models.ProductKind {
	switch t {
	case "Auto-Renewable Subscription":
		return models.KindAutoRenewableSubscription
	case "Non-Renewing Subscription":
		return models.KindNonRenewableSubscription
	case "Non-Consumable":
		return models.KindNonConsumable
	case "Consumable":
		return models.KindConsumable
	}
	return models.ProductKind(t)
}

func millis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func optionalMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := millis(ms)
	return &t
}

func (p transactionPayload) transaction() models.Transaction {
	return models.Transaction{
		ID:                  p.TransactionID,
		OriginalID:          p.OriginalTransactionID,
		ProductID:           p.ProductID,
		Kind:                productKind(p.Type),
		PurchaseDate:        millis(p.PurchaseDate),
		ExpirationDate:      optionalMillis(p.ExpiresDate),
		RevocationDate:      optionalMillis(p.RevocationDate),
		SubscriptionGroupID: p.SubscriptionGroupIdentifier,
		Environment:         p.Environment,
	}
}

func (r renewalPayload) apply(txn *models.Transaction) {
	if r.OriginalTransactionID != "" && r.OriginalTransactionID != txn.OriginalID {
		return
	}
	txn.RenewalDate = optionalMillis(r.RenewalDate)
	txn.GracePeriodExpirationDate = optionalMillis(r.GracePeriodExpiresDate)
	txn.InBillingRetry = r.IsInBillingRetryPeriod
}
