package models

import "time"

// SignedTransaction is the opaque envelope handed out by a commerce platform.
// Nothing in it may be trusted before it went through a verifier.
type SignedTransaction struct {
	Source    string `json:"source"`
	Payload   string `json:"payload"`
	Signature string `json:"signature,omitempty"`
	// Renewal optionally carries a separately signed renewal record for
	// subscription transactions.
	Renewal string `json:"renewal,omitempty"`
}

// Transaction is the verified payload of a SignedTransaction.
type Transaction struct {
	ID                        string      `json:"transaction_id"`
	OriginalID                string      `json:"original_transaction_id,omitempty"`
	ProductID                 string      `json:"product_id"`
	Kind                      ProductKind `json:"product_kind"`
	PurchaseDate              time.Time   `json:"purchase_date"`
	ExpirationDate            *time.Time  `json:"expiration_date,omitempty"`
	RevocationDate            *time.Time  `json:"revocation_date,omitempty"`
	RenewalDate               *time.Time  `json:"renewal_date,omitempty"`
	GracePeriodExpirationDate *time.Time  `json:"grace_period_expiration_date,omitempty"`
	InBillingRetry            bool        `json:"in_billing_retry,omitempty"`
	SubscriptionGroupID       string      `json:"subscription_group_id,omitempty"`
	Environment               string      `json:"environment,omitempty"`
	PurchaseToken             string      `json:"purchase_token,omitempty"`
}

func (t Transaction) Revoked() bool {
	return t.RevocationDate != nil
}
