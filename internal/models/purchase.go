package models

import (
	"errors"
	"fmt"
)

// PurchaseStatus is the raw result of a platform purchase flow.
type PurchaseStatus string

const (
	PurchaseSuccess       PurchaseStatus = "success"
	PurchaseUserCancelled PurchaseStatus = "user_cancelled"
	PurchasePending       PurchaseStatus = "pending"
	PurchaseUnknown       PurchaseStatus = "unknown"
)

// PurchaseOutcome is what the platform returns from a purchase call. Only a
// successful outcome carries a transaction.
type PurchaseOutcome struct {
	Status      PurchaseStatus
	Transaction SignedTransaction
}

type PurchaseErrorCode string

const (
	PurchaseErrProductNotFound      PurchaseErrorCode = "product_not_found"
	PurchaseErrUnverified           PurchaseErrorCode = "unverified_purchase"
	PurchaseErrUserCancelled        PurchaseErrorCode = "user_cancelled"
	PurchaseErrPending              PurchaseErrorCode = "pending_purchase"
	PurchaseErrUnknownPurchaseState PurchaseErrorCode = "unknown_purchase_state"
	PurchaseErrPlatform             PurchaseErrorCode = "purchase_error"
)

// PurchaseError is the terminal error of one purchase call. Err is only set
// for PurchaseErrPlatform and PurchaseErrUnverified.
type PurchaseError struct {
	Code PurchaseErrorCode
	Err  error
}

func NewPurchaseError(code PurchaseErrorCode, err error) *PurchaseError {
	return &PurchaseError{Code: code, Err: err}
}

func (e *PurchaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("purchase failed: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("purchase failed: %s", e.Code)
}

func (e *PurchaseError) Unwrap() error { return e.Err }

// Is matches any PurchaseError with the same code, so callers can write
// errors.Is(err, models.ErrUserCancelled).
func (e *PurchaseError) Is(target error) bool {
	var t *PurchaseError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrProductNotFound      = &PurchaseError{Code: PurchaseErrProductNotFound}
	ErrUnverifiedPurchase   = &PurchaseError{Code: PurchaseErrUnverified}
	ErrUserCancelled        = &PurchaseError{Code: PurchaseErrUserCancelled}
	ErrPendingPurchase      = &PurchaseError{Code: PurchaseErrPending}
	ErrUnknownPurchaseState = &PurchaseError{Code: PurchaseErrUnknownPurchaseState}
)
