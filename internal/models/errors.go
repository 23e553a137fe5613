package models

import (
	"errors"
)

var (
	ErrUnverified      = errors.New("models: transaction failed verification")
	ErrNotSubscription = errors.New("models: product is not a subscription")
	ErrUnknownSource   = errors.New("models: no verifier for transaction source")
)
