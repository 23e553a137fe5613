package models

// StoreAvailability tells readers whether the live catalog can be trusted.
type StoreAvailability string

const (
	StoreChecking    StoreAvailability = "checking"
	StoreAvailable   StoreAvailability = "available"
	StoreUnavailable StoreAvailability = "unavailable"
)
