package store

import (
	"fmt"
	"time"
)

const (
	defaultNonRenewableDuration = 30 * 24 * time.Hour
	defaultEventBuffer          = 16
	defaultSyncTimeout          = 30 * time.Second
	defaultLocale               = "en-US"
)

// Config holds runtime knobs for the entitlement service. It is loaded as the
// store section of the daemon config.
type Config struct {
	// NonRenewableDuration is added to the purchase date of a non-renewable
	// subscription whose transaction carries no expiration.
	NonRenewableDuration time.Duration `yaml:"non_renewable_duration" env:"IAP_NON_RENEWABLE_DURATION"`
	EventBuffer          int           `yaml:"event_buffer" env:"IAP_EVENT_BUFFER"`
	SyncTimeout          time.Duration `yaml:"sync_timeout" env:"IAP_SYNC_TIMEOUT"`
	Locale               string        `yaml:"locale" env:"IAP_LOCALE"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills every zero field.
func (c Config) WithDefaults() Config {
	if c.NonRenewableDuration == 0 {
		c.NonRenewableDuration = defaultNonRenewableDuration
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = defaultSyncTimeout
	}
	if c.Locale == "" {
		c.Locale = defaultLocale
	}
	return c
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.NonRenewableDuration <= 0 {
		return fmt.Errorf("non-renewable duration must be positive")
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("event buffer must not be negative")
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync timeout must be positive")
	}
	return nil
}
