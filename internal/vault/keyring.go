package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringConfig selects the OS keychain service. FileDir and FilePassword
// configure the encrypted-file fallback used on hosts without a keychain.
type KeyringConfig struct {
	Service      string   `yaml:"service" env:"IAP_KEYRING_SERVICE"`
	Backends     []string `yaml:"backends" env:"IAP_KEYRING_BACKENDS" envSeparator:","`
	FileDir      string   `yaml:"file_dir" env:"IAP_KEYRING_FILE_DIR"`
	FilePassword string   `yaml:"file_password" env:"IAP_KEYRING_FILE_PASSWORD"`
}

// Keyring stores items in the platform secure store (macOS keychain, Secret
// Service, wincred, or an encrypted file).
type Keyring struct {
	ring keyring.Keyring
}

func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	if cfg.Service == "" {
		return nil, errors.New("keyring: service name is required")
	}
	kcfg := keyring.Config{
		ServiceName:      cfg.Service,
		KeychainName:     cfg.Service,
		FileDir:          cfg.FileDir,
		FilePasswordFunc: keyring.FixedStringPrompt(cfg.FilePassword),
	}
	for _, b := range cfg.Backends {
		kcfg.AllowedBackends = append(kcfg.AllowedBackends, keyring.BackendType(b))
	}
	ring, err := keyring.Open(kcfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return NewKeyring(ring), nil
}

// NewKeyring wraps an already opened keyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func (k *Keyring) Load(_ context.Context, key string) ([]byte, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keyring get %s: %w", key, err)
	}
	return item.Data, nil
}

func (k *Keyring) Save(_ context.Context, key string, data []byte) error {
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  data,
		Label: key,
	})
	if err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

func (k *Keyring) Delete(_ context.Context, key string) error {
	err := k.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("keyring remove %s: %w", key, err)
	}
	return nil
}
