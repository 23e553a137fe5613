package vault

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config selects and configures a backend. SealKey, when set, wraps the
// backend in Sealed.
type Config struct {
	Backend string        `yaml:"backend" env:"IAP_VAULT_BACKEND"`
	SealKey string        `yaml:"seal_key" env:"IAP_VAULT_SEAL_KEY"`
	Keyring KeyringConfig `yaml:"keyring"`
	Redis   RedisConfig   `yaml:"redis"`
	SQL     SQLConfig     `yaml:"sql"`
	S3      S3Config      `yaml:"s3"`
}

// Open builds the configured vault. The returned close func releases any
// connection the backend holds.
func Open(ctx context.Context, cfg Config) (Vault, func() error, error) {
	noop := func() error { return nil }
	var (
		v       Vault
		closeFn = noop
	)
	switch cfg.Backend {
	case "", "memory":
		v = NewMemory()
	case "keyring":
		k, err := OpenKeyring(cfg.Keyring)
		if err != nil {
			return nil, nil, err
		}
		v = k
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		v, closeFn = NewRedis(rdb, cfg.Redis.Prefix), rdb.Close
	case "sql":
		s, err := OpenSQL(ctx, cfg.SQL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sql vault: %w", err)
		}
		v, closeFn = s, s.Close
	case "s3":
		api, err := NewS3Client(cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		v = NewS3(api, cfg.S3.Bucket, cfg.S3.Prefix)
	default:
		return nil, nil, fmt.Errorf("vault: unknown backend %q", cfg.Backend)
	}

	if cfg.SealKey != "" {
		key, err := ParseKey(cfg.SealKey)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		sealed, err := NewSealed(v, key)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		v = sealed
	}
	return v, closeFn, nil
}
