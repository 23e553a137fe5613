// Package vault provides byte-level secure storage keyed by string. It is the
// persistence primitive underneath the entitlement snapshot.
package vault

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when nothing is stored under the key.
var ErrNotFound = errors.New("vault: item not found")

// Vault stores opaque blobs. Implementations must be safe for concurrent use.
type Vault interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
