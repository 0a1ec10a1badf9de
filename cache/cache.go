// Package cache holds small string values with a TTL. The ledger uses it for
// balances and the config service for system_config lookups.
package cache

import (
	"context"
	"time"
)

// Cache is implemented by the in-memory map and by Redis.
type Cache interface {
	// Get reports ok=false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
