// Package provider defines the byte stores that back the kv storage backend.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// []byte previously passed to Set for a key. Any internal transform
// (compression, encryption) must be fully reversed on read.
//
// Keys handed to a provider are poscache cache keys,
// "{namespace}/{collection}/{fingerprint}". Providers may rewrite them
// internally (NATS subjects do not allow '/'), but DeletePrefix must match
// against the original form.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. It must be safe for concurrent
// use.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. ttl <= 0 means no expiry. cost is a hint for
	// cost-aware caches and may be ignored. ok=false means the store dropped
	// the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}

// PrefixDeleter is implemented by providers that can drop every key under a
// prefix. Providers that cannot enumerate keys may drop more than asked; the
// returned count is then -1.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
