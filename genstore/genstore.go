// Package genstore holds the invalidation counters the cache compares
// entries against.
//
// Two counters matter per entry: the collection scope counter and the
// per-fingerprint counter. Invalidating bumps one of them; an entry written
// under different counters is never served.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use Local for a single process, or Redis to share counters across processes.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns gens for many keys; missing => 0.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes counters untouched for longer than retention (no-op for Redis).
	Cleanup(retention time.Duration)
	Close(context.Context) error
}

// ScopeKey names the collection-wide counter for a cache key prefix.
func ScopeKey(prefix string) string { return "scope:" + prefix }

// EntryKey names the per-fingerprint counter for a cache key.
func EntryKey(cacheKey string) string { return "key:" + cacheKey }
