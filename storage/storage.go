// Package storage defines where balanced sequences live between requests.
//
// A Backend stores one Entry per cache key. Entries are immutable snapshots:
// writers replace them whole and readers receive copies. Backends never
// interpret generations; they persist them so the cache can decide whether
// an entry is current.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Generation is the pair of invalidation counters an entry was computed
// under. Scope covers the whole collection, Key the single fingerprint.
type Generation struct {
	Scope uint64
	Key   uint64
}

// Stale reports whether an entry written under g must not be served when the
// counters currently read cur. Any difference counts, so counters that were
// pruned back to zero still invalidate older entries.
func (g Generation) Stale(cur Generation) bool { return g != cur }

func (g Generation) String() string { return fmt.Sprintf("%d.%d", g.Scope, g.Key) }

// Entry is one cached balanced sequence.
type Entry struct {
	Key         string // "{namespace}/{collection}/{fingerprint}"
	Fingerprint string
	ItemType    string // owner type the sequence belongs to, may be empty
	TypeField   string // record field the sequence was grouped by
	Sequence    []string
	Gen         Generation
	CreatedAt   time.Time
	TTL         time.Duration // 0 = never expires
}

// ExpiresAt returns the absolute expiry, or the zero time when TTL is 0.
func (e Entry) ExpiresAt() time.Time {
	if e.TTL <= 0 {
		return time.Time{}
	}
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether e is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	exp := e.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

// Clone returns e with its own copy of Sequence.
func (e Entry) Clone() Entry {
	if e.Sequence != nil {
		e.Sequence = append(make([]string, 0, len(e.Sequence)), e.Sequence...)
	}
	return e
}

// Backend persists entries. Implementations must be safe for concurrent use.
// Get never returns expired entries. Clear removes every entry whose key
// starts with prefix.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context, prefix string) error
	Close(ctx context.Context) error
}

var (
	// ErrUnavailable marks failures talking to the underlying store.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrCorrupt marks stored bytes that could not be decoded.
	ErrCorrupt = errors.New("storage entry corrupt")
	// ErrClearUnsupported is returned by backends that cannot delete by prefix.
	ErrClearUnsupported = errors.New("storage: prefix clear not supported")
)

// UnavailableError wraps a transport or driver failure.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error        { return e.Err }
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Unavailable wraps err as an UnavailableError unless it is nil or already
// marked.
func Unavailable(backend, op string, err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return &UnavailableError{Backend: backend, Op: op, Err: err}
}

// CorruptionError reports an entry whose stored form failed validation.
type CorruptionError struct {
	Key string
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt entry %q: %v", e.Key, e.Err)
}

func (e *CorruptionError) Unwrap() error        { return e.Err }
func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupt }
