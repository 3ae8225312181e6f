package poscache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/poscache/balance"
	"github.com/unkn0wn-root/poscache/genstore"
	"github.com/unkn0wn-root/poscache/storage"
)

// NoExpiry as Query.TTL stores the sequence without a TTL regardless of
// Config.TTL.
const NoExpiry time.Duration = -1

// ItemsFunc loads the items of a collection in source order.
type ItemsFunc func(ctx context.Context) ([]balance.Item, error)

// CountFunc returns the collection size without loading it. It lets the
// cache decide on deferral before paying for the load.
type CountFunc func(ctx context.Context) (int, error)

// Query identifies one balanced view of a collection.
type Query struct {
	CollectionID string
	// VersionToken changes whenever the collection changes, e.g. a max
	// updated_at or a row count plus checksum.
	VersionToken string
	// ItemType is the owner type the sequence belongs to (stored with the
	// entry, part of the fingerprint).
	ItemType string
	// TypeField names the record field items were grouped by.
	TypeField string
	Policy    balance.Policy
	// Options carries any further caller options that change the result.
	Options map[string]any
	Items   ItemsFunc
	Count   CountFunc
	// TTL overrides Config.TTL when non-zero. NoExpiry disables expiry.
	TTL time.Duration
}

// Status tells how a Result was produced.
type Status string

const (
	StatusHit      Status = "hit"
	StatusComputed Status = "computed"
	// StatusStale: an invalidated sequence served while a fresh one is
	// computed in the background.
	StatusStale Status = "stale"
	// StatusPending: deferred with nothing to serve; IDs is empty.
	StatusPending Status = "pending"
	// StatusDegraded: computed inline because storage failed.
	StatusDegraded Status = "degraded"
)

type Result struct {
	Key         string   `json:"key"`
	Fingerprint string   `json:"fingerprint"`
	IDs         []string `json:"ids"`
	Status      Status   `json:"status"`
}

// Scope selects what Invalidate drops. No fingerprints means the whole
// collection.
type Scope struct {
	CollectionID string
	Fingerprints []string
}

// Ref points at one cached sequence.
type Ref struct {
	CollectionID string
	Fingerprint  string
}

// Options wires a Cache. Only Config.Namespace is required; Backend defaults
// to an in-memory store and GenStore to in-process counters.
type Options struct {
	Config   Config
	Backend  storage.Backend
	GenStore genstore.GenStore
	Executor Executor // nil computes everything inline
	Logger   Logger
	Hooks    Hooks
	Metrics  Metrics
	Now      func() time.Time
}
