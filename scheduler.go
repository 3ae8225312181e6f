package poscache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/poscache/balance"
	"github.com/unkn0wn-root/poscache/storage"
)

// ShouldDefer reports whether a collection of size items is handed to the
// Executor. threshold <= 0 disables deferral.
func ShouldDefer(size, threshold int) bool {
	return threshold > 0 && size > threshold
}

// Executor runs deferred computations. Submit must not block; it returns an
// error when the request cannot be queued. executor.Pool is the in-process
// implementation.
type Executor interface {
	Submit(req *ComputeRequest) error
}

// ComputeRequest is the handoff between the cache and whatever computes a
// deferred sequence. The exported fields are enough for an out-of-process
// worker: it loads the collection, then calls Cache.Complete with the items,
// or Cache.Release when it gives up. In-process executors call Run, or
// Abandon for a request they drop.
type ComputeRequest struct {
	Key          string
	Fingerprint  string
	CollectionID string
	VersionToken string
	ItemType     string
	TypeField    string
	Policy       balance.Policy
	Options      map[string]any
	TTL          time.Duration
	Gen          storage.Generation
	Size         int
	SubmittedAt  time.Time

	run     func(ctx context.Context) error
	abandon func()
}

func (r *ComputeRequest) same(o *ComputeRequest) bool {
	return r.Key == o.Key && r.Gen == o.Gen && r.SubmittedAt.Equal(o.SubmittedAt)
}

var errNoRunner = errors.New("poscache: compute request has no runner")

// Run loads the collection and stores the balanced sequence. Requests
// decoded from a queue have no runner; their worker calls Cache.Complete.
func (r *ComputeRequest) Run(ctx context.Context) error {
	if r.run == nil {
		return errNoRunner
	}
	return r.run(ctx)
}

// Abandon releases the request's pending mark without computing it.
// Requests decoded from a queue have no cache attached; their worker calls
// Cache.Release instead.
func (r *ComputeRequest) Abandon() {
	if r.abandon != nil {
		r.abandon()
	}
}
