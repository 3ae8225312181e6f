package poscache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the cache calls them on hot
// paths. Wrap a slow implementation with hooks/async.
type Hooks interface {
	// An entry was dropped by the cache on read.
	// reason is "corrupt": the backend could not decode it.
	SelfHeal(key, reason string)

	// A computed sequence was not stored because its generation moved while
	// it was being computed.
	StaleWriteDropped(key string)

	// The storage backend failed and the request was served without it.
	// op ∈ {"get", "set", "delete", "clear"}
	StorageDegraded(op string, err error)

	// A computation was handed to the Executor.
	ComputationDeferred(key string, size int)

	// GenStore errors (snapshot or bump).
	// count is number of keys involved.
	GenSnapshotError(count int, err error)
	GenBumpError(key string, err error)

	// Both the generation bump and the delete failed during Invalidate.
	InvalidateOutage(key string, bumpErr, delErr error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) StaleWriteDropped(string)              {}
func (NopHooks) StorageDegraded(string, error)         {}
func (NopHooks) ComputationDeferred(string, int)       {}
func (NopHooks) GenSnapshotError(int, error)           {}
func (NopHooks) GenBumpError(string, error)            {}
func (NopHooks) InvalidateOutage(string, error, error) {}
