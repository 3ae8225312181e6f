package poscache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/poscache/balance"
	"github.com/unkn0wn-root/poscache/fingerprint"
	"github.com/unkn0wn-root/poscache/genstore"
	"github.com/unkn0wn-root/poscache/internal/singleflight"
	"github.com/unkn0wn-root/poscache/paginate"
	"github.com/unkn0wn-root/poscache/storage"
	"github.com/unkn0wn-root/poscache/storage/memory"
)

// Cache computes, stores and serves balanced sequences. It is safe for
// concurrent use.
type Cache struct {
	cfg     Config
	backend storage.Backend
	gen     genstore.GenStore
	exec    Executor
	log     Logger
	hooks   Hooks
	metrics Metrics
	now     func() time.Time

	sf singleflight.Group[string, Result]

	mu      sync.Mutex
	pending map[string]*ComputeRequest

	closed atomic.Bool
}

// New validates opts.Config and wires a Cache.
func New(opts Options) (*Cache, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{
		cfg:     opts.Config.withDefaults(),
		exec:    opts.Executor,
		pending: make(map[string]*ComputeRequest),
	}

	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.metrics = coalesce[Metrics](opts.Metrics, NoopMetrics{})
	c.now = opts.Now
	if c.now == nil {
		c.now = time.Now
	}

	if opts.Backend != nil {
		c.backend = opts.Backend
	} else {
		c.backend = memory.New(memory.Options{SweepInterval: c.cfg.SweepInterval, Now: c.now})
	}
	if opts.GenStore != nil {
		c.gen = opts.GenStore
	} else {
		c.gen = genstore.NewLocal(genstore.LocalOptions{
			CleanupInterval: c.cfg.GenCleanupInterval,
			Retention:       c.cfg.GenRetention,
			Now:             c.now,
		})
	}
	return c, nil
}

// Config returns the effective configuration (defaults applied).
func (c *Cache) Config() Config { return c.cfg }

// Close closes the generation store and the backend.
func (c *Cache) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if c.gen != nil {
		errs = append(errs, c.gen.Close(ctx))
	}
	if c.backend != nil {
		errs = append(errs, c.backend.Close(ctx))
	}
	return errors.Join(errs...)
}

// GetOrCompute returns the balanced sequence for q. Concurrent calls for the
// same key share one load and one computation.
func (c *Cache) GetOrCompute(ctx context.Context, q Query) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClosed
	}
	fp, err := c.fingerprint(q)
	if err != nil {
		return Result{}, err
	}
	key := fingerprint.Key(c.cfg.Namespace, q.CollectionID, fp)

	if c.cfg.Disabled {
		ids, err := c.compute(ctx, q, nil)
		if err != nil {
			return Result{}, err
		}
		return Result{Key: key, Fingerprint: fp, IDs: ids, Status: StatusComputed}, nil
	}

	// Callers that observe different generations never share a flight, so a
	// call made after Invalidate cannot receive a result computed before it.
	cur, err := c.snapshot(ctx, q.CollectionID, key)
	degraded := err != nil
	if degraded && c.cfg.FailClosed {
		return Result{}, err
	}
	flight := key + "#" + cur.String()
	if degraded {
		flight = key + "#degraded"
	}

	res, shared, err := c.sf.Do(ctx, flight, func(ctx context.Context) (Result, error) {
		return c.lookup(ctx, q, key, fp, cur, degraded)
	})
	if shared && res.IDs != nil {
		res.IDs = append([]string(nil), res.IDs...)
	}
	return res, err
}

func (c *Cache) fingerprint(q Query) (string, error) {
	if err := checkCollection(q.CollectionID); err != nil {
		return "", err
	}
	if q.Items == nil {
		return "", fmt.Errorf("%w: items func is required", ErrInvalidQuery)
	}
	if err := q.Policy.Validate(); err != nil {
		return "", err
	}
	opts := map[string]any{
		"item_type":  q.ItemType,
		"type_field": q.TypeField,
		"policy":     q.Policy.Descriptor(),
	}
	if len(q.Options) > 0 {
		opts["options"] = q.Options
	}
	fp, err := fingerprint.Generate(q.VersionToken, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return fp, nil
}

func checkCollection(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: collection id is required", ErrInvalidQuery)
	case strings.Contains(id, "/"):
		return fmt.Errorf("%w: collection id %q contains '/'", ErrInvalidQuery, id)
	}
	return nil
}

// lookup runs once per key and generation at a time (single-flight leader).
// cur is the snapshot taken by GetOrCompute; degraded means it failed.
func (c *Cache) lookup(ctx context.Context, q Query, key, fp string, cur storage.Generation, degraded bool) (Result, error) {
	res := Result{Key: key, Fingerprint: fp}

	e, ok, err := c.backend.Get(ctx, key)
	switch {
	case errors.Is(err, storage.ErrCorrupt):
		c.selfHeal(ctx, key, "corrupt", err)
		ok = false
	case err != nil:
		c.degrade("get", key, err)
		if c.cfg.FailClosed {
			return Result{}, err
		}
		degraded = true
	}

	var stale *storage.Entry
	if ok && !degraded {
		if !e.Gen.Stale(cur) {
			c.metrics.Hit(q.CollectionID)
			res.IDs, res.Status = e.Sequence, StatusHit
			return res, nil
		}
		stale = &e
	}
	c.metrics.Miss(q.CollectionID)

	var items []balance.Item
	if c.exec != nil && c.cfg.BackgroundThreshold > 0 && !degraded {
		size := -1
		if q.Count != nil {
			n, err := q.Count(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("poscache: count %s: %w", q.CollectionID, err)
			}
			size = n
		} else {
			items, err = c.load(ctx, q)
			if err != nil {
				return Result{}, err
			}
			size = len(items)
		}
		if ShouldDefer(size, c.cfg.BackgroundThreshold) {
			return c.deferCompute(q, res, cur, size, items, stale)
		}
	}

	ids, err := c.compute(ctx, q, items)
	if err != nil {
		return Result{}, err
	}
	res.IDs = ids
	if degraded {
		res.Status = StatusDegraded
		return res, nil
	}
	res.Status = StatusComputed

	if err := c.store(ctx, q.CollectionID, c.entry(q, res, ids, cur)); err != nil && c.cfg.FailClosed {
		return Result{}, err
	}
	return res, nil
}

func (c *Cache) load(ctx context.Context, q Query) ([]balance.Item, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("poscache: load %s: %w", q.CollectionID, err)
	}
	return items, nil
}

// compute balances items, loading them first when items is nil.
func (c *Cache) compute(ctx context.Context, q Query, items []balance.Item) ([]string, error) {
	if items == nil {
		var err error
		if items, err = c.load(ctx, q); err != nil {
			return nil, err
		}
	}
	start := c.now()
	ids, err := balance.Balance(items, q.Policy)
	if err != nil {
		return nil, err
	}
	c.metrics.Computed(q.CollectionID, c.now().Sub(start), len(ids))
	return ids, nil
}

func (c *Cache) entry(q Query, res Result, ids []string, gen storage.Generation) storage.Entry {
	return storage.Entry{
		Key:         res.Key,
		Fingerprint: res.Fingerprint,
		ItemType:    q.ItemType,
		TypeField:   q.TypeField,
		Sequence:    ids,
		Gen:         gen,
		CreatedAt:   c.now(),
		TTL:         c.ttl(q.TTL),
	}
}

func (c *Cache) ttl(override time.Duration) time.Duration {
	switch {
	case override < 0:
		return 0
	case override > 0:
		return override
	default:
		return c.cfg.TTL
	}
}

func (c *Cache) deferCompute(q Query, res Result, gen storage.Generation, size int, items []balance.Item, stale *storage.Entry) (Result, error) {
	req := &ComputeRequest{
		Key:          res.Key,
		Fingerprint:  res.Fingerprint,
		CollectionID: q.CollectionID,
		VersionToken: q.VersionToken,
		ItemType:     q.ItemType,
		TypeField:    q.TypeField,
		Policy:       q.Policy,
		Options:      q.Options,
		TTL:          c.ttl(q.TTL),
		Gen:          gen,
		Size:         size,
		SubmittedAt:  c.now(),
	}
	load := q.Items
	req.run = func(ctx context.Context) error {
		its := items
		if its == nil {
			var err error
			if its, err = load(ctx); err != nil {
				c.Release(req)
				return fmt.Errorf("poscache: load %s: %w", req.CollectionID, err)
			}
		}
		return c.Complete(ctx, req, its)
	}
	req.abandon = func() { c.Release(req) }

	c.mu.Lock()
	prev, inflight := c.pending[req.Key]
	if inflight && (prev.Gen != req.Gen || req.SubmittedAt.Sub(prev.SubmittedAt) >= c.cfg.PendingTimeout) {
		// the queued request would store under old generations, or was lost
		inflight = false
	}
	if !inflight {
		c.pending[req.Key] = req
	}
	c.mu.Unlock()

	if !inflight {
		if err := c.exec.Submit(req); err != nil {
			c.Release(req)
			c.log.Warn("deferred compute rejected", Fields{"key": req.Key, "err": err})
		} else {
			c.hooks.ComputationDeferred(req.Key, size)
			c.metrics.Deferred(q.CollectionID)
			c.log.Debug("compute deferred", Fields{"key": req.Key, "size": size})
		}
	}

	if stale != nil {
		res.IDs, res.Status = stale.Sequence, StatusStale
		return res, nil
	}
	res.Status = StatusPending
	return res, ErrNotReady
}

// Release clears the pending mark held by req so the next miss submits the
// key again. Requests are matched by key, generation and submit time, so a
// copy decoded from an external queue releases the mark too. Executors that
// drop a request without completing it call Release (or req.Abandon).
func (c *Cache) Release(req *ComputeRequest) {
	c.mu.Lock()
	if cur, ok := c.pending[req.Key]; ok && cur.same(req) {
		delete(c.pending, req.Key)
	}
	c.mu.Unlock()
}

// Pending reports whether a deferred computation for key is queued or running.
func (c *Cache) Pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Complete balances items for a deferred request and stores the result under
// the generations observed when the request was made. Workers outside this
// process call it with the items they loaded.
func (c *Cache) Complete(ctx context.Context, req *ComputeRequest, items []balance.Item) error {
	defer c.Release(req)
	if c.closed.Load() {
		return ErrClosed
	}
	start := c.now()
	ids, err := balance.Balance(items, req.Policy)
	if err != nil {
		c.log.Error("deferred compute failed", Fields{"key": req.Key, "err": err})
		return err
	}
	c.metrics.Computed(req.CollectionID, c.now().Sub(start), len(ids))
	return c.store(ctx, req.CollectionID, storage.Entry{
		Key:         req.Key,
		Fingerprint: req.Fingerprint,
		ItemType:    req.ItemType,
		TypeField:   req.TypeField,
		Sequence:    ids,
		Gen:         req.Gen,
		CreatedAt:   c.now(),
		TTL:         req.TTL,
	})
}

// store writes e unless the generations moved since e.Gen was observed. A
// dropped write is not an error.
func (c *Cache) store(ctx context.Context, collection string, e storage.Entry) error {
	latest, err := c.snapshot(ctx, collection, e.Key)
	if err != nil {
		return nil
	}
	if latest != e.Gen {
		c.metrics.StaleWriteDropped(collection)
		c.hooks.StaleWriteDropped(e.Key)
		c.log.Debug("store skipped (gen mismatch)", Fields{"key": e.Key, "obs": e.Gen, "cur": latest})
		return nil
	}
	if err := c.backend.Set(ctx, e); err != nil {
		c.degrade("set", e.Key, err)
		return err
	}
	return nil
}

func (c *Cache) snapshot(ctx context.Context, collection, key string) (storage.Generation, error) {
	sk := genstore.ScopeKey(fingerprint.Prefix(c.cfg.Namespace, collection))
	ek := genstore.EntryKey(key)
	m, err := c.gen.SnapshotMany(ctx, []string{sk, ek})
	if err != nil {
		c.hooks.GenSnapshotError(2, err)
		c.log.Warn("gen snapshot error", Fields{"key": key, "err": err})
		return storage.Generation{}, err
	}
	return storage.Generation{Scope: m[sk], Key: m[ek]}, nil
}

func (c *Cache) selfHeal(ctx context.Context, key, reason string, cause error) {
	_ = c.backend.Delete(ctx, key)
	c.hooks.SelfHeal(key, reason)
	c.metrics.Evicted(reason)
	c.log.Debug("self-healed entry", Fields{"key": key, "reason": reason, "err": cause})
}

func (c *Cache) degrade(op, key string, err error) {
	c.hooks.StorageDegraded(op, err)
	c.metrics.Degraded(op)
	c.log.Warn("storage "+op+" failed", Fields{"key": key, "err": err})
}

// Invalidate drops the cached sequences named by s. The generation bump
// comes first so a computation already in flight cannot store its result
// afterwards. An error is returned only when neither the bump nor the delete
// went through.
func (c *Cache) Invalidate(ctx context.Context, s Scope) error {
	if err := checkCollection(s.CollectionID); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if c.cfg.Disabled {
		return nil
	}

	if len(s.Fingerprints) == 0 {
		prefix := fingerprint.Prefix(c.cfg.Namespace, s.CollectionID)
		_, bumpErr := c.bump(ctx, genstore.ScopeKey(prefix))
		delErr := c.backend.Clear(ctx, prefix)
		if errors.Is(delErr, storage.ErrClearUnsupported) {
			delErr = nil
		}
		c.dropPending(func(k string) bool { return strings.HasPrefix(k, prefix) })
		return c.invalidated(prefix, "clear", bumpErr, delErr)
	}

	var errs []error
	for _, fp := range s.Fingerprints {
		key := fingerprint.Key(c.cfg.Namespace, s.CollectionID, fp)
		_, bumpErr := c.bump(ctx, genstore.EntryKey(key))
		delErr := c.backend.Delete(ctx, key)
		c.dropPending(func(k string) bool { return k == key })
		if err := c.invalidated(key, "delete", bumpErr, delErr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) bump(ctx context.Context, genKey string) (uint64, error) {
	g, err := c.gen.Bump(ctx, genKey)
	if err != nil {
		c.hooks.GenBumpError(genKey, err)
		c.log.Error("gen bump error", Fields{"key": genKey, "err": err})
	}
	return g, err
}

func (c *Cache) invalidated(key, op string, bumpErr, delErr error) error {
	if delErr != nil {
		c.degrade(op, key, delErr)
	}
	if bumpErr != nil && delErr != nil {
		c.hooks.InvalidateOutage(key, bumpErr, delErr)
		return &InvalidateError{Key: key, BumpErr: bumpErr, DelErr: delErr}
	}
	c.log.Debug("invalidated", Fields{"key": key})
	return nil
}

func (c *Cache) dropPending(match func(key string) bool) {
	c.mu.Lock()
	for k := range c.pending {
		if match(k) {
			delete(c.pending, k)
		}
	}
	c.mu.Unlock()
}

// Page returns one page of an already cached sequence. It never computes:
// a missing, expired or invalidated sequence is ErrNotFound.
func (c *Cache) Page(ctx context.Context, ref Ref, page, perPage int) (paginate.Page, error) {
	if err := paginate.Validate(page, perPage); err != nil {
		return paginate.Page{}, err
	}
	if err := checkCollection(ref.CollectionID); err != nil {
		return paginate.Page{}, err
	}
	if c.closed.Load() {
		return paginate.Page{}, ErrClosed
	}
	key := fingerprint.Key(c.cfg.Namespace, ref.CollectionID, ref.Fingerprint)
	if c.cfg.Disabled {
		return paginate.Page{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	cur, err := c.snapshot(ctx, ref.CollectionID, key)
	if err != nil {
		return paginate.Page{}, err
	}
	e, ok, err := c.backend.Get(ctx, key)
	if errors.Is(err, storage.ErrCorrupt) {
		c.selfHeal(ctx, key, "corrupt", err)
		return paginate.Page{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		c.degrade("get", key, err)
		return paginate.Page{}, err
	}
	if !ok || e.Gen.Stale(cur) {
		return paginate.Page{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	c.metrics.Hit(ref.CollectionID)
	return paginate.Offset(e.Sequence, page, perPage, c.cfg.MaxPerPage)
}

// PageQuery resolves q through GetOrCompute and returns the requested page.
// Pagination parameters are checked before anything is loaded.
func (c *Cache) PageQuery(ctx context.Context, q Query, page, perPage int) (paginate.Page, Result, error) {
	if err := paginate.Validate(page, perPage); err != nil {
		return paginate.Page{}, Result{}, err
	}
	res, err := c.GetOrCompute(ctx, q)
	if err != nil {
		return paginate.Page{}, res, err
	}
	p, err := paginate.Offset(res.IDs, page, perPage, c.cfg.MaxPerPage)
	return p, res, err
}

// Next serves one cursor-mode window from src. Nothing is stored; the cursor
// carries the state.
func (c *Cache) Next(ctx context.Context, src paginate.Fetcher, cursor string, window int, p balance.Policy) (paginate.Window, error) {
	s := paginate.Streamer{
		Source:     src,
		Policy:     p,
		Multiplier: c.cfg.CursorBufferMultiplier,
		MaxWindow:  c.cfg.MaxPerPage,
	}
	return s.Next(ctx, cursor, window)
}

// BalanceRecords balances generic records without caching. Each record needs
// an "id" field and the typeField label.
func BalanceRecords(records []map[string]any, typeField string, p balance.Policy) ([]string, error) {
	items, err := balance.Records(records, "id", typeField)
	if err != nil {
		return nil, err
	}
	return balance.Balance(items, p)
}
