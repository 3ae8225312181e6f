// Package poscache computes and caches type-balanced orderings of
// collections.
//
// A balanced ordering interleaves items by a type label in round-robin
// fashion (video, image, article, video, image, ...). Computing it needs the
// whole collection, so results are cached per fingerprint: a hash of the
// collection's version token and every option that affects the output.
//
// Components:
//   - balance: the round-robin algorithm and its type-order policies.
//   - fingerprint: stable keys from (version token, options).
//   - storage: backends for sequences (memory, sqltable, kv over a provider).
//   - genstore: invalidation counters, in-process or in Redis.
//   - paginate: offset pages over a cached sequence and cursor streaming
//     over collections too large to load.
//   - executor: in-process pool for deferred computations.
//
// Keys:
//
//	{namespace}/{collection}/{fingerprint}
//
// Generation protocol. Every entry carries the (scope, key) counters that
// were current before its items were read. Reads reject entries whose
// counters differ from the current ones; writes are dropped when the
// counters moved during computation. Invalidate bumps a counter and then
// deletes, so a computation that started before an invalidation can never
// publish its result after it.
//
//	res, err := cache.GetOrCompute(ctx, poscache.Query{
//	    CollectionID: "feed",
//	    VersionToken: maxUpdatedAt,
//	    TypeField:    "kind",
//	    Items:        loadFeed,
//	})
package poscache
