package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares generations across processes and survives restarts.
// With a TTL, idle counters expire; readers then see 0, which differs from
// any entry written under a bumped counter, so such entries recompute.
type Redis struct {
	rdb         redis.UniversalClient
	ns          string
	ttl         time.Duration
	closeClient bool
}

var _ GenStore = (*Redis)(nil)

type RedisOptions struct {
	Client    redis.UniversalClient
	Namespace string
	// TTL refreshes on every bump; 0 keeps counters forever.
	TTL         time.Duration
	CloseClient bool
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Client == nil {
		return nil, errors.New("genstore: nil redis client")
	}
	return &Redis{rdb: opts.Client, ns: opts.Namespace, ttl: opts.TTL, closeClient: opts.CloseClient}, nil
}

func (s *Redis) key(k string) string { return "gen:" + s.ns + ":" + k }

func (s *Redis) Snapshot(ctx context.Context, k string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(k)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// SnapshotMany reads all counters with one MGET.
func (s *Redis) SnapshotMany(ctx context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	if len(ks) == 0 {
		return out, nil
	}
	full := make([]string, len(ks))
	for i, k := range ks {
		full[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if v == nil {
			out[ks[i]] = 0
			continue
		}
		u, err := strconv.ParseUint(fmt.Sprint(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis gen parse at %s: %w", ks[i], err)
		}
		out[ks[i]] = u
	}
	return out, nil
}

// Bump increments the counter. With a TTL, INCR and EXPIRE share one
// pipeline round-trip.
func (s *Redis) Bump(ctx context.Context, k string) (uint64, error) {
	full := s.key(k)
	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, full).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}
	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, full)
		p.Expire(ctx, full, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

func (s *Redis) Cleanup(time.Duration) {}

func (s *Redis) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
