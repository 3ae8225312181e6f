package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/poscache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

const (
	defaultScanCount = 500
	unlinkBatch      = 256
)

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	scanCount   int64
}

var (
	_ pr.Provider      = (*Redis)(nil)
	_ pr.PrefixDeleter = (*Redis)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client
	ScanCount   int64
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	sc := cfg.ScanCount
	if sc <= 0 {
		sc = defaultScanCount
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient, scanCount: sc}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// DeletePrefix walks the keyspace with SCAN MATCH and UNLINKs matches in
// batches. On a cluster client the scan runs on every master.
func (p *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := globEscape(prefix) + "*"
	if cc, ok := p.rdb.(*goredis.ClusterClient); ok {
		var (
			mu    sync.Mutex
			total int
		)
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *goredis.Client) error {
			n, err := deleteMatching(ctx, node, pattern, p.scanCount)
			mu.Lock()
			total += n
			mu.Unlock()
			return err
		})
		return total, err
	}
	return deleteMatching(ctx, p.rdb, pattern, p.scanCount)
}

func deleteMatching(ctx context.Context, c goredis.Cmdable, pattern string, count int64) (int, error) {
	var (
		cursor  uint64
		deleted int
		batch   = make([]string, 0, unlinkBatch)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.Unlink(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return deleted, err
		}
		for _, k := range keys {
			batch = append(batch, k)
			if len(batch) == unlinkBatch {
				if err := flush(); err != nil {
					return deleted, err
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, flush()
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string { return globReplacer.Replace(s) }

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
