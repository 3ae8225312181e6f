package bigcache

import (
	"context"
	"errors"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/poscache/provider"
)

// Provider stores bytes in sharded ring buffers. BigCache has no per-entry
// TTL; every entry lives for LifeWindow. The kv backend still enforces the
// entry TTL from the wire header.
type Provider struct {
	c *bc.BigCache
}

var (
	_ pr.Provider      = (*Provider)(nil)
	_ pr.PrefixDeleter = (*Provider)(nil)
)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // 0 = unlimited
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	if err := p.c.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	err := p.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (p *Provider) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var doomed []string
	it := p.c.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.Key(), prefix) {
			doomed = append(doomed, info.Key())
		}
	}
	n := 0
	for _, k := range doomed {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := p.c.Delete(k); err == nil {
			n++
		}
	}
	return n, nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}
