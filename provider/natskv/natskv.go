// Package natskv stores cache payloads in a NATS JetStream key-value bucket.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	pr "github.com/unkn0wn-root/poscache/provider"
)

var ErrNilJetStream = errors.New("natskv provider: nil jetstream")

type Config struct {
	JetStream jetstream.JetStream
	Bucket    string
	// TTL is the bucket-wide max age. JetStream KV has no per-key TTL, so
	// per-entry expiry relies on the deadline stored in the entry itself.
	TTL        time.Duration
	Replicas   int
	MaxRetries int
}

type Provider struct {
	kv jetstream.KeyValue
}

var (
	_ pr.Provider      = (*Provider)(nil)
	_ pr.PrefixDeleter = (*Provider)(nil)
)

// New creates the bucket or opens it when another process already has.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.JetStream == nil {
		return nil, ErrNilJetStream
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "poscache"
	}
	kv, err := ensureBucket(ctx, cfg.JetStream, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		TTL:      cfg.TTL,
		Replicas: cfg.Replicas,
	}, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	return &Provider{kv: kv}, nil
}

func ensureBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig, maxRetries int) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}
		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("natskv: open bucket %s after %d attempts: %w", cfg.Bucket, maxRetries, lastErr)
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, err := p.kv.Get(ctx, EscapeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value(), true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	if _, err := p.kv.Put(ctx, EscapeKey(key), value); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	err := p.kv.Delete(ctx, EscapeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// DeletePrefix lists the bucket and deletes keys whose escaped form starts
// with the escaped prefix. Escaping is byte-wise, so prefixes are preserved.
func (p *Provider) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	want := EscapeKey(prefix)
	lister, err := p.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return 0, nil
		}
		return 0, err
	}
	var doomed []string
	for k := range lister.Keys() {
		if strings.HasPrefix(k, want) {
			doomed = append(doomed, k)
		}
	}
	_ = lister.Stop()

	n := 0
	for _, k := range doomed {
		if err := p.kv.Delete(ctx, k); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}

// Close is a no-op; the caller owns the NATS connection.
func (p *Provider) Close(context.Context) error { return nil }

// EscapeKey maps a cache key onto the NATS KV key alphabet. '/' becomes '.',
// bytes outside [A-Za-z0-9_-] become =XX.
func EscapeKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c == '/':
			b.WriteByte('.')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}
