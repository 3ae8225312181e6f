// Package kv adapts a byte Provider into a storage.Backend.
//
// Each entry is stored as one framed value: a wire header carrying
// generations, timestamps and owner metadata, followed by the codec-encoded
// sequence. Values that fail framing or decoding surface as
// storage.CorruptionError and are deleted so the next read recomputes.
package kv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/unkn0wn-root/poscache/codec"
	"github.com/unkn0wn-root/poscache/internal/wire"
	"github.com/unkn0wn-root/poscache/provider"
	"github.com/unkn0wn-root/poscache/storage"
)

type Options struct {
	// Name labels errors and metrics, e.g. "redis" or "nats".
	Name     string
	Provider provider.Provider
	Codec    codec.Sequence // default msgpack
	Now      func() time.Time
}

type Backend struct {
	name  string
	p     provider.Provider
	codec codec.Sequence
	now   func() time.Time
}

var _ storage.Backend = (*Backend)(nil)

var ErrNilProvider = errors.New("kv: nil provider")

func New(opts Options) (*Backend, error) {
	if opts.Provider == nil {
		return nil, ErrNilProvider
	}
	b := &Backend{
		name:  opts.Name,
		p:     opts.Provider,
		codec: opts.Codec,
		now:   opts.Now,
	}
	if b.name == "" {
		b.name = "kv"
	}
	if b.codec == nil {
		b.codec = codec.Msgpack[[]string]{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b, nil
}

func (b *Backend) Get(ctx context.Context, key string) (storage.Entry, bool, error) {
	raw, ok, err := b.p.Get(ctx, key)
	if err != nil {
		return storage.Entry{}, false, storage.Unavailable(b.name, "get", err)
	}
	if !ok {
		return storage.Entry{}, false, nil
	}

	h, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		return storage.Entry{}, false, b.corrupt(ctx, key, err)
	}
	seq, err := b.codec.Decode(payload)
	if err != nil {
		return storage.Entry{}, false, b.corrupt(ctx, key, err)
	}

	e := storage.Entry{
		Key:         key,
		Fingerprint: fingerprintOf(key),
		ItemType:    h.ItemType,
		TypeField:   h.TypeField,
		Sequence:    seq,
		Gen:         storage.Generation{Scope: h.ScopeGen, Key: h.KeyGen},
		CreatedAt:   h.CreatedAt,
		TTL:         h.TTL,
	}
	if e.Sequence == nil {
		e.Sequence = []string{}
	}
	if e.Expired(b.now()) {
		_ = b.p.Del(ctx, key)
		return storage.Entry{}, false, nil
	}
	return e, true, nil
}

func (b *Backend) Set(ctx context.Context, e storage.Entry) error {
	payload, err := b.codec.Encode(e.Sequence)
	if err != nil {
		return err
	}
	framed, err := wire.EncodeEntry(wire.Header{
		ScopeGen:  e.Gen.Scope,
		KeyGen:    e.Gen.Key,
		CreatedAt: e.CreatedAt,
		TTL:       e.TTL,
		ItemType:  e.ItemType,
		TypeField: e.TypeField,
	}, payload)
	if err != nil {
		return err
	}

	ttl := e.TTL
	if ttl > 0 {
		// provider TTL counts from now, the entry TTL from CreatedAt
		ttl = e.ExpiresAt().Sub(b.now())
		if ttl <= 0 {
			return nil
		}
	}
	if _, err := b.p.Set(ctx, e.Key, framed, int64(len(framed)), ttl); err != nil {
		return storage.Unavailable(b.name, "set", err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return storage.Unavailable(b.name, "delete", b.p.Del(ctx, key))
}

// Clear requires a provider implementing provider.PrefixDeleter.
func (b *Backend) Clear(ctx context.Context, prefix string) error {
	pd, ok := b.p.(provider.PrefixDeleter)
	if !ok {
		return storage.ErrClearUnsupported
	}
	_, err := pd.DeletePrefix(ctx, prefix)
	return storage.Unavailable(b.name, "clear", err)
}

func (b *Backend) Close(ctx context.Context) error { return b.p.Close(ctx) }

func (b *Backend) corrupt(ctx context.Context, key string, cause error) error {
	_ = b.p.Del(ctx, key)
	return &storage.CorruptionError{Key: key, Err: cause}
}

func fingerprintOf(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
