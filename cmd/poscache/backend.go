package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/poscache"
	"github.com/unkn0wn-root/poscache/codec"
	"github.com/unkn0wn-root/poscache/genstore"
	"github.com/unkn0wn-root/poscache/provider"
	pbigcache "github.com/unkn0wn-root/poscache/provider/bigcache"
	pdynamo "github.com/unkn0wn-root/poscache/provider/dynamo"
	pnats "github.com/unkn0wn-root/poscache/provider/natskv"
	predis "github.com/unkn0wn-root/poscache/provider/redis"
	pristretto "github.com/unkn0wn-root/poscache/provider/ristretto"
	"github.com/unkn0wn-root/poscache/storage"
	"github.com/unkn0wn-root/poscache/storage/kv"
	"github.com/unkn0wn-root/poscache/storage/memory"
	"github.com/unkn0wn-root/poscache/storage/sqltable"
)

// wiring is what a backend choice contributes to poscache.Options.
type wiring struct {
	backend storage.Backend
	gens    genstore.GenStore // nil = in-process counters
	closers []func() error
}

func (w *wiring) close() error {
	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		errs = append(errs, w.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, fc fileConfig) (*wiring, error) {
	w := &wiring{}
	switch fc.Cache.StorageBackend {
	case "", poscache.StorageMemory:
		w.backend = memory.New(memory.Options{SweepInterval: fc.Cache.SweepInterval})
	case poscache.StorageDurable:
		db, err := sql.Open("sqlite", fc.Durable.DSN)
		if err != nil {
			return nil, storage.Unavailable("sqlite", "open", err)
		}
		// sqlite allows one writer
		db.SetMaxOpenConns(1)
		w.closers = append(w.closers, db.Close)
		st, err := sqltable.New(ctx, db, sqltable.Options{
			Dialect:     sqltable.ParseDialect("sqlite"),
			Table:       fc.Durable.Table,
			AutoMigrate: true,
		})
		if err != nil {
			_ = w.close()
			return nil, err
		}
		w.backend = st
	case poscache.StorageKV:
		p, err := openProvider(ctx, fc, w)
		if err != nil {
			_ = w.close()
			return nil, err
		}
		seq, err := sequenceCodec(fc.KV)
		if err != nil {
			_ = w.close()
			return nil, err
		}
		b, err := kv.New(kv.Options{Name: fc.KV.Provider, Provider: p, Codec: seq})
		if err != nil {
			_ = w.close()
			return nil, err
		}
		w.backend = b
	default:
		return nil, &poscache.ConfigurationError{Field: "storageBackend", Reason: fmt.Sprintf("unknown backend %q", fc.Cache.StorageBackend)}
	}
	return w, nil
}

func sequenceCodec(c kvConfig) (codec.Sequence, error) {
	inner, err := codec.ByName(c.Codec)
	if err != nil {
		return nil, &poscache.ConfigurationError{Field: "kv.codec", Reason: err.Error()}
	}
	algo, err := codec.ParseAlgorithm(c.Compression)
	if err != nil {
		return nil, &poscache.ConfigurationError{Field: "kv.compression", Reason: err.Error()}
	}
	if algo == codec.None {
		return inner, nil
	}
	return codec.Compressed[[]string]{Inner: inner, Algo: algo, MinSize: c.MinCompressSize}, nil
}

func openProvider(ctx context.Context, fc fileConfig, w *wiring) (provider.Provider, error) {
	c := fc.KV
	switch c.Provider {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, storage.Unavailable("redis", "ping", err)
		}
		if c.Redis.SharedGenerations {
			gs, err := genstore.NewRedis(genstore.RedisOptions{
				Client:    rdb,
				Namespace: fc.Cache.Namespace,
				TTL:       fc.Cache.GenRetention,
			})
			if err != nil {
				_ = rdb.Close()
				return nil, err
			}
			w.gens = gs
		}
		return predis.New(predis.Config{Client: rdb, CloseClient: true})

	case "nats":
		nc, err := nats.Connect(c.NATS.URL, nats.Name("poscache"))
		if err != nil {
			return nil, storage.Unavailable("nats", "connect", err)
		}
		w.closers = append(w.closers, func() error { nc.Close(); return nil })
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, storage.Unavailable("nats", "jetstream", err)
		}
		return pnats.New(ctx, pnats.Config{
			JetStream: js,
			Bucket:    c.NATS.Bucket,
			TTL:       c.NATS.TTL,
			Replicas:  c.NATS.Replicas,
		})

	case "dynamo", "dynamodb":
		var opts []func(*awsconfig.LoadOptions) error
		if c.Dynamo.Region != "" {
			opts = append(opts, awsconfig.WithRegion(c.Dynamo.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, storage.Unavailable("dynamo", "config", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if c.Dynamo.Endpoint != "" {
				o.BaseEndpoint = aws.String(c.Dynamo.Endpoint)
			}
		})
		return pdynamo.New(pdynamo.Config{Client: client, Table: c.Dynamo.Table})

	case "ristretto":
		maxCost := c.Ristretto.MaxCostMB << 20
		return pristretto.New(pristretto.Config{
			NumCounters: maxCost / 100,
			MaxCost:     maxCost,
			BufferItems: 64,
		})

	case "bigcache":
		life := c.BigCache.LifeWindow
		if life <= 0 {
			life = 10 * time.Minute
		}
		return pbigcache.New(ctx, pbigcache.Config{
			LifeWindow:         life,
			HardMaxCacheSizeMB: c.BigCache.HardMaxMB,
			MaxEntrySize:       c.BigCache.MaxEntrySize,
		})
	}
	return nil, &poscache.ConfigurationError{Field: "kv.provider", Reason: fmt.Sprintf("unknown provider %q", c.Provider)}
}
