package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/poscache"
)

// fileConfig is the YAML layout read by -config.
//
//	cache:
//	  namespace: catalog
//	  ttl: 10m
//	  storageBackend: kv
//	kv:
//	  provider: redis
//	  codec: msgpack
//	  compression: zstd
//	  redis:
//	    addr: localhost:6379
type fileConfig struct {
	Cache    poscache.Config `yaml:"cache"`
	KV       kvConfig        `yaml:"kv"`
	Durable  durableConfig   `yaml:"durable"`
	Executor executorConfig  `yaml:"executor"`
}

type kvConfig struct {
	Provider    string `yaml:"provider"`
	Codec       string `yaml:"codec"`
	Compression string `yaml:"compression"`
	// MinCompressSize skips compression for smaller payloads.
	MinCompressSize int `yaml:"minCompressSize"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// SharedGenerations keeps invalidation counters in the same Redis.
		SharedGenerations bool `yaml:"sharedGenerations"`
	} `yaml:"redis"`

	NATS struct {
		URL      string        `yaml:"url"`
		Bucket   string        `yaml:"bucket"`
		TTL      time.Duration `yaml:"ttl"`
		Replicas int           `yaml:"replicas"`
	} `yaml:"nats"`

	Dynamo struct {
		Table    string `yaml:"table"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"dynamo"`

	Ristretto struct {
		MaxCostMB int64 `yaml:"maxCostMB"`
	} `yaml:"ristretto"`

	BigCache struct {
		LifeWindow   time.Duration `yaml:"lifeWindow"`
		HardMaxMB    int           `yaml:"hardMaxMB"`
		MaxEntrySize int           `yaml:"maxEntrySize"`
	} `yaml:"bigcache"`
}

type durableConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type executorConfig struct {
	Workers       int     `yaml:"workers"`
	QueueSize     int     `yaml:"queueSize"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
}

func defaultFileConfig() fileConfig {
	var fc fileConfig
	fc.Cache = poscache.Config{Namespace: "poscache"}
	fc.KV.Provider = "redis"
	fc.KV.Redis.Addr = "localhost:6379"
	fc.KV.NATS.URL = "nats://127.0.0.1:4222"
	fc.KV.Dynamo.Table = "poscache"
	fc.KV.Ristretto.MaxCostMB = 64
	fc.KV.BigCache.LifeWindow = 10 * time.Minute
	fc.Durable.DSN = "poscache.db"
	return fc
}

// loadConfig reads path over the defaults. An empty path returns the defaults.
func loadConfig(path string) (fileConfig, error) {
	fc := defaultFileConfig()
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, &poscache.ConfigurationError{Field: "file", Reason: err.Error()}
	}
	return fc, nil
}
