package poscache

import (
	"strings"
	"time"
)

// StorageKind names a storage backend family.
type StorageKind string

const (
	StorageMemory  StorageKind = "memory"
	StorageDurable StorageKind = "durable"
	StorageKV      StorageKind = "kv"
)

const (
	DefaultMaxPerPage             = 100
	DefaultCursorBufferMultiplier = 2.0
	defaultSweepInterval          = time.Minute
	defaultGenCleanup             = time.Hour
	defaultGenRetention           = 30 * 24 * time.Hour
	defaultPendingTimeout         = 10 * time.Minute
)

// Config is the whole configuration surface of a Cache. It is passed to New
// by value; nothing is read from process-wide state.
type Config struct {
	// Namespace prefixes every cache key. Required, must not contain '/'.
	Namespace string `yaml:"namespace"`
	// TTL of stored sequences. 0 keeps them until invalidated.
	TTL time.Duration `yaml:"ttl"`
	// MaxPerPage caps per_page in offset mode and the window in cursor mode.
	MaxPerPage int `yaml:"maxPerPage"`
	// CursorBufferMultiplier sizes the cursor-mode lookahead buffer as
	// window*multiplier. Must be > 1.
	CursorBufferMultiplier float64 `yaml:"cursorBufferMultiplier"`
	// BackgroundThreshold defers collections larger than this to the
	// Executor. 0 always computes inline.
	BackgroundThreshold int `yaml:"backgroundThreshold"`
	// PendingTimeout is how long a deferred computation may stay queued or
	// running before a later miss submits the key again.
	PendingTimeout time.Duration `yaml:"pendingTimeout"`
	// StorageBackend documents which backend family the caller wired. The
	// CLI uses it to build one.
	StorageBackend StorageKind `yaml:"storageBackend"`
	// FailClosed returns storage errors to the caller instead of computing
	// without the cache.
	FailClosed bool `yaml:"failClosed"`
	// Disabled computes every request inline and never touches storage.
	Disabled bool `yaml:"disabled"`

	SweepInterval      time.Duration `yaml:"sweepInterval"`
	GenCleanupInterval time.Duration `yaml:"genCleanupInterval"`
	GenRetention       time.Duration `yaml:"genRetention"`
}

// DefaultConfig returns a Config with every optional field set.
func DefaultConfig(namespace string) Config {
	return Config{Namespace: namespace}.withDefaults()
}

func (c Config) withDefaults() Config {
	c.MaxPerPage = coalesce(c.MaxPerPage, DefaultMaxPerPage)
	c.CursorBufferMultiplier = coalesce(c.CursorBufferMultiplier, DefaultCursorBufferMultiplier)
	c.StorageBackend = coalesce(c.StorageBackend, StorageMemory)
	c.SweepInterval = coalesce(c.SweepInterval, defaultSweepInterval)
	c.GenCleanupInterval = coalesce(c.GenCleanupInterval, defaultGenCleanup)
	c.GenRetention = coalesce(c.GenRetention, defaultGenRetention)
	c.PendingTimeout = coalesce(c.PendingTimeout, defaultPendingTimeout)
	return c
}

// Validate checks c after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.Namespace == "":
		return &ConfigurationError{Field: "namespace", Reason: "required"}
	case strings.Contains(c.Namespace, "/"):
		return &ConfigurationError{Field: "namespace", Reason: "must not contain '/'"}
	case c.TTL < 0:
		return &ConfigurationError{Field: "ttl", Reason: "must be >= 0 (0 = never expires)"}
	case c.MaxPerPage < 0:
		return &ConfigurationError{Field: "maxPerPage", Reason: "must be positive"}
	case c.CursorBufferMultiplier <= 1:
		return &ConfigurationError{Field: "cursorBufferMultiplier", Reason: "must be > 1.0"}
	case c.BackgroundThreshold < 0:
		return &ConfigurationError{Field: "backgroundThreshold", Reason: "must be >= 0"}
	case c.PendingTimeout < 0:
		return &ConfigurationError{Field: "pendingTimeout", Reason: "must be >= 0"}
	case c.SweepInterval < 0, c.GenCleanupInterval < 0, c.GenRetention < 0:
		return &ConfigurationError{Field: "intervals", Reason: "must be >= 0"}
	}
	switch c.StorageBackend {
	case StorageMemory, StorageDurable, StorageKV:
	default:
		return &ConfigurationError{Field: "storageBackend", Reason: "must be memory, durable or kv"}
	}
	return nil
}
