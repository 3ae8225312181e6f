// Package sloghooks reports cache events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/poscache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	DegradedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	degradedCtr atomic.Uint64
}

var _ poscache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("poscache.self_heal",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) StaleWriteDropped(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("poscache.stale_write_dropped",
		"key", h.redact(key))
}

func (h *Hooks) StorageDegraded(op string, err error) {
	if h.l == nil || !sample(h.opts.DegradedEvery, &h.degradedCtr) {
		return
	}
	h.l.Warn("poscache.storage_degraded",
		"op", op,
		"err", err)
}

func (h *Hooks) ComputationDeferred(key string, size int) {
	if h.l == nil {
		return
	}
	h.l.Info("poscache.computation_deferred",
		"key", h.redact(key),
		"size", size)
}

func (h *Hooks) GenSnapshotError(count int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("poscache.gen_snapshot_error",
		"count", count,
		"err", err)
}

func (h *Hooks) GenBumpError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("poscache.gen_bump_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) InvalidateOutage(key string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("poscache.invalidate_outage",
		"key", h.redact(key),
		"bump_err", bumpErr,
		"del_err", delErr)
}
