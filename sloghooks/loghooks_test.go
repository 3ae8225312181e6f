package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBuf() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestKeysAreRedacted(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{})
	h.SelfHeal("ns/feed/secret", "corrupt")

	out := buf.String()
	if !strings.Contains(out, "poscache.self_heal") || !strings.Contains(out, "reason=corrupt") {
		t.Fatalf("unexpected output: %s", out)
	}
	if strings.Contains(out, "secret") {
		t.Fatalf("key leaked: %s", out)
	}
}

func TestCustomRedactor(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{Redact: func(k string) string { return "K" }})
	h.InvalidateOutage("ns/feed/fp", errors.New("bump"), errors.New("del"))
	if !strings.Contains(buf.String(), "key=K") {
		t.Fatalf("redactor not used: %s", buf.String())
	}
}

func TestSampling(t *testing.T) {
	buf, l := newBuf()
	h := New(l, Options{DegradedEvery: 3})
	for i := 0; i < 9; i++ {
		h.StorageDegraded("get", errors.New("timeout"))
	}
	if n := strings.Count(buf.String(), "poscache.storage_degraded"); n != 3 {
		t.Fatalf("expected 3 sampled lines, got %d", n)
	}
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.ComputationDeferred("k", 10)
	h.GenBumpError("k", errors.New("x"))
}
