package storage

import (
	"errors"
	"io"
	"testing"
	"time"
)

func TestEntryExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	e := Entry{CreatedAt: now, TTL: time.Minute}
	if e.Expired(now.Add(59 * time.Second)) {
		t.Fatal("expired too early")
	}
	if !e.Expired(now.Add(time.Minute)) {
		t.Fatal("not expired at deadline")
	}
	forever := Entry{CreatedAt: now}
	if !forever.ExpiresAt().IsZero() || forever.Expired(now.Add(100*365*24*time.Hour)) {
		t.Fatal("TTL 0 entry expired")
	}
}

func TestEntryClone(t *testing.T) {
	e := Entry{Sequence: []string{"a", "b"}}
	c := e.Clone()
	c.Sequence[0] = "z"
	if e.Sequence[0] != "a" {
		t.Fatal("clone shares sequence storage")
	}
}

func TestGenerationStale(t *testing.T) {
	cur := Generation{Scope: 2, Key: 5}
	cases := []struct {
		g    Generation
		want bool
	}{
		{Generation{2, 5}, false},
		{Generation{1, 5}, true},
		{Generation{2, 4}, true},
		{Generation{2, 6}, true}, // counters pruned after the entry was written
	}
	for _, tc := range cases {
		if got := tc.g.Stale(cur); got != tc.want {
			t.Fatalf("%+v.Stale(%+v) = %v", tc.g, cur, got)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := Unavailable("redis", "get", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("unexpected chain: %v", err)
	}
	if again := Unavailable("kv", "get", err); again != err {
		t.Fatal("double wrapped")
	}
	if Unavailable("x", "y", nil) != nil {
		t.Fatal("nil not preserved")
	}
	c := &CorruptionError{Key: "k", Err: io.ErrShortBuffer}
	if !errors.Is(c, ErrCorrupt) || !errors.Is(c, io.ErrShortBuffer) {
		t.Fatal("corruption error chain")
	}
}
