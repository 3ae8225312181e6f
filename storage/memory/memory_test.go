package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/poscache/storage"
)

type clock struct{ ns atomic.Int64 }

func newClock() *clock {
	c := &clock{}
	c.ns.Store(time.Unix(1_700_000_000, 0).UnixNano())
	return c
}

func (c *clock) Now() time.Time          { return time.Unix(0, c.ns.Load()) }
func (c *clock) Advance(d time.Duration) { c.ns.Add(int64(d)) }

func entry(c *clock, key string, ttl time.Duration, ids ...string) storage.Entry {
	return storage.Entry{Key: key, Fingerprint: key, Sequence: ids, CreatedAt: c.Now(), TTL: ttl}
}

func TestSetGetTTL(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	s := New(Options{Now: c.Now})
	defer s.Close(ctx)

	if err := s.Set(ctx, entry(c, "ns/a/1", 10*time.Second, "1", "2")); err != nil {
		t.Fatal(err)
	}
	c.Advance(9 * time.Second)
	e, ok, err := s.Get(ctx, "ns/a/1")
	if err != nil || !ok || len(e.Sequence) != 2 {
		t.Fatalf("before expiry: %+v ok=%v err=%v", e, ok, err)
	}
	c.Advance(time.Second)
	if _, ok, _ := s.Get(ctx, "ns/a/1"); ok {
		t.Fatal("entry visible after TTL")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry not removed on read, len=%d", s.Len())
	}
}

func TestNoExpiry(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	s := New(Options{Now: c.Now})
	_ = s.Set(ctx, entry(c, "k", 0, "x"))
	c.Advance(24 * 365 * time.Hour)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("TTL 0 entry expired")
	}
	if n := s.Sweep(); n != 0 {
		t.Fatalf("swept %d", n)
	}
}

func TestReturnedSequenceIsCopy(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	s := New(Options{Now: c.Now})
	ids := []string{"a", "b"}
	_ = s.Set(ctx, entry(c, "k", 0, ids...))
	ids[0] = "mutated"
	e, _, _ := s.Get(ctx, "k")
	e.Sequence[1] = "mutated"
	again, _, _ := s.Get(ctx, "k")
	if again.Sequence[0] != "a" || again.Sequence[1] != "b" {
		t.Fatalf("stored sequence aliased: %v", again.Sequence)
	}
}

func TestOverwriteResetsDeadline(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	s := New(Options{Now: c.Now})
	_ = s.Set(ctx, entry(c, "k", time.Second, "old"))
	_ = s.Set(ctx, entry(c, "k", time.Hour, "new"))
	c.Advance(2 * time.Second)
	if n := s.Sweep(); n != 0 {
		t.Fatalf("stale heap node swept live entry (%d)", n)
	}
	e, ok, _ := s.Get(ctx, "k")
	if !ok || e.Sequence[0] != "new" {
		t.Fatalf("got %+v ok=%v", e, ok)
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	s := New(Options{Now: c.Now})
	for i := 0; i < 10; i++ {
		_ = s.Set(ctx, entry(c, fmt.Sprint(i), time.Duration(i+1)*time.Second, "x"))
	}
	c.Advance(5 * time.Second)
	if n := s.Sweep(); n != 5 {
		t.Fatalf("swept %d, want 5", n)
	}
	if s.Len() != 5 {
		t.Fatalf("len=%d", s.Len())
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	s := New(Options{Now: c.Now})
	for _, k := range []string{"ns/a/1", "ns/a/2", "ns/ab/1", "ns/b/1"} {
		_ = s.Set(ctx, entry(c, k, time.Minute, "x"))
	}
	_ = s.Delete(ctx, "ns/a/1")
	_ = s.Clear(ctx, "ns/a/")
	for k, want := range map[string]bool{"ns/a/1": false, "ns/a/2": false, "ns/ab/1": true, "ns/b/1": true} {
		if _, ok, _ := s.Get(ctx, k); ok != want {
			t.Fatalf("%s present=%v want %v", k, ok, want)
		}
	}
	if n := s.Sweep(); n != 0 {
		t.Fatalf("cleared entries left heap nodes (%d)", n)
	}
}

func TestBackgroundSweeper(t *testing.T) {
	ctx := context.Background()
	s := New(Options{SweepInterval: 5 * time.Millisecond})
	_ = s.Set(ctx, storage.Entry{Key: "k", CreatedAt: time.Now(), TTL: time.Millisecond})
	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never removed expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	_ = s.Close(ctx)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := fmt.Sprintf("k%d", i%16)
				_ = s.Set(ctx, storage.Entry{Key: k, CreatedAt: time.Now(), TTL: time.Minute, Sequence: []string{k}})
				_, _, _ = s.Get(ctx, k)
				if i%50 == 0 {
					_ = s.Clear(ctx, "k1")
				}
			}
		}(g)
	}
	wg.Wait()
}
