package asynchook

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/poscache"
)

type counting struct {
	poscache.NopHooks
	mu   sync.Mutex
	keys []string
}

func (c *counting) SelfHeal(k, _ string) {
	c.mu.Lock()
	c.keys = append(c.keys, k)
	c.mu.Unlock()
}

func TestCloseDeliversQueued(t *testing.T) {
	inner := &counting{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.SelfHeal("k", "corrupt")
	}
	h.Close()
	if len(inner.keys) != 10 {
		t.Fatalf("delivered %d of 10", len(inner.keys))
	}
	if h.Dropped() != 0 {
		t.Fatalf("dropped %d", h.Dropped())
	}
}

func TestDropsAfterClose(t *testing.T) {
	inner := &counting{}
	h := New(inner, 1, 1)
	h.Close()
	h.SelfHeal("late", "corrupt")
	h.Close()
	if h.Dropped() != 1 || len(inner.keys) != 0 {
		t.Fatalf("dropped=%d delivered=%d", h.Dropped(), len(inner.keys))
	}
}
