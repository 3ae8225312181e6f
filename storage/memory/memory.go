// Package memory is the in-process storage backend.
package memory

import (
	"container/heap"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/poscache/storage"
)

type Options struct {
	// SweepInterval controls how often expired entries are purged.
	// 0 disables the sweeper; expired entries are still hidden from Get.
	SweepInterval time.Duration
	Now           func() time.Time
}

type slot struct {
	entry storage.Entry
	exp   *expiry // nil when the entry never expires
}

// Store keeps entries in a map with a min-heap of deadlines.
type Store struct {
	mu      sync.Mutex
	entries map[string]*slot
	byTime  expiryHeap
	now     func() time.Time

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ storage.Backend = (*Store)(nil)

func New(opts Options) *Store {
	s := &Store{
		entries: make(map[string]*slot),
		now:     opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.SweepInterval > 0 {
		s.ticker = time.NewTicker(opts.SweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Sweep()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) (storage.Entry, bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.entries[key]
	if !ok {
		return storage.Entry{}, false, nil
	}
	if sl.entry.Expired(now) {
		s.removeLocked(key, sl)
		return storage.Entry{}, false, nil
	}
	return sl.entry.Clone(), true, nil
}

func (s *Store) Set(_ context.Context, e storage.Entry) error {
	e = e.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[e.Key]; ok {
		s.removeLocked(e.Key, old)
	}
	sl := &slot{entry: e}
	if exp := e.ExpiresAt(); !exp.IsZero() {
		sl.exp = &expiry{key: e.Key, at: exp}
		heap.Push(&s.byTime, sl.exp)
	}
	s.entries[e.Key] = sl
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	if sl, ok := s.entries[key]; ok {
		s.removeLocked(key, sl)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Clear(_ context.Context, prefix string) error {
	s.mu.Lock()
	for k, sl := range s.entries {
		if strings.HasPrefix(k, prefix) {
			s.removeLocked(k, sl)
		}
	}
	s.mu.Unlock()
	return nil
}

// Sweep drops every entry whose deadline has passed and returns how many
// were removed.
func (s *Store) Sweep() int {
	now := s.now()
	n := 0
	s.mu.Lock()
	for s.byTime.Len() > 0 && !now.Before(s.byTime[0].at) {
		x := heap.Pop(&s.byTime).(*expiry)
		x.index = -1
		delete(s.entries, x.key)
		n++
	}
	s.mu.Unlock()
	return n
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}

func (s *Store) removeLocked(key string, sl *slot) {
	if sl.exp != nil && sl.exp.index >= 0 {
		heap.Remove(&s.byTime, sl.exp.index)
	}
	delete(s.entries, key)
}

type expiry struct {
	key   string
	at    time.Time
	index int
}

type expiryHeap []*expiry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*expiry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
