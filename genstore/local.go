package genstore

import (
	"context"
	"sync"
	"time"
)

type localGen struct {
	gen       uint64
	updatedAt time.Time
}

type LocalOptions struct {
	// CleanupInterval and Retention enable a background pruning loop when
	// both are positive.
	CleanupInterval time.Duration
	Retention       time.Duration
	Now             func() time.Time
}

// Local keeps generations in-process.
type Local struct {
	mu     sync.RWMutex
	gens   map[string]localGen
	now    func() time.Time
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*Local)(nil)

func NewLocal(opts LocalOptions) *Local {
	s := &Local{gens: make(map[string]localGen), now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.CleanupInterval > 0 && opts.Retention > 0 {
		s.ticker = time.NewTicker(opts.CleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(opts.Retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[k].gen
	s.mu.RUnlock()
	return g, nil
}

// SnapshotMany reads every key under one read lock.
func (s *Local) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	s.mu.RLock()
	for _, k := range ks {
		out[k] = s.gens[k].gen
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	now := s.now()
	s.mu.Lock()
	g := s.gens[k]
	g.gen++
	g.updatedAt = now
	s.gens[k] = g
	s.mu.Unlock()
	return g.gen, nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	for k, g := range s.gens {
		if g.updatedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
