// Package executor runs deferred sequence computations on a bounded worker
// pool. Submit never blocks: a full queue is reported to the cache, which
// answers the request with ErrNotReady and tries again on the next miss.
package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/poscache"
)

var (
	ErrQueueFull = errors.New("executor: queue full")
	ErrClosed    = errors.New("executor: closed")
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// Handler computes one request. The default calls req.Run.
type Handler func(ctx context.Context, req *poscache.ComputeRequest) error

type Options struct {
	Workers   int // default 2
	QueueSize int // default 64
	// RatePerSecond limits how many computations start per second. 0 = no limit.
	RatePerSecond float64
	Burst         int
	// Timeout bounds a single computation. 0 = none.
	Timeout time.Duration
	Handler Handler
	Logger  poscache.Logger
}

// Stats are cumulative counters.
type Stats struct {
	Submitted uint64
	Rejected  uint64
	Completed uint64
	Failed    uint64
}

// Pool implements poscache.Executor.
type Pool struct {
	queue   chan *poscache.ComputeRequest
	limiter *rate.Limiter
	timeout time.Duration
	handle  Handler
	log     poscache.Logger

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	mu     sync.RWMutex
	closed bool

	submitted, rejected, completed, failed atomic.Uint64
}

var _ poscache.Executor = (*Pool)(nil)

// New starts the workers. Stop them with Close.
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	p := &Pool{
		queue:   make(chan *poscache.ComputeRequest, opts.QueueSize),
		timeout: opts.Timeout,
		handle:  opts.Handler,
		log:     opts.Logger,
	}
	if p.handle == nil {
		p.handle = func(ctx context.Context, req *poscache.ComputeRequest) error { return req.Run(ctx) }
	}
	if p.log == nil {
		p.log = poscache.NopLogger{}
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.g = &errgroup.Group{}
	for i := 0; i < opts.Workers; i++ {
		p.g.Go(p.work)
	}
	return p
}

// Submit queues req without blocking.
func (p *Pool) Submit(req *poscache.ComputeRequest) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- req:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

func (p *Pool) work() error {
	for req := range p.queue {
		if p.limiter != nil {
			if err := p.limiter.Wait(p.ctx); err != nil {
				// pool is being torn down; drop the rest and let the cache
				// submit them again
				p.failed.Add(1)
				req.Abandon()
				continue
			}
		}
		p.run(req)
	}
	return nil
}

func (p *Pool) run(req *poscache.ComputeRequest) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := p.handle(ctx, req); err != nil {
		p.failed.Add(1)
		p.log.Error("deferred compute failed", poscache.Fields{"key": req.Key, "err": err})
		return
	}
	p.completed.Add(1)
	p.log.Debug("deferred compute done", poscache.Fields{
		"key":   req.Key,
		"size":  req.Size,
		"took":  time.Since(start),
		"queue": time.Since(req.SubmittedAt),
	})
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close stops accepting work and waits for queued requests to finish. When
// ctx ends first, running computations are cancelled and ctx.Err() returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.g.Wait() }()
	select {
	case err := <-done:
		p.cancel()
		return err
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
