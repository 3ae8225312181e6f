package singleflight

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Group coalesces concurrent calls for the same key so that fn runs at
// most once per key at a time. Other callers wait for the shared result.
//
// fn runs on its own goroutine with a context that keeps the first caller's
// values but not its cancellation. Every caller, the first one included,
// waits on the call's done channel or on its own ctx. A caller whose ctx
// ends returns ctx.Err() and the work keeps going for the others; when the
// last waiter leaves, the work ctx is cancelled and the key is released so
// a later call starts fresh. The result is published before done is
// closed, and the in-flight marker is removed as soon as fn returns.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done    chan struct{}
	cancel  context.CancelFunc
	val     V
	err     error
	waiters int
	dups    int
}

// PanicError is returned to every waiter when fn panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("singleflight: fn panicked: %v\n\n%s", e.Value, e.Stack)
}

// Do runs fn once for key. shared reports whether v was handed to more
// than one caller.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(ctx context.Context) (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	c, ok := g.m[key]
	if ok {
		c.dups++
	} else {
		work, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call[V]{done: make(chan struct{}), cancel: cancel}
		g.m[key] = c
		go g.run(work, key, c, fn)
	}
	c.waiters++
	g.mu.Unlock()

	select {
	case <-c.done:
		g.mu.Lock()
		c.waiters--
		shared = c.dups > 0
		g.mu.Unlock()
		return c.val, shared, c.err
	case <-ctx.Done():
		g.mu.Lock()
		c.waiters--
		if c.waiters == 0 {
			c.cancel()
			if g.m[key] == c {
				delete(g.m, key)
			}
		}
		shared = c.dups > 0
		g.mu.Unlock()
		var zero V
		return zero, shared, ctx.Err()
	}
}

func (g *Group[K, V]) run(ctx context.Context, key K, c *call[V], fn func(ctx context.Context) (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			c.val, c.err = zero, &PanicError{Value: r, Stack: debug.Stack()}
		}
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		c.cancel()
		close(c.done)
	}()
	c.val, c.err = fn(ctx)
}

// InFlight reports whether a call for key is currently running.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

// Waiters returns how many callers are waiting on the call for key.
func (g *Group[K, V]) Waiters(key K) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		return c.waiters
	}
	return 0
}
