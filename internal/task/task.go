// Package task implements a small cooperatively-scheduled task runtime.
//
// A task runs on an ordinary goroutine but never blocks a worker thread on
// network I/O: whenever it needs to wait for something external (an HTTP
// response, in this codebase) it calls [Handle.Await], which parks the
// goroutine on a channel until some other goroutine — typically an HTTP
// completion callback — calls [Handle.Wake]. This is the cooperatively
// scheduled runtime that internal/acme's order state machine drives: it
// suspends at exactly one point per state/phase transition (RFC 8555 request
// boundaries) and resumes via a callback posted by the HTTP client.
package task

import (
	"context"
	"runtime"
	"sync"
)

// Some of the code here is inspired by (or taken from) komuw-ong's own
// errgroup-style pool (github.com/komuw/ong/sync), generalized so that each
// spawned function receives a [Handle] it can suspend itself on, instead of
// running to completion synchronously.

// Signal is delivered to a parked task to indicate why it was woken.
type Signal int

const (
	// SignalInit wakes a freshly spawned task for its first step.
	SignalInit Signal = iota
	// SignalIOComplete wakes a task whose in-flight HTTP request has completed.
	SignalIOComplete
	// SignalAdvance wakes a task that rearmed itself after advancing state without any I/O.
	SignalAdvance
)

// Handle is passed to a task's body and lets it suspend itself until woken,
// and lets external callbacks (an HTTP completion callback, or the task
// itself) wake it back up.
type Handle struct {
	wake chan Signal
}

func newHandle() *Handle {
	return &Handle{wake: make(chan Signal, 1)}
}

// Await suspends the calling goroutine until [Handle.Wake] is called.
// The goroutine is parked on a channel receive; it does not spin.
func (h *Handle) Await() Signal {
	return <-h.wake
}

// Wake resumes a task parked in [Handle.Await]. It is safe to call from any
// goroutine, including an HTTP client's completion callback, and it never
// blocks: if the task has not yet reached its Await call the signal is
// buffered, and a signal that arrives while one is already buffered replaces
// it — a task never needs to process more than the most recent wake reason.
func (h *Handle) Wake(s Signal) {
	select {
	case h.wake <- s:
		return
	default:
	}
	select {
	case <-h.wake:
	default:
	}
	select {
	case h.wake <- s:
	default:
	}
}

// Runtime is a cooperatively-scheduled, concurrency-limited task pool.
type Runtime struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	panicky interface{}
}

// New returns a Runtime that runs at most n tasks concurrently.
// If n<=0, the limit is set to runtime.NumCPU().
func New(n int) *Runtime {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Runtime{sem: make(chan struct{}, n)}
}

// Spawn starts fn in a new task anywhere in the pool and returns immediately;
// fn runs in its own goroutine and is handed a [Handle] it can suspend itself
// on. Spawn never blocks: when the pool is full, the task's goroutine waits
// for a concurrency slot before running fn. The caller typically calls
// h.Wake(SignalInit) right after Spawn to arm the task's first step.
func (r *Runtime) Spawn(fn func(ctx context.Context, h *Handle)) *Handle {
	h := newHandle()
	r.wg.Add(1)

	go func() {
		r.sem <- struct{}{}
		defer func() {
			<-r.sem
			if v := recover(); v != nil {
				r.mu.Lock()
				r.panicky = addStack(v)
				r.mu.Unlock()
			}
			r.wg.Done()
		}()

		fn(context.Background(), h)
	}()

	return h
}

// Wait blocks until every task spawned by r has returned, then re-panics
// with the last recovered task panic, if any.
func (r *Runtime) Wait() {
	r.wg.Wait()
	r.mu.Lock()
	p := r.panicky
	r.mu.Unlock()
	if p != nil {
		panic(p)
	}
}
