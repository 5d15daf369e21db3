// File: core/concurrency/eventloop.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop serializes work onto a single goroutine. Producers (socket
// readers, the accept loop, application goroutines) Post closures; Run
// executes them one at a time in FIFO order, so state touched only from
// tasks needs no further locking.
//
// The inbox is unbounded: Post never blocks and never drops.

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Task is a unit of work executed on the loop goroutine.
type Task func()

// PanicHandler receives the value recovered from a panicking task.
type PanicHandler func(recovered any)

// EventLoop implements a single-consumer task loop with batched draining.
type EventLoop struct {
	mu      sync.Mutex
	inbox   *queue.Queue // of Task
	stopped bool

	batchSize int
	wakeCh    chan struct{} // capacity 1, coalesces wakeups
	quitCh    chan struct{} // closed on Stop()
	doneCh    chan struct{} // closed after Run() exits
	stopOnce  sync.Once
	running   atomic.Bool

	onPanic PanicHandler
}

// NewEventLoop creates a loop that drains at most batchSize tasks per cycle.
func NewEventLoop(batchSize int) *EventLoop {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &EventLoop{
		inbox:     queue.New(),
		batchSize: batchSize,
		wakeCh:    make(chan struct{}, 1),
		quitCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// OnPanic installs the handler for recovered task panics. Must be called before Run.
func (el *EventLoop) OnPanic(h PanicHandler) {
	el.onPanic = h
}

// Post enqueues t. Returns false once the loop has been stopped.
func (el *EventLoop) Post(t Task) bool {
	el.mu.Lock()
	if el.stopped {
		el.mu.Unlock()
		return false
	}
	el.inbox.Add(t)
	el.mu.Unlock()

	select {
	case el.wakeCh <- struct{}{}:
	default:
	}
	return true
}

// Call posts fn and waits until it has run. It must not be called from a
// task running on the same loop.
func (el *EventLoop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !el.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-el.doneCh:
		select {
		case <-done:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks.
func (el *EventLoop) Pending() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.inbox.Length()
}

// Run executes tasks until ctx is cancelled or Stop is called. Tasks queued
// before shutdown are still executed before Run returns.
func (el *EventLoop) Run(ctx context.Context) error {
	if !el.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer close(el.doneCh)

	batch := make([]Task, 0, el.batchSize)
	for {
		batch = el.drain(batch[:0])
		if len(batch) > 0 {
			for _, t := range batch {
				el.execute(t)
			}
			continue
		}

		select {
		case <-el.wakeCh:
		case <-el.quitCh:
			el.shutdown(batch)
			return nil
		case <-ctx.Done():
			el.Stop()
			el.shutdown(batch)
			return ctx.Err()
		}
	}
}

// Stop makes Post refuse new tasks and signals Run to exit.
func (el *EventLoop) Stop() {
	el.stopOnce.Do(func() {
		el.mu.Lock()
		el.stopped = true
		el.mu.Unlock()
		close(el.quitCh)
	})
}

// Done is closed after Run has returned.
func (el *EventLoop) Done() <-chan struct{} {
	return el.doneCh
}

func (el *EventLoop) drain(batch []Task) []Task {
	el.mu.Lock()
	defer el.mu.Unlock()
	for len(batch) < el.batchSize && el.inbox.Length() > 0 {
		batch = append(batch, el.inbox.Remove().(Task))
	}
	return batch
}

// shutdown runs whatever was queued before Stop took effect.
func (el *EventLoop) shutdown(batch []Task) {
	for {
		batch = el.drain(batch[:0])
		if len(batch) == 0 {
			return
		}
		for _, t := range batch {
			el.execute(t)
		}
	}
}

func (el *EventLoop) execute(t Task) {
	defer func() {
		if r := recover(); r != nil && el.onPanic != nil {
			el.onPanic(r)
		}
	}()
	t()
}
