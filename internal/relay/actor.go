package relay

import (
	"context"
	"sync"
)

// actor runs closures one at a time, in submission order, on its own
// goroutine. The queue is unbounded so callbacks never block the goroutine
// that delivers them.
type actor struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newActor() *actor {
	a := &actor{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go a.loop()
	return a
}

func (a *actor) loop() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 {
			if a.closed {
				a.mu.Unlock()
				return
			}
			a.mu.Unlock()
			<-a.wake
			a.mu.Lock()
		}
		fn := a.queue[0]
		a.queue[0] = nil
		a.queue = a.queue[1:]
		a.mu.Unlock()
		fn()
	}
}

// async enqueues fn. It reports false once the actor is closed.
func (a *actor) async(fn func()) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, fn)
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the actor and waits for its result. If ctx ends first the
// closure still runs; only the wait is abandoned.
func (a *actor) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !a.async(func() { res <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting work, lets queued closures finish and waits for the
// loop to exit.
func (a *actor) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
	<-a.done
}
