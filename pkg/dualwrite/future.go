package dualwrite

import (
	"context"
	"sync"
)

// Promise is a Future resolved by the producer that created it. It is safe to
// resolve from another goroutine; only the first Resolve counts.
type Promise struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolve completes the promise with the broker's verdict (nil means acked).
func (p *Promise) Resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *Promise) Await(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the promise resolves.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Completed returns a Future that is already resolved with err.
func Completed(err error) Future {
	p := NewPromise()
	p.Resolve(err)
	return p
}
