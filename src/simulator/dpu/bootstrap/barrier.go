package bootstrap

import (
	"context"
	"sync"
)

// Barrier is a cyclic rendezvous point for a fixed number of parties. The
// last party to arrive releases the generation and runs the optional trip
// action before anybody is released.
//
// A waiter released by context cancellation leaves the generation short of
// one arrival; the unit is faulted at that point and the barrier is not
// reused.
type Barrier struct {
	parties int
	action  func()

	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func NewBarrier(parties int, action func()) *Barrier {
	if parties < 1 {
		parties = 1
	}

	return &Barrier{
		parties: parties,
		action:  action,
		release: make(chan struct{}),
	}
}

func (b *Barrier) Parties() int {
	return b.parties
}

// Wait blocks until every party arrived or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	release := b.release
	b.arrived++
	if b.arrived == b.parties {
		if b.action != nil {
			b.action()
		}
		b.arrived = 0
		b.release = make(chan struct{})
		b.mu.Unlock()
		close(release)
		return nil
	}
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
