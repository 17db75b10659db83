package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotReady reports an access to shared scratch state before the
// reset/barrier sequence completed.
var ErrNotReady = errors.New("bootstrap barrier not passed")

// State is the bootstrap progress of one unit.
type State int

const (
	StateUninitialized State = iota
	StateResetting
	StateBarrier
	StateReady
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResetting:
		return "resetting"
	case StateBarrier:
		return "barrier"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Initializer is the tasklet that performs the one-time reset.
const Initializer = 0

// Gate runs the one-time initialization of a unit's shared scratch state
// followed by a rendezvous of every tasklet:
//
//	UNINITIALIZED -> RESETTING (initializer only) -> BARRIER -> READY
//
// No tasklet leaves Enter before the reset finished, whichever order they
// arrive in.
type Gate struct {
	barrier *Barrier

	mu    sync.Mutex
	state State
}

func NewGate(parties int) *Gate {
	gate := &Gate{state: StateUninitialized}
	gate.barrier = NewBarrier(parties, func() {
		gate.mu.Lock()
		defer gate.mu.Unlock()
		if gate.state == StateBarrier {
			gate.state = StateReady
		}
	})
	return gate
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Ready() bool {
	return g.State() == StateReady
}

// CheckReady is the guard scratch consumers call before touching the heap.
func (g *Gate) CheckReady() error {
	if state := g.State(); state != StateReady {
		return fmt.Errorf("%w: state is %s", ErrNotReady, state)
	}
	return nil
}

// Enter is called once by every tasklet. The initializer runs reset; every
// tasklet then waits at the barrier.
func (g *Gate) Enter(ctx context.Context, tasklet int, reset func() error) error {
	if tasklet == Initializer {
		if err := g.runReset(reset); err != nil {
			return err
		}
	}

	if err := g.barrier.Wait(ctx); err != nil {
		g.setState(StateFaulted)
		return fmt.Errorf("tasklet %d at bootstrap barrier: %w", tasklet, err)
	}

	return g.CheckReady()
}

func (g *Gate) runReset(reset func() error) error {
	g.mu.Lock()
	if g.state != StateUninitialized {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("reset requested in state %s", state)
	}
	g.state = StateResetting
	g.mu.Unlock()

	if reset != nil {
		if err := reset(); err != nil {
			g.setState(StateFaulted)
			return fmt.Errorf("reset: %w", err)
		}
	}

	g.setState(StateBarrier)
	return nil
}

func (g *Gate) setState(state State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = state
}
