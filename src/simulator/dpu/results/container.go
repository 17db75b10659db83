// Package results implements the bounded container abilities append result
// identifiers to. It is a best-effort diagnostics channel: once the container
// is full further identifiers are dropped and counted, never reported as a
// failure.
package results

import "sync"

// DefaultCapacity matches the container buffer of the device program.
const DefaultCapacity = 128

// Recorder is the view of a container handed to ability bodies.
type Recorder interface {
	// Push appends id and reports whether it was kept.
	Push(id uint64) bool
}

// Container is an append-only buffer of identifiers with a fixed capacity.
// It is not safe for concurrent use; wrap it in Locked when tasklets share
// one.
type Container struct {
	items   []uint64
	dropped uint64
}

func New(capacity int) *Container {
	if capacity < 0 {
		capacity = 0
	}
	return &Container{items: make([]uint64, 0, capacity)}
}

func (c *Container) Push(id uint64) bool {
	if len(c.items) == cap(c.items) {
		c.dropped++
		return false
	}
	c.items = append(c.items, id)
	return true
}

// Clear empties the container. The drop counter is kept so overflow stays
// observable for the whole run.
func (c *Container) Clear() {
	c.items = c.items[:0]
}

// Snapshot returns a copy of the identifiers in push order.
func (c *Container) Snapshot() []uint64 {
	snapshot := make([]uint64, len(c.items))
	copy(snapshot, c.items)
	return snapshot
}

func (c *Container) Len() int {
	return len(c.items)
}

func (c *Container) Cap() int {
	return cap(c.items)
}

func (c *Container) Dropped() uint64 {
	return c.dropped
}

// Locked serializes access to a Container shared by several tasklets.
type Locked struct {
	mu        sync.Mutex
	container *Container
}

func NewLocked(capacity int) *Locked {
	return &Locked{container: New(capacity)}
}

func (l *Locked) Push(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.container.Push(id)
}

func (l *Locked) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.container.Clear()
}

func (l *Locked) Snapshot() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.container.Snapshot()
}

func (l *Locked) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.container.Len()
}

func (l *Locked) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.container.Dropped()
}

// Counting wraps a Recorder and calls onDrop for every rejected push.
type Counting struct {
	Recorder Recorder
	OnDrop   func()
}

func (c Counting) Push(id uint64) bool {
	if c.Recorder.Push(id) {
		return true
	}
	if c.OnDrop != nil {
		c.OnDrop()
	}
	return false
}
