package wram

import (
	"errors"
	"fmt"
	"sync"

	"jacPIMulator/src/abi/encoding"
)

// Alignment is the granularity every allocation is rounded up to.
const Alignment = 8

var (
	ErrNotReset    = errors.New("WRAM heap allocated before reset")
	ErrOutOfMemory = errors.New("WRAM heap exhausted")
)

// Heap models the per-DPU WRAM heap: a bump allocator that is reset once per
// run and never frees individual buffers. Capacity tracking ensures the
// staging buffers of all tasklets fit in the working memory of one unit.
// Allocate is safe for concurrent use by the tasklets of a unit.
type Heap struct {
	capacity   int64
	occupancy  int64
	generation int64
	mu         sync.Mutex
}

// NewHeap constructs a heap with the provided capacity in bytes. A negative
// capacity is clamped to zero.
func NewHeap(capacity int64) *Heap {
	if capacity < 0 {
		capacity = 0
	}

	return &Heap{capacity: capacity}
}

// Capacity returns the heap capacity in bytes.
func (h *Heap) Capacity() int64 {
	return h.capacity
}

// Used returns the bytes handed out since the last reset, alignment included.
func (h *Heap) Used() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.occupancy
}

// Generation counts resets; zero means the heap was never reset.
func (h *Heap) Generation() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation
}

// Reset reclaims every buffer handed out so far. Buffers from a previous
// generation must not be used afterwards.
func (h *Heap) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.occupancy = 0
	h.generation++
}

// Allocate returns a zeroed buffer of exactly size bytes and charges the
// aligned size against the capacity.
func (h *Heap) Allocate(size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("allocation of %d bytes", size)
	}

	aligned := encoding.AlignUp(size, Alignment)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.generation == 0 {
		return nil, ErrNotReset
	}

	if aligned < 0 || aligned > h.capacity-h.occupancy {
		return nil, fmt.Errorf("%w: requested %d bytes, %d of %d in use", ErrOutOfMemory, size, h.occupancy, h.capacity)
	}

	h.occupancy += aligned
	return make([]byte, size, aligned), nil
}
