package wram

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapRequiresReset(t *testing.T) {
	t.Parallel()

	heap := NewHeap(64)
	_, err := heap.Allocate(8)
	require.ErrorIs(t, err, ErrNotReset)

	heap.Reset()
	buf, err := heap.Allocate(8)
	require.NoError(t, err)
	assert.Len(t, buf, 8)
	assert.Equal(t, int64(1), heap.Generation())
}

func TestHeapAlignsAndExhausts(t *testing.T) {
	t.Parallel()

	heap := NewHeap(32)
	heap.Reset()

	buf, err := heap.Allocate(12)
	require.NoError(t, err)
	assert.Len(t, buf, 12)
	assert.Equal(t, int64(16), heap.Used())
	for _, b := range buf {
		assert.Zero(t, b)
	}

	_, err = heap.Allocate(16)
	require.NoError(t, err)

	_, err = heap.Allocate(1)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, int64(32), heap.Used())

	heap.Reset()
	assert.Zero(t, heap.Used())
	_, err = heap.Allocate(32)
	require.NoError(t, err)
}

func TestHeapRejectsHugeAllocations(t *testing.T) {
	t.Parallel()

	heap := NewHeap(4096)
	heap.Reset()

	_, err := heap.Allocate(56)
	require.NoError(t, err)

	for _, size := range []int64{math.MaxInt64 - 7, math.MaxInt64} {
		_, err = heap.Allocate(size)
		require.ErrorIs(t, err, ErrOutOfMemory)
	}
	assert.Equal(t, int64(56), heap.Used())
}

func TestHeapConcurrentAllocations(t *testing.T) {
	t.Parallel()

	const tasklets = 16
	heap := NewHeap(tasklets * 24)
	heap.Reset()

	var wg sync.WaitGroup
	errs := make([]error, tasklets)
	for i := 0; i < tasklets; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = heap.Allocate(20)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "tasklet %d", i)
	}
	assert.Equal(t, heap.Capacity(), heap.Used())

	_, err := heap.Allocate(8)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestNewHeapClampsCapacity(t *testing.T) {
	t.Parallel()

	heap := NewHeap(-1)
	heap.Reset()
	assert.Zero(t, heap.Capacity())

	buf, err := heap.Allocate(0)
	require.NoError(t, err)
	assert.Empty(t, buf)
}
