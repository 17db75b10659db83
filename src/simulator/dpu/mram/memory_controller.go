package mram

import (
	"fmt"
	"math"

	"jacPIMulator/src/misc"
)

// MemoryController is the access path tasklets use to reach MRAM. Offsets are
// relative to the MRAM heap pointer; callers never compute raw addresses.
type MemoryController struct {
	channel_id int
	rank_id    int
	dpu_id     int

	array        *Array
	heap_pointer int64

	stat_factory *misc.StatFactory
}

func (this *MemoryController) Init(channel_id int, rank_id int, dpu_id int, heap_pointer int64) {
	this.channel_id = channel_id
	this.rank_id = rank_id
	this.dpu_id = dpu_id

	this.array = nil
	this.heap_pointer = heap_pointer

	name := fmt.Sprintf("RowBuffer[%d_%d_%d]", channel_id, rank_id, dpu_id)
	this.stat_factory = new(misc.StatFactory)
	this.stat_factory.Init(name)
}

func (this *MemoryController) Fini() {
	this.array = nil
}

func (this *MemoryController) ConnectArray(array *Array) {
	if this.array != nil {
		err := fmt.Errorf("MRAM array is already connected")
		panic(err)
	}

	this.array = array
}

func (this *MemoryController) Array() *Array {
	return this.array
}

func (this *MemoryController) HeapPointer() int64 {
	return this.heap_pointer
}

func (this *MemoryController) StatFactory() *misc.StatFactory {
	return this.stat_factory
}

// Address translates a heap offset into an absolute MRAM address.
func (this *MemoryController) Address(offset uint64) (int64, error) {
	if this.array == nil {
		err := fmt.Errorf("MRAM array is not connected")
		panic(err)
	}

	base := this.array.Address() + this.heap_pointer
	if offset > uint64(math.MaxInt64-base) {
		return 0, fmt.Errorf("heap offset %d: %w", offset, ErrOutOfRange)
	}

	return base + int64(offset), nil
}

// Read copies size bytes at heap offset into the front of dst.
func (this *MemoryController) Read(dst []byte, offset uint64, size uint64) error {
	if size > uint64(len(dst)) {
		return fmt.Errorf("read of %d bytes into %d-byte buffer: %w", size, len(dst), ErrBufferTooSmall)
	}

	address, err := this.Address(offset)
	if err != nil {
		return err
	}

	if err := this.array.Read(address, dst[:size]); err != nil {
		return fmt.Errorf("read heap offset %d: %w", offset, err)
	}

	this.stat_factory.Increment("num_reads", 1)
	this.stat_factory.Increment("read_bytes", int64(size))
	return nil
}

// Write copies the first size bytes of src to heap offset.
func (this *MemoryController) Write(src []byte, offset uint64, size uint64) error {
	if size > uint64(len(src)) {
		return fmt.Errorf("write of %d bytes from %d-byte buffer: %w", size, len(src), ErrBufferTooSmall)
	}

	address, err := this.Address(offset)
	if err != nil {
		return err
	}

	if err := this.array.Write(address, src[:size]); err != nil {
		return fmt.Errorf("write heap offset %d: %w", offset, err)
	}

	this.stat_factory.Increment("num_writes", 1)
	this.stat_factory.Increment("write_bytes", int64(size))
	return nil
}

// Load clears the array and writes image at heap offset 0. It bypasses the
// access stats: the copy models a host transfer, not a tasklet access.
func (this *MemoryController) Load(image []byte) error {
	address, err := this.Address(0)
	if err != nil {
		return err
	}

	this.array.Clear()
	if err := this.array.Write(address, image); err != nil {
		return fmt.Errorf("load image of %d bytes: %w", len(image), err)
	}
	return nil
}

// Dump copies size bytes from heap offset 0, the inverse of Load.
func (this *MemoryController) Dump(size uint64) ([]byte, error) {
	address, err := this.Address(0)
	if err != nil {
		return nil, err
	}
	if size > math.MaxInt64 {
		return nil, fmt.Errorf("dump of %d bytes: %w", size, ErrOutOfRange)
	}
	return this.array.Dump(address, int64(size))
}
