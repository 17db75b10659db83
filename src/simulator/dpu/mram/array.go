package mram

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange     = errors.New("MRAM access out of range")
	ErrMisaligned     = errors.New("MRAM access is not aligned with access granularity")
	ErrBufferTooSmall = errors.New("WRAM buffer is smaller than the transfer size")
)

// Array is the bulk memory of one DPU: a flat byte storage addressed by
// absolute MRAM address. Accesses must stay inside [address, address+size)
// and respect the minimum access granularity. Concurrent accesses to disjoint
// ranges are allowed.
type Array struct {
	address     int64
	size        int64
	granularity int64

	storage []uint8
}

func (this *Array) Init(address int64, size int64, granularity int64) error {
	if address < 0 {
		return errors.New("MRAM address < 0")
	}

	if size <= 0 {
		return errors.New("MRAM size <= 0")
	}

	if granularity <= 0 {
		granularity = 1
	}

	if size%granularity != 0 {
		return errors.New("MRAM size is not aligned with access granularity")
	}

	this.address = address
	this.size = size
	this.granularity = granularity
	this.storage = make([]uint8, size)
	return nil
}

func (this *Array) Fini() {
	this.storage = nil
}

func (this *Array) Address() int64 {
	return this.address
}

func (this *Array) Size() int64 {
	return this.size
}

func (this *Array) Granularity() int64 {
	return this.granularity
}

// Read copies len(dst) bytes starting at address into dst.
func (this *Array) Read(address int64, dst []byte) error {
	offset, err := this.validateRange(address, int64(len(dst)))
	if err != nil {
		return err
	}

	copy(dst, this.storage[offset:offset+int64(len(dst))])
	return nil
}

// Write copies src into MRAM starting at address.
func (this *Array) Write(address int64, src []byte) error {
	offset, err := this.validateRange(address, int64(len(src)))
	if err != nil {
		return err
	}

	copy(this.storage[offset:offset+int64(len(src))], src)
	return nil
}

// Dump returns a copy of size bytes starting at address.
func (this *Array) Dump(address int64, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("size %d < 0: %w", size, ErrOutOfRange)
	}
	dst := make([]byte, size)
	if err := this.Read(address, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Clear zeroes the whole storage.
func (this *Array) Clear() {
	clear(this.storage)
}

func (this *Array) validateRange(address int64, size int64) (int64, error) {
	if this.storage == nil {
		return 0, errors.New("MRAM array is not initialized")
	}

	if size < 0 {
		return 0, fmt.Errorf("size %d < 0: %w", size, ErrOutOfRange)
	}

	if address < this.address {
		return 0, fmt.Errorf("address %d < base address %d: %w", address, this.address, ErrOutOfRange)
	}

	offset := address - this.address
	if offset > this.size || size > this.size-offset {
		return 0, fmt.Errorf("range [%d, +%d) overflows MRAM of %d bytes: %w", offset, size, this.size, ErrOutOfRange)
	}

	if address%this.granularity != 0 {
		return 0, fmt.Errorf("address %d: %w", address, ErrMisaligned)
	}

	if size%this.granularity != 0 {
		return 0, fmt.Errorf("size %d: %w", size, ErrMisaligned)
	}

	return offset, nil
}
