package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ByteStream is a growable little-endian byte buffer. It is the unit of
// exchange between host-side encoders and device memory.
type ByteStream struct {
	bytes []uint8
}

func (this *ByteStream) Init() {
	this.bytes = make([]uint8, 0)
}

// InitFrom wraps an existing buffer without copying it.
func (this *ByteStream) InitFrom(bytes []uint8) {
	this.bytes = bytes
}

func (this *ByteStream) Size() int64 {
	return int64(len(this.bytes))
}

func (this *ByteStream) Get(index int) uint8 {
	return this.bytes[index]
}

func (this *ByteStream) Set(index int, value uint8) {
	this.bytes[index] = value
}

func (this *ByteStream) Append(value uint8) {
	this.bytes = append(this.bytes, value)
}

func (this *ByteStream) Merge(byte_stream *ByteStream) {
	this.bytes = append(this.bytes, byte_stream.bytes...)
}

func (this *ByteStream) AppendBytes(bytes []uint8) {
	this.bytes = append(this.bytes, bytes...)
}

func (this *ByteStream) AppendUint64(value uint64) {
	this.bytes = binary.LittleEndian.AppendUint64(this.bytes, value)
}

// Pad appends zero bytes until the size is a multiple of alignment.
func (this *ByteStream) Pad(alignment int64) {
	if alignment <= 1 {
		return
	}
	for this.Size()%alignment != 0 {
		this.bytes = append(this.bytes, 0)
	}
}

func (this *ByteStream) Uint64(offset int64) (uint64, error) {
	if offset < 0 || offset+8 > this.Size() {
		return 0, fmt.Errorf("uint64 at %d exceeds stream of %d bytes", offset, this.Size())
	}
	return binary.LittleEndian.Uint64(this.bytes[offset : offset+8]), nil
}

func (this *ByteStream) PutUint64(offset int64, value uint64) error {
	if offset < 0 || offset+8 > this.Size() {
		return fmt.Errorf("uint64 at %d exceeds stream of %d bytes", offset, this.Size())
	}
	binary.LittleEndian.PutUint64(this.bytes[offset:offset+8], value)
	return nil
}

// Bytes returns the underlying buffer; callers must not retain it across
// further appends.
func (this *ByteStream) Bytes() []uint8 {
	return this.bytes
}

// Word reads the little-endian u64 at byte offset offset of buf. Ability
// bodies use it to read fields of staged records.
func Word(buf []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(buf[offset : offset+8])
}

// PutWord writes the little-endian u64 value at byte offset offset of buf.
func PutWord(buf []byte, offset int, value uint64) {
	binary.LittleEndian.PutUint64(buf[offset:offset+8], value)
}

// AlignUp rounds size up to a multiple of alignment. It returns -1 when the
// rounded size does not fit in an int64.
func AlignUp(size int64, alignment int64) int64 {
	if alignment <= 1 {
		return size
	}
	if size > math.MaxInt64-(alignment-1) {
		return -1
	}
	return (size + alignment - 1) / alignment * alignment
}
