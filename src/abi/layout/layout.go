// Package layout defines the bit-exact records the host writes into MRAM and
// the device reads back: the metadata record at heap offset 0 and the trace
// entries it points at. Every field is an unsigned 64-bit little-endian word.
package layout

import (
	"errors"
	"fmt"
	"math"

	"jacPIMulator/src/abi/encoding"
)

const (
	WordSize = 8

	// HeaderSize is the fixed part of the metadata record. The per-tasklet
	// pointer and length arrays follow it.
	HeaderSize = 6 * WordSize

	// TraceEntrySize is the number of bytes of a trace entry the device
	// decodes. Metadata.EntrySize may be larger; the remainder is skipped.
	TraceEntrySize = 7 * WordSize

	// MaxWalkerCount bounds the per-tasklet arrays so a corrupt header
	// cannot request an absurd metadata read.
	MaxWalkerCount = 1 << 20

	// MaxRecordSize bounds entry_size, max_node_size and max_walker_size so
	// they convert to int64 sizes without changing sign.
	MaxRecordSize = math.MaxInt64 &^ (WordSize - 1)
)

var (
	ErrTruncated         = errors.New("record truncated")
	ErrMalformedMetadata = errors.New("malformed metadata")
	ErrMalformedEntry    = errors.New("malformed trace entry")
	ErrOversizeRecord    = errors.New("record exceeds scratch sizing constant")
)

// MemoryRange addresses one object by heap-relative offset and size.
type MemoryRange struct {
	Ptr  uint64
	Size uint64
}

func (r MemoryRange) AddOffset(offset uint64) MemoryRange {
	return MemoryRange{Ptr: r.Ptr + offset, Size: r.Size}
}

func (r MemoryRange) End() uint64 {
	return r.Ptr + r.Size
}

// Overlaps reports whether two non-empty ranges share at least one byte.
func (r MemoryRange) Overlaps(other MemoryRange) bool {
	if r.Size == 0 || other.Size == 0 {
		return false
	}
	return r.Ptr < other.End() && other.Ptr < r.End()
}

// Header is the fixed prefix of the metadata record.
type Header struct {
	WalkerCount    uint64
	ExtraMramSpace uint64
	MaxNodeSize    uint64
	MaxWalkerSize  uint64
	EntrySize      uint64
	MaxEdgeNum     uint64
}

// MetadataSize is the full size of the metadata record described by h.
func (h Header) MetadataSize() uint64 {
	return HeaderSize + 2*WordSize*h.WalkerCount
}

func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("metadata header needs %d bytes, got %d: %w", HeaderSize, len(buf), ErrTruncated)
	}

	return Header{
		WalkerCount:    encoding.Word(buf, 0),
		ExtraMramSpace: encoding.Word(buf, 8),
		MaxNodeSize:    encoding.Word(buf, 16),
		MaxWalkerSize:  encoding.Word(buf, 24),
		EntrySize:      encoding.Word(buf, 32),
		MaxEdgeNum:     encoding.Word(buf, 40),
	}, nil
}

func (h Header) Validate() error {
	if h.WalkerCount > MaxWalkerCount {
		return fmt.Errorf("walker_count %d > %d: %w", h.WalkerCount, MaxWalkerCount, ErrMalformedMetadata)
	}
	if h.EntrySize > MaxRecordSize || h.MaxNodeSize > MaxRecordSize || h.MaxWalkerSize > MaxRecordSize {
		return fmt.Errorf("record sizes must not exceed %d bytes: %w", uint64(MaxRecordSize), ErrMalformedMetadata)
	}
	if h.EntrySize < TraceEntrySize {
		return fmt.Errorf("entry_size %d < %d: %w", h.EntrySize, TraceEntrySize, ErrMalformedMetadata)
	}
	if h.EntrySize%WordSize != 0 {
		return fmt.Errorf("entry_size %d is not word aligned: %w", h.EntrySize, ErrMalformedMetadata)
	}
	if h.MaxNodeSize%WordSize != 0 || h.MaxWalkerSize%WordSize != 0 {
		return fmt.Errorf("max node/walker sizes must be word aligned: %w", ErrMalformedMetadata)
	}
	return nil
}

// Metadata is the global description of one run. It is immutable for the run.
type Metadata struct {
	Header
	TracePtrs []uint64
	TraceLens []uint64
}

// DecodeMetadata decodes a full metadata record; buf must hold at least
// MetadataSize bytes.
func DecodeMetadata(buf []byte) (*Metadata, error) {
	header, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}

	size := header.MetadataSize()
	if uint64(len(buf)) < size {
		return nil, fmt.Errorf("metadata needs %d bytes, got %d: %w", size, len(buf), ErrTruncated)
	}

	metadata := &Metadata{
		Header:    header,
		TracePtrs: make([]uint64, header.WalkerCount),
		TraceLens: make([]uint64, header.WalkerCount),
	}

	ptrs := HeaderSize
	lens := HeaderSize + WordSize*int(header.WalkerCount)
	for i := 0; i < int(header.WalkerCount); i++ {
		metadata.TracePtrs[i] = encoding.Word(buf, ptrs+WordSize*i)
		metadata.TraceLens[i] = encoding.Word(buf, lens+WordSize*i)
	}

	return metadata, nil
}

func (m *Metadata) Encode() []byte {
	byte_stream := new(encoding.ByteStream)
	byte_stream.Init()

	byte_stream.AppendUint64(m.WalkerCount)
	byte_stream.AppendUint64(m.ExtraMramSpace)
	byte_stream.AppendUint64(m.MaxNodeSize)
	byte_stream.AppendUint64(m.MaxWalkerSize)
	byte_stream.AppendUint64(m.EntrySize)
	byte_stream.AppendUint64(m.MaxEdgeNum)
	for i := uint64(0); i < m.WalkerCount; i++ {
		byte_stream.AppendUint64(m.tracePtr(i))
	}
	for i := uint64(0); i < m.WalkerCount; i++ {
		byte_stream.AppendUint64(m.traceLen(i))
	}

	return byte_stream.Bytes()
}

func (m *Metadata) tracePtr(i uint64) uint64 {
	if i < uint64(len(m.TracePtrs)) {
		return m.TracePtrs[i]
	}
	return 0
}

func (m *Metadata) traceLen(i uint64) uint64 {
	if i < uint64(len(m.TraceLens)) {
		return m.TraceLens[i]
	}
	return 0
}

// Segment is the contiguous run of trace entries assigned to one tasklet.
type Segment struct {
	Tasklet int
	Pointer uint64
	Length  uint64
}

func (s Segment) IsEmpty() bool {
	return s.Length == 0
}

// EntryRange is the location of entry i for the given stride.
func (s Segment) EntryRange(i uint64, stride uint64) MemoryRange {
	return MemoryRange{Ptr: s.Pointer + i*stride, Size: stride}
}

// TraceSegmentFor returns the trace assigned to tasklet. A tasklet beyond
// the walker count has no work and gets an empty segment.
func (m *Metadata) TraceSegmentFor(tasklet int) Segment {
	if tasklet < 0 || uint64(tasklet) >= m.WalkerCount {
		return Segment{Tasklet: tasklet}
	}

	return Segment{
		Tasklet: tasklet,
		Pointer: m.tracePtr(uint64(tasklet)),
		Length:  m.traceLen(uint64(tasklet)),
	}
}

// TraceEntry is one scheduled (ability, node, walker) step.
type TraceEntry struct {
	AbilityTag uint64
	NodeID     uint64
	NodePtr    uint64
	NodeSize   uint64
	WalkerPtr  uint64
	WalkerSize uint64
	EdgeNum    uint64
}

func (e TraceEntry) Node() MemoryRange {
	return MemoryRange{Ptr: e.NodePtr, Size: e.NodeSize}
}

func (e TraceEntry) Walker() MemoryRange {
	return MemoryRange{Ptr: e.WalkerPtr, Size: e.WalkerSize}
}

func DecodeTraceEntry(buf []byte) (TraceEntry, error) {
	if len(buf) < TraceEntrySize {
		return TraceEntry{}, fmt.Errorf("trace entry needs %d bytes, got %d: %w", TraceEntrySize, len(buf), ErrTruncated)
	}

	return TraceEntry{
		AbilityTag: encoding.Word(buf, 0),
		NodeID:     encoding.Word(buf, 8),
		NodePtr:    encoding.Word(buf, 16),
		NodeSize:   encoding.Word(buf, 24),
		WalkerPtr:  encoding.Word(buf, 32),
		WalkerSize: encoding.Word(buf, 40),
		EdgeNum:    encoding.Word(buf, 48),
	}, nil
}

func (e TraceEntry) Encode() []byte {
	byte_stream := new(encoding.ByteStream)
	byte_stream.Init()

	byte_stream.AppendUint64(e.AbilityTag)
	byte_stream.AppendUint64(e.NodeID)
	byte_stream.AppendUint64(e.NodePtr)
	byte_stream.AppendUint64(e.NodeSize)
	byte_stream.AppendUint64(e.WalkerPtr)
	byte_stream.AppendUint64(e.WalkerSize)
	byte_stream.AppendUint64(e.EdgeNum)

	return byte_stream.Bytes()
}

// Check validates the entry against the sizing constants of the run.
func (e TraceEntry) Check(h Header) error {
	if e.NodeSize == 0 {
		return fmt.Errorf("node %d has size 0: %w", e.NodeID, ErrMalformedEntry)
	}
	if e.WalkerSize == 0 {
		return fmt.Errorf("walker at %d has size 0: %w", e.WalkerPtr, ErrMalformedEntry)
	}
	if e.NodeSize > h.MaxNodeSize {
		return fmt.Errorf("%w: node %d size %d > max_node_size %d", ErrOversizeRecord, e.NodeID, e.NodeSize, h.MaxNodeSize)
	}
	if e.WalkerSize > h.MaxWalkerSize {
		return fmt.Errorf("%w: walker size %d > max_walker_size %d", ErrOversizeRecord, e.WalkerSize, h.MaxWalkerSize)
	}
	if h.MaxEdgeNum > 0 && e.EdgeNum > h.MaxEdgeNum {
		return fmt.Errorf("node %d edge_num %d > max_edge_num %d: %w", e.NodeID, e.EdgeNum, h.MaxEdgeNum, ErrMalformedEntry)
	}
	return nil
}
