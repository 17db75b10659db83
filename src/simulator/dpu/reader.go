package dpu

import (
	"fmt"

	"jacPIMulator/src/abi/layout"
	"jacPIMulator/src/simulator/dpu/mram"
)

// LoadMetadata reads the metadata record at heap offset 0: the fixed header
// first, then the per-tasklet arrays it sizes. It never writes, so every
// tasklet may call it.
func LoadMetadata(controller *mram.MemoryController) (*layout.Metadata, error) {
	header_buffer := make([]byte, layout.HeaderSize)
	if err := controller.Read(header_buffer, 0, layout.HeaderSize); err != nil {
		return nil, fmt.Errorf("load metadata header: %w", err)
	}

	header, err := layout.DecodeHeader(header_buffer)
	if err != nil {
		return nil, err
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}

	size := header.MetadataSize()
	metadata_buffer := make([]byte, size)
	if err := controller.Read(metadata_buffer, 0, size); err != nil {
		return nil, fmt.Errorf("load metadata of %d walkers: %w", header.WalkerCount, err)
	}

	return layout.DecodeMetadata(metadata_buffer)
}

// ReadTraceEntry stages entry i of segment into buffer and decodes it. The
// buffer must hold metadata.EntrySize bytes.
func ReadTraceEntry(
	controller *mram.MemoryController,
	metadata *layout.Metadata,
	segment layout.Segment,
	i uint64,
	buffer []byte,
) (layout.TraceEntry, error) {
	if i >= segment.Length {
		return layout.TraceEntry{}, fmt.Errorf("entry %d outside segment of %d entries", i, segment.Length)
	}

	entry_range := segment.EntryRange(i, metadata.EntrySize)
	if err := controller.Read(buffer, entry_range.Ptr, entry_range.Size); err != nil {
		return layout.TraceEntry{}, fmt.Errorf("read trace entry: %w", err)
	}

	entry, err := layout.DecodeTraceEntry(buffer[:entry_range.Size])
	if err != nil {
		return layout.TraceEntry{}, err
	}

	if err := entry.Check(metadata.Header); err != nil {
		return layout.TraceEntry{}, err
	}

	return entry, nil
}
