package host

import (
	"errors"
	"fmt"
	"sort"

	"jacPIMulator/src/abi/encoding"
	"jacPIMulator/src/abi/layout"
	"jacPIMulator/src/simulator/dpu/ability"
)

var (
	ErrDuplicateNode = errors.New("node already added")
	ErrUnknownNode   = errors.New("node not added")
	ErrUnknownWalker = errors.New("walker not added")
	ErrBadRecord     = errors.New("record size must be a non-zero multiple of 8")
	ErrImageTooLarge = errors.New("image does not fit in MRAM")
)

// NodeRef names a node added to a LayoutBuilder.
type NodeRef struct {
	ID   uint64
	Size uint64
}

type objectRecord struct {
	id     uint64
	stream []byte
}

type visitRecord struct {
	tag      ability.Tag
	node     uint64
	edge_num uint64
}

// LayoutBuilder packs nodes, walkers and one trace per walker into an MRAM
// image:
//
//	metadata | nodes | walkers | traces
//
// Walker i is replayed by tasklet i. Every object keeps the order it was
// added in and all sizes are multiples of the 8-byte access granularity.
type LayoutBuilder struct {
	capacity uint64

	nodes      []objectRecord
	node_index map[uint64]int
	walkers    []objectRecord
	traces     [][]visitRecord
}

// NewLayoutBuilder returns a builder for a heap of capacity bytes; zero means
// unbounded.
func NewLayoutBuilder(capacity uint64) *LayoutBuilder {
	return &LayoutBuilder{
		capacity:   capacity,
		node_index: make(map[uint64]int),
	}
}

func checkRecord(kind string, record []byte) error {
	if len(record) == 0 || len(record)%layout.WordSize != 0 {
		return fmt.Errorf("%s of %d bytes: %w", kind, len(record), ErrBadRecord)
	}
	return nil
}

// AddNode copies record in as node id.
func (this *LayoutBuilder) AddNode(id uint64, record []byte) (NodeRef, error) {
	if err := checkRecord("node", record); err != nil {
		return NodeRef{}, err
	}
	if _, ok := this.node_index[id]; ok {
		return NodeRef{}, fmt.Errorf("node %d: %w", id, ErrDuplicateNode)
	}

	this.node_index[id] = len(this.nodes)
	this.nodes = append(this.nodes, objectRecord{id: id, stream: append([]byte(nil), record...)})
	return NodeRef{ID: id, Size: uint64(len(record))}, nil
}

// AddWalker copies record in and returns the walker index, which is also the
// tasklet that will replay its trace.
func (this *LayoutBuilder) AddWalker(record []byte) (int, error) {
	if err := checkRecord("walker", record); err != nil {
		return 0, err
	}

	walker := len(this.walkers)
	this.walkers = append(this.walkers, objectRecord{id: uint64(walker), stream: append([]byte(nil), record...)})
	this.traces = append(this.traces, nil)
	return walker, nil
}

// Visit appends one trace entry to the trace of walker.
func (this *LayoutBuilder) Visit(walker int, tag ability.Tag, node NodeRef, edge_num uint64) error {
	if walker < 0 || walker >= len(this.walkers) {
		return fmt.Errorf("walker %d: %w", walker, ErrUnknownWalker)
	}
	if _, ok := this.node_index[node.ID]; !ok {
		return fmt.Errorf("node %d: %w", node.ID, ErrUnknownNode)
	}

	this.traces[walker] = append(this.traces[walker], visitRecord{tag: tag, node: node.ID, edge_num: edge_num})
	return nil
}

func (this *LayoutBuilder) NumNodes() int {
	return len(this.nodes)
}

func (this *LayoutBuilder) NumWalkers() int {
	return len(this.walkers)
}

func (this *LayoutBuilder) Build() (*Image, error) {
	header := layout.Header{
		WalkerCount: uint64(len(this.walkers)),
		EntrySize:   layout.TraceEntrySize,
	}

	byte_stream := new(encoding.ByteStream)
	byte_stream.Init()
	byte_stream.AppendBytes(make([]byte, header.MetadataSize()))

	image := &Image{
		nodes:   make(map[uint64]layout.MemoryRange, len(this.nodes)),
		walkers: make([]layout.MemoryRange, len(this.walkers)),
	}

	for _, node := range this.nodes {
		size := uint64(len(node.stream))
		image.nodes[node.id] = layout.MemoryRange{Ptr: uint64(byte_stream.Size()), Size: size}
		byte_stream.AppendBytes(node.stream)
		header.MaxNodeSize = max(header.MaxNodeSize, size)
	}

	for i, walker := range this.walkers {
		size := uint64(len(walker.stream))
		image.walkers[i] = layout.MemoryRange{Ptr: uint64(byte_stream.Size()), Size: size}
		byte_stream.AppendBytes(walker.stream)
		header.MaxWalkerSize = max(header.MaxWalkerSize, size)
	}

	metadata := &layout.Metadata{
		TracePtrs: make([]uint64, len(this.walkers)),
		TraceLens: make([]uint64, len(this.walkers)),
	}
	for i, trace := range this.traces {
		metadata.TracePtrs[i] = uint64(byte_stream.Size())
		metadata.TraceLens[i] = uint64(len(trace))

		for _, visit := range trace {
			node := image.nodes[visit.node]
			entry := layout.TraceEntry{
				AbilityTag: uint64(visit.tag),
				NodeID:     visit.node,
				NodePtr:    node.Ptr,
				NodeSize:   node.Size,
				WalkerPtr:  image.walkers[i].Ptr,
				WalkerSize: image.walkers[i].Size,
				EdgeNum:    visit.edge_num,
			}
			byte_stream.AppendBytes(entry.Encode())
			header.MaxEdgeNum = max(header.MaxEdgeNum, visit.edge_num)
		}
	}

	size := uint64(byte_stream.Size())
	if this.capacity > 0 {
		if size > this.capacity {
			return nil, fmt.Errorf("%w: %d bytes > %d", ErrImageTooLarge, size, this.capacity)
		}
		header.ExtraMramSpace = this.capacity - size
	}

	metadata.Header = header
	bytes := byte_stream.Bytes()
	copy(bytes, metadata.Encode())

	image.Metadata = metadata
	image.Bytes = bytes
	return image, nil
}

// Image is a packed MRAM image plus the object ranges inside it.
type Image struct {
	Metadata *layout.Metadata
	Bytes    []byte

	nodes   map[uint64]layout.MemoryRange
	walkers []layout.MemoryRange
}

// ParseImage decodes raw image bytes, recovering object ranges from the trace
// entries. Walkers with an empty trace and nodes never visited stay unknown.
func ParseImage(raw []byte) (*Image, error) {
	metadata, err := layout.DecodeMetadata(raw)
	if err != nil {
		return nil, err
	}

	image := &Image{
		Metadata: metadata,
		Bytes:    raw,
		nodes:    make(map[uint64]layout.MemoryRange),
		walkers:  make([]layout.MemoryRange, metadata.WalkerCount),
	}

	for i := range metadata.TracePtrs {
		segment := metadata.TraceSegmentFor(i)
		if segment.IsEmpty() {
			continue
		}
		if segment.Pointer > uint64(len(raw)) || segment.Length > (uint64(len(raw))-segment.Pointer)/metadata.EntrySize {
			return nil, fmt.Errorf("trace %d of %d entries at %d past image end: %w", i, segment.Length, segment.Pointer, layout.ErrTruncated)
		}

		for j := uint64(0); j < segment.Length; j++ {
			r := segment.EntryRange(j, metadata.EntrySize)

			entry, err := layout.DecodeTraceEntry(raw[r.Ptr:r.End()])
			if err != nil {
				return nil, err
			}
			image.nodes[entry.NodeID] = entry.Node()
			image.walkers[i] = entry.Walker()
		}
	}

	return image, nil
}

func (this *Image) Size() int {
	return len(this.Bytes)
}

func (this *Image) NodeRange(id uint64) (layout.MemoryRange, bool) {
	r, ok := this.nodes[id]
	return r, ok
}

func (this *Image) WalkerRange(walker int) (layout.MemoryRange, bool) {
	if walker < 0 || walker >= len(this.walkers) || this.walkers[walker].Size == 0 {
		return layout.MemoryRange{}, false
	}
	return this.walkers[walker], true
}

// NodeIDs lists the known nodes in ascending id order.
func (this *Image) NodeIDs() []uint64 {
	ids := make([]uint64, 0, len(this.nodes))
	for id := range this.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Node returns the bytes of node id.
func (this *Image) Node(id uint64) ([]byte, error) {
	r, ok := this.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	return this.slice(r)
}

// Walker returns the bytes of walker i.
func (this *Image) Walker(walker int) ([]byte, error) {
	r, ok := this.WalkerRange(walker)
	if !ok {
		return nil, fmt.Errorf("walker %d: %w", walker, ErrUnknownWalker)
	}
	return this.slice(r)
}

func (this *Image) slice(r layout.MemoryRange) ([]byte, error) {
	if r.Ptr > uint64(len(this.Bytes)) || r.Size > uint64(len(this.Bytes))-r.Ptr {
		return nil, fmt.Errorf("range [%d, +%d) past image end: %w", r.Ptr, r.Size, layout.ErrTruncated)
	}
	return this.Bytes[r.Ptr:r.End()], nil
}

// WithBytes returns a copy of this image backed by raw, typically the image
// read back after a run. Object ranges are shared.
func (this *Image) WithBytes(raw []byte) *Image {
	return &Image{
		Metadata: this.Metadata,
		Bytes:    raw,
		nodes:    this.nodes,
		walkers:  this.walkers,
	}
}
