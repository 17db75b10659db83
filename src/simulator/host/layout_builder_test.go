package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jacPIMulator/src/abi/layout"
	"jacPIMulator/src/programs/bs"
)

func buildSumImage(t *testing.T, capacity uint64) *Image {
	t.Helper()

	builder := NewLayoutBuilder(capacity)

	root, err := builder.AddNode(0, bs.BranchNode{Mid: 2}.Encode())
	require.NoError(t, err)
	refs := []NodeRef{root}
	for id, value := range []uint64{5, 7, 11} {
		ref, err := builder.AddNode(uint64(id+1), bs.DataNode{Value: value, Index: uint64(id)}.Encode())
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	summer, err := builder.AddWalker(bs.Walker{}.Encode())
	require.NoError(t, err)
	idle, err := builder.AddWalker(bs.Walker{Value: 40}.Encode())
	require.NoError(t, err)
	require.Equal(t, 1, idle)

	require.NoError(t, builder.Visit(summer, bs.TagRundown, refs[0], 2))
	for _, ref := range refs[1:] {
		require.NoError(t, builder.Visit(summer, bs.TagSum, ref, 0))
	}

	image, err := builder.Build()
	require.NoError(t, err)
	return image
}

func TestLayoutBuilderPacksRegions(t *testing.T) {
	t.Parallel()

	image := buildSumImage(t, 4096)
	metadata := image.Metadata

	assert.Equal(t, uint64(2), metadata.WalkerCount)
	assert.Equal(t, uint64(bs.DataNodeSize), metadata.MaxNodeSize)
	assert.Equal(t, uint64(bs.WalkerSize), metadata.MaxWalkerSize)
	assert.Equal(t, uint64(layout.TraceEntrySize), metadata.EntrySize)
	assert.Equal(t, uint64(2), metadata.MaxEdgeNum)
	assert.Equal(t, []uint64{4, 0}, metadata.TraceLens)
	assert.Equal(t, uint64(4096-image.Size()), metadata.ExtraMramSpace)

	root, ok := image.NodeRange(0)
	require.True(t, ok)
	assert.Equal(t, layout.MemoryRange{Ptr: metadata.MetadataSize(), Size: bs.BranchNodeSize}, root)

	last, ok := image.NodeRange(3)
	require.True(t, ok)
	first_walker, ok := image.WalkerRange(0)
	require.True(t, ok)
	assert.Equal(t, last.End(), first_walker.Ptr)

	second_walker, ok := image.WalkerRange(1)
	require.True(t, ok)
	assert.Equal(t, second_walker.End(), metadata.TracePtrs[0])
	assert.Zero(t, image.Size()%layout.WordSize)

	decoded, err := layout.DecodeMetadata(image.Bytes)
	require.NoError(t, err)
	assert.Equal(t, metadata, decoded)

	walker, err := image.Walker(1)
	require.NoError(t, err)
	w, err := bs.DecodeWalker(walker)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), w.Value)
}

func TestParseImageRecoversVisitedObjects(t *testing.T) {
	t.Parallel()

	image := buildSumImage(t, 0)
	assert.Zero(t, image.Metadata.ExtraMramSpace)

	parsed, err := ParseImage(image.Bytes)
	require.NoError(t, err)

	assert.Equal(t, image.NodeIDs(), parsed.NodeIDs())
	for _, id := range image.NodeIDs() {
		expected, _ := image.NodeRange(id)
		actual, ok := parsed.NodeRange(id)
		require.True(t, ok)
		assert.Equal(t, expected, actual)
	}

	expected, _ := image.WalkerRange(0)
	actual, ok := parsed.WalkerRange(0)
	require.True(t, ok)
	assert.Equal(t, expected, actual)

	_, ok = parsed.WalkerRange(1)
	assert.False(t, ok, "a walker without visits cannot be located from the traces")

	_, err = ParseImage(image.Bytes[:len(image.Bytes)-layout.TraceEntrySize])
	assert.ErrorIs(t, err, layout.ErrTruncated)
}

func TestParseImageRejectsWrappingRanges(t *testing.T) {
	t.Parallel()

	header := layout.Header{WalkerCount: 1, MaxNodeSize: 16, MaxWalkerSize: 8, EntrySize: layout.TraceEntrySize}

	for _, trace := range []struct{ ptr, length uint64 }{
		{1<<64 - layout.WordSize, 1},
		{header.MetadataSize(), 1 << 60},
	} {
		metadata := &layout.Metadata{Header: header, TracePtrs: []uint64{trace.ptr}, TraceLens: []uint64{trace.length}}
		_, err := ParseImage(metadata.Encode())
		assert.ErrorIs(t, err, layout.ErrTruncated)
	}

	metadata := &layout.Metadata{Header: header, TracePtrs: []uint64{header.MetadataSize()}, TraceLens: []uint64{1}}
	entry := layout.TraceEntry{
		AbilityTag: 1,
		NodeID:     7,
		NodePtr:    1<<64 - layout.WordSize,
		NodeSize:   16,
		WalkerPtr:  1<<64 - layout.WordSize,
		WalkerSize: 8,
	}
	raw := append(metadata.Encode(), entry.Encode()...)

	image, err := ParseImage(raw)
	require.NoError(t, err)

	_, err = image.Node(7)
	assert.ErrorIs(t, err, layout.ErrTruncated)
	_, err = image.Walker(0)
	assert.ErrorIs(t, err, layout.ErrTruncated)
}

func TestLayoutBuilderRejectsBadInput(t *testing.T) {
	t.Parallel()

	builder := NewLayoutBuilder(64)

	_, err := builder.AddNode(1, make([]byte, 12))
	assert.ErrorIs(t, err, ErrBadRecord)
	_, err = builder.AddWalker(nil)
	assert.ErrorIs(t, err, ErrBadRecord)

	ref, err := builder.AddNode(1, make([]byte, 16))
	require.NoError(t, err)
	_, err = builder.AddNode(1, make([]byte, 16))
	assert.ErrorIs(t, err, ErrDuplicateNode)

	assert.ErrorIs(t, builder.Visit(0, bs.TagSum, ref, 0), ErrUnknownWalker)

	walker, err := builder.AddWalker(make([]byte, 8))
	require.NoError(t, err)
	assert.ErrorIs(t, builder.Visit(walker, bs.TagSum, NodeRef{ID: 9}, 0), ErrUnknownNode)

	require.NoError(t, builder.Visit(walker, bs.TagSum, ref, 0))
	_, err = builder.Build()
	assert.ErrorIs(t, err, ErrImageTooLarge)
}
