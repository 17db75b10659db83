package dpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"jacPIMulator/src/abi/encoding"
	"jacPIMulator/src/abi/layout"
	"jacPIMulator/src/misc"
	"jacPIMulator/src/simulator/dpu/ability"
)

const (
	tagSum ability.Tag = iota + 1
	tagNoop
	tagCount
	tagStamp
	tagFail
)

const (
	nodeBase   = 0x100
	walkerBase = 0x400
	traceBase  = 0x800

	testNodeSize   = 16
	testWalkerSize = 8
)

var errAbilityFailed = errors.New("ability failed")

// testTable registers abilities over 16-byte {value, index} nodes and 8-byte
// walkers holding one counter word.
func testTable() *ability.Table {
	table := ability.NewTable()

	table.MustRegister(tagSum, "sum", func(walker []byte, node []byte, ctx *ability.Context) error {
		encoding.PutWord(walker, 0, encoding.Word(walker, 0)+encoding.Word(node, 0))
		return nil
	})
	table.MustRegister(tagNoop, "noop", func(walker []byte, node []byte, ctx *ability.Context) error {
		return nil
	})
	table.MustRegister(tagCount, "count", func(walker []byte, node []byte, ctx *ability.Context) error {
		encoding.PutWord(walker, 0, encoding.Word(walker, 0)+1)
		ctx.Results.Push(ctx.NodeID)
		return nil
	})
	table.MustRegister(tagStamp, "stamp", func(walker []byte, node []byte, ctx *ability.Context) error {
		counter := encoding.Word(walker, 0) + 1
		encoding.PutWord(walker, 0, counter)
		encoding.PutWord(node, 8, counter)
		return nil
	})
	table.MustRegister(tagFail, "fail", func(walker []byte, node []byte, ctx *ability.Context) error {
		return errAbilityFailed
	})

	return table
}

type visit struct {
	tag  ability.Tag
	node uint64
}

// workload lays nodes out at nodeBase, walkers at walkerBase and the traces
// back to back from traceBase. Walker i replays traces[i].
type workload struct {
	nodes   []uint64
	walkers []uint64
	traces  [][]visit
}

func nodeRange(id uint64) layout.MemoryRange {
	return layout.MemoryRange{Ptr: nodeBase + id*testNodeSize, Size: testNodeSize}
}

func walkerRange(i int) layout.MemoryRange {
	return layout.MemoryRange{Ptr: walkerBase + uint64(i)*testWalkerSize, Size: testWalkerSize}
}

// entryOffset is the image offset of entry i of walker w's trace.
func (w workload) entryOffset(walker int, i int) int {
	offset := traceBase
	for _, trace := range w.traces[:walker] {
		offset += len(trace) * layout.TraceEntrySize
	}
	return offset + i*layout.TraceEntrySize
}

func (w workload) encode() []byte {
	entries := 0
	for _, trace := range w.traces {
		entries += len(trace)
	}
	image := make([]byte, traceBase+entries*layout.TraceEntrySize)

	for id, value := range w.nodes {
		r := nodeRange(uint64(id))
		encoding.PutWord(image, int(r.Ptr), value)
		encoding.PutWord(image, int(r.Ptr)+8, uint64(id))
	}
	for i, value := range w.walkers {
		encoding.PutWord(image, int(walkerRange(i).Ptr), value)
	}

	metadata := &layout.Metadata{
		Header: layout.Header{
			WalkerCount:   uint64(len(w.walkers)),
			MaxNodeSize:   testNodeSize,
			MaxWalkerSize: testWalkerSize,
			EntrySize:     layout.TraceEntrySize,
			MaxEdgeNum:    4,
		},
	}

	ptr := traceBase
	for i, trace := range w.traces {
		metadata.TracePtrs = append(metadata.TracePtrs, uint64(ptr))
		metadata.TraceLens = append(metadata.TraceLens, uint64(len(trace)))

		for _, v := range trace {
			entry := layout.TraceEntry{
				AbilityTag: uint64(v.tag),
				NodeID:     v.node,
				NodePtr:    nodeRange(v.node).Ptr,
				NodeSize:   testNodeSize,
				WalkerPtr:  walkerRange(i).Ptr,
				WalkerSize: testWalkerSize,
				EdgeNum:    2,
			}
			copy(image[ptr:], entry.Encode())
			ptr += layout.TraceEntrySize
		}
	}

	copy(image, metadata.Encode())
	return image
}

func testConfig(tasklets int) *misc.Config {
	config := misc.DefaultConfig()
	config.NumTasklets = tasklets
	config.MramSize = 64 * 1024
	config.WramHeapSize = 4096
	return config
}

func newTestDPU(t *testing.T, config *misc.Config, image []byte, deps Deps) *DPU {
	t.Helper()

	unit := new(DPU)
	require.NoError(t, unit.Init(0, 0, 0, config, testTable(), deps))
	require.NoError(t, unit.MemoryController().Load(image))
	t.Cleanup(unit.Fini)
	return unit
}

func dumpImage(t *testing.T, unit *DPU, size int) []byte {
	t.Helper()

	image, err := unit.MemoryController().Dump(uint64(size))
	require.NoError(t, err)
	return image
}

func word(image []byte, ptr uint64) uint64 {
	return encoding.Word(image, int(ptr))
}
