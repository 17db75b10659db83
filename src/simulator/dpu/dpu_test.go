package dpu

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"jacPIMulator/src/abi/encoding"
	"jacPIMulator/src/abi/layout"
	"jacPIMulator/src/misc"
	"jacPIMulator/src/simulator/dpu/ability"
	"jacPIMulator/src/simulator/dpu/bootstrap"
	"jacPIMulator/src/simulator/dpu/mram"
	"jacPIMulator/src/simulator/dpu/wram"
)

func TestRunSumsNodesIntoWalker(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{5, 7, 11},
		walkers: []uint64{0, 40},
		traces: [][]visit{
			{{tagSum, 0}, {tagSum, 1}, {tagSum, 2}},
			{},
		},
	}
	image := w.encode()
	unit := newTestDPU(t, testConfig(2), image, Deps{})

	require.NoError(t, unit.Run(context.Background()))

	after := dumpImage(t, unit, len(image))
	assert.Equal(t, uint64(23), word(after, walkerRange(0).Ptr))
	assert.Equal(t, uint64(40), word(after, walkerRange(1).Ptr))

	nodes := nodeRange(0).Ptr
	assert.Equal(t, image[nodes:nodes+3*testNodeSize], after[nodes:nodes+3*testNodeSize])

	idle := unit.Tasklet(1)
	require.NotNil(t, idle)
	assert.Zero(t, idle.Cursor())
	assert.Zero(t, idle.StatFactory().Value("write_bytes"))
	assert.Zero(t, idle.StatFactory().Value("read_bytes"))

	assert.Equal(t, int64(6), unit.MemoryController().StatFactory().Value("num_writes"))
	assert.Equal(t, bootstrap.StateReady, unit.BootstrapState())
}

func TestIdleTaskletsTouchNothing(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{1, 2, 3},
		walkers: []uint64{0, 0, 0},
		traces: [][]visit{
			{{tagCount, 0}},
			{{tagCount, 1}, {tagCount, 1}},
			{{tagCount, 2}},
		},
	}
	unit := newTestDPU(t, testConfig(misc.DefaultNumTasklets), w.encode(), Deps{})

	require.NoError(t, unit.Run(context.Background()))

	for id := 3; id < misc.DefaultNumTasklets; id++ {
		tasklet := unit.Tasklet(id)
		assert.True(t, tasklet.Segment().IsEmpty(), "tasklet %d", id)
		assert.True(t, tasklet.IsFinished(), "tasklet %d", id)
		assert.Zero(t, tasklet.StatFactory().Value("steps"), "tasklet %d", id)
		assert.Zero(t, tasklet.StatFactory().Value("read_bytes"), "tasklet %d", id)
		assert.Zero(t, tasklet.StatFactory().Value("write_bytes"), "tasklet %d", id)
		assert.Empty(t, unit.Results(id), "tasklet %d", id)
	}

	assert.Equal(t, int64(misc.DefaultNumTasklets-3), unit.StatFactories()[0].Value("idle_tasklets"))
	assert.Equal(t, int64(2*4), unit.MemoryController().StatFactory().Value("num_writes"))
}

func TestTraceOrderIsPreserved(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{0, 0, 0},
		walkers: []uint64{0},
		traces:  [][]visit{{{tagStamp, 0}, {tagStamp, 1}, {tagStamp, 0}, {tagStamp, 2}}},
	}
	image := w.encode()
	unit := newTestDPU(t, testConfig(1), image, Deps{})

	require.NoError(t, unit.Run(context.Background()))

	after := dumpImage(t, unit, len(image))
	assert.Equal(t, uint64(4), word(after, walkerRange(0).Ptr))
	assert.Equal(t, uint64(3), word(after, nodeRange(0).Ptr+8))
	assert.Equal(t, uint64(2), word(after, nodeRange(1).Ptr+8))
	assert.Equal(t, uint64(4), word(after, nodeRange(2).Ptr+8))
	assert.Equal(t, uint64(4), unit.Tasklet(0).Cursor())
}

func TestNoopAbilityRoundTripsMemory(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{0xdeadbeef, 0x0123456789abcdef, 42},
		walkers: []uint64{0xfeedface, 7},
		traces: [][]visit{
			{{tagNoop, 0}, {tagNoop, 1}, {tagNoop, 0}},
			{{tagNoop, 2}},
		},
	}
	image := w.encode()
	unit := newTestDPU(t, testConfig(4), image, Deps{})

	require.NoError(t, unit.Run(context.Background()))

	assert.Equal(t, image, dumpImage(t, unit, len(image)))
	assert.Equal(t, int64(8), unit.MemoryController().StatFactory().Value("num_writes"))
}

func TestDisjointTaskletsIgnoreInterleaving(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{1, 2, 3, 4, 5, 6},
		walkers: []uint64{0, 100, 1000},
		traces: [][]visit{
			{{tagSum, 0}, {tagStamp, 1}, {tagSum, 0}},
			{{tagStamp, 2}, {tagSum, 3}},
			{{tagSum, 4}, {tagStamp, 4}, {tagStamp, 5}, {tagSum, 4}},
		},
	}
	image := w.encode()

	reference := newTestDPU(t, testConfig(3), image, Deps{})
	require.NoError(t, reference.Run(context.Background()))
	expected := dumpImage(t, reference, len(image))

	for seed := uint64(1); seed <= 16; seed++ {
		unit := newTestDPU(t, testConfig(3), image, Deps{})

		unit.heap.Reset()
		metadata, err := LoadMetadata(unit.MemoryController())
		require.NoError(t, err)

		tasklets := make([]*Tasklet, 3)
		for id := range tasklets {
			tasklet := new(Tasklet)
			tasklet.Init(id, unit.env, unit.recorderFor(id))
			require.NoError(t, tasklet.Allocate(unit.Heap(), metadata))
			tasklet.Assign(metadata, metadata.TraceSegmentFor(id))
			tasklets[id] = tasklet
		}

		rng := rand.New(rand.NewSource(int64(seed)))
		for {
			pending := make([]*Tasklet, 0, len(tasklets))
			for _, tasklet := range tasklets {
				if !tasklet.IsFinished() {
					pending = append(pending, tasklet)
				}
			}
			if len(pending) == 0 {
				break
			}
			require.NoError(t, pending[rng.Intn(len(pending))].Step())
		}

		assert.Equal(t, expected, dumpImage(t, unit, len(image)), "seed %d", seed)
	}
}

func TestDirtyPolicySkipsUnchangedNodes(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{5, 7, 11},
		walkers: []uint64{0},
		traces:  [][]visit{{{tagSum, 0}, {tagSum, 1}, {tagStamp, 2}}},
	}
	image := w.encode()

	always := newTestDPU(t, testConfig(1), image, Deps{})
	require.NoError(t, always.Run(context.Background()))

	config := testConfig(1)
	config.WriteBackPolicy = string(misc.WriteBackDirty)
	dirty := newTestDPU(t, config, image, Deps{})
	require.NoError(t, dirty.Run(context.Background()))

	assert.Equal(t, dumpImage(t, always, len(image)), dumpImage(t, dirty, len(image)))
	assert.Equal(t, int64(6), always.MemoryController().StatFactory().Value("num_writes"))
	assert.Equal(t, int64(4), dirty.MemoryController().StatFactory().Value("num_writes"))
	assert.Equal(t, int64(2), dirty.Tasklet(0).StatFactory().Value("node_writes_skipped"))
}

func TestResultsPerTaskletAndShared(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{0, 0, 0},
		walkers: []uint64{0, 0},
		traces: [][]visit{
			{{tagCount, 0}, {tagCount, 1}},
			{{tagCount, 2}},
		},
	}
	image := w.encode()

	private := newTestDPU(t, testConfig(2), image, Deps{})
	require.NoError(t, private.Run(context.Background()))
	assert.Equal(t, []uint64{0, 1}, private.Results(0))
	assert.Equal(t, []uint64{2}, private.Results(1))

	config := testConfig(2)
	config.ResultScope = string(misc.ResultScopeShared)
	shared := newTestDPU(t, config, image, Deps{})
	require.NoError(t, shared.Run(context.Background()))
	assert.ElementsMatch(t, []uint64{0, 1, 2}, shared.Results(0))
	assert.Equal(t, 3, shared.SharedResults().Len())
}

func TestResultOverflowIsCounted(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{0, 0, 0},
		walkers: []uint64{0},
		traces:  [][]visit{{{tagCount, 0}, {tagCount, 1}, {tagCount, 2}}},
	}
	image := w.encode()

	config := testConfig(1)
	config.ResultCapacity = 2
	registry := prometheus.NewRegistry()
	metrics := misc.NewMetrics(registry)
	unit := newTestDPU(t, config, image, Deps{Metrics: metrics})

	require.NoError(t, unit.Run(context.Background()))

	assert.Equal(t, []uint64{0, 1}, unit.Results(0))
	assert.Equal(t, uint64(1), unit.ResultsDropped())
	assert.Equal(t, int64(1), unit.Tasklet(0).StatFactory().Value("results_dropped"))
	assert.Equal(t, uint64(3), word(dumpImage(t, unit, len(image)), walkerRange(0).Ptr))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ResultsDropped.WithLabelValues(unit.Name())))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.TraceSteps.WithLabelValues(unit.Name())))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UnitRuns.WithLabelValues(OutcomeCompleted)))
}

func TestRunIsRepeatable(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{0, 0},
		walkers: []uint64{0},
		traces:  [][]visit{{{tagCount, 0}, {tagCount, 1}}},
	}
	image := w.encode()
	unit := newTestDPU(t, testConfig(2), image, Deps{})

	require.NoError(t, unit.Run(context.Background()))
	require.NoError(t, unit.Run(context.Background()))

	assert.Equal(t, int64(2), unit.Heap().Generation())
	assert.Equal(t, []uint64{0, 1}, unit.Results(0))
	assert.Equal(t, uint64(4), word(dumpImage(t, unit, len(image)), walkerRange(0).Ptr))
	assert.Equal(t, int64(2), unit.StatFactories()[0].Value("runs"))
}

func requireFault(t *testing.T, err error, tasklet int, step int64, target error) {
	t.Helper()

	require.Error(t, err)
	var fault *FaultError
	require.True(t, errors.As(err, &fault), "expected *FaultError, got %T: %v", err, err)
	assert.Equal(t, tasklet, fault.Tasklet)
	assert.Equal(t, step, fault.Step)
	assert.Equal(t, "DPU[0_0_0]", fault.Unit)
	assert.ErrorIs(t, err, target)
}

func TestRunFaults(t *testing.T) {
	t.Parallel()

	base := workload{
		nodes:   []uint64{1, 2},
		walkers: []uint64{0},
		traces:  [][]visit{{{tagSum, 0}, {tagSum, 1}}},
	}

	tests := []struct {
		name   string
		patch  func(image []byte)
		config func(config *misc.Config)
		traces [][]visit
		step   int64
		target error
	}{
		{
			name: "oversize node",
			patch: func(image []byte) {
				encoding.PutWord(image, base.entryOffset(0, 0)+24, 2*testNodeSize)
			},
			step:   0,
			target: layout.ErrOversizeRecord,
		},
		{
			name: "node past the end of MRAM",
			patch: func(image []byte) {
				encoding.PutWord(image, base.entryOffset(0, 1)+16, 64*1024)
			},
			step:   1,
			target: mram.ErrOutOfRange,
		},
		{
			name: "misaligned walker",
			patch: func(image []byte) {
				encoding.PutWord(image, base.entryOffset(0, 0)+32, walkerBase+4)
			},
			step:   0,
			target: mram.ErrMisaligned,
		},
		{
			name:   "unknown ability",
			traces: [][]visit{{{tagSum, 0}, {ability.Tag(99), 1}}},
			step:   1,
			target: ability.ErrUnknownAbility,
		},
		{
			name:   "ability error",
			traces: [][]visit{{{tagFail, 0}}},
			step:   0,
			target: errAbilityFailed,
		},
		{
			name: "malformed metadata",
			patch: func(image []byte) {
				encoding.PutWord(image, 32, 0)
			},
			step:   BeforeDispatch,
			target: layout.ErrMalformedMetadata,
		},
		{
			name: "huge max_node_size",
			patch: func(image []byte) {
				encoding.PutWord(image, 16, math.MaxInt64-7)
			},
			step:   BeforeDispatch,
			target: wram.ErrOutOfMemory,
		},
		{
			name: "max_walker_size beyond int64",
			patch: func(image []byte) {
				encoding.PutWord(image, 24, 1<<63)
			},
			step:   BeforeDispatch,
			target: layout.ErrMalformedMetadata,
		},
		{
			name: "scratch exhausted",
			config: func(config *misc.Config) {
				config.WramHeapSize = 64
			},
			step:   BeforeDispatch,
			target: wram.ErrOutOfMemory,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			w := base
			if test.traces != nil {
				w.traces = test.traces
			}
			image := w.encode()
			if test.patch != nil {
				test.patch(image)
			}

			config := testConfig(1)
			if test.config != nil {
				test.config(config)
			}

			registry := prometheus.NewRegistry()
			metrics := misc.NewMetrics(registry)
			unit := newTestDPU(t, config, image, Deps{Metrics: metrics})

			requireFault(t, unit.Run(context.Background()), 0, test.step, test.target)
			assert.Equal(t, int64(1), unit.StatFactories()[0].Value("faults"))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UnitRuns.WithLabelValues(OutcomeFaulted)))
		})
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	w := workload{
		nodes:   []uint64{1, 2},
		walkers: []uint64{0, 0},
		traces:  [][]visit{{{tagSum, 0}}, {{tagSum, 1}}},
	}
	unit := newTestDPU(t, testConfig(2), w.encode(), Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, unit.Run(ctx), context.Canceled)
}

func TestRunRecordsSpan(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	w := workload{
		nodes:   []uint64{1},
		walkers: []uint64{0},
		traces:  [][]visit{{{tagFail, 0}}},
	}
	unit := newTestDPU(t, testConfig(1), w.encode(), Deps{Tracer: provider.Tracer("test")})

	require.Error(t, unit.Run(context.Background()))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "dpu.Run", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTaskletStepBeforeAssign(t *testing.T) {
	t.Parallel()

	unit := newTestDPU(t, testConfig(1), workload{walkers: []uint64{0}, traces: [][]visit{{}}}.encode(), Deps{})

	tasklet := new(Tasklet)
	tasklet.Init(0, unit.env, unit.recorderFor(0))
	assert.ErrorIs(t, tasklet.Step(), ErrNotAssigned)
	assert.False(t, tasklet.IsFinished())
}
