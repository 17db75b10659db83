package dpu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"jacPIMulator/src/abi/layout"
	"jacPIMulator/src/misc"
	"jacPIMulator/src/simulator/dpu/ability"
	"jacPIMulator/src/simulator/dpu/mram"
	"jacPIMulator/src/simulator/dpu/results"
	"jacPIMulator/src/simulator/dpu/wram"
)

var ErrNotAssigned = errors.New("tasklet has no trace segment assigned")

// Env holds the collaborators the tasklets of one unit share.
type Env struct {
	ID         string
	Name       string
	Controller *mram.MemoryController
	Table      *ability.Table
	Policy     misc.WriteBackPolicy
	Metrics    *misc.Metrics
	Logger     *slog.Logger
}

type Tasklet struct {
	id  int
	env *Env

	metadata *layout.Metadata
	segment  layout.Segment
	assigned bool
	cursor   uint64

	entry_buffer  []byte
	node_buffer   []byte
	walker_buffer []byte
	node_shadow   []byte

	recorder     results.Recorder
	stat_factory *misc.StatFactory
	logger       *slog.Logger
}

func (this *Tasklet) Init(id int, env *Env, recorder results.Recorder) {
	if env == nil || env.Controller == nil || env.Table == nil {
		err := errors.New("tasklet environment is incomplete")
		panic(err)
	}

	this.id = id
	this.env = env

	this.logger = env.Logger
	if this.logger == nil {
		this.logger = misc.DiscardLogger()
	}

	this.recorder = results.Counting{
		Recorder: recorder,
		OnDrop: func() {
			this.stat_factory.Increment("results_dropped", 1)
			this.env.Metrics.ObserveDrop(this.env.Name)
		},
	}

	this.stat_factory = new(misc.StatFactory)
	this.stat_factory.Init(fmt.Sprintf("Tasklet[%s_%d]", env.ID, id))
}

func (this *Tasklet) Fini() {
	this.entry_buffer = nil
	this.node_buffer = nil
	this.walker_buffer = nil
	this.node_shadow = nil
}

func (this *Tasklet) ID() int {
	return this.id
}

func (this *Tasklet) StatFactory() *misc.StatFactory {
	return this.stat_factory
}

func (this *Tasklet) Segment() layout.Segment {
	return this.segment
}

// Cursor is the index of the next trace entry to dispatch.
func (this *Tasklet) Cursor() uint64 {
	return this.cursor
}

// Allocate reserves the staging buffers of this tasklet: one trace entry, one
// node of max_node_size, one walker of max_walker_size and, under the dirty
// write-back policy, a shadow copy of the node.
func (this *Tasklet) Allocate(heap *wram.Heap, metadata *layout.Metadata) error {
	var err error

	if this.entry_buffer, err = heap.Allocate(int64(metadata.EntrySize)); err != nil {
		return fmt.Errorf("trace entry buffer: %w", err)
	}
	if this.node_buffer, err = heap.Allocate(int64(metadata.MaxNodeSize)); err != nil {
		return fmt.Errorf("node buffer: %w", err)
	}
	if this.walker_buffer, err = heap.Allocate(int64(metadata.MaxWalkerSize)); err != nil {
		return fmt.Errorf("walker buffer: %w", err)
	}

	if this.env.Policy == misc.WriteBackDirty {
		if this.node_shadow, err = heap.Allocate(int64(metadata.MaxNodeSize)); err != nil {
			return fmt.Errorf("node shadow buffer: %w", err)
		}
	}

	return nil
}

// Assign binds the trace segment this tasklet replays and rewinds it.
func (this *Tasklet) Assign(metadata *layout.Metadata, segment layout.Segment) {
	this.metadata = metadata
	this.segment = segment
	this.assigned = true
	this.cursor = 0

	if segment.IsEmpty() {
		this.stat_factory.Increment("idle", 1)
	}
}

func (this *Tasklet) IsFinished() bool {
	return this.assigned && this.cursor >= this.segment.Length
}

// Run dispatches the remaining entries of the segment in trace order.
func (this *Tasklet) Run(ctx context.Context) error {
	if !this.assigned {
		return this.fault(BeforeDispatch, ErrNotAssigned)
	}

	this.logger.Debug("tasklet started",
		slog.String("unit", this.env.Name),
		slog.Int("tasklet", this.id),
		slog.Uint64("entries", this.segment.Length),
	)

	for !this.IsFinished() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := this.Step(); err != nil {
			return err
		}
	}

	this.logger.Debug("tasklet finished",
		slog.String("unit", this.env.Name),
		slog.Int("tasklet", this.id),
	)
	return nil
}

// Step dispatches one trace entry: stage the node and walker, run the
// ability, write the walker back, then the node. A finished tasklet steps as
// a no-op.
func (this *Tasklet) Step() error {
	if !this.assigned {
		return this.fault(BeforeDispatch, ErrNotAssigned)
	}
	if this.IsFinished() {
		return nil
	}

	step := this.cursor

	entry, err := ReadTraceEntry(this.env.Controller, this.metadata, this.segment, step, this.entry_buffer)
	if err != nil {
		return this.fault(int64(step), err)
	}
	this.observeRead(int64(this.metadata.EntrySize))

	node := this.node_buffer[:entry.NodeSize]
	walker := this.walker_buffer[:entry.WalkerSize]

	if err := this.env.Controller.Read(node, entry.NodePtr, entry.NodeSize); err != nil {
		return this.fault(int64(step), fmt.Errorf("stage node %d: %w", entry.NodeID, err))
	}
	this.observeRead(int64(entry.NodeSize))

	if err := this.env.Controller.Read(walker, entry.WalkerPtr, entry.WalkerSize); err != nil {
		return this.fault(int64(step), fmt.Errorf("stage walker: %w", err))
	}
	this.observeRead(int64(entry.WalkerSize))

	var shadow []byte
	if this.node_shadow != nil {
		shadow = this.node_shadow[:entry.NodeSize]
		copy(shadow, node)
	}

	ability_entry, err := this.env.Table.Lookup(ability.Tag(entry.AbilityTag))
	if err != nil {
		return this.fault(int64(step), err)
	}

	ctx := &ability.Context{
		Tasklet: this.id,
		Step:    step,
		NodeID:  entry.NodeID,
		EdgeNum: entry.EdgeNum,
		Results: this.recorder,
	}
	if err := ability_entry.Fn(walker, node, ctx); err != nil {
		return this.fault(int64(step), fmt.Errorf("ability %s on node %d: %w", ability_entry.Name, entry.NodeID, err))
	}

	if err := this.env.Controller.Write(walker, entry.WalkerPtr, entry.WalkerSize); err != nil {
		return this.fault(int64(step), fmt.Errorf("write back walker: %w", err))
	}
	this.observeWrite(int64(entry.WalkerSize))

	if shadow != nil && bytes.Equal(shadow, node) {
		this.stat_factory.Increment("node_writes_skipped", 1)
	} else {
		if err := this.env.Controller.Write(node, entry.NodePtr, entry.NodeSize); err != nil {
			return this.fault(int64(step), fmt.Errorf("write back node %d: %w", entry.NodeID, err))
		}
		this.observeWrite(int64(entry.NodeSize))
	}

	this.cursor++
	this.stat_factory.Increment("steps", 1)
	this.stat_factory.Increment(fmt.Sprintf("ability_%d", entry.AbilityTag), 1)
	this.env.Metrics.ObserveStep(this.env.Name)
	return nil
}

func (this *Tasklet) observeRead(size int64) {
	this.stat_factory.Increment("read_bytes", size)
	this.env.Metrics.ObserveRead(this.env.Name, size)
}

func (this *Tasklet) observeWrite(size int64) {
	this.stat_factory.Increment("write_bytes", size)
	this.env.Metrics.ObserveWrite(this.env.Name, size)
}

func (this *Tasklet) fault(step int64, err error) error {
	this.stat_factory.Increment("faults", 1)
	return &FaultError{Unit: this.env.Name, Tasklet: this.id, Step: step, Err: err}
}
