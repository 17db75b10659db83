package dpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"jacPIMulator/src/abi/layout"
	"jacPIMulator/src/misc"
	"jacPIMulator/src/simulator/dpu/ability"
	"jacPIMulator/src/simulator/dpu/bootstrap"
	"jacPIMulator/src/simulator/dpu/mram"
	"jacPIMulator/src/simulator/dpu/results"
	"jacPIMulator/src/simulator/dpu/wram"
)

const tracerName = "jacPIMulator/src/simulator/dpu"

const (
	OutcomeCompleted = "completed"
	OutcomeFaulted   = "faulted"
)

// Deps are the optional observability hooks of a unit.
type Deps struct {
	Logger  *slog.Logger
	Metrics *misc.Metrics
	Tracer  trace.Tracer
}

// DPU is one compute unit: an MRAM bank, a WRAM heap and a fixed set of
// tasklets replaying their traces against both.
type DPU struct {
	channel_id int
	rank_id    int
	dpu_id     int

	config *misc.Config
	table  *ability.Table

	array             *mram.Array
	memory_controller *mram.MemoryController
	heap              *wram.Heap

	env        *Env
	gate       *bootstrap.Gate
	tasklets   []*Tasklet
	containers []*results.Container
	shared     *results.Locked

	stat_factory *misc.StatFactory
	logger       *slog.Logger
	tracer       trace.Tracer
}

func (this *DPU) Init(
	channel_id int,
	rank_id int,
	dpu_id int,
	config *misc.Config,
	table *ability.Table,
	deps Deps,
) error {
	if config == nil || table == nil {
		err := errors.New("DPU needs a config and an ability table")
		panic(err)
	}

	this.channel_id = channel_id
	this.rank_id = rank_id
	this.dpu_id = dpu_id
	this.config = config
	this.table = table

	this.logger = deps.Logger
	if this.logger == nil {
		this.logger = misc.DiscardLogger()
	}
	this.tracer = deps.Tracer
	if this.tracer == nil {
		this.tracer = otel.Tracer(tracerName)
	}

	this.array = new(mram.Array)
	if err := this.array.Init(config.MramOffset, config.MramSize, config.MinAccessGranularity); err != nil {
		return fmt.Errorf("%s: %w", this.Name(), err)
	}

	this.memory_controller = new(mram.MemoryController)
	this.memory_controller.Init(channel_id, rank_id, dpu_id, config.MramHeapPointer)
	this.memory_controller.ConnectArray(this.array)

	this.heap = wram.NewHeap(config.WramHeapSize)

	this.env = &Env{
		ID:         this.id(),
		Name:       this.Name(),
		Controller: this.memory_controller,
		Table:      table,
		Policy:     config.Policy(),
		Metrics:    deps.Metrics,
		Logger:     this.logger,
	}

	this.containers = make([]*results.Container, config.NumTasklets)
	for i := range this.containers {
		this.containers[i] = results.New(config.ResultCapacity)
	}
	this.shared = results.NewLocked(config.ResultCapacity)

	this.stat_factory = new(misc.StatFactory)
	this.stat_factory.Init(this.Name())

	return nil
}

func (this *DPU) Fini() {
	for _, tasklet := range this.tasklets {
		tasklet.Fini()
	}
	this.tasklets = nil

	this.memory_controller.Fini()
	this.array.Fini()
}

func (this *DPU) ChannelID() int {
	return this.channel_id
}

func (this *DPU) RankID() int {
	return this.rank_id
}

func (this *DPU) DpuID() int {
	return this.dpu_id
}

func (this *DPU) id() string {
	return fmt.Sprintf("%d_%d_%d", this.channel_id, this.rank_id, this.dpu_id)
}

func (this *DPU) Name() string {
	return "DPU[" + this.id() + "]"
}

func (this *DPU) Array() *mram.Array {
	return this.array
}

func (this *DPU) MemoryController() *mram.MemoryController {
	return this.memory_controller
}

func (this *DPU) Heap() *wram.Heap {
	return this.heap
}

func (this *DPU) NumTasklets() int {
	return this.config.NumTasklets
}

// Tasklet returns the tasklet of the last run, or nil before the first one.
func (this *DPU) Tasklet(id int) *Tasklet {
	if id < 0 || id >= len(this.tasklets) {
		return nil
	}
	return this.tasklets[id]
}

// Results returns the identifiers tasklet pushed during the last run. Under
// the shared scope every tasklet reports the one unit-wide container.
func (this *DPU) Results(tasklet int) []uint64 {
	if this.config.Scope() == misc.ResultScopeShared {
		return this.shared.Snapshot()
	}
	if tasklet < 0 || tasklet >= len(this.containers) {
		return nil
	}
	return this.containers[tasklet].Snapshot()
}

// SharedResults returns the unit-wide container used under the shared scope.
func (this *DPU) SharedResults() *results.Locked {
	return this.shared
}

// ResultsDropped counts identifiers rejected by full containers since Init.
func (this *DPU) ResultsDropped() uint64 {
	if this.config.Scope() == misc.ResultScopeShared {
		return this.shared.Dropped()
	}

	var dropped uint64
	for _, container := range this.containers {
		dropped += container.Dropped()
	}
	return dropped
}

// BootstrapState reports how far the last run got through bootstrap.
func (this *DPU) BootstrapState() bootstrap.State {
	if this.gate == nil {
		return bootstrap.StateUninitialized
	}
	return this.gate.State()
}

func (this *DPU) StatFactories() []*misc.StatFactory {
	stat_factories := []*misc.StatFactory{this.stat_factory, this.memory_controller.StatFactory()}
	for _, tasklet := range this.tasklets {
		stat_factories = append(stat_factories, tasklet.StatFactory())
	}
	return stat_factories
}

func (this *DPU) recorderFor(tasklet int) results.Recorder {
	if this.config.Scope() == misc.ResultScopeShared {
		return this.shared
	}
	return this.containers[tasklet]
}

// Run launches every tasklet of the unit and waits for all of them. The first
// fault cancels the remaining tasklets and is returned as a *FaultError.
func (this *DPU) Run(ctx context.Context) error {
	ctx, span := this.tracer.Start(ctx, "dpu.Run", trace.WithAttributes(
		attribute.String("unit", this.Name()),
		attribute.Int("tasklets", this.config.NumTasklets),
		attribute.String("write_back_policy", string(this.env.Policy)),
	))
	defer span.End()

	start := time.Now()

	this.gate = bootstrap.NewGate(this.config.NumTasklets)
	for _, container := range this.containers {
		container.Clear()
	}
	this.shared.Clear()

	this.tasklets = make([]*Tasklet, this.config.NumTasklets)
	for id := range this.tasklets {
		tasklet := new(Tasklet)
		tasklet.Init(id, this.env, this.recorderFor(id))
		this.tasklets[id] = tasklet
	}

	group, group_ctx := errgroup.WithContext(ctx)
	for id := range this.tasklets {
		id := id
		group.Go(func() error {
			return this.runTasklet(group_ctx, id)
		})
	}
	err := group.Wait()

	elapsed := time.Since(start)
	this.stat_factory.Increment("runs", 1)

	if err != nil {
		this.stat_factory.Increment("faults", 1)
		this.env.Metrics.ObserveUnitRun(OutcomeFaulted, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		this.logger.Warn("unit faulted",
			slog.String("unit", this.Name()),
			slog.String("bootstrap", this.gate.State().String()),
			slog.Any("error", err),
		)
		return err
	}

	this.env.Metrics.ObserveUnitRun(OutcomeCompleted, elapsed)
	span.SetStatus(codes.Ok, "")
	this.logger.Info("unit completed",
		slog.String("unit", this.Name()),
		slog.Duration("elapsed", elapsed),
		slog.Int64("wram_used", this.heap.Used()),
	)
	return nil
}

func (this *DPU) runTasklet(ctx context.Context, id int) error {
	tasklet := this.tasklets[id]

	if err := this.gate.Enter(ctx, id, this.reset); err != nil {
		return tasklet.fault(BeforeDispatch, err)
	}

	metadata, err := LoadMetadata(this.memory_controller)
	if err != nil {
		return tasklet.fault(BeforeDispatch, err)
	}

	if err := tasklet.Allocate(this.heap, metadata); err != nil {
		return tasklet.fault(BeforeDispatch, err)
	}

	if id == 0 && metadata.WalkerCount > uint64(len(this.tasklets)) {
		unscheduled := metadata.WalkerCount - uint64(len(this.tasklets))
		this.stat_factory.Increment("unscheduled_walkers", int64(unscheduled))
		this.logger.Warn("walkers beyond the tasklet count are not replayed",
			slog.String("unit", this.Name()),
			slog.Uint64("walkers", metadata.WalkerCount),
			slog.Uint64("unscheduled", unscheduled),
		)
	}

	segment := metadata.TraceSegmentFor(id)
	tasklet.Assign(metadata, segment)
	if segment.IsEmpty() {
		this.stat_factory.Increment("idle_tasklets", 1)
	}

	return tasklet.Run(ctx)
}

// reset runs once per launch on the initializer tasklet, before any tasklet
// touches the heap.
func (this *DPU) reset() error {
	this.heap.Reset()
	this.logger.Debug("heap reset",
		slog.String("unit", this.Name()),
		slog.Int64("generation", this.heap.Generation()),
	)
	return nil
}

// Metadata decodes the metadata record currently in MRAM.
func (this *DPU) Metadata() (*layout.Metadata, error) {
	return LoadMetadata(this.memory_controller)
}
