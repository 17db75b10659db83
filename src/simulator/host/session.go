package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"jacPIMulator/src/misc"
	"jacPIMulator/src/simulator"
	"jacPIMulator/src/simulator/dpu"
)

var (
	ErrUnitFailed    = errors.New("unit did not complete")
	ErrUnitNotLoaded = errors.New("unit has no image loaded")
)

// UnitResult is the final state of one loaded unit after Launch.
type UnitResult struct {
	Index    int
	Unit     string
	Attempts int
	Err      error
	Results  [][]uint64
	Dropped  uint64
}

func (r UnitResult) Completed() bool {
	return r.Err == nil
}

// Session drives the host side of a run: transfer images in, launch, retry
// faulted units from their pristine image and read results back.
type Session struct {
	simulator   *simulator.Simulator
	store       ImageStore
	dma         *DMAController
	logger      *slog.Logger
	tracer      trace.Tracer
	max_retries int
	run_id      string

	images    map[int]*Image
	completed map[int]bool
}

func NewSession(
	sim *simulator.Simulator,
	store ImageStore,
	dma *DMAController,
	logger *slog.Logger,
	max_retries int,
) *Session {
	if logger == nil {
		logger = misc.DiscardLogger()
	}
	if max_retries < 0 {
		max_retries = 0
	}

	run_id := uuid.NewString()
	return &Session{
		simulator:   sim,
		store:       store,
		dma:         dma,
		logger:      logger.With(slog.String("run_id", run_id)),
		tracer:      otel.Tracer("jacPIMulator/src/simulator/host"),
		max_retries: max_retries,
		run_id:      run_id,
		images:      make(map[int]*Image),
		completed:   make(map[int]bool),
	}
}

func (this *Session) RunID() string {
	return this.run_id
}

func (this *Session) imageKey(unit *dpu.DPU) string {
	return this.run_id + "/" + unit.Name()
}

// Load keeps the pristine copy of image and transfers it to unit.
func (this *Session) Load(index int, image *Image) error {
	unit, err := this.simulator.Unit(index)
	if err != nil {
		return fmt.Errorf("load unit %d: %w", index, err)
	}

	if err := this.store.Put(this.imageKey(unit), image.Bytes); err != nil {
		return err
	}
	if err := this.transfer(unit, image.Bytes); err != nil {
		return err
	}

	this.images[index] = image
	delete(this.completed, index)
	return nil
}

func (this *Session) transfer(unit *dpu.DPU, raw []byte) error {
	if err := unit.MemoryController().Load(raw); err != nil {
		return fmt.Errorf("transfer image to %s: %w", unit.Name(), err)
	}

	cycles := this.dma.Record(DMATransferHostToDevice, int64(len(raw)))
	this.logger.Debug("image transferred",
		slog.String("unit", unit.Name()),
		slog.Int("bytes", len(raw)),
		slog.Int64("dma_cycles", cycles),
	)
	return nil
}

// reload restores the pristine image of a faulted unit.
func (this *Session) reload(index int) error {
	unit, err := this.simulator.Unit(index)
	if err != nil {
		return err
	}

	raw, err := this.store.Get(this.imageKey(unit))
	if err != nil {
		return err
	}
	return this.transfer(unit, raw)
}

// Launch runs every loaded unit. A unit that faults is reloaded from its
// pristine image and run again, up to max_retries times; its peers are not
// rerun.
func (this *Session) Launch(ctx context.Context) []UnitResult {
	ctx, span := this.tracer.Start(ctx, "host.Launch", trace.WithAttributes(
		attribute.String("run_id", this.run_id),
		attribute.Int("units", len(this.images)),
	))
	defer span.End()

	pending := make([]int, 0, len(this.images))
	for index := 0; index < this.simulator.NumUnits(); index++ {
		if _, ok := this.images[index]; ok {
			pending = append(pending, index)
		}
	}

	attempts := make(map[int]int, len(pending))
	final := make(map[int]simulator.UnitOutcome, len(pending))
	order := append([]int(nil), pending...)

	for len(pending) > 0 {
		outcomes := this.simulator.RunUnits(ctx, pending)

		retry := make([]int, 0)
		for _, outcome := range outcomes {
			attempts[outcome.Index]++
			final[outcome.Index] = outcome

			if !outcome.Failed() {
				this.completed[outcome.Index] = true
				continue
			}

			this.logger.Warn("unit faulted",
				slog.String("unit", outcome.Unit),
				slog.Int("attempt", attempts[outcome.Index]),
				slog.Any("error", outcome.Err),
			)

			if attempts[outcome.Index] > this.max_retries || ctx.Err() != nil {
				continue
			}
			if err := this.reload(outcome.Index); err != nil {
				final[outcome.Index] = simulator.UnitOutcome{Index: outcome.Index, Unit: outcome.Unit, Err: err}
				continue
			}
			retry = append(retry, outcome.Index)
		}
		pending = retry
	}

	unit_results := make([]UnitResult, 0, len(order))
	failed := 0
	for _, index := range order {
		outcome := final[index]
		unit_result := UnitResult{
			Index:    index,
			Unit:     outcome.Unit,
			Attempts: attempts[index],
			Err:      outcome.Err,
		}

		if unit, err := this.simulator.Unit(index); err == nil && outcome.Err == nil {
			unit_result.Results = make([][]uint64, unit.NumTasklets())
			for tasklet := range unit_result.Results {
				unit_result.Results[tasklet] = unit.Results(tasklet)
			}
			unit_result.Dropped = unit.ResultsDropped()
		} else {
			failed++
		}
		unit_results = append(unit_results, unit_result)
	}

	span.SetAttributes(attribute.Int("failed_units", failed))
	this.logger.Info("launch finished",
		slog.Int("units", len(order)),
		slog.Int("failed", failed),
	)
	return unit_results
}

// ReadBack copies the image of a completed unit back to the host.
func (this *Session) ReadBack(index int) (*Image, error) {
	image, ok := this.images[index]
	if !ok {
		return nil, fmt.Errorf("unit %d: %w", index, ErrUnitNotLoaded)
	}
	if !this.completed[index] {
		return nil, fmt.Errorf("unit %d: %w", index, ErrUnitFailed)
	}

	unit, err := this.simulator.Unit(index)
	if err != nil {
		return nil, err
	}

	raw, err := unit.MemoryController().Dump(uint64(image.Size()))
	if err != nil {
		return nil, fmt.Errorf("read back %s: %w", unit.Name(), err)
	}
	this.dma.Record(DMATransferDeviceToHost, int64(len(raw)))

	return image.WithBytes(raw), nil
}

// Close drops the pristine images of this session from the store.
func (this *Session) Close() error {
	var errs []error
	for index := range this.images {
		unit, err := this.simulator.Unit(index)
		if err != nil {
			continue
		}
		if err := this.store.Delete(this.imageKey(unit)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
