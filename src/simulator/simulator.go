package simulator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"jacPIMulator/src/misc"
	"jacPIMulator/src/simulator/dpu"
	"jacPIMulator/src/simulator/dpu/ability"
)

// UnitOutcome is the result of one unit run.
type UnitOutcome struct {
	Index   int
	Unit    string
	Err     error
	Elapsed time.Duration
}

func (o UnitOutcome) Failed() bool {
	return o.Err != nil
}

// Simulator owns every compute unit of the system, laid out channel-major as
// channels x ranks x dpus. Units never talk to each other, so each runs on
// its own goroutine and a faulted unit leaves the others untouched.
type Simulator struct {
	config *misc.Config
	units  []*dpu.DPU
	logger *slog.Logger
}

func (this *Simulator) Init(config *misc.Config, table *ability.Table, deps dpu.Deps) error {
	if err := config.Validate(); err != nil {
		return err
	}

	this.config = config
	this.logger = deps.Logger
	if this.logger == nil {
		this.logger = misc.DiscardLogger()
	}

	this.units = make([]*dpu.DPU, 0, config.NumDpus())
	for channel_id := 0; channel_id < config.NumChannels; channel_id++ {
		for rank_id := 0; rank_id < config.NumRanksPerChannel; rank_id++ {
			for dpu_id := 0; dpu_id < config.NumDpusPerRank; dpu_id++ {
				unit := new(dpu.DPU)
				if err := unit.Init(channel_id, rank_id, dpu_id, config, table, deps); err != nil {
					this.Fini()
					return err
				}
				this.units = append(this.units, unit)
			}
		}
	}

	this.logger.Info("simulator initialized",
		slog.Int("units", len(this.units)),
		slog.Int("tasklets_per_unit", config.NumTasklets),
	)
	return nil
}

func (this *Simulator) Fini() {
	for _, unit := range this.units {
		unit.Fini()
	}
	this.units = nil
}

func (this *Simulator) Config() *misc.Config {
	return this.config
}

func (this *Simulator) NumUnits() int {
	return len(this.units)
}

func (this *Simulator) Units() []*dpu.DPU {
	return this.units
}

func (this *Simulator) Unit(index int) (*dpu.DPU, error) {
	if index < 0 || index >= len(this.units) {
		return nil, errors.New("unit index out of range")
	}
	return this.units[index], nil
}

// Run launches every unit and waits for all of them.
func (this *Simulator) Run(ctx context.Context) []UnitOutcome {
	indices := make([]int, len(this.units))
	for i := range indices {
		indices[i] = i
	}
	return this.RunUnits(ctx, indices)
}

// RunUnits launches the listed units, at most num_simulation_threads at a
// time. Outcomes come back in the order of indices.
func (this *Simulator) RunUnits(ctx context.Context, indices []int) []UnitOutcome {
	outcomes := make([]UnitOutcome, len(indices))

	group := new(errgroup.Group)
	group.SetLimit(this.config.NumSimulationThreads)

	for i, index := range indices {
		i, index := i, index
		unit, err := this.Unit(index)
		if err != nil {
			outcomes[i] = UnitOutcome{Index: index, Err: err}
			continue
		}

		group.Go(func() error {
			start := time.Now()
			err := unit.Run(ctx)
			outcomes[i] = UnitOutcome{
				Index:   index,
				Unit:    unit.Name(),
				Err:     err,
				Elapsed: time.Since(start),
			}
			return nil
		})
	}
	_ = group.Wait()

	return outcomes
}

// DumpLines renders the stats of every unit in the stats text format.
func (this *Simulator) DumpLines() []string {
	lines := make([]string, 0)
	for _, unit := range this.units {
		for _, stat_factory := range unit.StatFactories() {
			lines = append(lines, stat_factory.ToLines()...)
		}
	}
	return lines
}

// Dump writes DumpLines to path.
func (this *Simulator) Dump(path string) error {
	file_dumper := new(misc.FileDumper)
	file_dumper.Init(path)
	return file_dumper.WriteLines(this.DumpLines())
}
