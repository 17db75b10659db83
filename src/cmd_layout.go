package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"jacPIMulator/src/misc"
	"jacPIMulator/src/programs/bs"
	"jacPIMulator/src/simulator/dpu/ability"
	"jacPIMulator/src/simulator/host"
)

func imagePath(dir string, unit int) string {
	return filepath.Join(dir, fmt.Sprintf("Task%d.bin", unit))
}

func outputImagePath(dir string, unit int) string {
	return filepath.Join(dir, fmt.Sprintf("Task%d.out.bin", unit))
}

func (c *cli) newLayoutCommand() *cobra.Command {
	var workload_path string
	var out_dir string

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Pack a bs workload into one MRAM image per unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workload, err := bs.LoadWorkload(workload_path)
			if err != nil {
				return err
			}
			return c.layout(workload, out_dir)
		},
	}

	cmd.Flags().StringVar(&workload_path, "workload", "", "workload YAML file")
	cmd.Flags().StringVar(&out_dir, "out", "task_bins", "directory for the unit images")
	_ = cmd.MarkFlagRequired("workload")
	return cmd
}

func (c *cli) layout(workload *bs.Workload, out_dir string) error {
	if len(workload.Units) > c.config.NumDpus() {
		return fmt.Errorf("workload has %d units, the system has %d", len(workload.Units), c.config.NumDpus())
	}

	table := bs.NewTable()
	capacity := uint64(c.config.MramSize - c.config.MramHeapPointer)

	for i, unit := range workload.Units {
		if len(unit.Walkers) > c.config.NumTasklets {
			c.logger.Warn("walkers beyond the tasklet count will not run",
				slog.Int("unit", i),
				slog.Int("walkers", len(unit.Walkers)),
				slog.Int("tasklets", c.config.NumTasklets),
			)
		}

		image, err := buildUnitImage(unit, table, capacity)
		if err != nil {
			return fmt.Errorf("unit %d: %w", i, err)
		}

		file_dumper := new(misc.FileDumper)
		file_dumper.Init(imagePath(out_dir, i))
		if err := file_dumper.WriteBytes(image.Bytes); err != nil {
			return err
		}

		c.logger.Info("image written",
			slog.Int("unit", i),
			slog.Int("bytes", image.Size()),
			slog.Uint64("walkers", image.Metadata.WalkerCount),
			slog.Uint64("extra_mram_space", image.Metadata.ExtraMramSpace),
		)
	}

	return misc.WriteConfig(filepath.Join(out_dir, "options.yaml"), c.config)
}

func buildUnitImage(unit bs.UnitSpec, table *ability.Table, capacity uint64) (*host.Image, error) {
	builder := host.NewLayoutBuilder(capacity)

	refs := make(map[uint64]host.NodeRef, len(unit.Nodes))
	for _, node := range unit.Nodes {
		record, err := node.Record()
		if err != nil {
			return nil, err
		}
		ref, err := builder.AddNode(node.ID, record)
		if err != nil {
			return nil, err
		}
		refs[node.ID] = ref
	}

	for _, walker_spec := range unit.Walkers {
		walker, err := builder.AddWalker(walker_spec.Record())
		if err != nil {
			return nil, err
		}

		for _, visit := range walker_spec.Visits {
			tag, ok := table.TagByName(visit.Ability)
			if !ok {
				return nil, fmt.Errorf("walker %d visits with unknown ability %q: %w", walker, visit.Ability, ability.ErrUnknownAbility)
			}
			ref, ok := refs[visit.Node]
			if !ok {
				ref = host.NodeRef{ID: visit.Node}
			}
			if err := builder.Visit(walker, tag, ref, visit.Edges); err != nil {
				return nil, err
			}
		}
	}

	return builder.Build()
}
