package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"jacPIMulator/src/misc"
	"jacPIMulator/src/programs/bs"
	"jacPIMulator/src/simulator"
	"jacPIMulator/src/simulator/dpu"
	"jacPIMulator/src/simulator/host"
)

type unitReport struct {
	Index     int            `json:"index"`
	Unit      string         `json:"unit"`
	Attempts  int            `json:"attempts"`
	Completed bool           `json:"completed"`
	Error     string         `json:"error,omitempty"`
	Results   [][]uint64     `json:"results,omitempty"`
	Dropped   uint64         `json:"dropped"`
	Walkers   map[int]uint64 `json:"walkers,omitempty"`
}

type runReport struct {
	RunID             string       `json:"run_id"`
	WriteBackPolicy   string       `json:"write_back_policy"`
	ResultScope       string       `json:"result_scope"`
	Units             []unitReport `json:"units"`
	HostToDeviceBytes int64        `json:"host_to_device_bytes"`
	DeviceToHostBytes int64        `json:"device_to_host_bytes"`
}

func (c *cli) newRunCommand() *cobra.Command {
	var images_dir string
	var out_dir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the unit images of a layout and write results back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out_dir == "" {
				out_dir = images_dir
			}
			return c.run(cmd, images_dir, out_dir)
		},
	}

	cmd.Flags().StringVar(&images_dir, "images", "task_bins", "directory holding Task<N>.bin images")
	cmd.Flags().StringVar(&out_dir, "out", "", "output directory (defaults to --images)")
	return cmd
}

// readImages loads Task0.bin, Task1.bin, ... until the first missing index.
func readImages(dir string, limit int) ([]*host.Image, error) {
	images := make([]*host.Image, 0)
	for i := 0; i < limit; i++ {
		raw, err := os.ReadFile(imagePath(dir, i))
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, err
		}

		image, err := host.ParseImage(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", imagePath(dir, i), err)
		}
		images = append(images, image)
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("no Task0.bin in %s", dir)
	}
	return images, nil
}

func (c *cli) run(cmd *cobra.Command, images_dir string, out_dir string) error {
	images, err := readImages(images_dir, c.config.NumDpus())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := misc.NewMetrics(registry)

	sim := new(simulator.Simulator)
	if err := sim.Init(c.config, bs.NewTable(), dpu.Deps{Logger: c.logger, Metrics: metrics}); err != nil {
		return err
	}
	defer sim.Fini()

	store, err := host.OpenBadgerImageStore(c.config.ImageStorePath, c.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	dma := host.NewDMAController(c.config.HostDmaBandwidth)
	session := host.NewSession(sim, store, dma, c.logger, c.config.MaxRetries)
	defer session.Close()

	for i, image := range images {
		if err := session.Load(i, image); err != nil {
			return err
		}
	}

	unit_results := session.Launch(cmd.Context())

	report := runReport{
		RunID:           session.RunID(),
		WriteBackPolicy: string(c.config.Policy()),
		ResultScope:     string(c.config.Scope()),
	}
	failed := 0
	for _, unit_result := range unit_results {
		unit_report := unitReport{
			Index:     unit_result.Index,
			Unit:      unit_result.Unit,
			Attempts:  unit_result.Attempts,
			Completed: unit_result.Completed(),
			Results:   unit_result.Results,
			Dropped:   unit_result.Dropped,
		}

		if !unit_result.Completed() {
			failed++
			unit_report.Error = unit_result.Err.Error()
			report.Units = append(report.Units, unit_report)
			continue
		}

		after, err := session.ReadBack(unit_result.Index)
		if err != nil {
			return err
		}
		file_dumper := new(misc.FileDumper)
		file_dumper.Init(outputImagePath(out_dir, unit_result.Index))
		if err := file_dumper.WriteBytes(after.Bytes); err != nil {
			return err
		}

		unit_report.Walkers = make(map[int]uint64)
		for walker := 0; walker < int(after.Metadata.WalkerCount); walker++ {
			raw, err := after.Walker(walker)
			if err != nil {
				continue
			}
			if w, err := bs.DecodeWalker(raw); err == nil {
				unit_report.Walkers[walker] = w.Value
			}
		}
		report.Units = append(report.Units, unit_report)
	}
	report.HostToDeviceBytes = dma.HostToDeviceBytes()
	report.DeviceToHostBytes = dma.DeviceToHostBytes()

	data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	file_dumper := new(misc.FileDumper)
	file_dumper.Init(filepath.Join(out_dir, "report.json"))
	if err := file_dumper.WriteBytes(data); err != nil {
		return err
	}

	if err := sim.Dump(filepath.Join(out_dir, "log.txt")); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(filepath.Join(out_dir, "metrics.prom"), registry); err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "run %s: %d/%d units completed\n", report.RunID, len(unit_results)-failed, len(unit_results))
	c.logger.Info("run finished",
		slog.String("run_id", report.RunID),
		slog.Int("units", len(unit_results)),
		slog.Int("failed", failed),
	)

	if failed > 0 {
		return fmt.Errorf("%d of %d units failed", failed, len(unit_results))
	}
	return nil
}
