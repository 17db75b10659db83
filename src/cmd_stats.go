package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"jacPIMulator/src/misc"
)

func (c *cli) newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <log.txt>",
		Short: "Sum the per-unit counters of a stats dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			lines, err := misc.ParseStats(string(data))
			if err != nil {
				return err
			}

			totals := misc.SumStats(lines)
			sections := make([]string, 0, len(totals))
			for section := range totals {
				sections = append(sections, section)
			}
			sort.Strings(sections)

			for _, section := range sections {
				metrics := make([]string, 0, len(totals[section]))
				for metric := range totals[section] {
					metrics = append(metrics, metric)
				}
				sort.Strings(metrics)

				for _, metric := range metrics {
					fmt.Fprintf(c.stdout, "%s_%s: %d\n", section, metric, totals[section][metric])
				}
			}
			return nil
		},
	}
}
