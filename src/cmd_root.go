package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"jacPIMulator/src/misc"
)

// cli carries the state shared by every subcommand once the root command
// resolved the configuration.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	config_path string
	env_file    string
	log_level   string
	log_format  string
	tasklets    int
	policy      string
	scope       string

	config *misc.Config
	logger *slog.Logger
	closer func() error
}

func newRootCommand(stdout io.Writer, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "jacpim",
		Short:         "Replay graph-walker traces on simulated PIM units",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.closer != nil {
				return c.closer()
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.config_path, "config", "", "YAML config file")
	flags.StringVar(&c.env_file, "env-file", ".env", "dotenv file with JACPIM_* overrides")
	flags.StringVar(&c.log_level, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&c.log_format, "log-format", "", "text or json")
	flags.IntVar(&c.tasklets, "tasklets", 0, "tasklets per unit")
	flags.StringVar(&c.policy, "write-back", "", "node write-back policy: always or dirty")
	flags.StringVar(&c.scope, "result-scope", "", "result container scope: per_tasklet or shared")

	root.AddCommand(
		c.newLayoutCommand(),
		c.newRunCommand(),
		c.newStatsCommand(),
	)
	return root
}

// setup resolves the config from defaults, the YAML file, the environment
// (including the dotenv file) and finally the command line.
func (c *cli) setup(cmd *cobra.Command) error {
	if c.env_file != "" {
		if err := godotenv.Load(c.env_file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.env_file, err)
		}
	}

	config, err := misc.LoadConfig(c.config_path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		config.LogLevel = c.log_level
	}
	if flags.Changed("log-format") {
		config.LogFormat = c.log_format
	}
	if flags.Changed("tasklets") {
		config.NumTasklets = c.tasklets
	}
	if flags.Changed("write-back") {
		config.WriteBackPolicy = c.policy
	}
	if flags.Changed("result-scope") {
		config.ResultScope = c.scope
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closer, err := misc.NewLogger(config, c.stderr)
	if err != nil {
		return err
	}

	c.config = config
	c.logger = logger
	c.closer = closer
	return nil
}
