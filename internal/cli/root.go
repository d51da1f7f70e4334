package cli

import (
	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/store"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	cfg   config.Config
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wayfarer",
		Short: "Wayfarer: realtime travel chat sessions from the terminal",
		Long:  "Wayfarer runs profiling, brainstorm and planning chat sessions against the travel planner backend and keeps a local cache of every thread.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			cfg, err = config.Load(paths.Config)
			if err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = cfg.Logging.Level
			}
			if level == "" {
				level = "warn"
			}
			log = logging.NewWithOptions(logging.Options{
				Level: level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.wayfarer/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newThreadsCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDevServerCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// openBackend opens the configured local cache, creating the data directory
// on first use.
func openBackend() (*store.Backend, error) {
	if cfg.Storage.Store != "memory" && cfg.Storage.Path == "" {
		if err := paths.EnsureDirs(); err != nil {
			return nil, err
		}
	}
	return store.OpenBackend(cfg.Storage, paths.DatabasePath(cfg.Storage), log)
}
