package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/relay/server"
)

type globalFlags struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Live audio keyword relay",
		Long:          "relay forwards plugin audio to a speech recognizer, pushes transcripts to admin dashboards, and sends click commands back to the plugin when a configured keyword is heard.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "Path to config file (JSON, YAML or TOML)")
	rootCmd.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "Enable debug logging to stderr")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newHistoryCmd(flags),
		newStatsCmd(flags),
	)

	return rootCmd
}

// loadConfig resolves configuration as defaults, then the config file, then
// RELAY_* environment variables. Command flags are applied by the caller.
func loadConfig(flags *globalFlags) (*server.Config, error) {
	cfg := server.DefaultConfig()
	if flags.configFile != "" {
		loaded, err := server.LoadConfig(flags.configFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if err := server.ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func requireUser(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("--user must be a positive user id")
	}
	return nil
}
