package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/relay/server"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		listen     string
		recognizer string
		storeDrv   string
		storePath  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			if listen != "" {
				cfg.ListenAddr = listen
			}
			if recognizer != "" {
				cfg.Recognizer.URL = recognizer
			}
			if storeDrv != "" {
				cfg.Store.Driver = storeDrv
			}
			if storePath != "" {
				cfg.Store.Path = storePath
			}

			logger := newLogger(cmd.ErrOrStderr(), flags.verbose)
			slog.SetDefault(logger)

			srv, err := server.New(cmd.Context(), cfg, server.WithLogger(logger))
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&recognizer, "recognizer", "", "Recognition service websocket URL (overrides config)")
	cmd.Flags().StringVar(&storeDrv, "store", "", "Store driver: memory, file, redis or supabase (overrides config)")
	cmd.Flags().StringVar(&storePath, "store-path", "", "Store file path for the file driver (overrides config)")

	return cmd
}
