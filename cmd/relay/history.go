package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/relay/store"
)

const defaultHistoryLimit = 100

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		userID int64
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a user's trigger log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireUser(userID); err != nil {
				return err
			}

			st, err := openStore(cmd, flags)
			if err != nil {
				return err
			}
			defer st.Close()

			logs, err := st.History(cmd.Context(), userID, limit)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(logs)
			}
			return writeHistory(cmd, logs)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User id (required)")
	cmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "Maximum number of records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func writeHistory(cmd *cobra.Command, logs []store.LogRecord) error {
	if len(logs) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no records")
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tMESSAGE")
	for _, r := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Timestamp.Local().Format(time.DateTime), r.Type, r.Message)
	}
	return tw.Flush()
}

// openStore opens the configured store without seeding it; read commands
// must not write.
func openStore(cmd *cobra.Command, flags *globalFlags) (store.Store, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	cfg.Store.Seed = nil

	st, err := store.New(cmd.Context(), &cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
