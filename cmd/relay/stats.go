package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/relay/store"
)

func newStatsCmd(flags *globalFlags) *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count a user's triggers since local midnight",
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

			since := store.StartOfDay(time.Now())
			n, err := st.CountTriggers(cmd.Context(), userID, since)
			if err != nil {
				return fmt.Errorf("count triggers: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "triggers today: %d\n", n)
			return err
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "User id (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
