package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/packet-parser/internal/server"
)

func newDBHealthCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "dbhealth",
		Short: "Connect to the configured database, apply migrations and ping it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			db, err := server.ConnectDB(ctx, cfg.Database, log)
			if err != nil {
				return fmt.Errorf("opening DB: %w", err)
			}
			defer db.Close(log)

			start := time.Now()
			if err := server.PingDB(ctx, db, log, timeout); err != nil {
				return fmt.Errorf("DB health: FAIL (%w)", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "DB health: OK (%s, %dms)\n", db.Dialect, time.Since(start).Milliseconds())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "ping timeout")
	return cmd
}
