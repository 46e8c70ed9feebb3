package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"busconnect/pkg/client"
)

func pingCmd() *cobra.Command {
	var urls []string
	var budget time.Duration
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that a BusConnect server is up",
		Long:  "Probe /api/health on each URL in order, retrying with backoff until the budget runs out.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := client.New(urls)
			h, err := c.Connect(cmd.Context(), budget)
			if err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (database %s, schema v%d) via %s\n",
				h.Status, h.Message, h.Database, h.SchemaVersion, c.BaseURL())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "Base URL to probe; repeat for fallbacks (default http://localhost:5000,http://localhost:3001)")
	cmd.Flags().DurationVar(&budget, "timeout", 15*time.Second, "Give up after this long")
	return cmd
}
