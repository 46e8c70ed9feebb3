package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type root struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	r := &root{}
	cmd := &cobra.Command{
		Use:           "busconnect",
		Short:         "BusConnect marketplace and chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&r.configPath, "config", "c", "", "Path to config.yaml (default: $BUSCONNECT_CONFIG or ./config.yaml)")
	cmd.AddCommand(serveCmd(r), migrateCmd(r), pingCmd())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "busconnect:", err)
		stop()
		os.Exit(1)
	}
}
