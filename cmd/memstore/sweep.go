package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSweepCmd(root *rootParams) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one lifecycle sweep and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.manager.Sweep(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newCheckCmd(root *rootParams) *cobra.Command {
	params := &struct {
		Repair bool
	}{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare the record store with the vector index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.client.CheckConsistency(ctx, params.Repair)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&params.Repair, "repair", true, "reconcile every difference found")
	return cmd
}
