package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oceanbase/memstore/pkg/server"
)

func newServeCmd(root *rootParams) *cobra.Command {
	params := &struct {
		Addr    string
		NoSweep bool
	}{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run lifecycle sweeps in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.client.CheckConsistency(ctx, true)
			if err != nil {
				return err
			}
			a.logger.Info("startup consistency check",
				"records", report.Records,
				"missing_vectors", len(report.MissingVectors),
				"orphan_vectors", len(report.OrphanVectors),
				"repaired", report.Repaired)

			addr := a.config.Server.Addr
			if params.Addr != "" {
				addr = params.Addr
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(a.client, server.WithSweeper(a.manager), server.WithLogger(a.logger)),
				ReadHeaderTimeout: 10 * time.Second,
			}

			var wg sync.WaitGroup
			interval := a.config.Lifecycle.SweepInterval.Std()
			if !params.NoSweep && interval > 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = a.manager.Run(ctx, interval)
				}()
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("memstore listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				cancel()
				wg.Wait()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
			defer stop()
			err = srv.Shutdown(shutdownCtx)
			wg.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&params.Addr, "addr", "", "listen address (default: MEMSTORE_ADDR or :8080)")
	cmd.Flags().BoolVar(&params.NoSweep, "no-sweep", false, "do not run background lifecycle sweeps")
	return cmd
}
