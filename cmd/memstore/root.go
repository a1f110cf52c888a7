package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/oceanbase/memstore/pkg/core"
	"github.com/oceanbase/memstore/pkg/lifecycle"
	"github.com/oceanbase/memstore/pkg/logging"
)

type rootParams struct {
	ConfigFile string
	LogLevel   string
}

func newRootCmd() *cobra.Command {
	params := &rootParams{}
	cmd := &cobra.Command{
		Use:          "memstore",
		Short:        "Scoped, lifecycle-managed memory store",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&params.ConfigFile, "config", "c", "", "JSON or YAML config file (default: environment)")
	cmd.PersistentFlags().StringVar(&params.LogLevel, "log-level", "", "override LOG_LEVEL")

	cmd.AddCommand(
		newServeCmd(params),
		newSweepCmd(params),
		newCheckCmd(params),
	)
	return cmd
}

// app is everything a subcommand needs.
type app struct {
	config  *core.Config
	logger  *slog.Logger
	client  *core.Client
	manager *lifecycle.Manager
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func loadConfig(params *rootParams) (*core.Config, error) {
	if params.ConfigFile != "" {
		return core.LoadConfigFromFile(params.ConfigFile)
	}
	return core.LoadConfigFromEnv()
}

func newApp(params *rootParams) (*app, error) {
	cfg, err := loadConfig(params)
	if err != nil {
		return nil, err
	}
	if params.LogLevel != "" {
		cfg.Log.Level = params.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Handler)
	a := &app{config: cfg, logger: logger}

	a.client, err = core.NewClient(cfg, core.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	a.closers = append(a.closers, a.client.Close)

	lc := cfg.Lifecycle
	var locker lifecycle.Locker = lifecycle.NewLocalLocker()
	if lc.LeaseBackend == "redis" {
		redisLocker := lifecycle.NewRedisLocker(lifecycle.RedisConfig{
			Addr:     lc.RedisAddr,
			Password: lc.RedisPassword,
			TTL:      lc.LeaseTTL.Std(),
		})
		a.closers = append(a.closers, redisLocker.Close)
		locker = redisLocker
	}

	a.manager = lifecycle.NewManager(a.client, lifecycle.Policy{
		SoftAgeDays:            lc.SoftAgeDays,
		SoftThreshold:          lc.SoftThreshold,
		HardAgeDays:            lc.HardAgeDays,
		RetentionDays:          lc.RetentionDays,
		ConsolidationThreshold: lc.ConsolidationThreshold,
		BatchSize:              lc.ConsolidationBatchSize,
	},
		lifecycle.WithLocker(locker),
		lifecycle.WithLogger(logger),
	)
	return a, nil
}
