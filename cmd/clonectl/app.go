package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"gorm.io/gorm"

	"clonetest/config"
	"clonetest/contracts/adapter"
	"clonetest/contracts/market"
	"clonetest/contracts/pair"
	"clonetest/contracts/stakepool"
	"clonetest/observability"
	"clonetest/observability/logging"
	telemetry "clonetest/observability/otel"
	"clonetest/remote"
	"clonetest/reports"
	"clonetest/scenario"
	"clonetest/snapshot"
	"clonetest/storage"
	"clonetest/vm"
)

const serviceName = "clonectl"

// app bundles the components every subcommand works with.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	chain    remote.Chain
	store    *snapshot.Store
	registry *vm.Registry

	mu       sync.Mutex
	history  *reports.Store
	closers  []io.Closer
	shutdown func(context.Context) error
}

// builtinCodes names the bytecode YAML scenarios may upload by name.
func builtinCodes() map[string][]byte {
	return map[string][]byte{
		"adapter-v1": adapter.CodeV1,
		"adapter-v2": adapter.CodeV2,
		"pair":       pair.Code,
		"stakepool":  stakepool.Code,
		"market":     market.Code,
	}
}

// newApp wires cfg. A nil chain dials the configured remote endpoint.
func newApp(ctx context.Context, cfg *config.Config, chain remote.Chain, logOut io.Writer) (*app, error) {
	logger, logCloser := logging.New(serviceName, logging.Options{
		Env:        cfg.Logging.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Output:     logOut,
	})
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Logging.Env,
		ChainID:     cfg.ChainID,
		Height:      cfg.ForkHeight,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown

	metrics := observability.Fork()
	if chain == nil && !cfg.Offline {
		opts := append(cfg.Remote.ClientOptions(), remote.WithLogger(logger), remote.WithMetrics(metrics))
		chain = remote.NewClient(cfg.Remote.Endpoint, opts...)
		logger.Info("remote configured",
			slog.String("endpoint", logging.MaskURL(cfg.Remote.Endpoint)),
			logging.MaskField("auth_token", cfg.Remote.Token()))
	}
	a.chain = chain

	db, err := storage.Open(cfg.Cache.Backend, cfg.Cache.Path)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open snapshot cache: %w", err)
	}
	a.store = snapshot.NewStore(chain,
		snapshot.WithDatabase(db),
		snapshot.WithOffline(cfg.Offline),
		snapshot.WithLogger(logger),
		snapshot.WithMetrics(metrics))
	a.closers = append(a.closers, db, closerFunc(a.store.Close))

	a.registry = vm.NewRegistry()
	adapter.Register(a.registry)
	return a, nil
}

// openHistory connects the run history database on first use. It is safe for
// concurrent callers; a failed open is retried by the next call.
func (a *app) openHistory() (*reports.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.history != nil {
		return a.history, nil
	}
	if strings.TrimSpace(a.cfg.Reports.DSN) == "" {
		return nil, errors.New("reports: DSN not configured")
	}
	db, err := reports.Open(a.cfg.Reports.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closerFunc(func() error { return closeGorm(db) }))
	a.history = reports.NewStore(db, a.logger)
	return a.history, nil
}

// height returns the configured fork height, or the latest height the
// remote serves when none is pinned.
func (a *app) height(ctx context.Context, override uint64) (uint64, error) {
	if override > 0 {
		return override, nil
	}
	if a.cfg.ForkHeight > 0 {
		return a.cfg.ForkHeight, nil
	}
	if a.chain == nil {
		return 0, errors.New("offline mode needs an explicit height")
	}
	status, err := a.chain.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve latest height: %w", err)
	}
	return status.LatestHeight, nil
}

func (a *app) capture(ctx context.Context, override uint64) (*snapshot.Snapshot, error) {
	height, err := a.height(ctx, override)
	if err != nil {
		return nil, err
	}
	return a.store.Capture(ctx, a.cfg.ChainID, height)
}

func (a *app) runner() *scenario.Runner {
	return scenario.NewRunner(a.store, a.registry,
		scenario.WithLogger(a.logger),
		scenario.WithParallelism(a.cfg.Parallelism),
		scenario.WithEnvOptions(vm.WithBech32Prefix(a.cfg.Bech32Prefix)))
}

func (a *app) close() error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
	}
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i].Close())
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func closeGorm(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
