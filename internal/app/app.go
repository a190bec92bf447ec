// Package app wires configuration, infrastructure, and the orchestrator
// core into a runnable SMO process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nimbusmesh/smo/internal/config"
	"github.com/nimbusmesh/smo/internal/httpserver"
	"github.com/nimbusmesh/smo/internal/orchestrator"
	"github.com/nimbusmesh/smo/internal/platform"
	"github.com/nimbusmesh/smo/internal/telemetry"
	"github.com/nimbusmesh/smo/pkg/artifact"
	"github.com/nimbusmesh/smo/pkg/clusterclient"
	"github.com/nimbusmesh/smo/pkg/graph"
	"github.com/nimbusmesh/smo/pkg/metricsclient"
	"github.com/nimbusmesh/smo/pkg/placement"
	"github.com/nimbusmesh/smo/pkg/scaling"
)

// Run is the main application entry point: it reads configuration,
// connects to infrastructure, wires the orchestrator, and serves the HTTP
// API (or runs migrations) depending on cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting smo", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	switch cfg.Mode {
	case "migrate":
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	case "api":
		return runAPI(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	topology, err := orchestrator.LoadTopology(cfg.ClustersConfigPath)
	if err != nil {
		return fmt.Errorf("loading cluster topology: %w", err)
	}

	store := graph.NewStore(db)
	clusterRegistry := clusterclient.NewRegistry(cfg.ClusterKubeconfigDir, "default")
	metricsC, err := metricsclient.NewPrometheusClient(cfg.PrometheusURL)
	if err != nil {
		return fmt.Errorf("building metrics client: %w", err)
	}
	driver := artifact.NewDriver(cfg.HelmBin, cfg.HdarctlBin, cfg.KarmadaKubeconfig)

	orch := orchestrator.New(
		store,
		topology,
		placement.NewSolver(),
		scaling.NewSolver(),
		driver,
		clusterRegistry,
		metricsC,
		logger,
		orchestrator.Config{
			DecisionInterval: time.Duration(cfg.DecisionIntervalSeconds) * time.Second,
			FrontendService:  cfg.FrontendService,
			FrontendUpstream: cfg.FrontendUpstream,
		},
	)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)
	graphHandler := graph.NewHandler(logger, store, orch)
	srv.APIRouter.Mount("/", graphHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
