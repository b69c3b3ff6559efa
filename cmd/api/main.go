package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketsync/internal/api"
	"marketsync/internal/config"
	"marketsync/internal/dispatcher"
	"marketsync/internal/logging"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
	"marketsync/internal/queue"
	"marketsync/internal/report"
	"marketsync/internal/warehouse"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	envCfg, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	cfg, err := config.Load(envCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	envCfg.Apply(cfg)

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	brands, err := loadBrands(envCfg.BrandsPath, cfg.Scheduler, &logger)
	if err != nil {
		return err
	}

	redisClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
	defer redisClient.Close()
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")

	q := queue.New(redisClient, baseLogger)
	d := dispatcher.New(brands, cfg.Scheduler, q, baseLogger)

	wh, err := warehouse.NewDB(cfg.Warehouse.Path, brands, baseLogger)
	if err != nil {
		return fmt.Errorf("init warehouse: %w", err)
	}
	defer wh.Close()

	exporter := report.NewExporter(cfg.Exports.Path, baseLogger)
	mirror := initSheetsMirror(cfg, &logger)

	server := api.NewServer(cfg.Server, cfg.Redis, d, q, brands, wh, exporter, mirror, baseLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	logger.Info().Int("port", cfg.Server.Port).Int("brands", len(brands)).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func loadBrands(path string, sched config.SchedulerConfig, logger *zerolog.Logger) ([]models.Brand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("brands_path", path).Msg("read brands")
		return nil, err
	}

	var brandsConfig struct {
		Brands []models.Brand `yaml:"brands"`
	}
	if err := yaml.Unmarshal(data, &brandsConfig); err != nil {
		logger.Error().Err(err).Str("brands_path", path).Msg("parse brands")
		return nil, err
	}
	if err := config.ValidateBrands(brandsConfig.Brands, sched); err != nil {
		return nil, err
	}
	return brandsConfig.Brands, nil
}

func initSheetsMirror(cfg *config.Config, logger *zerolog.Logger) api.RunsMirror {
	if cfg.Google.CredentialsFile == "" || cfg.Google.ReportSpreadsheetID == "" {
		return nil
	}
	mirror, err := report.NewSheetsMirror(cfg.Google.CredentialsFile, cfg.Google.ReportSpreadsheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without mirror")
		return nil
	}
	logger.Info().Msg("google sheets connected")
	return mirror
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
