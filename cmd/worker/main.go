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

	"marketsync/internal/config"
	"marketsync/internal/credentials"
	"marketsync/internal/logging"
	"marketsync/internal/marketplace"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
	"marketsync/internal/notify"
	"marketsync/internal/pipeline"
	"marketsync/internal/queue"
	"marketsync/internal/ratelimit"
	"marketsync/internal/token"
	"marketsync/internal/warehouse"
	"marketsync/internal/worker"

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
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	brands, err := loadBrands(envCfg.BrandsPath, cfg.Scheduler, &logger)
	if err != nil {
		return err
	}

	redisClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
	defer redisClient.Close()
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	q := queue.New(redisClient, baseLogger)

	wh, err := warehouse.NewDB(cfg.Warehouse.Path, brands, baseLogger)
	if err != nil {
		return fmt.Errorf("init warehouse: %w", err)
	}
	defer wh.Close()

	credStore, err := credentials.NewStore(cfg.Credentials.Path, baseLogger)
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	defer credStore.Close()

	refresher := token.NewRefresher(credStore, cfg.Marketplace, baseLogger)
	bucket := ratelimit.NewGlobalBucket(redisClient, cfg.Ads.GlobalInterval())
	client := marketplace.NewClient(cfg.Marketplace, cfg.Ads, bucket, baseLogger)

	notifier, err := notify.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID, baseLogger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
	}

	p := pipeline.New(refresher, client, pipeline.WarehouseLoaders(wh, baseLogger), wh, baseLogger)
	fleet := worker.NewFleet(
		brands, q, p, notifier,
		cfg.Scheduler.LockDuration(), cfg.Scheduler.PromoteTick(),
		baseLogger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	logger.Info().Int("brands", len(brands)).Msg("worker fleet starting")
	fleet.Run(ctx)
	logger.Info().Msg("worker fleet stopped")
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

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9091
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}
