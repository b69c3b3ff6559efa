// Package pipeline runs one brand's full sync: refresh credentials, fetch
// yesterday's data from the marketplace and ads platform, and load it into
// the warehouse. Stages run strictly in sequence. Order, escrow, return and
// wallet fetches soft-fail after their retries: the run continues with what
// it has and is marked partial. Ads fetches hard-fail: the error propagates
// to the queue so the job itself retries with backoff.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"marketsync/internal/marketplace"
	"marketsync/internal/models"
	"marketsync/internal/retry"
	"marketsync/internal/warehouse"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TokenSource refreshes one brand's credentials before a run.
type TokenSource interface {
	Refresh(ctx context.Context, brandKey string) (models.CredentialPair, error)
}

// Fetcher is the marketplace surface one run needs.
type Fetcher interface {
	FetchOrders(ctx context.Context, s *marketplace.Session, w marketplace.TimeWindow) ([]models.Order, error)
	FetchEscrow(ctx context.Context, s *marketplace.Session, w marketplace.TimeWindow) ([]models.EscrowLine, error)
	FetchReturns(ctx context.Context, s *marketplace.Session, w marketplace.TimeWindow) ([]models.ReturnRecord, error)
	FetchWallet(ctx context.Context, s *marketplace.Session, w marketplace.TimeWindow) ([]models.WalletTransaction, error)
	FetchAdsSpend(ctx context.Context, s *marketplace.Session, kind marketplace.AdsKind, w marketplace.TimeWindow) ([]models.AdSpendLine, error)
}

// Loader loads fetched records into one brand's warehouse tables.
type Loader interface {
	LoadOrders(ctx context.Context, orders []models.Order) (int, error)
	LoadEscrow(ctx context.Context, lines []models.EscrowLine) (int, error)
	LoadReturns(ctx context.Context, returns []models.ReturnRecord) (int, error)
	LoadWallet(ctx context.Context, txns []models.WalletTransaction) (int, error)
	LoadAdSpend(ctx context.Context, lines []models.AdSpendLine) (int, error)
}

// LoaderFactory yields the loader bound to a brand's tables.
type LoaderFactory func(models.Brand) Loader

// WarehouseLoaders builds per-brand loaders over a shared warehouse handle.
func WarehouseLoaders(db *warehouse.DB, logger *zerolog.Logger) LoaderFactory {
	return func(b models.Brand) Loader {
		return warehouse.NewLoader(db, b.Tables, logger)
	}
}

// Recorder persists run summaries.
type Recorder interface {
	RecordSyncRun(ctx context.Context, run models.SyncRun) error
}

type Pipeline struct {
	tokens  TokenSource
	fetcher Fetcher
	loaders LoaderFactory
	runs    Recorder
	soft    retry.Options
	hard    retry.Options
	now     func() time.Time
	logger  zerolog.Logger
}

func New(tokens TokenSource, fetcher Fetcher, loaders LoaderFactory, runs Recorder, logger *zerolog.Logger) *Pipeline {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "pipeline").Logger()
	}
	return &Pipeline{
		tokens:  tokens,
		fetcher: fetcher,
		loaders: loaders,
		runs:    runs,
		soft:    retry.Options{Attempts: 3, Delay: 5 * time.Second, Factor: 2, OnExhausted: retry.ReturnEmpty},
		hard:    retry.Options{Attempts: 3, Delay: 5 * time.Second, Factor: 2, OnExhausted: retry.Propagate},
		now:     time.Now,
		logger:  base,
	}
}

// Run executes the full sync for one brand. The returned SyncRun is recorded
// even when the run fails part way, so operators can see how far it got.
func (p *Pipeline) Run(ctx context.Context, brand models.Brand, jobID string) (models.SyncRun, error) {
	log := p.logger.With().Str("brand", brand.Key).Str("job_id", jobID).Logger()
	run := models.SyncRun{
		ID:        uuid.NewString(),
		Brand:     brand.Key,
		JobID:     jobID,
		StartedAt: p.now(),
	}

	creds, err := p.tokens.Refresh(ctx, brand.Key)
	if err != nil {
		return p.finish(ctx, run, fmt.Errorf("refresh credentials: %w", err))
	}
	session := &marketplace.Session{Brand: brand, Creds: creds}
	window := marketplace.Yesterday(p.now())
	loader := p.loaders(brand)

	orders, err := retry.Do(ctx, p.soft, func(ctx context.Context) ([]models.Order, error) {
		return p.fetcher.FetchOrders(ctx, session, window)
	})
	if err != nil {
		return p.finish(ctx, run, fmt.Errorf("fetch orders: %w", err))
	}
	run.OrdersFetched = len(orders)
	if len(orders) == 0 {
		run.Partial = true
	}
	if run.OrdersInserted, err = loader.LoadOrders(ctx, orders); err != nil {
		return p.finish(ctx, run, fmt.Errorf("load orders: %w", err))
	}

	escrow, err := retry.Do(ctx, p.soft, func(ctx context.Context) ([]models.EscrowLine, error) {
		return p.fetcher.FetchEscrow(ctx, session, window)
	})
	if err != nil {
		return p.finish(ctx, run, fmt.Errorf("fetch escrow: %w", err))
	}
	if run.EscrowInserted, err = loader.LoadEscrow(ctx, escrow); err != nil {
		return p.finish(ctx, run, fmt.Errorf("load escrow: %w", err))
	}

	returns, err := retry.Do(ctx, p.soft, func(ctx context.Context) ([]models.ReturnRecord, error) {
		return p.fetcher.FetchReturns(ctx, session, window)
	})
	if err != nil {
		return p.finish(ctx, run, fmt.Errorf("fetch returns: %w", err))
	}
	if run.ReturnsInserted, err = loader.LoadReturns(ctx, returns); err != nil {
		return p.finish(ctx, run, fmt.Errorf("load returns: %w", err))
	}

	wallet, err := retry.Do(ctx, p.soft, func(ctx context.Context) ([]models.WalletTransaction, error) {
		return p.fetcher.FetchWallet(ctx, session, window)
	})
	if err != nil {
		return p.finish(ctx, run, fmt.Errorf("fetch wallet: %w", err))
	}
	if len(wallet) == 0 {
		run.Partial = true
	}
	if run.WalletInserted, err = loader.LoadWallet(ctx, wallet); err != nil {
		return p.finish(ctx, run, fmt.Errorf("load wallet: %w", err))
	}

	for _, kind := range []marketplace.AdsKind{marketplace.AdsBasic, marketplace.AdsProductGMVMax, marketplace.AdsLiveGMVMax} {
		lines, err := retry.Do(ctx, p.hard, func(ctx context.Context) ([]models.AdSpendLine, error) {
			return p.fetcher.FetchAdsSpend(ctx, session, kind, window)
		})
		if err != nil {
			return p.finish(ctx, run, fmt.Errorf("fetch ads spend %s: %w", kind, err))
		}
		inserted, err := loader.LoadAdSpend(ctx, lines)
		if err != nil {
			return p.finish(ctx, run, fmt.Errorf("load ads spend %s: %w", kind, err))
		}
		run.AdSpendInserted += inserted
	}

	log.Info().
		Int("orders_fetched", run.OrdersFetched).
		Int("orders_inserted", run.OrdersInserted).
		Int("escrow_inserted", run.EscrowInserted).
		Int("returns_inserted", run.ReturnsInserted).
		Int("wallet_inserted", run.WalletInserted).
		Int("ad_spend_inserted", run.AdSpendInserted).
		Bool("partial", run.Partial).
		Msg("brand sync finished")
	return p.finish(ctx, run, nil)
}

func (p *Pipeline) finish(ctx context.Context, run models.SyncRun, runErr error) (models.SyncRun, error) {
	run.FinishedAt = p.now()
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := p.runs.RecordSyncRun(ctx, run); err != nil {
		p.logger.Error().Err(err).Str("brand", run.Brand).Msg("record sync run")
	}
	return run, runErr
}
