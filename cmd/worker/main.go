package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"meshrelay/internal/adapter/repo"
	"meshrelay/internal/bootstrap"
	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
)

type openLedger interface {
	ClaimOpen(ctx context.Context, staleAfter time.Duration, limit int) ([]repo.LedgerEntry, error)
}

type predictionFetcher interface {
	Get(ctx context.Context, id string) (*domain.Prediction, error)
}

// reconciler refreshes ledger rows that are still queued or running so
// their terminal state is recorded even when no client polls for it.
type reconciler struct {
	ledger     openLedger
	fetcher    predictionFetcher
	logger     infra.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to initialize components")
	}
	defer components.Close()
	if components.Ledger == nil {
		logger.Fatal().Msg("worker: DATABASE_URL is required to reconcile predictions")
	}

	w := &reconciler{
		ledger:     components.Ledger,
		fetcher:    components.Service,
		logger:     logger,
		interval:   cfg.ReconcileInterval,
		staleAfter: cfg.ReconcileStaleAfter,
		batchSize:  cfg.ReconcileBatchSize,
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *reconciler) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("worker: started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("worker: sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep claims one batch of open predictions and refreshes each. It keeps
// claiming while full batches come back. The count of predictions that
// reached a terminal state is returned.
func (w *reconciler) sweep(ctx context.Context) (int, error) {
	settled := 0
	for {
		entries, err := w.ledger.ClaimOpen(ctx, w.staleAfter, w.batchSize)
		if err != nil {
			return settled, err
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return settled, ctx.Err()
			}
			pred, err := w.fetcher.Get(ctx, e.ID)
			if err != nil {
				w.logger.Warn().Err(err).Str("prediction_id", e.ID).Msg("worker: refresh failed")
				continue
			}
			if pred.Terminal() {
				settled++
				w.logger.Info().
					Str("prediction_id", e.ID).
					Str("model", string(e.Model)).
					Str("status", string(pred.Status)).
					Msg("worker: prediction settled")
			}
		}
		if len(entries) < w.batchSize {
			return settled, nil
		}
	}
}
