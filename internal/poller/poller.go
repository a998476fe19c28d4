// Package poller drives a prediction to a terminal state by fetching it on
// a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meshrelay/internal/domain"
)

// Fetcher returns the current state of a prediction.
type Fetcher interface {
	GetPrediction(ctx context.Context, id string) (*domain.Prediction, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id string) (*domain.Prediction, error)

func (f FetcherFunc) GetPrediction(ctx context.Context, id string) (*domain.Prediction, error) {
	return f(ctx, id)
}

// Poller polls immediately and then every Interval, with no backoff.
type Poller struct {
	Fetcher  Fetcher
	Interval time.Duration
	// MaxWait bounds the whole wait; zero means until ctx is done.
	MaxWait time.Duration
	// OnUpdate observes every fetched state, in order.
	OnUpdate func(*domain.Prediction)
}

// Wait blocks until the prediction is terminal. On timeout or cancellation it
// returns the last observed state together with the error. Fetch failures
// stop the loop with ErrPollTransport, except not-found which is returned
// as is.
func (p *Poller) Wait(ctx context.Context, id string) (*domain.Prediction, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	if p.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.MaxWait)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *domain.Prediction
	for {
		pred, err := p.Fetcher.GetPrediction(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, stopped(ctxErr)
			}
			if errors.Is(err, domain.ErrNotFound) {
				return last, err
			}
			return last, domain.Transport(fmt.Errorf("%w: %w", domain.ErrPollTransport, err), "An error occurred while fetching the prediction.")
		}
		last = pred
		if p.OnUpdate != nil {
			p.OnUpdate(pred)
		}
		if pred.Terminal() {
			return pred, nil
		}

		select {
		case <-ctx.Done():
			return last, stopped(ctx.Err())
		case <-ticker.C:
		}
	}
}

func stopped(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrPollTimeout, err)
	}
	return err
}
