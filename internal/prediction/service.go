// Package prediction orchestrates one generation request end to end:
// upload, submission, status lookup and long-polling.
package prediction

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"meshrelay/internal/adapter/repo"
	"meshrelay/internal/catalog"
	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
	"meshrelay/internal/poller"
)

// Provider is the remote prediction API.
type Provider interface {
	HasCredentials() bool
	CreatePrediction(ctx context.Context, version string, input any) (*domain.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*domain.Prediction, error)
}

// Uploader stores conditioning images.
type Uploader interface {
	Upload(ctx context.Context, blob *domain.Blob) (*domain.UploadedAsset, error)
}

// Ledger records submissions locally.
type Ledger interface {
	Record(ctx context.Context, pred *domain.Prediction, idempotencyKey string) error
	UpdateStatus(ctx context.Context, pred *domain.Prediction) error
	Get(ctx context.Context, id string) (*repo.LedgerEntry, error)
}

// Cache holds terminal predictions.
type Cache interface {
	Get(ctx context.Context, id string) (*domain.Prediction, error)
	Put(ctx context.Context, pred *domain.Prediction) error
}

// Idempotency maps client keys to predictions.
type Idempotency interface {
	Reserve(ctx context.Context, key string) (string, error)
	Complete(ctx context.Context, key, predictionID string) error
	Release(ctx context.Context, key string) error
}

// Metrics receives service events.
type Metrics interface {
	PredictionCreated(model string)
	PredictionError(operation, kind string)
	PredictionTerminal(model, status string)
	UploadStored(size int64)
	CacheLookup(hit bool)
	IdempotentReplay()
}

// Options wires a Service. Ledger, Cache, Idempotency and Metrics are
// optional.
type Options struct {
	Catalog      *catalog.Catalog
	Provider     Provider
	Uploader     Uploader
	Ledger       Ledger
	Cache        Cache
	Idempotency  Idempotency
	Metrics      Metrics
	PollInterval time.Duration
	PollMaxWait  time.Duration
	Logger       *infra.Logger
}

type Service struct {
	catalog      *catalog.Catalog
	provider     Provider
	uploader     Uploader
	ledger       Ledger
	cache        Cache
	idempotency  Idempotency
	metrics      Metrics
	pollInterval time.Duration
	pollMaxWait  time.Duration
	logger       zerolog.Logger
}

func NewService(opts Options) *Service {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		catalog:      opts.Catalog,
		provider:     opts.Provider,
		uploader:     opts.Uploader,
		ledger:       opts.Ledger,
		cache:        opts.Cache,
		idempotency:  opts.Idempotency,
		metrics:      opts.Metrics,
		pollInterval: interval,
		pollMaxWait:  opts.PollMaxWait,
		logger:       infra.LoggerOrDiscard(opts.Logger),
	}
}

// HasCredentials reports whether submissions can reach the provider.
func (s *Service) HasCredentials() bool {
	return s.provider != nil && s.provider.HasCredentials()
}

// Create submits req and returns the new prediction. When req carries an
// idempotency key that already completed, the earlier prediction is returned
// with replayed set and nothing is submitted.
func (s *Service) Create(ctx context.Context, req *domain.GenerationRequest) (pred *domain.Prediction, replayed bool, err error) {
	defer func() {
		if err != nil {
			s.recordError("create", err)
		}
	}()

	if !s.HasCredentials() {
		return nil, false, domain.Configuration(domain.ErrMissingCredential, "Missing REPLICATE_API_TOKEN")
	}
	version, err := s.catalog.Version(req.Model)
	if err != nil {
		return nil, false, err
	}

	key := req.IdempotencyKey
	if key != "" && s.idempotency != nil {
		existing, reserveErr := s.idempotency.Reserve(ctx, key)
		if reserveErr != nil {
			return nil, false, reserveErr
		}
		if existing != "" {
			earlier, getErr := s.Get(ctx, existing)
			if getErr != nil {
				return nil, false, getErr
			}
			if s.metrics != nil {
				s.metrics.IdempotentReplay()
			}
			return earlier, true, nil
		}
		defer func() {
			if err != nil {
				if relErr := s.idempotency.Release(context.WithoutCancel(ctx), key); relErr != nil {
					s.logger.Warn().Err(relErr).Msg("failed to release idempotency key")
				}
			}
		}()
	}

	input := req.Input
	if req.Image != nil && req.Image.Upload != nil {
		if s.uploader == nil {
			return nil, false, domain.Configuration(nil, "Image uploads are not configured")
		}
		asset, err := s.uploader.Upload(ctx, req.Image.Upload)
		if err != nil {
			return nil, false, err
		}
		if s.metrics != nil {
			s.metrics.UploadStored(asset.Size)
		}
		input = input.WithImageURL(asset.URL)
	}

	pred, err = s.provider.CreatePrediction(ctx, version, input)
	if err != nil {
		return nil, false, err
	}
	pred.Model = req.Model
	if pred.Version == "" {
		pred.Version = version
	}

	if s.ledger != nil {
		if err := s.ledger.Record(ctx, pred, key); err != nil {
			s.logger.Warn().Err(err).Str("prediction_id", pred.ID).Msg("failed to record prediction")
		}
	}
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.Complete(ctx, key, pred.ID); err != nil {
			s.logger.Warn().Err(err).Str("prediction_id", pred.ID).Msg("failed to complete idempotency key")
		}
	}
	if s.metrics != nil {
		s.metrics.PredictionCreated(string(pred.Model))
	}
	s.logger.Info().
		Str("prediction_id", pred.ID).
		Str("model", string(pred.Model)).
		Str("status", string(pred.Status)).
		Msg("prediction created")
	return pred, false, nil
}

// Get returns the current state of prediction id. Terminal states are
// served from the cache when possible.
func (s *Service) Get(ctx context.Context, id string) (*domain.Prediction, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("prediction_id", id).Msg("prediction cache unavailable")
		}
		if s.metrics != nil {
			s.metrics.CacheLookup(cached != nil)
		}
		if cached != nil {
			return cached, nil
		}
	}
	if s.provider == nil || !s.provider.HasCredentials() {
		return nil, domain.Configuration(domain.ErrMissingCredential, "Missing REPLICATE_API_TOKEN")
	}

	pred, err := s.provider.GetPrediction(ctx, id)
	if err != nil {
		s.recordError("get", err)
		return nil, err
	}
	s.attachModel(ctx, pred)

	if s.ledger != nil {
		if err := s.ledger.UpdateStatus(ctx, pred); err != nil {
			s.logger.Warn().Err(err).Str("prediction_id", pred.ID).Msg("failed to update ledger")
		}
	}
	if pred.Terminal() {
		if s.metrics != nil {
			s.metrics.PredictionTerminal(string(pred.Model), string(pred.Status))
		}
		if s.cache != nil {
			if err := s.cache.Put(ctx, pred); err != nil {
				s.logger.Warn().Err(err).Str("prediction_id", pred.ID).Msg("failed to cache prediction")
			}
		}
	}
	return pred, nil
}

// Wait long-polls prediction id until it is terminal or wait elapses. The
// configured POLL_MAX_WAIT caps wait. On timeout the last observed state is
// returned together with ErrPollTimeout.
func (s *Service) Wait(ctx context.Context, id string, wait time.Duration, onUpdate func(*domain.Prediction)) (*domain.Prediction, error) {
	if s.pollMaxWait > 0 && (wait <= 0 || wait > s.pollMaxWait) {
		wait = s.pollMaxWait
	}
	p := &poller.Poller{
		Fetcher:  poller.FetcherFunc(s.Get),
		Interval: s.pollInterval,
		MaxWait:  wait,
		OnUpdate: onUpdate,
	}
	return p.Wait(ctx, id)
}

func (s *Service) attachModel(ctx context.Context, pred *domain.Prediction) {
	if pred.Model != "" {
		return
	}
	if s.catalog != nil {
		if m := s.catalog.ModelForVersion(pred.Version); m != "" {
			pred.Model = m
			return
		}
	}
	if s.ledger != nil {
		entry, err := s.ledger.Get(ctx, pred.ID)
		if err == nil {
			pred.Model = entry.Model
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug().Err(err).Str("prediction_id", pred.ID).Msg("ledger lookup failed")
		}
	}
}

func (s *Service) recordError(operation string, err error) {
	if s.metrics != nil {
		s.metrics.PredictionError(operation, string(domain.KindOf(err)))
	}
}
