package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"meshrelay/internal/catalog"
	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
	"meshrelay/internal/normalize"
	"meshrelay/internal/presenter"
	"meshrelay/internal/storage"
)

// PredictionService creates and reads predictions.
type PredictionService interface {
	HasCredentials() bool
	Create(ctx context.Context, req *domain.GenerationRequest) (*domain.Prediction, bool, error)
	Get(ctx context.Context, id string) (*domain.Prediction, error)
	Wait(ctx context.Context, id string, wait time.Duration, onUpdate func(*domain.Prediction)) (*domain.Prediction, error)
}

// ResultPresenter turns succeeded predictions into viewable assets.
type ResultPresenter interface {
	Resolve(ctx context.Context, pred *domain.Prediction) (*presenter.Result, error)
	Bundle(ctx context.Context, pred *domain.Prediction) ([]byte, error)
}

// HealthCheck probes an optional dependency.
type HealthCheck func(ctx context.Context) error

// Options wires an App. Files, Metrics and Checks are optional.
// WriteTimeout is the server's write deadline; long-polls end before it.
type Options struct {
	Predictions    PredictionService
	Presenter      ResultPresenter
	Catalog        *catalog.Catalog
	Files          *storage.FileStore
	Metrics        http.Handler
	Checks         map[string]HealthCheck
	MaxUploadBytes int64
	WriteTimeout   time.Duration
	Logger         *infra.Logger
}

type App struct {
	Predictions    PredictionService
	Presenter      ResultPresenter
	Catalog        *catalog.Catalog
	Normalizer     *normalize.Normalizer
	Files          *storage.FileStore
	Metrics        http.Handler
	Checks         map[string]HealthCheck
	MaxUploadBytes int64
	// MaxWait caps ?wait= so the answer is written before the server's
	// write deadline. Zero means no cap.
	MaxWait time.Duration
	Logger  zerolog.Logger
}

func NewApp(opts Options) *App {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &App{
		Predictions:    opts.Predictions,
		Presenter:      opts.Presenter,
		Catalog:        opts.Catalog,
		Normalizer:     normalize.New(opts.Catalog),
		Files:          opts.Files,
		Metrics:        opts.Metrics,
		Checks:         opts.Checks,
		MaxUploadBytes: maxUpload,
		MaxWait:        longPollBudget(opts.WriteTimeout),
		Logger:         infra.LoggerOrDiscard(opts.Logger),
	}
}

// longPollBudget leaves a quarter of the write deadline, at most five
// seconds, for the final fetch and the response.
func longPollBudget(writeTimeout time.Duration) time.Duration {
	if writeTimeout <= 0 {
		return 0
	}
	headroom := writeTimeout / 4
	if headroom > 5*time.Second {
		headroom = 5 * time.Second
	}
	return writeTimeout - headroom
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error writes the {"error": message} body used for caller mistakes.
func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}

// detail writes the {"detail": message} body used for upstream failures.
func (a *App) detail(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"detail": message})
}

// fail maps err onto a status code and body. fallback is used when err
// carries no user-facing message.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	kind := domain.KindOf(err)
	msg := domain.MessageOf(err, fallback)

	ev := a.Logger.Warn()
	if kind == domain.KindInternal || kind == domain.KindTransport || kind == domain.KindProvider || kind == domain.KindConfiguration {
		ev = a.Logger.Error()
	}
	ev.Err(err).Str("kind", string(kind)).Str("path", r.URL.Path).Msg("request failed")

	switch kind {
	case domain.KindValidation:
		a.error(w, http.StatusBadRequest, msg)
	case domain.KindConfiguration:
		a.error(w, http.StatusInternalServerError, msg)
	case domain.KindAsset:
		a.error(w, http.StatusUnprocessableEntity, msg)
	case domain.KindConflict:
		a.error(w, http.StatusConflict, msg)
	case domain.KindNotFound:
		a.detail(w, http.StatusNotFound, msg)
	case domain.KindTransport, domain.KindProvider:
		a.detail(w, http.StatusInternalServerError, msg)
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		a.detail(w, http.StatusInternalServerError, fallback)
	}
}
