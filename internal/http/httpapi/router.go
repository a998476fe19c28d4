package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"meshrelay/internal/http/handlers"
	"meshrelay/internal/middleware"
	"meshrelay/internal/storage"
	"meshrelay/internal/web"
)

// Options carries the cross-cutting pieces of the router. Every field is
// optional.
type Options struct {
	Logger      zerolog.Logger
	Geo         middleware.CountryResolver
	Metrics     middleware.RequestRecorder
	CORSOrigins []string
	RateLimiter *middleware.RateLimiter
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.Recoverer,
		middleware.Logger(opts.Logger, opts.Geo),
		middleware.Metrics(opts.Metrics),
	)
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.CORS(opts.CORSOrigins))
	}

	r.Get("/", web.Index)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	if app.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", app.Metrics)
	}

	r.Get("/models", app.ListModels)

	r.Route("/predictions", func(r chi.Router) {
		r.With(opts.RateLimiter.Handler).Post("/", app.CreatePrediction)
		r.Get("/{id}", app.GetPrediction)
		r.Get("/{id}/asset", app.PredictionAsset)
		r.Get("/{id}/archive", app.PredictionArchive)
	})

	r.Get(storage.FilesRoute+"*", app.ServeFile)

	return r
}
