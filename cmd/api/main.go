package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"meshrelay/internal/bootstrap"
	"meshrelay/internal/http/handlers"
	httpapi "meshrelay/internal/http/httpapi"
	"meshrelay/internal/infra"
	"meshrelay/internal/middleware"
)

func main() {
	// .env is optional
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
		logger.Fatal().Err(err).Msg("failed to initialize components")
	}
	defer components.Close()
	logger.Info().Str("components", components.String()).Msg("components ready")

	app := handlers.NewApp(handlers.Options{
		Predictions:    components.Service,
		Presenter:      components.Presenter,
		Catalog:        components.Catalog,
		Files:          components.Files,
		Metrics:        components.Metrics.Handler(),
		Checks:         components.HealthChecks(),
		MaxUploadBytes: cfg.MaxUploadBytes,
		WriteTimeout:   cfg.HTTPWriteTimeout,
		Logger:         &logger,
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go limiter.Run(ctx)

	routerOpts := httpapi.Options{
		Logger:      logger,
		Metrics:     components.Metrics,
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimiter: limiter,
	}
	if components.Geo != nil {
		routerOpts.Geo = components.Geo
	}
	router := httpapi.NewRouter(app, routerOpts)

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().Msgf("API listening on :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
		return
	}
	logger.Info().Msg("server stopped")
}
