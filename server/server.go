// Package server exposes the HTTP API: health probes, metrics, identification status
// and the setlist. Admin routes trigger an identification run and toggle quiet mode.
// Every request carries a correlation ID for consistent logging.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/trackid/config"
)

// NewRouter returns the HTTP handler with all routes.
// ctx bounds the rate limiter cleanup loop and runs started from admin requests.
func NewRouter(ctx context.Context, cfg *config.Config, h *Handlers) http.Handler {
	h.ctx = ctx
	authCfg := newAuthConfig(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminToken)
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{
		enabled:       cfg.RateLimitRequests > 0,
		requestsPerIP: cfg.RateLimitRequests,
		window:        cfg.RateLimitWindow,
	})
	corsCfg := newCORSConfig(cfg.CORSPermissive, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return withCORSConfig(next, corsCfg) })
	r.Use(withCorrelation)
	r.Use(withTracing)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)
	r.Get("/status", h.HandleStatus)
	r.Get("/setlist", h.HandleSetlist)
	r.Get("/setlist.csv", h.HandleSetlistCSV)
	r.Get("/setlist/{date}", h.HandleSetlistByDate)

	r.Route("/admin", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return adminAuth(next, authCfg) })
		r.Use(func(next http.Handler) http.Handler { return rateLimitMiddleware(next, limiter) })
		r.Post("/identify", h.HandleAdminIdentify)
		r.Post("/quiet", h.HandleAdminQuiet)
	})
	return r
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err), slog.String("component", "http"))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err), slog.String("component", "http"))
		return err
	}
	return nil
}
