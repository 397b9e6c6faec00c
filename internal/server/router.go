package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bamsammich/warren/internal/links"
	"github.com/bamsammich/warren/internal/metrics"
)

// NewRouter creates the chi router with middleware and routes. gatherer may
// be nil, in which case /metrics is not served.
func NewRouter(svc *links.Service, gatherer prometheus.Gatherer, cfg Config) http.Handler {
	cfg.applyDefaults()

	r := chi.NewRouter()

	// Order matters: the logger must see the request ID and the status
	// written by Recoverer.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	lh := &linkHandler{svc: svc}
	sh := &systemHandler{started: time.Now(), root: svc.Sandbox().Root(), version: cfg.Version}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", sh.Health)
		r.Get("/system", sh.System)
		r.Get("/resolve", lh.Resolve)

		r.Route("/links", func(r chi.Router) {
			r.Post("/symlink", lh.CreateSymlink)
			r.Post("/hardlink", lh.CreateHardLink)
			r.Get("/symlink-target", lh.SymlinkTarget)
			r.Put("/update-symlink", lh.UpdateSymlink)
			r.Delete("/delete-hardlink", lh.DeleteHardLink)
			r.Get("/find-hardlinks", lh.FindHardLinks)
			r.Delete("/delete-all-hardlinks", lh.DeleteAllHardLinks)
		})

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			notFound(w, "API endpoint not found")
		})
	})

	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer))
	}

	return r
}

// requestLogger logs each request with its ID, status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		slog.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		slog.Info("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
