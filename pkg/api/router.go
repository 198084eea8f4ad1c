package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/pebld/internal/logger"
	"github.com/marmos91/pebld/pkg/api/handlers"
	"github.com/marmos91/pebld/pkg/catalog"
	"github.com/marmos91/pebld/pkg/subject"
)

// NewRouter builds the chi router.
//
// Routes:
//   - GET /health                               liveness
//   - GET /health/ready                         readiness (storage root, catalog)
//   - GET /api/v1/subjects                      subject summaries
//   - GET /api/v1/subjects/{code}               one subject
//   - GET /api/v1/subjects/{code}/entries       stored slots, newest first
//
// cat may be nil.
func NewRouter(store *subject.Store, cat *catalog.Catalog, version string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := handlers.NewHealthHandler(store, cat, version)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	subjects := handlers.NewSubjectsHandler(store, cat)
	r.Route("/api/v1/subjects", func(r chi.Router) {
		r.Get("/", subjects.List)
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", subjects.Get)
			r.Get("/entries", subjects.Entries)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs every request at debug level on entry and info level on
// completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(logger.Duration(start)),
		)
	})
}
