package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"

	"review-analytics/internal/domain"
	"review-analytics/pkg/health"
	"review-analytics/pkg/logging"
	"review-analytics/pkg/metrics"
)

var (
	mRequests = metrics.Default.Counter("http_requests_total", "HTTP requests served")
	mErrors   = metrics.Default.Counter("http_errors_total", "HTTP responses with status >= 500")
	mLatency  = metrics.Default.Histogram("http_request_duration_ms", "Request latency (ms)",
		[]float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500})
)

// NewRouter wires the full HTTP surface.
func NewRouter(repo domain.Repository, q Queue, hc *health.Registry, opts Options, log *logging.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(recoverMiddleware(log, opts.HideInternals))
	r.Use(requestLogMiddleware(log))

	r.HandleFunc("/reviews/trends", TrendsHandler(repo, q, opts, log)).Methods(http.MethodGet)
	r.HandleFunc("/reviews/pending-llm", PendingHandler(repo, opts, log)).Methods(http.MethodGet)
	r.HandleFunc("/reviews", ReviewsHandler(repo, q, opts, log)).Methods(http.MethodGet)
	r.HandleFunc("/logs/recent", RecentLogsHandler(repo, opts, log)).Methods(http.MethodGet)
	r.HandleFunc("/health", HealthHandler(hc)).Methods(http.MethodGet)
	r.HandleFunc("/queue/stats", QueueStatsHandler(q, opts, log)).Methods(http.MethodGet)
	r.HandleFunc("/queue/clean", QueueCleanHandler(q, opts, log)).Methods(http.MethodPost)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	return r
}

// HealthHandler reports backing-system status; 503 when any probe fails.
func HealthHandler(hc *health.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, healthy := hc.Check(r.Context())
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func requestLogMiddleware(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			mRequests.Inc(1)
			if rec.status >= http.StatusInternalServerError {
				mErrors.Inc(1)
			}
			mLatency.Observe(float64(time.Since(start).Milliseconds()))
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func recoverMiddleware(log *logging.Logger, hideInternals bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic in handler", "panic", rec, "stack", string(debug.Stack()))
					msg := "internal server error"
					if !hideInternals {
						msg = "panic: " + r.URL.Path
					}
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: msg})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
