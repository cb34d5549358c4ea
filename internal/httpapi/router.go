package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"my-bank-api/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	// Backpressure at the edge.
	MaxInflight int
	// Hard cap on a whole request, above the per-operation timeouts.
	RequestTimeout time.Duration
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
}

func Router(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withCorrelationID)
	r.Use(LoggerMiddleware(h.logger))
	r.Use(MetricsMiddleware(h.metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "If-None-Match", correlationHeader},
		ExposedHeaders:   []string{"ETag", correlationHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/accounts", func(r chi.Router) {
		// Prevents unbounded goroutine/pool queueing when DB is saturated.
		r.Use(func(next http.Handler) http.Handler {
			return withConcurrencyLimit(next, cfg.MaxInflight)
		})

		r.Get("/", h.Accounts)
		r.Get("/doc", h.Doc)
		r.Get("/balance", h.Balance)
		r.Get("/average", h.Average)
		r.Get("/lowestBalances", h.LowestBalances)
		r.Get("/richestClients", h.RichestClients)

		r.Patch("/deposit", h.Deposit)
		r.Patch("/withdraw", h.Withdraw)
		r.Delete("/close", h.Close)
		r.Post("/transfer", h.Transfer)
		r.Put("/privateClients", h.PromotePrivate)
	})

	return r
}

func withConcurrencyLimit(next http.Handler, max int) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			// Fast fail instead of queueing forever.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server busy"}`))
		}
	})
}

const correlationHeader = "X-Correlation-Id"

type correlationKey struct{}

// withCorrelationID keeps the caller's X-Correlation-Id or mints one, and
// echoes it on the response.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := strings.TrimSpace(r.Header.Get(correlationHeader))
		if corr == "" {
			corr = uuid.NewString()
		}
		w.Header().Set(correlationHeader, corr)
		ctx := context.WithValue(r.Context(), correlationKey{}, corr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID returns the id attached by the router, or "".
func CorrelationID(ctx context.Context) string {
	corr, _ := ctx.Value(correlationKey{}).(string)
	return corr
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("correlation_id", CorrelationID(r.Context())),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// MetricsMiddleware records every request under its route pattern so path
// values do not explode label cardinality.
func MetricsMiddleware(m metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			m.RecordRequest(r.Method, route, ww.Status(), time.Since(start))
		})
	}
}
