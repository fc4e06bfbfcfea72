package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check is one named readiness probe, e.g. a Redis ping.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// NewMux serves /metrics, /healthz and /readyz. /readyz runs every check with
// a short timeout and answers 503 listing the failures if any probe errors.
func NewMux(checks ...Check) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", ReadyHandler(checks...))
	return mux
}

// ReadyHandler reports readiness based on checks.
func ReadyHandler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				failed[c.Name] = err.Error()
			}
		}
		if len(failed) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"failed": failed}) //nolint:errcheck
	}
}

// StartMetricsServer serves NewMux(checks...) on addr in a background
// goroutine. The server shuts down gracefully when ctx is cancelled.
func StartMetricsServer(ctx context.Context, addr string, logger *slog.Logger, checks ...Check) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(checks...),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
}
