// Package metrics holds the Prometheus instruments for attempts and outbound calls.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AttemptsTotal counts terminal attempts by outcome and error code
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalp_attempts_total",
			Help: "Total number of analysis attempts that reached a terminal state",
		},
		[]string{"outcome", "code"},
	)

	// AttemptDuration tracks wall time from submit to terminal state
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scalp_attempt_duration_seconds",
			Help:    "Analysis attempt duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 45, 60, 90, 120},
		},
		[]string{"outcome"},
	)

	// RetriesTotal counts user-initiated retries
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scalp_retries_total",
			Help: "Total number of user-initiated retries",
		},
	)

	// HealthChecksTotal counts health gate results
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalp_health_checks_total",
			Help: "Total number of health gate checks",
		},
		[]string{"result"},
	)

	// RequestsTotal counts outbound calls per endpoint and status class
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalp_requests_total",
			Help: "Total number of outbound requests to the analysis service",
		},
		[]string{"endpoint", "status"},
	)

	// RequestLatency tracks outbound call latency
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scalp_request_latency_seconds",
			Help:    "Outbound request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics_server_listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			slog.Error("metrics_server_failed", "addr", addr, "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
