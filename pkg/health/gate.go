// Package health implements the pre-flight gate that must report a healthy
// analysis service before an image is uploaded.
package health

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/scalpcheck/scalp-analyzer/pkg/metrics"
	"github.com/scalpcheck/scalp-analyzer/pkg/transport"
)

// StatusHealthy is the only reported status that opens the gate.
const StatusHealthy = "healthy"

// DefaultTimeout bounds a single health round trip.
const DefaultTimeout = 10 * time.Second

// Prober performs the health round trip.
type Prober interface {
	Health(ctx context.Context) (*transport.HealthResponse, error)
}

// Status is a read-only snapshot of one health check.
type Status struct {
	Healthy    bool
	Reported   string
	Services   map[string]bool
	ObservedAt time.Time
}

// Gate checks the remote service. It keeps no state between checks.
type Gate struct {
	prober  Prober
	timeout time.Duration
	now     func() time.Time
}

// NewGate creates a health gate over prober
func NewGate(prober Prober, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{prober: prober, timeout: timeout, now: time.Now}
}

// Check performs a single health round trip with no internal retry. On
// success the returned status is healthy; every other outcome is a
// *errors.Classified.
func (g *Gate) Check(ctx context.Context) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	slog.Info("health_check_start")

	resp, err := g.prober.Health(ctx)
	if err != nil {
		c := errors.Classify(err)
		metrics.HealthChecksTotal.WithLabelValues("error").Inc()
		slog.Warn("health_check_failed", "code", c.Code, "error", err)
		return nil, c
	}

	status := &Status{
		Reported:   resp.Status,
		Services:   resp.Services,
		ObservedAt: g.observedAt(resp.Timestamp),
	}
	status.Healthy = strings.EqualFold(strings.TrimSpace(resp.Status), StatusHealthy)

	if !status.Healthy {
		metrics.HealthChecksTotal.WithLabelValues("unhealthy").Inc()
		slog.Warn("health_check_unhealthy", "status", resp.Status, "services", resp.Services)
		return status, errors.Unhealthy(resp.Status)
	}

	metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
	slog.Info("health_check_healthy", "services", len(resp.Services), "observed_at", status.ObservedAt)
	return status, nil
}

// observedAt prefers the service's own timestamp and falls back to the
// local clock.
func (g *Gate) observedAt(ts string) time.Time {
	if ts != "" {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, ts); err == nil {
				return t
			}
		}
	}
	return g.now()
}

// Down lists the services reported as unavailable, sorted by name.
func (s *Status) Down() []string {
	var down []string
	for name, up := range s.Services {
		if !up {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return down
}
