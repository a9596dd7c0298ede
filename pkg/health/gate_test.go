package health

import (
	"context"
	stderrors "errors"
	"net"
	"testing"
	"time"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/scalpcheck/scalp-analyzer/pkg/transport"
)

type fakeProber struct {
	resp  *transport.HealthResponse
	err   error
	calls int
}

func (f *fakeProber) Health(ctx context.Context) (*transport.HealthResponse, error) {
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return nil, stderrors.New("health call must be bounded")
	}
	return f.resp, f.err
}

func TestCheck_Healthy(t *testing.T) {
	p := &fakeProber{resp: &transport.HealthResponse{
		Status:    "Healthy ",
		Services:  map[string]bool{"model": true, "storage": false},
		Timestamp: "2025-03-01T10:00:00Z",
	}}
	g := NewGate(p, time.Second)

	status, err := g.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !status.Healthy {
		t.Error("status should be healthy")
	}
	if want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC); !status.ObservedAt.Equal(want) {
		t.Errorf("observedAt = %v, want %v", status.ObservedAt, want)
	}
	if down := status.Down(); len(down) != 1 || down[0] != "storage" {
		t.Errorf("down = %v", down)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want exactly one round trip", p.calls)
	}
}

func TestCheck_Unhealthy(t *testing.T) {
	p := &fakeProber{resp: &transport.HealthResponse{Status: "degraded"}}
	g := NewGate(p, time.Second)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	status, err := g.Check(context.Background())
	c, ok := errors.As(err)
	if !ok || c.Code != errors.CodeServiceUnhealthy {
		t.Fatalf("expected SERVICE_UNHEALTHY, got %v", err)
	}
	if c.Details != "status=degraded" {
		t.Errorf("reported status should be carried, got %q", c.Details)
	}
	if status == nil || status.Healthy || status.Reported != "degraded" {
		t.Errorf("snapshot = %+v", status)
	}
	if !status.ObservedAt.Equal(fixed) {
		t.Error("observedAt should fall back to the local clock")
	}
}

func TestCheck_NetworkFault(t *testing.T) {
	p := &fakeProber{err: &net.OpError{Op: "dial", Net: "tcp", Err: stderrors.New("connection refused")}}
	g := NewGate(p, time.Second)

	_, err := g.Check(context.Background())
	c, ok := errors.As(err)
	if !ok {
		t.Fatalf("expected classified error, got %T", err)
	}
	if c.Code != errors.CodeNetworkError || !c.NetworkFault {
		t.Errorf("expected NETWORK_ERROR network fault, got %+v", c)
	}
	if p.calls != 1 {
		t.Errorf("gate must not retry internally, calls = %d", p.calls)
	}
}

func TestCheck_PassesClassified(t *testing.T) {
	p := &fakeProber{err: errors.FromStatus(503, "")}
	_, err := NewGate(p, 0).Check(context.Background())
	if c, _ := errors.As(err); c == nil || c.Code != errors.CodeServiceUnavailable {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
}
