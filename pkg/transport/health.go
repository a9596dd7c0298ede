package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
)

// HealthResponse is the normalized body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Services  map[string]bool `json:"services"`
	Timestamp string          `json:"timestamp"`
}

// Health performs one round trip to the health endpoint. It does not judge
// the reported status; that is the gate's job. The returned error is always
// a *errors.Classified.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, errors.New(errors.CodeUnknownError).WithCause(err)
	}
	req.Header.Set("Accept", "application/json")

	ex, err := c.do(ctx, "health", req)
	if err != nil {
		slog.Warn("transport_health_failed", "error", err)
		return nil, err
	}

	health, cerr := decodeHealth(ex.body)
	if cerr != nil {
		slog.Warn("transport_health_rejected", "code", cerr.Code, "details", cerr.Details)
		return nil, cerr
	}

	slog.Debug("transport_health_complete", "status", health.Status, "services", len(health.Services))
	return health, nil
}

// decodeHealth accepts both the bare health object and one already wrapped
// in the {success, result} envelope, and yields a single normalized shape.
func decodeHealth(body []byte) (*HealthResponse, *errors.Classified) {
	var probe struct {
		envelope
		Status    *string         `json:"status"`
		Services  map[string]bool `json:"services"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, errors.New(errors.CodeInvalidResponseFormat).WithCause(err)
	}

	switch {
	case probe.Status != nil:
		return &HealthResponse{
			Status:    *probe.Status,
			Services:  probe.Services,
			Timestamp: probe.Timestamp,
		}, nil

	case probe.Success != nil:
		if !*probe.Success {
			return nil, errors.FromServer(probe.ErrorCode, probe.Error)
		}
		if !present(probe.Result) {
			return nil, errors.InvalidResponse("health envelope without result")
		}
		var inner struct {
			Status    *string         `json:"status"`
			Services  map[string]bool `json:"services"`
			Timestamp string          `json:"timestamp"`
		}
		if err := json.Unmarshal(probe.Result, &inner); err != nil {
			return nil, errors.New(errors.CodeInvalidResponseFormat).WithCause(err)
		}
		if inner.Status == nil {
			return nil, errors.InvalidResponse("health result without status")
		}
		return &HealthResponse{
			Status:    *inner.Status,
			Services:  inner.Services,
			Timestamp: inner.Timestamp,
		}, nil
	}

	return nil, errors.InvalidResponse("health body has neither status nor success flag")
}
