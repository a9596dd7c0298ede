package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/scalpcheck/scalp-analyzer/pkg/capture"
	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
)

// envelope is the service's response wrapper for both endpoints.
type envelope struct {
	Success   *bool           `json:"success"`
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"error_code"`
}

// Analyze uploads img and returns the report. The call is bounded by the
// client timeout; a deadline surfaces as REQUEST_TIMEOUT and cancellation of
// ctx as REQUEST_TIMEOUT with cancelled details. The returned error is
// always a *errors.Classified.
func (c *Client) Analyze(ctx context.Context, img *capture.Image) (Report, error) {
	if img == nil {
		return nil, errors.New(errors.CodeImageEmpty)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, contentType, err := c.encode(img)
	if err != nil {
		return nil, errors.New(errors.CodeUnknownError).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", body)
	if err != nil {
		return nil, errors.New(errors.CodeUnknownError).WithCause(err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	slog.Info("transport_analyze_start",
		"image", img.Name,
		"size", img.Size,
		"media_type", img.MediaType,
		"field", c.uploadField)
	started := time.Now()

	ex, err := c.do(ctx, "analyze", req)
	if err != nil {
		slog.Warn("transport_analyze_failed", "error", err, "elapsed_ms", time.Since(started).Milliseconds())
		return nil, err
	}

	report, cerr := decodeAnalysis(ex.body)
	if cerr != nil {
		slog.Warn("transport_analyze_rejected", "code", cerr.Code, "details", cerr.Details)
		return nil, cerr
	}

	slog.Info("transport_analyze_complete", "bytes", len(report), "elapsed_ms", time.Since(started).Milliseconds())
	return report, nil
}

// encode builds the multipart body with a single part under the upload field.
func (c *Client) encode(img *capture.Image) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, c.uploadField, img.Filename()))
	h.Set("Content-Type", img.MediaType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// decodeAnalysis interprets a 2xx analyze body.
func decodeAnalysis(body []byte) (Report, *errors.Classified) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.New(errors.CodeInvalidResponseFormat).WithCause(err)
	}
	if env.Success == nil {
		return nil, errors.InvalidResponse("missing success flag")
	}
	if !*env.Success {
		return nil, errors.FromServer(env.ErrorCode, env.Error)
	}
	if !present(env.Result) {
		return nil, errors.InvalidResponse("success without result")
	}
	return Report(env.Result), nil
}
