// Package transport performs the outbound calls to the analysis service and
// normalizes every raw response into a typed result or a classified error.
package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/scalpcheck/scalp-analyzer/pkg/metrics"
)

const (
	// DefaultTimeout bounds a single analyze call.
	DefaultTimeout = 120 * time.Second
	// DefaultUploadField is the multipart field carrying the image.
	DefaultUploadField = "image"

	maxResponseBytes = 8 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	UploadField string
	HTTPClient  *http.Client
}

// Client talks to the analysis service.
type Client struct {
	baseURL     string
	timeout     time.Duration
	uploadField string
	http        *http.Client
}

// NewClient creates a new analysis service client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UploadField == "" {
		opts.UploadField = DefaultUploadField
	}
	if opts.HTTPClient == nil {
		// No client-level timeout: every call is bounded by its context.
		opts.HTTPClient = &http.Client{}
	}

	slog.Info("transport_client_init",
		"base_url", opts.BaseURL,
		"timeout", opts.Timeout.String(),
		"upload_field", opts.UploadField)

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		timeout:     opts.Timeout,
		uploadField: opts.UploadField,
		http:        opts.HTTPClient,
	}
}

// exchange is a received response, before interpretation.
type exchange struct {
	status int
	body   []byte
}

// do sends req and reads the body. Any failure here happened before a full
// response was received and is classified as a raw fault.
func (c *Client) do(ctx context.Context, endpoint string, req *http.Request) (*exchange, error) {
	started := time.Now()
	defer func() {
		metrics.RequestLatency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fault(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fault(ctx, err)
	}

	metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	slog.Debug("transport_response",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed_ms", time.Since(started).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.FromStatus(resp.StatusCode, truncate(string(body), 512))
	}
	return &exchange{status: resp.StatusCode, body: body}, nil
}

// fault classifies a raw call failure, using the context to tell the
// deadline apart from explicit cancellation.
func fault(ctx context.Context, err error) *errors.Classified {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errors.New(errors.CodeRequestTimeout).WithCause(err)
	case context.Canceled:
		return errors.New(errors.CodeRequestTimeout).WithCause(err).WithDetails(errors.CancelledDetails)
	}
	return errors.Classify(err)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
