package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// CancelledDetails marks a RequestTimeout produced by explicit cancellation
// rather than by the deadline.
const CancelledDetails = "cancelled"

// Classify maps a raw fault raised while performing a call onto the
// taxonomy. It is pure: no network or state access. Returns nil for nil.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}
	if c, ok := As(err); ok {
		return c
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return New(CodeRequestTimeout).WithCause(err)
	case stderrors.Is(err, context.Canceled):
		return New(CodeRequestTimeout).WithCause(err).WithDetails(CancelledDetails)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return New(CodeRequestTimeout).WithCause(err)
	}

	if isConnectivity(err) {
		return New(CodeNetworkError).WithCause(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return New(CodeInvalidResponseFormat).WithCause(err)
	}

	return New(CodeUnknownError).WithCause(err)
}

func isConnectivity(err error) bool {
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return true
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.EHOSTUNREACH) ||
		stderrors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, io.EOF) {
		return true
	}
	// Proxies and TLS stacks don't always surface typed errors.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset")
}

// statusCodes is the table of non-2xx statuses with a dedicated code.
var statusCodes = map[int]Code{
	http.StatusUnauthorized:        CodeUnauthorized,
	http.StatusForbidden:           CodeForbidden,
	http.StatusTooManyRequests:     CodeRateLimitExceeded,
	http.StatusInternalServerError: CodeServerError,
	http.StatusServiceUnavailable:  CodeServiceUnavailable,
}

// FromStatus classifies a received non-2xx response. body is kept as
// details only.
func FromStatus(status int, body string) *Classified {
	code, ok := statusCodes[status]
	if !ok {
		code = CodeUnknownError
	}
	return New(code).WithStatus(status).WithDetails(strings.TrimSpace(body))
}

// FromServer classifies a well-formed response whose success flag is false.
// A recognized error code takes precedence over the generic ApiError, in
// which case the server message is kept as details.
func FromServer(errorCode, message string) *Classified {
	message = strings.TrimSpace(message)
	if code, ok := ParseCode(errorCode); ok {
		return New(code).WithDetails(message)
	}
	c := New(CodeAPIError)
	if message != "" {
		c.Message = message
	}
	if errorCode != "" {
		c.Details = "error_code=" + errorCode
	}
	return c
}

// Unhealthy builds the gate failure for a reported status other than healthy.
func Unhealthy(reported string) *Classified {
	return New(CodeServiceUnhealthy).WithDetails("status=" + reported)
}

// InvalidResponse builds a protocol violation with a reason.
func InvalidResponse(reason string) *Classified {
	return New(CodeInvalidResponseFormat).WithDetails(reason)
}
