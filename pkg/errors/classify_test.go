package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	base := stderrors.New("boom")
	err := Wrap(base, "open journal")
	if err.Error() != "open journal: boom" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !stderrors.Is(err, base) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestFromStatus_Table(t *testing.T) {
	tests := []struct {
		status    int
		code      Code
		retryable bool
	}{
		{http.StatusUnauthorized, CodeUnauthorized, false},
		{http.StatusForbidden, CodeForbidden, false},
		{http.StatusTooManyRequests, CodeRateLimitExceeded, true},
		{http.StatusInternalServerError, CodeServerError, false},
		{http.StatusServiceUnavailable, CodeServiceUnavailable, true},
		{http.StatusBadGateway, CodeUnknownError, false},
		{http.StatusNotFound, CodeUnknownError, false},
		{http.StatusTeapot, CodeUnknownError, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			c := FromStatus(tt.status, " upstream said no \n")
			if c.Code != tt.code {
				t.Errorf("code = %s, want %s", c.Code, tt.code)
			}
			if c.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", c.Retryable, tt.retryable)
			}
			if c.Status != tt.status {
				t.Errorf("status = %d, want %d", c.Status, tt.status)
			}
			if c.Details != "upstream said no" {
				t.Errorf("details = %q", c.Details)
			}
			if c.Message != tt.code.Message() {
				t.Errorf("primary message must be the mapped text, got %q", c.Message)
			}
		})
	}
}

func TestClassify_RawFaults(t *testing.T) {
	refused := &url.Error{
		Op:  "Get",
		URL: "http://127.0.0.1:1/health",
		Err: &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
	}
	dns := &url.Error{Op: "Post", URL: "http://nowhere.invalid", Err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}}
	var syntaxErr error = json.Unmarshal([]byte("{not json"), &struct{}{})

	tests := []struct {
		name         string
		err          error
		code         Code
		networkFault bool
		retryable    bool
	}{
		{"connection refused", refused, CodeNetworkError, true, true},
		{"dns failure", dns, CodeNetworkError, true, true},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), CodeNetworkError, true, true},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), CodeRequestTimeout, true, true},
		{"cancelled", context.Canceled, CodeRequestTimeout, true, true},
		{"json syntax", syntaxErr, CodeInvalidResponseFormat, false, false},
		{"plain string proxy error", stderrors.New("proxy: connection refused by upstream"), CodeNetworkError, true, true},
		{"other", stderrors.New("something odd"), CodeUnknownError, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			if c.Code != tt.code {
				t.Fatalf("code = %s, want %s", c.Code, tt.code)
			}
			if c.NetworkFault != tt.networkFault {
				t.Errorf("networkFault = %v, want %v", c.NetworkFault, tt.networkFault)
			}
			if c.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", c.Retryable, tt.retryable)
			}
			if c.Details == "" {
				t.Error("raw fault should be preserved in details")
			}
			if c.Message == tt.err.Error() {
				t.Error("raw fault text must not be the primary message")
			}
			if !stderrors.Is(c, tt.err) && tt.code != CodeRequestTimeout {
				t.Error("classified error should unwrap to the raw fault")
			}
		})
	}
}

func TestClassify_CancelledDetails(t *testing.T) {
	c := Classify(context.Canceled)
	if c.Details != CancelledDetails {
		t.Errorf("details = %q, want %q", c.Details, CancelledDetails)
	}
}

func TestClassify_PassesThroughClassified(t *testing.T) {
	orig := New(CodeRateLimitExceeded)
	wrapped := fmt.Errorf("attempt: %w", orig)
	if got := Classify(wrapped); got != orig {
		t.Errorf("expected the original classified error, got %v", got)
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestFromServer(t *testing.T) {
	c := FromServer("", "scalp not detected in image")
	if c.Code != CodeAPIError {
		t.Fatalf("code = %s, want API_ERROR", c.Code)
	}
	if c.Message != "scalp not detected in image" {
		t.Errorf("server message should surface, got %q", c.Message)
	}

	c = FromServer("unknown_thing", "")
	if c.Code != CodeAPIError || c.Message != CodeAPIError.Message() {
		t.Errorf("unrecognized code with empty message: %+v", c)
	}

	c = FromServer("rate_limit_exceeded", "slow down")
	if c.Code != CodeRateLimitExceeded {
		t.Fatalf("recognized code should take precedence, got %s", c.Code)
	}
	if !c.Retryable {
		t.Error("RATE_LIMIT_EXCEEDED should be retryable")
	}
	if c.Message != CodeRateLimitExceeded.Message() || c.Details != "slow down" {
		t.Errorf("mapped message with server text in details expected: %+v", c)
	}
}

func TestCodes_Retryability(t *testing.T) {
	retryable := map[Code]bool{
		CodeNetworkError:       true,
		CodeRequestTimeout:     true,
		CodeServiceUnavailable: true,
		CodeRateLimitExceeded:  true,
		CodeServiceUnhealthy:   true,
	}
	for _, code := range Codes() {
		if code.Retryable() != retryable[code] {
			t.Errorf("%s retryable = %v, want %v", code, code.Retryable(), retryable[code])
		}
		if code.Message() == "" || code.Suggestion() == "" {
			t.Errorf("%s is missing message or suggestion", code)
		}
	}
	for _, code := range []Code{CodeImageEmpty, CodeImageTooLarge, CodeImageFormatInvalid} {
		if !code.Validation() {
			t.Errorf("%s should be a validation code", code)
		}
	}
}

func TestClassified_Is(t *testing.T) {
	err := fmt.Errorf("gate: %w", Unhealthy("degraded"))
	if !stderrors.Is(err, New(CodeServiceUnhealthy)) {
		t.Error("errors.Is should match by code")
	}
	if stderrors.Is(err, New(CodeNetworkError)) {
		t.Error("errors.Is should not match a different code")
	}
}
