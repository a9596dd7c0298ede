package errors

import "strings"

// Code identifies a failure class. The string value is the wire form used
// by the analysis service in error_code fields.
type Code string

const (
	CodeImageEmpty            Code = "IMAGE_EMPTY"
	CodeImageTooLarge         Code = "IMAGE_TOO_LARGE"
	CodeImageFormatInvalid    Code = "IMAGE_FORMAT_INVALID"
	CodeNetworkError          Code = "NETWORK_ERROR"
	CodeRequestTimeout        Code = "REQUEST_TIMEOUT"
	CodeServiceUnhealthy      Code = "SERVICE_UNHEALTHY"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeForbidden             Code = "FORBIDDEN"
	CodeRateLimitExceeded     Code = "RATE_LIMIT_EXCEEDED"
	CodeServerError           Code = "SERVER_ERROR"
	CodeServiceUnavailable    Code = "SERVICE_UNAVAILABLE"
	CodeInvalidResponseFormat Code = "INVALID_RESPONSE_FORMAT"
	CodeAPIError              Code = "API_ERROR"
	CodeUnknownError          Code = "UNKNOWN_ERROR"
)

type codeInfo struct {
	message      string
	suggestion   string
	retryable    bool
	networkFault bool
	validation   bool
}

var catalog = map[Code]codeInfo{
	CodeImageEmpty: {
		message:    "No image was provided",
		suggestion: "Take or upload a photo of your scalp first",
		validation: true,
	},
	CodeImageTooLarge: {
		message:    "The image is too large",
		suggestion: "Use an image smaller than the size limit or lower the camera resolution",
		validation: true,
	},
	CodeImageFormatInvalid: {
		message:    "The image format is not supported",
		suggestion: "Use a JPEG or PNG image",
		validation: true,
	},
	CodeNetworkError: {
		message:      "Could not reach the analysis service",
		suggestion:   "Check your network connection and try again",
		retryable:    true,
		networkFault: true,
	},
	CodeRequestTimeout: {
		message:      "The analysis took too long and was cancelled",
		suggestion:   "Try again in a moment",
		retryable:    true,
		networkFault: true,
	},
	// Retryable although it is not a connectivity fault: the service asks
	// the user to try again later ("请稍后重试") and a degraded model
	// recovers without any change on the client side.
	CodeServiceUnhealthy: {
		message:    "The analysis service is not ready",
		suggestion: "Wait a few minutes and try again",
		retryable:  true,
	},
	CodeUnauthorized: {
		message:    "You are not authorized to use the analysis service",
		suggestion: "Sign in again and retry",
	},
	CodeForbidden: {
		message:    "Access to the analysis service was denied",
		suggestion: "Contact support if you think this is a mistake",
	},
	CodeRateLimitExceeded: {
		message:    "Too many requests",
		suggestion: "Wait a little before submitting another image",
		retryable:  true,
	},
	CodeServerError: {
		message:    "The analysis service encountered an internal error",
		suggestion: "Try again later",
	},
	CodeServiceUnavailable: {
		message:    "The analysis service is temporarily unavailable",
		suggestion: "Try again in a few minutes",
		retryable:  true,
	},
	CodeInvalidResponseFormat: {
		message:    "The analysis service returned an unexpected response",
		suggestion: "Try again later",
	},
	CodeAPIError: {
		message:    "The analysis failed",
		suggestion: "Try again with a clearer photo",
	},
	CodeUnknownError: {
		message:    "An unexpected error occurred",
		suggestion: "Try again later",
	},
}

// ParseCode looks up a wire code. Matching ignores case and surrounding
// whitespace.
func ParseCode(s string) (Code, bool) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := catalog[c]
	return c, ok
}

// Codes returns every code in the taxonomy.
func Codes() []Code {
	return []Code{
		CodeImageEmpty, CodeImageTooLarge, CodeImageFormatInvalid,
		CodeNetworkError, CodeRequestTimeout, CodeServiceUnhealthy,
		CodeUnauthorized, CodeForbidden, CodeRateLimitExceeded,
		CodeServerError, CodeServiceUnavailable, CodeInvalidResponseFormat,
		CodeAPIError, CodeUnknownError,
	}
}

func (c Code) info() codeInfo {
	if info, ok := catalog[c]; ok {
		return info
	}
	return catalog[CodeUnknownError]
}

func (c Code) Message() string    { return c.info().message }
func (c Code) Suggestion() string { return c.info().suggestion }
func (c Code) Retryable() bool    { return c.info().retryable }
func (c Code) NetworkFault() bool { return c.info().networkFault }

// Validation reports whether the code is produced locally before any
// network activity.
func (c Code) Validation() bool { return c.info().validation }

func (c Code) String() string { return string(c) }
