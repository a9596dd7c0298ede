// Package errors provides error wrapping utilities and the closed taxonomy of
// classified failures surfaced to users of the analysis client.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Classified is a normalized failure with a stable code, a user-facing
// message and retry hints. Values are built by the constructors in this
// package and must not be modified afterwards.
type Classified struct {
	Code         Code
	Message      string
	Suggestion   string
	Retryable    bool
	NetworkFault bool

	// Status is the HTTP status that produced the error, zero otherwise.
	Status int
	// Details holds the raw fault text for diagnostics.
	Details string

	cause error
}

// New returns the classified error for code with its mapped message.
func New(code Code) *Classified {
	return &Classified{
		Code:         code,
		Message:      code.Message(),
		Suggestion:   code.Suggestion(),
		Retryable:    code.Retryable(),
		NetworkFault: code.NetworkFault(),
	}
}

// WithDetails returns a copy of e carrying diagnostic details.
func (e *Classified) WithDetails(details string) *Classified {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy of e wrapping the raw fault.
func (e *Classified) WithCause(err error) *Classified {
	c := *e
	c.cause = err
	if c.Details == "" && err != nil {
		c.Details = err.Error()
	}
	return &c
}

// WithStatus returns a copy of e tagged with an HTTP status.
func (e *Classified) WithStatus(status int) *Classified {
	c := *e
	c.Status = status
	return &c
}

func (e *Classified) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Classified) Unwrap() error {
	return e.cause
}

// Is matches another *Classified by code, so callers can write
// errors.Is(err, errors.New(errors.CodeRequestTimeout)).
func (e *Classified) Is(target error) bool {
	t, ok := target.(*Classified)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// As finds the first *Classified in err's chain.
func As(err error) (*Classified, bool) {
	var c *Classified
	if stderrors.As(err, &c) {
		return c, true
	}
	return nil, false
}
