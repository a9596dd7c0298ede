package fsm

import (
	"context"
	"time"

	"github.com/scalpcheck/scalp-analyzer/pkg/capture"
	"github.com/scalpcheck/scalp-analyzer/pkg/db"
	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/scalpcheck/scalp-analyzer/pkg/health"
	"github.com/scalpcheck/scalp-analyzer/pkg/progress"
	"github.com/scalpcheck/scalp-analyzer/pkg/transport"
)

// AttemptRequest is the FSM input
type AttemptRequest struct {
	AttemptID string
}

// AttemptResponse is the FSM output (accumulated across transitions)
type AttemptResponse struct {
	State     string
	ErrorCode string
}

// FSM transition names
const (
	StepValidate    = "validate"
	StepHealthCheck = "health_check"
	StepUpload      = "upload"
	StepComplete    = "complete"
	StepFailed      = "failed"
)

// State is the orchestrator's externally observable state.
type State string

// Orchestrator states. The non-idle values match the journal's status column.
const (
	StateIdle           State = "idle"
	StateValidating     State = "validating"
	StateHealthChecking State = "health_checking"
	StateUploading      State = "uploading"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Outcome is the terminal result of one attempt. Exactly one of Report and
// Err is set.
type Outcome struct {
	AttemptID string
	Ordinal   int64
	Retry     int64
	Report    transport.Report
	Err       *errors.Classified
	Health    *health.Status
	StartedAt time.Time
	Duration  time.Duration
}

// Success reports whether the attempt produced a report.
func (o *Outcome) Success() bool {
	return o.Err == nil && o.Report != nil
}

// ImageValidator checks a candidate image before any network call.
type ImageValidator interface {
	ValidateImage(img *capture.Image) *errors.Classified
}

// HealthChecker is the pre-flight gate.
type HealthChecker interface {
	Check(ctx context.Context) (*health.Status, error)
}

// Analyzer submits the image for analysis.
type Analyzer interface {
	Analyze(ctx context.Context, img *capture.Image) (transport.Report, error)
}

// Observer receives attempt events from the FSM and progress goroutines.
// Implementations must be safe for concurrent use.
type Observer interface {
	OnState(attemptID string, state State)
	OnProgress(attemptID string, sample progress.Sample)
	OnOutcome(outcome *Outcome)
}

// Journal records attempt lifecycle. Failures are logged and never fail the
// attempt.
type Journal interface {
	Begin(ctx context.Context, a *db.Attempt) error
	Advance(ctx context.Context, id, status string) error
	Finish(ctx context.Context, id, status, errorCode, errorMessage string, finishedAt time.Time, duration time.Duration) error
}

type nopObserver struct{}

func (nopObserver) OnState(string, State)              {}
func (nopObserver) OnProgress(string, progress.Sample) {}
func (nopObserver) OnOutcome(*Outcome)                 {}
