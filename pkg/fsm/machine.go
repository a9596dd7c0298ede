// Package fsm orchestrates analysis attempts. Each attempt validates the
// candidate image, gates on service health, uploads it, and settles into a
// single terminal outcome, driven by the superfly/fsm library.
package fsm

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scalpcheck/scalp-analyzer/pkg/capture"
	"github.com/scalpcheck/scalp-analyzer/pkg/db"
	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/scalpcheck/scalp-analyzer/pkg/health"
	"github.com/scalpcheck/scalp-analyzer/pkg/metrics"
	"github.com/scalpcheck/scalp-analyzer/pkg/progress"
	"github.com/scalpcheck/scalp-analyzer/pkg/transport"
	"github.com/superfly/fsm"
)

var (
	// ErrAttemptInFlight is returned when a submission arrives while another
	// attempt is still running.
	ErrAttemptInFlight = stderrors.New("an analysis attempt is already in flight")
	// ErrNothingToRetry is returned by Retry before any image was submitted.
	ErrNothingToRetry = stderrors.New("no previous submission to retry")
	// ErrNotRegistered is returned when Submit is called before Register.
	ErrNotRegistered = stderrors.New("orchestrator is not registered with an fsm manager")
)

// Options holds the orchestrator's collaborators. Observer and Journal are
// optional.
type Options struct {
	Validator ImageValidator
	Gate      HealthChecker
	Analyzer  Analyzer
	Estimator *progress.Estimator
	Observer  Observer
	Journal   Journal

	// OrdinalBase continues attempt numbering, e.g. from the journal.
	OrdinalBase int64
}

// Orchestrator runs at most one attempt at a time.
type Orchestrator struct {
	validator ImageValidator
	gate      HealthChecker
	analyzer  Analyzer
	estimator *progress.Estimator
	observer  Observer
	journal   Journal

	manager *fsm.Manager
	start   fsm.Start[AttemptRequest, AttemptResponse]

	mu       sync.Mutex
	state    State
	current  *attempt
	attempts map[string]*attempt
	last     *capture.Image
	ordinal  int64
	retries  int64
}

// NewOrchestrator creates an orchestrator. Register must be called before
// the first submission.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		validator: opts.Validator,
		gate:      opts.Gate,
		analyzer:  opts.Analyzer,
		estimator: opts.Estimator,
		observer:  opts.Observer,
		journal:   opts.Journal,
		state:     StateIdle,
		attempts:  make(map[string]*attempt),
		ordinal:   opts.OrdinalBase,
	}
	if o.estimator == nil {
		o.estimator = progress.NewEstimator(progress.DefaultInterval, progress.DefaultExpected)
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	return o
}

// Register registers the analysis FSM
func (o *Orchestrator) Register(ctx context.Context, manager *fsm.Manager) error {
	start, _, err := fsm.Register[AttemptRequest, AttemptResponse](manager, "scalp-analysis").
		Start(StepValidate, o.handleValidate).
		To(StepHealthCheck, o.handleHealthCheck).
		To(StepUpload, o.handleUpload).
		To(StepComplete, o.handleComplete).
		End(StepFailed).
		Build(ctx)

	if err != nil {
		return errors.Wrap(err, "failed to register FSM")
	}

	o.manager = manager
	o.start = start
	return nil
}

// Submit runs one attempt for img and blocks until it is terminal. The
// returned outcome carries either the report or the classified failure; a
// non-nil error means the attempt could not be run at all.
func (o *Orchestrator) Submit(ctx context.Context, img *capture.Image) (*Outcome, error) {
	a, err := o.admit(ctx, img, false)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, a)
}

// Retry re-submits the last candidate image. The retry counter advances
// only when the retry is accepted.
func (o *Orchestrator) Retry(ctx context.Context) (*Outcome, error) {
	a, err := o.admit(ctx, nil, true)
	if err != nil {
		return nil, err
	}
	metrics.RetriesTotal.Inc()
	return o.run(ctx, a)
}

// Cancel abandons the in-flight attempt. It reports whether there was one.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	a := o.current
	o.mu.Unlock()

	if a == nil {
		return false
	}
	slog.Info("attempt_cancel_requested", "attempt_id", a.id)
	a.cancel()
	return true
}

// State returns the state of the current or most recent attempt.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RetryCount returns the number of accepted user retries.
func (o *Orchestrator) RetryCount() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retries
}

func (o *Orchestrator) admit(ctx context.Context, img *capture.Image, retry bool) (*attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		slog.Warn("attempt_rejected_in_flight", "in_flight", o.current.id)
		return nil, ErrAttemptInFlight
	}

	var retryOrdinal int64
	if retry {
		if o.last == nil {
			return nil, ErrNothingToRetry
		}
		img = o.last
		o.retries++
		retryOrdinal = o.retries
	} else if img != nil {
		o.last = img
	}

	o.ordinal++
	a := newAttempt(ctx, img, o.ordinal, retryOrdinal)
	o.current = a
	o.attempts[a.id] = a
	o.state = StateValidating
	return a, nil
}

func (o *Orchestrator) run(ctx context.Context, a *attempt) (*Outcome, error) {
	defer o.release(a)

	slog.Info("attempt_start", "attempt_id", a.id, "ordinal", a.ordinal, "retry", a.retry)
	o.journalBegin(a)

	if o.start == nil {
		o.finish(a, errors.New(errors.CodeUnknownError).WithCause(ErrNotRegistered))
		return nil, ErrNotRegistered
	}

	// The engine runs detached from the caller; cancellation reaches the
	// handlers through the attempt context instead.
	engineCtx := context.WithoutCancel(ctx)

	version, err := o.start(engineCtx, a.id, fsm.NewRequest(&AttemptRequest{AttemptID: a.id}, &AttemptResponse{}))
	if err != nil {
		slog.Error("fsm_start_failed", "attempt_id", a.id, "error", err)
		o.finish(a, errors.New(errors.CodeUnknownError).WithCause(err))
		return nil, errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm_started", "attempt_id", a.id, "version", version)

	waitErr := o.manager.Wait(engineCtx, version)
	if out := a.result(); out != nil {
		return out, nil
	}

	if waitErr == nil {
		waitErr = fmt.Errorf("attempt %s ended without an outcome", a.id)
	}
	slog.Error("fsm_ended_without_outcome", "attempt_id", a.id, "error", waitErr)
	return o.finish(a, errors.New(errors.CodeUnknownError).WithCause(waitErr)), nil
}

func (o *Orchestrator) release(a *attempt) {
	a.stopProgress(false)
	a.cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.attempts, a.id)
	if o.current == a {
		o.current = nil
	}
}

func (o *Orchestrator) lookup(ctx context.Context, req *fsm.Request[AttemptRequest, AttemptResponse]) (*attempt, *AttemptResponse, error) {
	if retryCount := fsm.RetryFromContext(ctx); retryCount > 0 {
		// Retrying is the user's decision, never the engine's.
		slog.Error("fsm_engine_retry_refused", "attempt_id", req.Msg.AttemptID, "retry_count", retryCount)
		return nil, nil, fsm.Abort(fmt.Errorf("engine retry refused for attempt %s", req.Msg.AttemptID))
	}

	o.mu.Lock()
	a := o.attempts[req.Msg.AttemptID]
	o.mu.Unlock()

	if a == nil {
		// A run resumed from a previous process has no caller waiting on it.
		slog.Warn("fsm_attempt_orphaned", "attempt_id", req.Msg.AttemptID)
		return nil, nil, fsm.Abort(fmt.Errorf("attempt %s is not owned by this process", req.Msg.AttemptID))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &AttemptResponse{}
	}
	return a, resp, nil
}

func (o *Orchestrator) enter(a *attempt, state State) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()

	o.mu.Lock()
	if o.current == a {
		o.state = state
	}
	o.mu.Unlock()

	slog.Info("attempt_state", "attempt_id", a.id, "state", state)
	o.observer.OnState(a.id, state)

	if !state.Terminal() && state != StateValidating {
		o.journalAdvance(a, state)
	}
}

// fail records a terminal failure and returns the error that aborts the run.
func (o *Orchestrator) fail(a *attempt, resp *AttemptResponse, c *errors.Classified) error {
	out := o.finish(a, c)
	resp.State = string(StateFailed)
	resp.ErrorCode = string(out.Err.Code)
	return fsm.Abort(out.Err)
}

// finish settles the attempt exactly once. Progress is stopped before the
// outcome becomes visible.
func (o *Orchestrator) finish(a *attempt, c *errors.Classified) *Outcome {
	a.mu.Lock()
	if a.outcome != nil {
		out := a.outcome
		a.mu.Unlock()
		return out
	}
	a.mu.Unlock()

	success := c == nil
	a.stopProgress(success)

	a.mu.Lock()
	out := &Outcome{
		AttemptID: a.id,
		Ordinal:   a.ordinal,
		Retry:     a.retry,
		Health:    a.health,
		StartedAt: a.startedAt,
		Duration:  time.Since(a.startedAt),
	}
	if success {
		out.Report = a.report
	} else {
		out.Err = c
	}
	a.outcome = out
	a.mu.Unlock()

	state, label, code := StateSucceeded, "success", ""
	if !success {
		state, label, code = StateFailed, "failure", string(c.Code)
	}
	metrics.AttemptsTotal.WithLabelValues(label, code).Inc()
	metrics.AttemptDuration.WithLabelValues(label).Observe(out.Duration.Seconds())

	if success {
		slog.Info("attempt_succeeded", "attempt_id", a.id, "duration", out.Duration)
	} else {
		slog.Warn("attempt_failed", "attempt_id", a.id, "code", c.Code, "retryable", c.Retryable, "details", c.Details, "duration", out.Duration)
	}

	o.enter(a, state)
	o.journalFinish(a, out)
	o.observer.OnOutcome(out)
	return out
}

func (o *Orchestrator) journalBegin(a *attempt) {
	if o.journal == nil {
		return
	}
	entry := &db.Attempt{
		ID:        a.id,
		Ordinal:   a.ordinal,
		Retry:     a.retry,
		Status:    db.StatusValidating,
		StartedAt: a.startedAt,
	}
	if a.image != nil {
		entry.ImageName = a.image.Name
		entry.MediaType = a.image.MediaType
		entry.ImageSize = a.image.Size
	}
	if err := o.journal.Begin(context.WithoutCancel(a.ctx), entry); err != nil {
		slog.Warn("journal_begin_failed", "attempt_id", a.id, "error", err)
	}
}

func (o *Orchestrator) journalAdvance(a *attempt, state State) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Advance(context.WithoutCancel(a.ctx), a.id, string(state)); err != nil {
		slog.Warn("journal_advance_failed", "attempt_id", a.id, "state", state, "error", err)
	}
}

func (o *Orchestrator) journalFinish(a *attempt, out *Outcome) {
	if o.journal == nil {
		return
	}
	status, code, message := db.StatusSucceeded, "", ""
	if out.Err != nil {
		status, code, message = db.StatusFailed, string(out.Err.Code), out.Err.Message
	}
	finishedAt := out.StartedAt.Add(out.Duration)
	if err := o.journal.Finish(context.WithoutCancel(a.ctx), a.id, status, code, message, finishedAt, out.Duration); err != nil {
		slog.Warn("journal_finish_failed", "attempt_id", a.id, "error", err)
	}
}

// attempt is the per-attempt context, owned by the orchestrator.
type attempt struct {
	id        string
	ordinal   int64
	retry     int64
	image     *capture.Image
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	progress *progress.Run
	health   *health.Status
	report   transport.Report
	outcome  *Outcome
}

func newAttempt(ctx context.Context, img *capture.Image, ordinal, retry int64) *attempt {
	actx, cancel := context.WithCancel(ctx)
	return &attempt{
		id:        uuid.NewString(),
		ordinal:   ordinal,
		retry:     retry,
		image:     img,
		startedAt: time.Now(),
		ctx:       actx,
		cancel:    cancel,
		state:     StateValidating,
	}
}

// bind derives a context from the handler's that is also cancelled with the
// attempt.
func (a *attempt) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// classify resolves a handler failure. Once the attempt context is done its
// reason wins over whatever the collaborator reported.
func (a *attempt) classify(err error) *errors.Classified {
	if cause := a.ctx.Err(); cause != nil {
		return errors.Classify(cause)
	}
	return errors.Classify(err)
}

func (a *attempt) setProgress(run *progress.Run) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progress = run
}

// stopProgress tears the progress run down. complete emits the final 100
// sample.
func (a *attempt) stopProgress(complete bool) {
	a.mu.Lock()
	run := a.progress
	a.mu.Unlock()

	if run == nil {
		return
	}
	if complete {
		run.Complete()
		return
	}
	run.Stop()
}

func (a *attempt) result() *Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome
}
