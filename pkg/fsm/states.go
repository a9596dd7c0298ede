package fsm

import (
	"context"
	"log/slog"

	"github.com/scalpcheck/scalp-analyzer/pkg/errors"
	"github.com/scalpcheck/scalp-analyzer/pkg/progress"
	"github.com/superfly/fsm"
)

// handleValidate rejects unusable images before any network call
func (o *Orchestrator) handleValidate(ctx context.Context, req *fsm.Request[AttemptRequest, AttemptResponse]) (*fsm.Response[AttemptResponse], error) {
	slog.Info("fsm_state_validate", "attempt_id", req.Msg.AttemptID)

	a, resp, err := o.lookup(ctx, req)
	if err != nil {
		return nil, err
	}
	o.enter(a, StateValidating)

	if c := o.validator.ValidateImage(a.image); c != nil {
		slog.Warn("image_validation_failed", "attempt_id", a.id, "code", c.Code, "details", c.Details)
		return nil, o.fail(a, resp, c)
	}

	slog.Info("image_valid", "attempt_id", a.id, "media_type", a.image.MediaType, "size", a.image.Size)

	a.setProgress(o.estimator.Start(func(s progress.Sample) {
		o.observer.OnProgress(a.id, s)
	}))

	resp.State = string(StateValidating)
	return fsm.NewResponse(resp), nil
}

// handleHealthCheck gates the upload on a healthy service
func (o *Orchestrator) handleHealthCheck(ctx context.Context, req *fsm.Request[AttemptRequest, AttemptResponse]) (*fsm.Response[AttemptResponse], error) {
	slog.Info("fsm_state_health_check", "attempt_id", req.Msg.AttemptID)

	a, resp, err := o.lookup(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := a.ctx.Err(); err != nil {
		return nil, o.fail(a, resp, a.classify(err))
	}
	o.enter(a, StateHealthChecking)

	ctx, cancel := a.bind(ctx)
	defer cancel()

	status, err := o.gate.Check(ctx)
	a.mu.Lock()
	a.health = status
	a.mu.Unlock()

	if err != nil {
		return nil, o.fail(a, resp, a.classify(err))
	}

	resp.State = string(StateHealthChecking)
	return fsm.NewResponse(resp), nil
}

// handleUpload sends the image to the analysis service
func (o *Orchestrator) handleUpload(ctx context.Context, req *fsm.Request[AttemptRequest, AttemptResponse]) (*fsm.Response[AttemptResponse], error) {
	slog.Info("fsm_state_upload", "attempt_id", req.Msg.AttemptID)

	a, resp, err := o.lookup(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := a.ctx.Err(); err != nil {
		return nil, o.fail(a, resp, a.classify(err))
	}
	o.enter(a, StateUploading)

	ctx, cancel := a.bind(ctx)
	defer cancel()

	report, err := o.analyzer.Analyze(ctx, a.image)
	if err != nil {
		return nil, o.fail(a, resp, a.classify(err))
	}
	if report == nil {
		return nil, o.fail(a, resp, errors.InvalidResponse("empty report"))
	}

	a.mu.Lock()
	a.report = report
	a.mu.Unlock()

	resp.State = string(StateUploading)
	return fsm.NewResponse(resp), nil
}

// handleComplete settles the attempt as a success
func (o *Orchestrator) handleComplete(ctx context.Context, req *fsm.Request[AttemptRequest, AttemptResponse]) (*fsm.Response[AttemptResponse], error) {
	slog.Info("fsm_state_complete", "attempt_id", req.Msg.AttemptID)

	a, resp, err := o.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	o.finish(a, nil)

	resp.State = string(StateSucceeded)
	slog.Info("fsm_complete", "attempt_id", a.id, "state", StateSucceeded)
	return fsm.NewResponse(resp), nil
}
