package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"droid-pilot/internal/action"
	"droid-pilot/internal/device"
	imagepkg "droid-pilot/internal/image"
	"droid-pilot/internal/llm"
	"droid-pilot/internal/screen"
)

// errStopped marks a step interrupted by Stop; it never reaches the state.
var errStopped = errors.New("run stopped")

func (o *Orchestrator) run(ctx context.Context, runID string, done chan struct{}) {
	defer close(done)
	defer o.abandon(runID)

	ctx, span := o.tracer.Start(ctx, "agent.run", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	if !o.deps.Accessibility.Available() {
		o.finish(runID, StatusFailed, "accessibility service unavailable")
		return
	}
	if !o.deps.Capturer.Available() {
		o.finish(runID, StatusFailed, "screen capture unavailable")
		return
	}

	r := &runner{
		o:       o,
		runID:   runID,
		history: newHistory(o.cfg.HistorySize),
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if err := o.waitWhilePaused(ctx); err != nil {
			return
		}

		step, ok := r.begin()
		if !ok {
			return
		}
		if err := sleep(ctx, o.cfg.CaptureInterval); err != nil {
			return
		}
		if err := o.waitWhilePaused(ctx); err != nil {
			return
		}

		if r.step(ctx, step) {
			return
		}
		if step >= o.cfg.MaxSteps {
			o.finish(runID, StatusFailed, "max steps reached")
			return
		}
	}
}

// waitWhilePaused polls until the run is resumed or cancelled. It consumes
// neither a step nor a capture.
func (o *Orchestrator) waitWhilePaused(ctx context.Context) error {
	interval := o.cfg.PausePollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	for o.isPaused() {
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// runner holds the loop-owned data of one run.
type runner struct {
	o        *Orchestrator
	runID    string
	history  *history
	failures int
}

// begin moves to Thinking and advances the step index.
func (r *runner) begin() (int, bool) {
	var step int
	state, ok := r.o.update(r.runID, func(s *RunState) {
		s.StepIndex++
		s.Status = StatusThinking
		step = s.StepIndex
	})
	if ok {
		r.o.publish(EventStatus, state, nil)
	}
	return step, ok
}

// step runs one observe, decide, act cycle. It reports true when the run is
// over, whether finished, failed or stopped.
func (r *runner) step(ctx context.Context, index int) bool {
	o := r.o
	started := time.Now()

	ctx, span := o.tracer.Start(ctx, "agent.step", trace.WithAttributes(
		attribute.String("run.id", r.runID),
		attribute.Int("step.index", index),
	))
	defer span.End()

	frame, snap, err := o.observe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "observe failed")
		reason := fmt.Sprintf("screen capture failed: %v", err)
		if errors.Is(err, device.ErrUnavailable) {
			reason = "screen capture unavailable"
		}
		o.finish(r.runID, StatusFailed, reason)
		return true
	}

	shot := o.annotate(frame, snap)
	o.setFrame(shot)

	state := o.State()
	width, height := o.deps.Capturer.ScreenSize()
	decision, err := o.deps.Decider.Decide(ctx, llm.DecisionInput{
		Screenshot:   shot,
		Task:         state.Task,
		History:      r.history.snapshot(),
		Hints:        o.takeHints(),
		Elements:     snap.Listing,
		ScreenWidth:  width,
		ScreenHeight: height,
		Step:         index,
		MaxSteps:     o.cfg.MaxSteps,
	})
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		o.finish(r.runID, StatusFailed, fmt.Sprintf("decision failed: %v", err))
		return true
	}

	intent := decision.Intent
	span.SetAttributes(
		attribute.String("intent.kind", string(intent.Kind)),
		attribute.Float64("intent.confidence", intent.Confidence),
	)
	o.logger.Info("Step decided",
		zap.String("run_id", r.runID),
		zap.Int("step", index),
		zap.String("action", intent.Summary()),
		zap.Float64("confidence", intent.Confidence),
		zap.Int("elements", snap.Len()))

	rec := &StepRecord{
		Index:     index,
		Intent:    intent,
		Reasoning: decision.Reasoning,
		Elements:  snap.Len(),
	}

	// a step counts against the failure budget at most once, and only a
	// confident successful dispatch clears it
	counted := false
	if intent.Confidence < o.cfg.LowConfidenceThreshold {
		r.failures++
		counted = true
		o.logger.Warn("Low confidence decision",
			zap.Int("step", index),
			zap.Float64("confidence", intent.Confidence),
			zap.Int("consecutive_failures", r.failures))
	}
	if !r.sync(func(s *RunState) {
		s.LastReasoning = decision.Reasoning
		s.LastAction = intent.Summary()
	}) {
		return true
	}

	if r.failures >= o.cfg.MaxConsecutiveFailures {
		rec.Error = "aborted before dispatch"
		rec.Duration = time.Since(started)
		r.emit(rec)
		o.finish(r.runID, StatusFailed,
			fmt.Sprintf("loop detected: %d consecutive low-confidence decisions", r.failures))
		return true
	}

	switch intent.Kind {
	case action.KindTaskComplete:
		rec.Success = true
		rec.Duration = time.Since(started)
		r.emit(rec)
		o.finish(r.runID, StatusCompleted, intent.Reason)
		return true
	case action.KindTaskFailed:
		rec.Duration = time.Since(started)
		r.emit(rec)
		reason := "task failed"
		if intent.Reason != "" {
			reason = "task failed: " + intent.Reason
		}
		o.finish(r.runID, StatusFailed, reason)
		return true
	}

	o.setStatus(r.runID, StatusActing)
	execErr := o.deps.Executor.Execute(ctx, snap, intent)
	if ctx.Err() != nil {
		return true
	}

	rec.Executed = true
	rec.Success = execErr == nil
	rec.Duration = time.Since(started)
	r.history.add(intent, rec.Success)

	switch {
	case execErr == nil && !counted:
		r.failures = 0
	case execErr != nil:
		rec.Error = execErr.Error()
		span.RecordError(execErr)
		if !counted {
			r.failures++
		}
		o.logger.Warn("Action failed",
			zap.Int("step", index),
			zap.String("action", intent.Summary()),
			zap.Int("consecutive_failures", r.failures),
			zap.Error(execErr))
	}
	if !r.sync(func(s *RunState) { s.History = r.history.snapshot() }) {
		return true
	}
	r.emit(rec)

	if execErr != nil && r.failures >= o.cfg.MaxConsecutiveFailures {
		o.finish(r.runID, StatusFailed, "too many consecutive failures")
		return true
	}
	return false
}

// sync copies loop-owned data into the shared state.
func (r *runner) sync(fn func(*RunState)) bool {
	_, ok := r.o.update(r.runID, func(s *RunState) {
		s.ConsecutiveFailures = r.failures
		fn(s)
	})
	return ok
}

func (r *runner) emit(rec *StepRecord) {
	r.o.publish(EventStep, r.o.State(), rec)
}

// observe captures a frame and dumps the UI tree concurrently. A failed tree
// dump degrades to an unavailable listing; a failed capture is fatal.
func (o *Orchestrator) observe(ctx context.Context) (image.Image, *screen.Snapshot, error) {
	var (
		frame image.Image
		root  *screen.Node
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := o.capture(gctx)
		frame = img
		return err
	})
	g.Go(func() error {
		node, err := o.deps.Accessibility.Root(gctx)
		if err != nil {
			if gctx.Err() == nil {
				o.logger.Warn("UI tree dump failed", zap.Error(err))
			}
			return nil
		}
		root = node
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if ctx.Err() != nil {
		return nil, nil, errStopped
	}
	return frame, o.deps.Extractor.Extract(root), nil
}

// capture retries transient failures with a constant, bounded delay.
func (o *Orchestrator) capture(ctx context.Context) (image.Image, error) {
	var frame image.Image

	operation := func() error {
		if !o.deps.Capturer.Available() {
			return backoff.Permanent(device.ErrUnavailable)
		}
		img, err := o.deps.Capturer.CaptureFrame(ctx)
		switch {
		case errors.Is(err, device.ErrUnavailable):
			return backoff.Permanent(err)
		case err != nil:
			return err
		case img == nil:
			return device.ErrNoFrame
		}
		frame = img
		return nil
	}
	notify := func(err error, wait time.Duration) {
		o.logger.Warn("Screen capture failed, retrying...", zap.Error(err), zap.Duration("retry_in", wait))
	}

	limit := uint64(max(o.cfg.CaptureRetryLimit, 0))
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(o.cfg.CaptureRetryDelay), limit), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return frame, nil
}

// annotate outlines every element on a copy of frame. On failure the raw frame
// is used.
func (o *Orchestrator) annotate(frame image.Image, snap *screen.Snapshot) image.Image {
	if !o.cfg.Annotate || snap.Len() == 0 {
		return frame
	}
	elements := snap.Elements()
	boxes := make([]imagepkg.Box, 0, len(elements))
	for _, el := range elements {
		boxes = append(boxes, imagepkg.Box{ID: el.ID, Bounds: el.Bounds})
	}
	w, h := o.deps.Capturer.ScreenSize()
	if w <= 0 || h <= 0 {
		w, h = frame.Bounds().Dx(), frame.Bounds().Dy()
	}
	annotated, err := imagepkg.Annotate(frame, boxes, w, h)
	if err != nil {
		o.logger.Warn("Annotation failed, sending raw frame", zap.Error(err))
		return frame
	}
	return annotated
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
