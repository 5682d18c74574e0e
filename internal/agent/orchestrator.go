package agent

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"droid-pilot/internal/action"
	"droid-pilot/internal/config"
	"droid-pilot/internal/device"
	"droid-pilot/internal/llm"
	"droid-pilot/internal/screen"
)

var (
	ErrAlreadyRunning = errors.New("a task is already running")
	ErrNotRunning     = errors.New("no task is running")
	ErrEmptyTask      = errors.New("task must not be empty")
)

// Decider chooses the next action for an observation.
type Decider interface {
	Decide(ctx context.Context, in llm.DecisionInput) (llm.Decision, error)
}

// Executor performs an intent against the screen it was decided on.
type Executor interface {
	Execute(ctx context.Context, snap *screen.Snapshot, in action.Intent) error
}

// Dependencies are the collaborators of an Orchestrator. Tracer and Logger
// are optional.
type Dependencies struct {
	Capturer      device.Capturer
	Accessibility device.Accessibility
	Extractor     *screen.Extractor
	Decider       Decider
	Executor      Executor
	Tracer        trace.Tracer
	Logger        *zap.Logger
}

// Orchestrator runs one task at a time: observe, decide, act until the model
// declares the task finished or a limit trips.
type Orchestrator struct {
	deps   Dependencies
	cfg    config.AgentConfig
	logger *zap.Logger
	tracer trace.Tracer
	bus    *bus

	mu     sync.Mutex
	state  RunState
	paused bool
	hints  []string
	frame  image.Image
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOrchestrator(deps Dependencies, cfg config.AgentConfig) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("droid-pilot/agent")
	}
	done := make(chan struct{})
	close(done)
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("agent"),
		tracer: tracer,
		bus:    newBus(logger.Named("agent.bus")),
		state:  RunState{Status: StatusIdle, MaxSteps: cfg.MaxSteps},
		done:   done,
	}
}

// Subscribe registers an observer for all future events.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.bus.subscribe(obs)
}

// Start launches task in the background. ctx bounds the lifetime of the run,
// not of the call.
func (o *Orchestrator) Start(ctx context.Context, task string) (RunState, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return RunState{}, ErrEmptyTask
	}

	o.mu.Lock()
	if o.state.Running {
		current := o.state.RunID
		o.mu.Unlock()
		o.logger.Warn("Rejecting task, agent already running", zap.String("run_id", current), zap.String("task", task))
		return RunState{}, ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.state = RunState{
		RunID:     uuid.NewString(),
		Task:      task,
		Running:   true,
		Status:    StatusThinking,
		MaxSteps:  o.cfg.MaxSteps,
		StartedAt: time.Now(),
	}
	o.paused = false
	o.hints = nil
	o.frame = nil
	o.cancel = cancel
	o.done = make(chan struct{})
	runID, done := o.state.RunID, o.done
	state := o.state.clone()
	o.mu.Unlock()

	o.logger.Info("Task started", zap.String("run_id", runID), zap.String("task", task), zap.Int("max_steps", o.cfg.MaxSteps))
	o.publish(EventStatus, state, nil)

	go o.run(runCtx, runID, done)
	return state, nil
}

// Pause suspends stepping at the next iteration boundary.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	if !o.state.Running {
		o.mu.Unlock()
		return ErrNotRunning
	}
	if o.paused {
		o.mu.Unlock()
		return nil
	}
	o.paused = true
	state := o.stateLocked()
	o.mu.Unlock()

	o.logger.Info("Task paused", zap.String("run_id", state.RunID), zap.Int("step", state.StepIndex))
	o.publish(EventStatus, state, nil)
	return nil
}

func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	if !o.state.Running {
		o.mu.Unlock()
		return ErrNotRunning
	}
	if !o.paused {
		o.mu.Unlock()
		return nil
	}
	o.paused = false
	o.state.Status = StatusThinking
	state := o.stateLocked()
	o.mu.Unlock()

	o.logger.Info("Task resumed", zap.String("run_id", state.RunID))
	o.publish(EventStatus, state, nil)
	return nil
}

// Stop cancels the current run and returns once its loop has exited. The run
// ends Idle. Stopping an idle or finished agent does nothing.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.state.Running {
		o.mu.Unlock()
		return
	}
	o.cancel()
	o.state.Running = false
	o.state.Status = StatusIdle
	o.state.FinishedAt = time.Now()
	o.paused = false
	o.hints = nil
	state := o.state.clone()
	done := o.done
	o.mu.Unlock()

	<-done
	o.logger.Info("Task stopped", zap.String("run_id", state.RunID), zap.Int("step", state.StepIndex))
	o.publish(EventFinished, state, nil)
}

// Assist queues a user hint for the next decision only.
func (o *Orchestrator) Assist(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return errors.New("assist message must not be empty")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.Running {
		return ErrNotRunning
	}
	o.hints = append(o.hints, msg)
	o.logger.Info("User hint queued", zap.String("run_id", o.state.RunID), zap.String("hint", msg))
	return nil
}

// State returns a copy of the current run state.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

// Done is closed when the current run's loop has exited.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Screenshot returns the most recent (annotated) frame, or nil.
func (o *Orchestrator) Screenshot() image.Image {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frame
}

// Close stops any run and flushes the observers.
func (o *Orchestrator) Close() {
	o.Stop()
	o.bus.close()
}

func (o *Orchestrator) stateLocked() RunState {
	s := o.state.clone()
	if o.paused && s.Running {
		s.Status = StatusPaused
	}
	return s
}

func (o *Orchestrator) publish(kind EventKind, state RunState, step *StepRecord) {
	o.bus.publish(Event{Kind: kind, State: state, Step: step, At: time.Now()})
}

// update mutates the state of runID under the lock if the run is still live.
// It reports false once the run has been stopped or has finished.
func (o *Orchestrator) update(runID string, fn func(*RunState)) (RunState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.Running || o.state.RunID != runID {
		return RunState{}, false
	}
	fn(&o.state)
	return o.stateLocked(), true
}

func (o *Orchestrator) setStatus(runID string, status Status) {
	if state, ok := o.update(runID, func(s *RunState) { s.Status = status }); ok {
		o.publish(EventStatus, state, nil)
	}
}

func (o *Orchestrator) finish(runID string, status Status, reason string) {
	state, ok := o.update(runID, func(s *RunState) {
		s.Running = false
		s.Status = status
		s.Reason = reason
		s.FinishedAt = time.Now()
		o.paused = false
		o.hints = nil
	})
	if !ok {
		return
	}

	fields := []zap.Field{zap.String("run_id", runID), zap.Int("step", state.StepIndex), zap.String("reason", reason)}
	if status == StatusCompleted {
		o.logger.Info("Task completed", fields...)
	} else {
		o.logger.Warn("Task failed", fields...)
	}
	o.publish(EventFinished, state, nil)
}

// abandon ends a run whose context was cancelled from outside, leaving the
// agent Idle as Stop would. Runs that already finished are left alone.
func (o *Orchestrator) abandon(runID string) {
	state, ok := o.update(runID, func(s *RunState) {
		s.Running = false
		s.Status = StatusIdle
		s.FinishedAt = time.Now()
		o.paused = false
		o.hints = nil
		o.cancel()
	})
	if !ok {
		return
	}
	o.logger.Info("Task cancelled", zap.String("run_id", runID), zap.Int("step", state.StepIndex))
	o.publish(EventFinished, state, nil)
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) takeHints() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	hints := o.hints
	o.hints = nil
	return hints
}

func (o *Orchestrator) setFrame(img image.Image) {
	o.mu.Lock()
	o.frame = img
	o.mu.Unlock()
}
