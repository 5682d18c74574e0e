// Package task tracks the instructions submitted to the agent. Only one task
// runs at a time; finished tasks are kept for inspection.
package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"droid-pilot/internal/agent"
)

var ErrTaskNotFound = errors.New("task not found")

// ErrTaskFinished is returned when acting on a task that already ended.
var ErrTaskFinished = errors.New("task already finished")

// retained bounds how many tasks the manager remembers.
const retained = 100

// Runner is the part of the orchestrator the manager drives.
type Runner interface {
	Start(ctx context.Context, task string) (agent.RunState, error)
	Pause() error
	Resume() error
	Stop()
	Assist(msg string) error
}

// Notifier is told about every task status change.
type Notifier interface {
	SendTaskUpdate(taskID, status, message string)
}

type Manager struct {
	mu       sync.Mutex
	runner   Runner
	notifier Notifier
	tasks    map[string]*Task
	byRun    map[string]string
	current  string
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager returns a manager for runner. Register it as an agent observer so
// that task statuses follow the run.
func NewManager(runner Runner, notifier Notifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runner:   runner,
		notifier: notifier,
		tasks:    make(map[string]*Task),
		byRun:    make(map[string]string),
		now:      time.Now,
		logger:   logger.Named("task"),
	}
}

// Submit starts message as a new task. It fails with agent.ErrAlreadyRunning
// while another task is in progress.
func (m *Manager) Submit(ctx context.Context, message string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// the lock is held across Start so that events for the new run cannot
	// arrive before the task is registered
	state, err := m.runner.Start(ctx, message)
	if err != nil {
		return Task{}, err
	}

	t := &Task{
		ID:        uuid.NewString(),
		RunID:     state.RunID,
		Message:   state.Task,
		CreatedAt: m.now(),
	}
	m.tasks[t.ID] = t
	m.byRun[state.RunID] = t.ID
	m.current = t.ID
	m.setStatusLocked(t, StatusInProgress, "")
	m.pruneLocked()

	m.logger.Info("Task submitted", zap.String("task_id", t.ID), zap.String("run_id", t.RunID))
	return t.clone(), nil
}

// Cancel stops the task if it is the one running.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	if t.Status.Done() {
		m.mu.Unlock()
		return ErrTaskFinished
	}
	m.setStatusLocked(t, StatusCanceled, "Task canceled by user")
	m.mu.Unlock()

	m.runner.Stop()
	return nil
}

// Pause pauses the running task.
func (m *Manager) Pause(id string) error {
	if err := m.checkActive(id); err != nil {
		return err
	}
	return m.runner.Pause()
}

// Resume resumes the paused task.
func (m *Manager) Resume(id string) error {
	if err := m.checkActive(id); err != nil {
		return err
	}
	return m.runner.Resume()
}

// Assist forwards a user hint to the running task.
func (m *Manager) Assist(id, message string) error {
	if err := m.checkActive(id); err != nil {
		return err
	}
	return m.runner.Assist(message)
}

// checkActive accepts the current task id, or an empty id meaning "current".
func (m *Manager) checkActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		id = m.current
	}
	t, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status.Done() {
		return ErrTaskFinished
	}
	return nil
}

func (m *Manager) Get(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// Current returns the most recently submitted task.
func (m *Manager) Current() (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[m.current]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// List returns all remembered tasks, newest first.
func (m *Manager) List() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// OnEvent keeps task statuses in line with the agent.
func (m *Manager) OnEvent(e agent.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byRun[e.State.RunID]
	if !ok {
		return
	}
	t := m.tasks[id]
	t.Steps = e.State.StepIndex
	if t.Status.Done() {
		return
	}

	status := statusFor(e.State)
	if e.Kind != agent.EventFinished && status.Done() {
		return
	}
	if status.Done() {
		t.Result = e.State.Reason
		t.FinishedAt = e.State.FinishedAt
	}
	m.setStatusLocked(t, status, e.State.Reason)
}

func (m *Manager) setStatusLocked(t *Task, status Status, message string) {
	if t.Status == status {
		return
	}
	t.Status = status
	t.History = append(t.History, StatusChange{Status: status, At: m.now()})
	if status.Done() && t.FinishedAt.IsZero() {
		t.FinishedAt = m.now()
	}

	m.logger.Debug("Task status changed", zap.String("task_id", t.ID), zap.String("status", string(status)))
	if m.notifier != nil {
		if message == "" {
			message = t.Message
		}
		m.notifier.SendTaskUpdate(t.ID, string(status), message)
	}
}

// pruneLocked forgets the oldest finished tasks beyond the retention limit.
func (m *Manager) pruneLocked() {
	if len(m.tasks) <= retained {
		return
	}
	finished := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.Status.Done() {
			finished = append(finished, t)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].CreatedAt.Before(finished[j].CreatedAt) })
	for _, t := range finished[:min(len(finished), len(m.tasks)-retained)] {
		delete(m.tasks, t.ID)
		delete(m.byRun, t.RunID)
	}
}
