package task

import (
	"time"

	"droid-pilot/internal/agent"
)

// Status is the lifecycle of a task as shown to API clients.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusBroken     Status = "broken"
	StatusCanceled   Status = "canceled"
)

// Done reports whether the task can no longer change.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusBroken || s == StatusCanceled
}

// Task represents one submitted instruction and the run executing it.
type Task struct {
	ID         string         `json:"id"`
	RunID      string         `json:"runId"`
	Status     Status         `json:"status"`
	Message    string         `json:"message"`
	Result     string         `json:"result,omitempty"`
	Steps      int            `json:"steps"`
	CreatedAt  time.Time      `json:"createdAt"`
	FinishedAt time.Time      `json:"finishedAt,omitempty"`
	History    []StatusChange `json:"history"`
}

// StatusChange is one entry of a task's status history.
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// TaskUpdate represents a task status update
type TaskUpdate struct {
	Type    string `json:"type"`
	TaskID  string `json:"taskId"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

func (t Task) clone() Task {
	t.History = append([]StatusChange(nil), t.History...)
	return t
}

// statusFor maps an agent run state onto a task status.
func statusFor(s agent.RunState) Status {
	switch {
	case s.Status == agent.StatusCompleted:
		return StatusCompleted
	case s.Status == agent.StatusFailed:
		return StatusBroken
	case !s.Running:
		return StatusCanceled
	case s.Status == agent.StatusPaused:
		return StatusPaused
	}
	return StatusInProgress
}
