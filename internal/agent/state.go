package agent

import (
	"time"

	"droid-pilot/internal/action"
)

// Status is the lifecycle state of a run.
type Status int

const (
	StatusIdle Status = iota
	StatusThinking
	StatusActing
	StatusCompleted
	StatusFailed
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusThinking:
		return "thinking"
	case StatusActing:
		return "acting"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusPaused:
		return "paused"
	}
	return "unknown"
}

// Label is the human facing form used by the console and the web UI.
func (s Status) Label() string {
	switch s {
	case StatusIdle:
		return "💤 Idle"
	case StatusThinking:
		return "🤔 Thinking"
	case StatusActing:
		return "👆 Acting"
	case StatusCompleted:
		return "✅ Completed"
	case StatusFailed:
		return "❌ Failed"
	case StatusPaused:
		return "⏸️ Paused"
	}
	return "❔ Unknown"
}

// Terminal reports whether no further steps can happen in this run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RunState is a copy of the orchestrator's view of the current run.
type RunState struct {
	RunID               string    `json:"runId,omitempty"`
	Task                string    `json:"task,omitempty"`
	Running             bool      `json:"running"`
	Status              Status    `json:"status"`
	StepIndex           int       `json:"stepIndex"`
	MaxSteps            int       `json:"maxSteps"`
	LastReasoning       string    `json:"lastReasoning,omitempty"`
	LastAction          string    `json:"lastAction,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	Reason              string    `json:"reason,omitempty"`
	History             []string  `json:"history,omitempty"`
	StartedAt           time.Time `json:"startedAt,omitempty"`
	FinishedAt          time.Time `json:"finishedAt,omitempty"`
}

func (s RunState) clone() RunState {
	s.History = append([]string(nil), s.History...)
	return s
}

// StepRecord describes one decided step. Executed is false for terminal
// intents and for steps aborted before dispatch.
type StepRecord struct {
	Index     int           `json:"index"`
	Intent    action.Intent `json:"intent"`
	Reasoning string        `json:"reasoning,omitempty"`
	Executed  bool          `json:"executed"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Elements  int           `json:"elements"`
	Duration  time.Duration `json:"duration"`
}

type EventKind string

const (
	// EventStatus is published on every status transition.
	EventStatus EventKind = "status"
	// EventStep is published once per decided step.
	EventStep EventKind = "step"
	// EventFinished is published when a run ends, including on Stop.
	EventFinished EventKind = "finished"
)

// Event is what observers receive.
type Event struct {
	Kind  EventKind   `json:"kind"`
	State RunState    `json:"state"`
	Step  *StepRecord `json:"step,omitempty"`
	At    time.Time   `json:"at"`
}
