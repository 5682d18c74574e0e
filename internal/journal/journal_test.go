package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"droid-pilot/internal/action"
	"droid-pilot/internal/agent"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordsRun(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	state := agent.RunState{RunID: "run-1", Task: "open settings", Running: true, Status: agent.StatusThinking, StartedAt: started}
	j.OnEvent(agent.Event{Kind: agent.EventStatus, State: state})

	state.StepIndex = 1
	state.Status = agent.StatusActing
	j.OnEvent(agent.Event{
		Kind:  agent.EventStep,
		State: state,
		At:    started.Add(time.Second),
		Step: &agent.StepRecord{
			Index:     1,
			Intent:    action.Intent{Kind: action.KindOpenApp, AppName: "Settings", Confidence: 0.9},
			Reasoning: "settings is not open yet",
			Executed:  true,
			Success:   true,
			Duration:  1500 * time.Millisecond,
		},
	})

	state.StepIndex = 2
	j.OnEvent(agent.Event{
		Kind:  agent.EventStep,
		State: state,
		At:    started.Add(2 * time.Second),
		Step: &agent.StepRecord{
			Index:  2,
			Intent: action.Intent{Kind: action.KindTapElement, ElementID: 9, Confidence: 0.8},
			Error:  "unknown element",
		},
	})

	state.Running = false
	state.Status = agent.StatusCompleted
	state.Reason = "settings open"
	state.FinishedAt = started.Add(3 * time.Second)
	j.OnEvent(agent.Event{Kind: agent.EventFinished, State: state})

	runs, err := j.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, Run{
		ID:         "run-1",
		Task:       "open settings",
		Status:     "completed",
		Reason:     "settings open",
		Steps:      2,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}, runs[0])

	steps, err := j.Steps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "OPEN_APP: Settings", steps[0].Action)
	assert.Equal(t, "settings is not open yet", steps[0].Reasoning)
	assert.True(t, steps[0].Executed)
	assert.True(t, steps[0].Success)
	assert.Equal(t, 1500*time.Millisecond, steps[0].Duration)
	assert.Equal(t, "TAP_ELEMENT: element 9", steps[1].Action)
	assert.False(t, steps[1].Success)
	assert.Equal(t, "unknown element", steps[1].Error)
}

func TestJournal_RecentRunsOrder(t *testing.T) {
	j := openTest(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		j.OnEvent(agent.Event{Kind: agent.EventStatus, State: agent.RunState{
			RunID:     id,
			Task:      "task " + id,
			Status:    agent.StatusThinking,
			StartedAt: base.Add(time.Duration(i) * 500 * time.Millisecond),
		}})
	}

	runs, err := j.RecentRuns(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())
}

func TestJournal_StepsUnknownRun(t *testing.T) {
	j := openTest(t)
	_, err := j.Steps(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestJournal_IgnoresEventsWithoutRun(t *testing.T) {
	j := openTest(t)
	j.OnEvent(agent.Event{Kind: agent.EventFinished, State: agent.RunState{Status: agent.StatusIdle}})

	runs, err := j.RecentRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestJournal_LogsWriteFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	j, err := Open(context.Background(), ":memory:", zap.New(core))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j.OnEvent(agent.Event{Kind: agent.EventStatus, State: agent.RunState{RunID: "run-1", Task: "x"}})

	entries := logs.FilterMessage("Failed to journal event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0].ContextMap()["run_id"])
}
