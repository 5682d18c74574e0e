package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"droid-pilot/internal/agent"
	"droid-pilot/internal/config"
	"droid-pilot/internal/journal"
	"droid-pilot/internal/task"
)

type mockTasks struct {
	mock.Mock
}

func (m *mockTasks) Submit(ctx context.Context, message string) (task.Task, error) {
	args := m.Called(ctx, message)
	return args.Get(0).(task.Task), args.Error(1)
}

func (m *mockTasks) Cancel(id string) error { return m.Called(id).Error(0) }
func (m *mockTasks) Pause(id string) error  { return m.Called(id).Error(0) }
func (m *mockTasks) Resume(id string) error { return m.Called(id).Error(0) }

func (m *mockTasks) Assist(id, message string) error { return m.Called(id, message).Error(0) }

func (m *mockTasks) Current() (task.Task, bool) {
	args := m.Called()
	return args.Get(0).(task.Task), args.Bool(1)
}

func (m *mockTasks) List() []task.Task {
	return m.Called().Get(0).([]task.Task)
}

type fakeAgent struct {
	state agent.RunState
	frame image.Image
}

func (f *fakeAgent) State() agent.RunState   { return f.state }
func (f *fakeAgent) Screenshot() image.Image { return f.frame }

func newTestServer(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	if deps.Agent == nil {
		deps.Agent = &fakeAgent{}
	}
	deps.Logger = zaptest.NewLogger(t)
	return New(config.ServerConfig{BindIP: "127.0.0.1", Port: 8080}, deps).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestSubmitTask(t *testing.T) {
	tasks := &mockTasks{}
	tasks.On("Submit", mock.Anything, "open the camera").Return(task.Task{ID: "t1", Status: task.StatusInProgress}, nil)
	h := newTestServer(t, Dependencies{Tasks: tasks})

	rec := do(t, h, http.MethodPost, "/task", `{"text":"open the camera"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp Response
	decodeBody(t, rec, &resp)
	assert.Equal(t, "t1", resp.TaskID)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubmitTask_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{name: "bad json", body: `{`, code: http.StatusBadRequest},
		{name: "empty", body: `{"text":""}`, err: agent.ErrEmptyTask, code: http.StatusBadRequest},
		{name: "busy", body: `{"text":"x"}`, err: agent.ErrAlreadyRunning, code: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := &mockTasks{}
			tasks.On("Submit", mock.Anything, mock.Anything).Return(task.Task{}, tt.err)
			h := newTestServer(t, Dependencies{Tasks: tasks})

			rec := do(t, h, http.MethodPost, "/task", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			var resp ErrorResponse
			decodeBody(t, rec, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestControl_UsesCurrentTask(t *testing.T) {
	tasks := &mockTasks{}
	tasks.On("Current").Return(task.Task{ID: "t7"}, true)
	tasks.On("Pause", "t7").Return(nil).Once()
	tasks.On("Resume", "t7").Return(nil).Once()
	tasks.On("Cancel", "t9").Return(nil).Once()
	h := newTestServer(t, Dependencies{Tasks: tasks})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/task/pause", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/task/resume", "{}").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/task/stop", `{"taskId":"t9"}`).Code)
	tasks.AssertExpectations(t)
}

func TestControl_Errors(t *testing.T) {
	tasks := &mockTasks{}
	tasks.On("Pause", "gone").Return(task.ErrTaskNotFound)
	tasks.On("Resume", "old").Return(task.ErrTaskFinished)
	h := newTestServer(t, Dependencies{Tasks: tasks})

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/task/pause", `{"taskId":"gone"}`).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/task/resume", `{"taskId":"old"}`).Code)

	none := &mockTasks{}
	none.On("Current").Return(task.Task{}, false)
	h = newTestServer(t, Dependencies{Tasks: none})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/task/stop", "").Code)
}

func TestUserAssist(t *testing.T) {
	tasks := &mockTasks{}
	tasks.On("Assist", "t1", "the button is at the bottom").Return(nil).Once()
	tasks.On("Assist", "t2", "x").Return(agent.ErrNotRunning).Once()
	h := newTestServer(t, Dependencies{Tasks: tasks})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/user-assist", `{"taskId":"t1","message":"the button is at the bottom"}`).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/user-assist", `{"taskId":"t2","message":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/user-assist", `{"taskId":"t1"}`).Code)
	tasks.AssertExpectations(t)
}

func TestExecutionState(t *testing.T) {
	tasks := &mockTasks{}
	tasks.On("Current").Return(task.Task{ID: "t1", Status: task.StatusInProgress}, true)
	ag := &fakeAgent{state: agent.RunState{RunID: "r1", Running: true, Status: agent.StatusThinking, StepIndex: 3, MaxSteps: 20}}
	h := newTestServer(t, Dependencies{Tasks: tasks, Agent: ag})

	rec := do(t, h, http.MethodGet, "/execution-state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "thinking", body["state"]["status"])
	assert.EqualValues(t, 3, body["state"]["stepIndex"])
	assert.Equal(t, "t1", body["task"]["id"])
}

func TestScreenshot(t *testing.T) {
	h := newTestServer(t, Dependencies{Tasks: &mockTasks{}})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/screenshot", "").Code)

	frame := image.NewRGBA(image.Rect(0, 0, 4, 8))
	frame.Set(1, 1, color.RGBA{R: 255, A: 255})
	h = newTestServer(t, Dependencies{Tasks: &mockTasks{}, Agent: &fakeAgent{frame: frame}})

	rec := do(t, h, http.MethodGet, "/screenshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 8), img.Bounds())
}

func TestHistory(t *testing.T) {
	tasks := &mockTasks{}
	tasks.On("List").Return([]task.Task{{ID: "b"}, {ID: "a"}})
	h := newTestServer(t, Dependencies{Tasks: tasks})

	rec := do(t, h, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []task.Task
	decodeBody(t, rec, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
}

func TestRuns(t *testing.T) {
	h := newTestServer(t, Dependencies{Tasks: &mockTasks{}})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/runs", "").Code)

	j, err := journal.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer j.Close()
	j.OnEvent(agent.Event{Kind: agent.EventFinished, State: agent.RunState{RunID: "r1", Task: "x", Status: agent.StatusCompleted}})
	h = newTestServer(t, Dependencies{Tasks: &mockTasks{}, Runs: j})

	rec := do(t, h, http.MethodGet, "/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []journal.Run
	decodeBody(t, rec, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/runs?limit=zero", "").Code)

	rec = do(t, h, http.MethodGet, "/runs/r1/steps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/runs/nope/steps", "").Code)
}

func TestCORSPreflightAndPing(t *testing.T) {
	h := newTestServer(t, Dependencies{Tasks: &mockTasks{}})

	rec := do(t, h, http.MethodOptions, "/task", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ping", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/task", "").Code)
}
