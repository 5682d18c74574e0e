package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"droid-pilot/internal/agent"
	imagepkg "droid-pilot/internal/image"
	"droid-pilot/internal/journal"
	"droid-pilot/internal/task"
)

const maxBody = 1 << 16

type TaskRequest struct {
	Text string `json:"text"`
}

type TaskControlRequest struct {
	TaskID string `json:"taskId"`
}

type UserAssistRequest struct {
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

type Response struct {
	Result string      `json:"result"`
	TaskID string      `json:"taskId,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ExecutionState is the body of GET /execution-state.
type ExecutionState struct {
	State agent.RunState `json:"state"`
	Task  *task.Task     `json:"task,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}

	t, err := s.deps.Tasks.Submit(s.runCtx, req.Text)
	switch {
	case errors.Is(err, agent.ErrEmptyTask):
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	case errors.Is(err, agent.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("Failed to submit task", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, Response{Result: "Task started", TaskID: t.ID, Data: t})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "Task paused", s.deps.Tasks.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "Task resumed", s.deps.Tasks.Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "Task canceled", s.deps.Tasks.Cancel)
}

// control applies op to the task named in the body, or to the current task
// when the body is empty.
func (s *Server) control(w http.ResponseWriter, r *http.Request, result string, op func(string) error) {
	var req TaskControlRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}
	if req.TaskID == "" {
		current, ok := s.deps.Tasks.Current()
		if !ok {
			s.writeError(w, http.StatusNotFound, task.ErrTaskNotFound.Error())
			return
		}
		req.TaskID = current.ID
	}

	if err := op(req.TaskID); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Result: result, TaskID: req.TaskID})
}

func (s *Server) handleAssist(w http.ResponseWriter, r *http.Request) {
	var req UserAssistRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if err := s.deps.Tasks.Assist(req.TaskID, req.Message); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("User-assist message accepted", zap.String("task_id", req.TaskID))
	s.writeJSON(w, http.StatusOK, Response{Result: "User-assist message processed", TaskID: req.TaskID})
}

func (s *Server) handleExecutionState(w http.ResponseWriter, r *http.Request) {
	resp := ExecutionState{State: s.deps.Agent.State()}
	if t, ok := s.deps.Tasks.Current(); ok {
		resp.Task = &t
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleScreenshot serves the latest frame the agent saw, annotated when
// annotation is enabled.
func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	img := s.deps.Agent.Screenshot()
	if img == nil {
		s.writeError(w, http.StatusNotFound, "no screenshot captured yet")
		return
	}

	pngBytes, err := imagepkg.EncodeToPNG(img)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to encode image: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(pngBytes)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Tasks.List())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.deps.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunSteps(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	steps, err := s.deps.Runs.Steps(r.Context(), r.PathValue("id"))
	if errors.Is(err, journal.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if steps == nil {
		steps = []journal.Step{}
	}
	s.writeJSON(w, http.StatusOK, steps)
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrTaskFinished), errors.Is(err, agent.ErrNotRunning):
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to encode JSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBytes)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
