// Package server exposes the agent over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"image"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"droid-pilot/internal/agent"
	"droid-pilot/internal/config"
	"droid-pilot/internal/journal"
	"droid-pilot/internal/task"
)

const shutdownTimeout = 5 * time.Second

// Tasks is the task manager surface used by the handlers.
type Tasks interface {
	Submit(ctx context.Context, message string) (task.Task, error)
	Cancel(id string) error
	Pause(id string) error
	Resume(id string) error
	Assist(id, message string) error
	Current() (task.Task, bool)
	List() []task.Task
}

// Agent exposes the live run state and the latest frame.
type Agent interface {
	State() agent.RunState
	Screenshot() image.Image
}

// Runs lists journaled runs. Optional.
type Runs interface {
	RecentRuns(ctx context.Context, limit int) ([]journal.Run, error)
	Steps(ctx context.Context, runID string) ([]journal.Step, error)
}

type Dependencies struct {
	Tasks  Tasks
	Agent  Agent
	Hub    http.Handler
	Runs   Runs
	Logger *zap.Logger
}

type Server struct {
	cfg  config.ServerConfig
	deps Dependencies
	// runs outlive the request that started them
	runCtx context.Context
	logger *zap.Logger
}

func New(cfg config.ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		runCtx: context.Background(),
		logger: logger.Named("server"),
	}
}

// Handler returns the routed API wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /task", s.handleSubmit)
	mux.HandleFunc("POST /task/pause", s.handlePause)
	mux.HandleFunc("POST /task/resume", s.handleResume)
	mux.HandleFunc("POST /task/stop", s.handleStop)
	mux.HandleFunc("POST /user-assist", s.handleAssist)
	mux.HandleFunc("GET /execution-state", s.handleExecutionState)
	mux.HandleFunc("GET /screenshot", s.handleScreenshot)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("GET /runs/{id}/steps", s.handleRunSteps)
	mux.HandleFunc("GET /ping", PingHandler)
	if s.deps.Hub != nil {
		mux.Handle("GET /ws", s.deps.Hub)
	}

	return CORSMiddleware(s.logRequests(mux))
}

// Start serves until ctx is cancelled, then shuts down gracefully. Runs
// started through the API are bound to ctx as well.
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx
	addr := net.JoinHostPort(s.cfg.BindIP, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path == "/ping" {
			return
		}
		s.logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// CORSMiddleware adds CORS headers to responses and answers preflight requests.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
