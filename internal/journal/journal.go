// Package journal keeps a sqlite transcript of agent runs and their steps.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"droid-pilot/internal/agent"
)

const (
	writeTimeout = 5 * time.Second
	// fixed width so that stored timestamps sort as text
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Run is one row of the runs table.
type Run struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Steps      int       `json:"steps"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Step is one row of the steps table.
type Step struct {
	RunID     string        `json:"runId"`
	Index     int           `json:"index"`
	Action    string        `json:"action"`
	Reasoning string        `json:"reasoning,omitempty"`
	Executed  bool          `json:"executed"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// Journal is an agent observer. The orchestrator delivers events on a
// dedicated goroutine, so writes never hold up the loop.
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the database at path. "~" is expanded and missing
// directories are created; ":memory:" is accepted.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("expand journal path: %w", err)
		}
		path = expanded
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, logger: logger.Named("journal")}
	if err := j.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			steps INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			action TEXT NOT NULL,
			reasoning TEXT,
			executed INTEGER NOT NULL,
			success INTEGER NOT NULL,
			error TEXT,
			duration_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id, step_index);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
	}
	for _, stmt := range ddl {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// OnEvent records e. Failures are logged, never returned.
func (j *Journal) OnEvent(e agent.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := j.record(ctx, e); err != nil {
		j.logger.Warn("Failed to journal event",
			zap.String("run_id", e.State.RunID),
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
	}
}

func (j *Journal) record(ctx context.Context, e agent.Event) error {
	if e.State.RunID == "" {
		return nil
	}
	if err := j.upsertRun(ctx, e.State); err != nil {
		return err
	}
	if e.Kind == agent.EventStep && e.Step != nil {
		return j.insertStep(ctx, e.State.RunID, *e.Step, e.At)
	}
	return nil
}

func (j *Journal) upsertRun(ctx context.Context, s agent.RunState) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, task, status, reason, steps, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			steps = excluded.steps,
			finished_at = excluded.finished_at`,
		s.RunID,
		s.Task,
		s.Status.String(),
		nullString(s.Reason),
		s.StepIndex,
		formatTime(s.StartedAt),
		nullTime(s.FinishedAt),
	)
	return err
}

func (j *Journal) insertStep(ctx context.Context, runID string, step agent.StepRecord, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO steps (run_id, step_index, action, reasoning, executed, success, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		step.Index,
		step.Intent.Summary(),
		nullString(step.Reasoning),
		step.Executed,
		step.Success,
		nullString(step.Error),
		step.Duration.Milliseconds(),
		formatTime(at),
	)
	return err
}

// RecentRuns returns up to limit runs, most recently started first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, task, status, reason, steps, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                Run
			reason, finished sql.NullString
			started          string
		)
		if err := rows.Scan(&r.ID, &r.Task, &r.Status, &reason, &r.Steps, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Reason = reason.String
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished.String)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ErrRunNotFound is returned by Steps for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Steps returns the steps of runID in order.
func (j *Journal) Steps(ctx context.Context, runID string) ([]Step, error) {
	var exists int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM runs WHERE run_id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	if exists == 0 {
		return nil, ErrRunNotFound
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT step_index, action, reasoning, executed, success, error, duration_ms, created_at
		FROM steps
		WHERE run_id = ?
		ORDER BY step_index, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			s               Step
			reasoning, errS sql.NullString
			durationMs      int64
			created         string
		)
		if err := rows.Scan(&s.Index, &s.Action, &reasoning, &s.Executed, &s.Success, &errS, &durationMs, &created); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.RunID = runID
		s.Reasoning = reasoning.String
		s.Error = errS.String
		s.Duration = time.Duration(durationMs) * time.Millisecond
		s.At = parseTime(created)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
