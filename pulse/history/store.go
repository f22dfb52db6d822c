// Package history archives finished runs and their step outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/windturbine/db"
	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/pulse/coordinator"
	"github.com/teranos/windturbine/pulse/dag"
)

// DefaultListLimit bounds ListRuns when the caller passes no limit
const DefaultListLimit = 20

// Store persists run lifecycle events into pipeline_runs and
// pipeline_step_outcomes. It is a coordinator.Observer.
type Store struct {
	db *sql.DB
}

// NewStore creates a history store over a migrated database
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

var _ coordinator.Observer = (*Store)(nil)

// RunStarted records a new run with status pending
func (s *Store) RunStarted(ctx context.Context, run *coordinator.RunResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, trigger, status, cancelled, started_at)
		VALUES (?, ?, ?, 0, ?)
	`, run.RunID, run.Trigger.Source, string(run.Status), run.StartedAt.UTC())
	if err != nil {
		return db.MarkClosed(errors.Wrapf(err, "failed to record start of run %s", run.RunID))
	}
	return nil
}

// StepFinished records the terminal outcome of one step
func (s *Store) StepFinished(ctx context.Context, runID string, step coordinator.StepResult) error {
	var branch, kind, message, startedAt, finishedAt interface{}
	if step.Branch != "" {
		branch = string(step.Branch)
	}
	if step.Kind != errors.KindNone {
		kind = string(step.Kind)
	}
	if step.Error != "" {
		message = step.Error
	}
	if !step.StartedAt.IsZero() {
		startedAt = step.StartedAt.UTC()
	}
	if !step.FinishedAt.IsZero() {
		finishedAt = step.FinishedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pipeline_step_outcomes (
			run_id, step_id, state, attempts, branch, error_kind, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, string(step.ID), string(step.State), step.Attempts, branch, kind, message, startedAt, finishedAt)
	if err != nil {
		return db.MarkClosed(errors.Wrapf(err, "failed to record step %s of run %s", step.ID, runID))
	}
	return nil
}

// RunFinished records the terminal status of a run
func (s *Store) RunFinished(ctx context.Context, run *coordinator.RunResult) error {
	var message interface{}
	if err := run.Err(); err != nil {
		message = err.Error()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = ?, cancelled = ?, finished_at = ?, error = ?
		WHERE id = ?
	`, string(run.Status), run.Cancelled, run.FinishedAt.UTC(), message, run.RunID)
	if err != nil {
		return db.MarkClosed(errors.Wrapf(err, "failed to record finish of run %s", run.RunID))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("run %s was never recorded as started", run.RunID)
	}
	return nil
}

// RunRecord is one archived run
type RunRecord struct {
	ID         string                   `json:"id"`
	Trigger    string                   `json:"trigger"`
	Status     coordinator.Status       `json:"status"`
	Cancelled  bool                     `json:"cancelled"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Steps      []coordinator.StepResult `json:"steps,omitempty"`
}

// GetRun loads one run with its step outcomes
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger, status, cancelled, started_at, finished_at, error
		FROM pipeline_runs WHERE id = ?
	`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("run %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load run %s", id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, state, attempts, branch, error_kind, error, started_at, finished_at
		FROM pipeline_step_outcomes WHERE run_id = ?
		ORDER BY COALESCE(finished_at, started_at), step_id
	`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load steps of run %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stepID, state         string
			attempts              int
			branch, kind, message sql.NullString
			startedAt, finishedAt sql.NullTime
		)
		if err := rows.Scan(&stepID, &state, &attempts, &branch, &kind, &message, &startedAt, &finishedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan step outcome")
		}
		rec.Steps = append(rec.Steps, coordinator.StepResult{
			ID:         dag.StepID(stepID),
			State:      coordinator.State(state),
			Attempts:   attempts,
			Branch:     dag.StepID(branch.String),
			Kind:       errors.Kind(kind.String),
			Error:      message.String,
			StartedAt:  startedAt.Time,
			FinishedAt: finishedAt.Time,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate step outcomes")
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first, without step details
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger, status, cancelled, started_at, finished_at, error
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate runs")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var (
		rec        RunRecord
		status     string
		finishedAt sql.NullTime
		message    sql.NullString
	)
	if err := sc.Scan(&rec.ID, &rec.Trigger, &status, &rec.Cancelled, &rec.StartedAt, &finishedAt, &message); err != nil {
		return nil, err
	}
	rec.Status = coordinator.Status(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	rec.Error = message.String
	return &rec, nil
}
