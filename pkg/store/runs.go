package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunRecord is a row of reconcile_runs.
type RunRecord struct {
	ID         string `json:"run_id"`
	Input      string `json:"input"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt *int64 `json:"finished_at,omitempty"`
	Status     string `json:"status"`
	Report     string `json:"report,omitempty"`
}

// StartRun records a new run as running.
func (s *Store) StartRun(ctx context.Context, id, input string, startedAt int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO reconcile_runs
		(run_id, input, started_at, status) VALUES (?, ?, ?, ?)`),
		id, input, startedAt, RunRunning)
	if err != nil {
		return fmt.Errorf("start run %s: %w", id, err)
	}
	return nil
}

// FinishRun stores the final status and report of a run.
func (s *Store) FinishRun(ctx context.Context, id, status, report string, finishedAt int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE reconcile_runs
		SET status = ?, report = ?, finished_at = ? WHERE run_id = ?`),
		status, report, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*RunRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var r RunRecord
	err := s.db.QueryRowContext(ctx, `SELECT run_id, input, started_at, finished_at, status, report
		FROM reconcile_runs ORDER BY started_at DESC, run_id DESC LIMIT 1`).
		Scan(&r.ID, &r.Input, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &r, nil
}

// SaveCheckpoint marks level as fully committed for the given input.
func (s *Store) SaveCheckpoint(ctx context.Context, fingerprint, level, runID string, completedAt int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO reconcile_checkpoints
		(input_fingerprint, level, run_id, completed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (input_fingerprint, level) DO UPDATE SET
			run_id = excluded.run_id, completed_at = excluded.completed_at`),
		fingerprint, level, runID, completedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", level, err)
	}
	return nil
}

// CompletedLevels returns the levels checkpointed for an input.
func (s *Store) CompletedLevels(ctx context.Context, fingerprint string) (map[string]bool, error) {
	runs, err := s.CheckpointRuns(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(runs))
	for level := range runs {
		done[level] = true
	}
	return done, nil
}

// CheckpointRuns maps each level checkpointed for an input to the run that
// completed it.
func (s *Store) CheckpointRuns(ctx context.Context, fingerprint string) (map[string]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT level, run_id FROM reconcile_checkpoints
		WHERE input_fingerprint = ?`), fingerprint)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	runs := make(map[string]string)
	for rows.Next() {
		var level, runID string
		if err := rows.Scan(&level, &runID); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		runs[level] = runID
	}
	return runs, rows.Err()
}
