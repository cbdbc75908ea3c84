package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Oudwins/clawd/internals/schemas"
)

func (s *Store) RecordRun(ctx context.Context, run schemas.Run) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.db.ExecContext(ctx, `
INSERT INTO runs (task_id, correlation_id, status, started_at, finished_at, transcript, error)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, run.TaskID, run.CorrelationID, run.Status, formatTime(run.StartedAt), formatTime(run.FinishedAt), nullIfEmpty(run.Transcript), nullIfEmpty(run.Error))
	if err != nil {
		return 0, fmt.Errorf("%w: record run for %s: %w", ErrStore, run.TaskID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: record run for %s: %w", ErrStore, run.TaskID, err)
	}
	return id, nil
}

// ListRuns returns the most recent runs of a task, newest first. A limit of
// zero or less returns every run.
func (s *Store) ListRuns(ctx context.Context, taskID string, limit int) ([]schemas.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, correlation_id, status, started_at, finished_at, transcript, error
FROM runs
WHERE task_id = ?
ORDER BY id DESC
LIMIT ?
`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs for %s: %w", ErrStore, taskID, err)
	}
	defer rows.Close()

	runs := []schemas.Run{}
	for rows.Next() {
		var run schemas.Run
		var status string
		var startedAt, finishedAt string
		var transcript, errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.TaskID, &run.CorrelationID, &status, &startedAt, &finishedAt, &transcript, &errMsg); err != nil {
			return nil, fmt.Errorf("%w: scan run: %w", ErrStore, err)
		}
		run.Status = schemas.ExecutionStatus(status)
		if started := parseTimePtr(sql.NullString{String: startedAt, Valid: true}); started != nil {
			run.StartedAt = *started
		}
		if finished := parseTimePtr(sql.NullString{String: finishedAt, Valid: true}); finished != nil {
			run.FinishedAt = *finished
		}
		run.Transcript = transcript.String
		run.Error = errMsg.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list runs for %s: %w", ErrStore, taskID, err)
	}
	return runs, nil
}
