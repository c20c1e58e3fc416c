package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/leapstack-labs/thelook/pkg/core"
)

// RecordEntityRun stores the outcome of one entity. An empty ID is filled in.
func (s *SQLiteStore) RecordEntityRun(er *core.EntityRun) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if er.ID == "" {
		er.ID = generateID()
	}
	if er.ExecutionMS == 0 && !er.CompletedAt.IsZero() {
		er.ExecutionMS = er.CompletedAt.Sub(er.StartedAt).Milliseconds()
	}

	_, err := s.db.Exec(`
		INSERT INTO entity_runs
			(id, run_id, entity, status, rows_out, rows_written, started_at, completed_at, execution_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		er.ID, er.RunID, er.Entity, string(er.Status), er.RowsOut, er.RowsWritten,
		er.StartedAt.UTC(), er.CompletedAt.UTC(), er.ExecutionMS, nullString(er.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s run: %w", er.Entity, err)
	}
	return nil
}

// GetEntityRunsForRun returns the entity outcomes of a run in start order.
func (s *SQLiteStore) GetEntityRunsForRun(runID string) ([]*core.EntityRun, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, run_id, entity, status, rows_out, rows_written, started_at, completed_at, execution_ms, error
		FROM entity_runs
		WHERE run_id = ?
		ORDER BY started_at, entity`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.EntityRun
	for rows.Next() {
		var (
			er        core.EntityRun
			status    string
			started   time.Time
			completed time.Time
			errMsg    sql.NullString
		)
		if err := rows.Scan(&er.ID, &er.RunID, &er.Entity, &status, &er.RowsOut, &er.RowsWritten,
			&started, &completed, &er.ExecutionMS, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan entity run: %w", err)
		}
		er.Status = core.EntityRunStatus(status)
		er.StartedAt = started
		er.CompletedAt = completed
		er.Error = errMsg.String
		out = append(out, &er)
	}
	return out, rows.Err()
}
