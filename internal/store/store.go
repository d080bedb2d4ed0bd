package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"taskgenie/internal/domain"
)

// Store persists execution records and prompt configs.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// PutExecution writes the terminal record for a run. Last write wins:
// a repeated put for the same execution id overwrites the stored record.
func (s Store) PutExecution(ctx context.Context, rec domain.Execution) error {
	if rec.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO executions(execution_id,execution_result,outcome,ts,work_item_id,record_json) VALUES (?,?,?,?,?,?)
ON CONFLICT(execution_id) DO UPDATE SET execution_result=excluded.execution_result, outcome=excluded.outcome, ts=excluded.ts, work_item_id=excluded.work_item_id, record_json=excluded.record_json`,
		rec.ExecutionID, rec.ExecutionResult, string(rec.Outcome), rec.Timestamp, rec.WorkItemID, string(payload))
	return err
}

// GetExecution returns the terminal record for an execution id, or
// ErrNotFound while the run is still in flight.
func (s Store) GetExecution(ctx context.Context, executionID string) (domain.Execution, error) {
	var payload string
	err := s.DB.QueryRowContext(ctx, `SELECT record_json FROM executions WHERE execution_id=?`, executionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Execution{}, ErrNotFound
	}
	if err != nil {
		return domain.Execution{}, err
	}
	var rec domain.Execution
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return domain.Execution{}, fmt.Errorf("unmarshal execution record: %w", err)
	}
	return rec, nil
}

// ListExecutions returns recent terminal records, newest first.
func (s Store) ListExecutions(ctx context.Context, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT record_json FROM executions ORDER BY ts DESC, execution_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Execution
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec domain.Execution
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
