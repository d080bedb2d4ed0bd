package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"taskgenie/internal/domain"
)

// EventWriter appends stage transitions to a run's event log.
type EventWriter struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w EventWriter) Append(ctx context.Context, executionID, evtType string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO run_events(execution_id,ts,type,payload_json) VALUES (?,?,?,?)`,
		executionID, ts, evtType, string(data))
	return err
}

// RunEvents returns the event log for an execution in append order.
func (s Store) RunEvents(ctx context.Context, executionID string) ([]domain.RunEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,execution_id,ts,type,payload_json FROM run_events WHERE execution_id=? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunEvent
	for rows.Next() {
		var e domain.RunEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.TS, &e.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
