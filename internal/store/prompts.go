package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskgenie/internal/domain"
)

// UpsertPromptConfig writes a prompt override. createdAt/createdBy stick
// from the first write; updatedAt/updatedBy follow the latest one.
func (s Store) UpsertPromptConfig(ctx context.Context, cfg domain.PromptConfig, username string, now time.Time) (domain.PromptConfig, error) {
	if cfg.AreaPath == "" || cfg.BusinessUnit == "" || cfg.System == "" {
		return domain.PromptConfig{}, fmt.Errorf("areaPath, businessUnit, and system are required")
	}
	if cfg.Prompt == "" {
		return domain.PromptConfig{}, fmt.Errorf("prompt is required")
	}
	if username == "" {
		return domain.PromptConfig{}, fmt.Errorf("username is required")
	}
	ts := now.UTC().Format(time.RFC3339)
	_, err := s.DB.ExecContext(ctx, `INSERT INTO prompt_configs(prompt_key,area_path,business_unit,system,prompt,created_at,created_by,updated_at,updated_by)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(prompt_key) DO UPDATE SET prompt=excluded.prompt, updated_at=excluded.updated_at, updated_by=excluded.updated_by`,
		cfg.Key(), cfg.AreaPath, cfg.BusinessUnit, cfg.System, cfg.Prompt, ts, username, ts, username)
	if err != nil {
		return domain.PromptConfig{}, err
	}
	return s.GetPromptConfig(ctx, cfg.AreaPath, cfg.BusinessUnit, cfg.System)
}

// GetPromptConfig looks up a prompt override by its composite key parts.
func (s Store) GetPromptConfig(ctx context.Context, areaPath, businessUnit, system string) (domain.PromptConfig, error) {
	var c domain.PromptConfig
	err := s.DB.QueryRowContext(ctx, `SELECT area_path,business_unit,system,prompt,created_at,created_by,updated_at,updated_by FROM prompt_configs WHERE prompt_key=?`,
		domain.PromptKey(areaPath, businessUnit, system)).
		Scan(&c.AreaPath, &c.BusinessUnit, &c.System, &c.Prompt, &c.CreatedAt, &c.CreatedBy, &c.UpdatedAt, &c.UpdatedBy)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// DeletePromptConfig removes a prompt override by composite key.
func (s Store) DeletePromptConfig(ctx context.Context, key string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM prompt_configs WHERE prompt_key=?`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPromptConfigs pages through prompt overrides by key. The cursor is
// the last key of the previous page; empty means start from the beginning.
func (s Store) ListPromptConfigs(ctx context.Context, limit int, cursor string) ([]domain.PromptConfig, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT area_path,business_unit,system,prompt,created_at,created_by,updated_at,updated_by FROM prompt_configs`
	var args []any
	if cursor != "" {
		query += ` WHERE prompt_key > ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY prompt_key ASC LIMIT ?`
	args = append(args, limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PromptConfig
	for rows.Next() {
		var c domain.PromptConfig
		if err := rows.Scan(&c.AreaPath, &c.BusinessUnit, &c.System, &c.Prompt, &c.CreatedAt, &c.CreatedBy, &c.UpdatedAt, &c.UpdatedBy); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
