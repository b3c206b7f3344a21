package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PutTransform upserts a transform script's source text by ID. The
// caller validates the script with the engine before writing.
func (s *Store) PutTransform(ctx context.Context, id, source string) error {
	if id == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if source == "" {
		return &ValidationError{Field: "source", Reason: "must not be empty"}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transforms (id, source) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET source = excluded.source, updated_at = CURRENT_TIMESTAMP`,
		id, source)
	if err != nil {
		return fmt.Errorf("put transform %s: %w", id, err)
	}
	return nil
}

// GetTransform fetches a transform script's source text by ID.
func (s *Store) GetTransform(ctx context.Context, id string) (string, error) {
	var source string
	err := s.db.QueryRowContext(ctx, `SELECT source FROM transforms WHERE id = ?`, id).Scan(&source)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get transform %s: %w", id, err)
	}
	return source, nil
}

// DeleteTransform removes a transform script by ID.
func (s *Store) DeleteTransform(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transforms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transform %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
