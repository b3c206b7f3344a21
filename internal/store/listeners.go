package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/YASSERRMD/naseejmesh/internal/message"
)

// ListenerSpec is the persisted description of one protocol endpoint.
// Two specs are equivalent for restart-avoidance iff all fields compare
// equal.
type ListenerSpec struct {
	ID               string           `json:"id"`
	Protocol         message.Protocol `json:"protocol"`
	Host             string           `json:"host"`
	Port             int              `json:"port"`
	Enabled          bool             `json:"enabled"`
	Config           json.RawMessage  `json:"config,omitempty"`
	DrainTimeoutSecs int              `json:"drain_timeout_secs"`
}

// Addr returns the bind address for the spec.
func (l ListenerSpec) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// Equal reports whether two specs would produce the same listener.
func (l ListenerSpec) Equal(other ListenerSpec) bool {
	return l.ID == other.ID &&
		l.Protocol == other.Protocol &&
		l.Host == other.Host &&
		l.Port == other.Port &&
		l.Enabled == other.Enabled &&
		l.DrainTimeoutSecs == other.DrainTimeoutSecs &&
		string(l.Config) == string(other.Config)
}

// ValidateListener checks a listener document before it is written.
func ValidateListener(l *ListenerSpec) error {
	if l.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !l.Protocol.Valid() {
		return &ValidationError{Field: "protocol", Reason: "must be http, mqtt, grpc or soap"}
	}
	if l.Port <= 0 || l.Port > 65535 {
		return &ValidationError{Field: "port", Reason: "must be between 1 and 65535"}
	}
	return nil
}

// PutListener validates and upserts a listener document.
func (s *Store) PutListener(ctx context.Context, l ListenerSpec) error {
	if err := ValidateListener(&l); err != nil {
		return err
	}
	if l.Host == "" {
		l.Host = "0.0.0.0"
	}
	if l.DrainTimeoutSecs == 0 {
		l.DrainTimeoutSecs = 30
	}
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal listener: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listeners (id, doc) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		l.ID, string(doc))
	if err != nil {
		return fmt.Errorf("put listener %s: %w", l.ID, err)
	}
	s.notify()
	return nil
}

// DeleteListener removes a listener document by ID.
func (s *Store) DeleteListener(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM listeners WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete listener %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify()
	return nil
}

// GetListener fetches a listener document by ID.
func (s *Store) GetListener(ctx context.Context, id string) (*ListenerSpec, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM listeners WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listener %s: %w", id, err)
	}
	var l ListenerSpec
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil, fmt.Errorf("decode listener %s: %w", id, err)
	}
	return &l, nil
}

// ListListeners returns every listener document.
func (s *Store) ListListeners(ctx context.Context) ([]ListenerSpec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM listeners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list listeners: %w", err)
	}
	defer rows.Close()

	var specs []ListenerSpec
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan listener: %w", err)
		}
		var l ListenerSpec
		if err := json.Unmarshal([]byte(doc), &l); err != nil {
			return nil, fmt.Errorf("decode listener: %w", err)
		}
		specs = append(specs, l)
	}
	return specs, rows.Err()
}
