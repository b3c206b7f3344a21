package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/YASSERRMD/naseejmesh/internal/router"
)

// ValidateRoute checks a route document before it is written. The
// router table only ever sees documents that passed this gate.
func ValidateRoute(r *router.Route) error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if r.Path == "" {
		return &ValidationError{Field: "path", Reason: "must not be empty"}
	}
	if !strings.HasPrefix(r.Path, "/") {
		return &ValidationError{Field: "path", Reason: "must begin with /"}
	}
	if !strings.HasPrefix(r.Upstream, "http://") && !strings.HasPrefix(r.Upstream, "https://") {
		return &ValidationError{Field: "upstream", Reason: "must carry an http:// or https:// scheme"}
	}
	if r.Weight < 0 || r.Weight > 100 {
		return &ValidationError{Field: "weight", Reason: "must be between 0 and 100"}
	}
	return nil
}

// CreateRoute validates and inserts a route document.
func (s *Store) CreateRoute(ctx context.Context, r router.Route) error {
	if err := ValidateRoute(&r); err != nil {
		return err
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal route: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO routes (id, doc) VALUES (?, ?)`, r.ID, string(doc))
	if err != nil {
		return fmt.Errorf("insert route %s: %w", r.ID, err)
	}
	s.notify()
	return nil
}

// UpdateRoute validates and replaces a route document.
func (s *Store) UpdateRoute(ctx context.Context, r router.Route) error {
	if err := ValidateRoute(&r); err != nil {
		return err
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal route: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE routes SET doc = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(doc), r.ID)
	if err != nil {
		return fmt.Errorf("update route %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify()
	return nil
}

// DeleteRoute removes a route document by ID.
func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete route %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify()
	return nil
}

// GetRoute fetches a route document by ID.
func (s *Store) GetRoute(ctx context.Context, id string) (*router.Route, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM routes WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get route %s: %w", id, err)
	}
	var r router.Route
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("decode route %s: %w", id, err)
	}
	return &r, nil
}

// ListRoutes returns every route document, active or not.
func (s *Store) ListRoutes(ctx context.Context) ([]router.Route, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM routes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var routes []router.Route
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		var r router.Route
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("decode route: %w", err)
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// CountActiveRoutes returns the number of active route documents.
func (s *Store) CountActiveRoutes(ctx context.Context) (int, error) {
	routes, err := s.ListRoutes(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range routes {
		if routes[i].Active {
			n++
		}
	}
	return n, nil
}

// Reload is the only write into the router table: it fetches the full
// route snapshot, builds a fresh table, and publishes it atomically.
// A full rebuild on every change event keeps reloads idempotent against
// dropped or reordered notifications.
func (s *Store) Reload(ctx context.Context, handle *router.Handle) error {
	routes, err := s.ListRoutes(ctx)
	if err != nil {
		return err
	}
	handle.Store(router.Build(routes))
	return nil
}

// SeedDefaults inserts a development route set, skipping IDs that
// already exist.
func (s *Store) SeedDefaults(ctx context.Context) error {
	defaults := []router.Route{
		{ID: "api-catchall", Path: "/api/*", Upstream: "http://localhost:3000",
			Active: true, Weight: 100, TimeoutMS: 30000,
			Description: "Default API catch-all route"},
	}
	for _, r := range defaults {
		if _, err := s.GetRoute(ctx, r.ID); err == nil {
			continue
		}
		if err := s.CreateRoute(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
