// Package router implements the wait-free routing table. Tables are
// immutable once built; the reload path constructs a fresh table from a
// full snapshot and publishes it with an atomic pointer swap, so readers
// see either the old or the new table, never a partial one.
package router

import (
	"strings"
	"sync/atomic"
)

// Route is a single routing rule mapping a path pattern to an upstream.
// Route values inside a table are never mutated; reloads replace the
// whole table.
type Route struct {
	ID          string   `json:"id"`
	Path        string   `json:"path"`
	Upstream    string   `json:"upstream"`
	Methods     []string `json:"methods"`
	TimeoutMS   int64    `json:"timeout_ms"`
	Active      bool     `json:"active"`
	Weight      int      `json:"weight"`
	TransformID string   `json:"transform_id,omitempty"`
	Description string   `json:"description,omitempty"`
}

// AllowsMethod reports whether the route admits the given HTTP method.
// An empty method set admits every method; comparison is case-insensitive.
func (r *Route) AllowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Table maps path patterns to routes. It contains only active routes and
// is immutable after Build returns.
type Table struct {
	routes map[string]*Route
}

// Build constructs a table from a route snapshot, dropping inactive
// routes. The input slice is not retained.
func Build(routes []Route) *Table {
	m := make(map[string]*Route, len(routes))
	for i := range routes {
		if !routes[i].Active {
			continue
		}
		r := routes[i]
		m[r.Path] = &r
	}
	return &Table{routes: m}
}

// Match resolves a request path against the table.
//
// Strategy:
//  1. Exact lookup in the pattern map.
//  2. Linear scan over patterns: "/*" wildcard (with a path-boundary
//     check), trailing-"/" prefix, or exact. The longest matching
//     pattern wins.
func (t *Table) Match(path string) (*Route, bool) {
	if r, ok := t.routes[path]; ok {
		return r, true
	}

	var best *Route
	bestLen := -1
	for pattern, r := range t.routes {
		if !patternMatches(path, pattern) {
			continue
		}
		if len(pattern) > bestLen {
			best = r
			bestLen = len(pattern)
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// patternMatches reports whether path matches pattern.
//
//   - "/api/*" matches "/api/x" and "/api/x/y" but not "/api" — the
//     character after the stripped prefix must be a slash boundary.
//   - "/v2/" matches "/v2/x" and "/v2" itself.
//   - anything else is an exact comparison.
func patternMatches(path, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if !strings.HasPrefix(path, prefix) {
			return false
		}
		return len(path) > len(prefix) && path[len(prefix)] == '/'
	}

	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(path, pattern) || path == strings.TrimSuffix(pattern, "/")
	}

	return path == pattern
}

// Len returns the number of routes in the table.
func (t *Table) Len() int {
	return len(t.routes)
}

// Routes returns the routes in the table. The returned slice is a copy;
// the route pointers reference the immutable table entries.
func (t *Table) Routes() []*Route {
	out := make([]*Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	return out
}

// Stats summarizes a table for the readiness surface.
type Stats struct {
	Routes          int `json:"routes"`
	UniqueUpstreams int `json:"unique_upstreams"`
}

// Stats computes summary statistics for the table.
func (t *Table) Stats() Stats {
	upstreams := make(map[string]struct{}, len(t.routes))
	for _, r := range t.routes {
		upstreams[r.Upstream] = struct{}{}
	}
	return Stats{Routes: len(t.routes), UniqueUpstreams: len(upstreams)}
}

// Handle publishes tables to readers. Readers load the pointer once per
// request and keep that reference for the request's lifetime, so a route
// deleted mid-flight stays valid for the request that matched it.
type Handle struct {
	ptr atomic.Pointer[Table]
}

// NewHandle creates a handle holding an empty table.
func NewHandle() *Handle {
	h := &Handle{}
	h.ptr.Store(Build(nil))
	return h
}

// Load returns the current table snapshot.
func (h *Handle) Load() *Table {
	return h.ptr.Load()
}

// Store publishes a new table.
func (h *Handle) Store(t *Table) {
	h.ptr.Store(t)
}
