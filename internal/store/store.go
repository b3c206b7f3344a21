// Package store is the config store adapter: a SQLite-backed document
// store for route and listener documents, with a change-notification
// stream on the routes collection and the single reload primitive that
// rebuilds the router table from a full snapshot.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: document not found")

// ValidationError is the typed error returned when a document is
// rejected on write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("store: invalid %s: %s", e.Field, e.Reason)
}

const schema = `
CREATE TABLE IF NOT EXISTS routes (
	id   TEXT PRIMARY KEY,
	doc  TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS listeners (
	id   TEXT PRIMARY KEY,
	doc  TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS transforms (
	id     TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Store wraps the SQLite connection and fans out change notifications.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	watchers []chan struct{}
}

// Open opens (creating if needed) the document store at path.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database and all watcher channels.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
	s.mu.Unlock()
	return s.db.Close()
}

// Watch returns a channel that receives a signal on any create, update
// or delete in the routes collection. Event content is intentionally
// absent: consumers perform a full snapshot reload. Signals are
// coalesced; a slow consumer sees at least one signal for any burst of
// changes. The channel is closed when ctx is done or the store closes.
func (s *Store) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				close(ch)
				break
			}
		}
		s.mu.Unlock()
	}()

	return ch
}

// notify signals every watcher without blocking.
func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
