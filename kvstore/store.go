package kvstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/petal-labs/arbor"
)

//go:embed schema.sql
var schema string

// ErrNotStarted is reported when an Update or Query arrives before the
// store opened its database.
var ErrNotStarted = errors.New("kvstore: store not started")

// Store is a component that persists key/value pairs in SQLite. It opens
// its database on Start, applies Update events fired on its channel,
// answers Query events through the event result, and closes on Stop.
type Store struct {
	*arbor.Component

	dsn string

	mu sync.Mutex
	db *sql.DB
}

// New creates a store component persisting to the SQLite database at dsn
// (":memory:" works for tests).
func New(dsn string, opts ...arbor.ComponentOption) *Store {
	s := &Store{dsn: dsn}
	s.Component = arbor.NewComponent(s, opts...)
	s.On(s.onStart, arbor.WithEvents(arbor.TypeStart), arbor.WithChannels(arbor.Broadcast))
	s.On(s.onStop, arbor.WithEvents(arbor.TypeStop), arbor.WithChannels(arbor.Broadcast), arbor.WithPriority(-10000))
	s.On(s.onUpdate, arbor.WithEvents(TypeUpdate))
	s.On(s.onQuery, arbor.WithEvents(TypeQuery))
	return s
}

func (s *Store) onStart(ctx context.Context, _ arbor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("kvstore: open %q: %w", s.dsn, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return fmt.Errorf("kvstore: set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("kvstore: create schema: %w", err)
	}
	s.db = db
	return nil
}

func (s *Store) onStop(_ context.Context, _ arbor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("kvstore: close: %w", err)
	}
	return nil
}

func (s *Store) onUpdate(ctx context.Context, ev arbor.Event) error {
	upd := ev.(*Update)
	db, err := s.database()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kvstore: begin update: %w", err)
	}
	for _, a := range upd.actions {
		if a.delete {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM entries WHERE key = ? OR key LIKE ? || '/%'`, a.key, a.key)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO entries (key, value) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, a.key, a.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("kvstore: apply update for %q: %w", a.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kvstore: commit update: %w", err)
	}
	return nil
}

func (s *Store) onQuery(ctx context.Context, ev arbor.Event) error {
	query := ev.(*Query)
	db, err := s.database()
	if err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT key, value FROM entries WHERE key = ? OR key LIKE ? || '/%'`,
		query.Prefix(), query.Prefix())
	if err != nil {
		return fmt.Errorf("kvstore: query %q: %w", query.Prefix(), err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("kvstore: scan entry: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("kvstore: iterate entries: %w", err)
	}
	query.SetResult(result)
	return nil
}

func (s *Store) database() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotStarted
	}
	return s.db, nil
}
