// Package store persists the user preferences of the turbo toggle in
// SQLite: one key/value table plus an append-only journal of every
// accepted toggle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// KeyTurbo is the preference key of the mode flag.
const KeyTurbo = "isTurbo"

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS toggle_log (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL,
	value      INTEGER NOT NULL,
	source     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_toggle_log_created ON toggle_log(created_at);
`

// Toggle is one journal entry.
type Toggle struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     bool      `json:"value"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New applies the schema on db and returns a Store. The caller keeps
// ownership of db.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Bool returns the stored value of key. An absent key is false with a nil
// error.
func (s *Store) Bool(ctx context.Context, key string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return v != 0, nil
}

// SetBool stores value under key and appends it to the journal, both in
// one transaction. source names who asked (page, http, mcp).
func (s *Store) SetBool(ctx context.Context, key string, value bool, source string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("store: id: %w", err)
	}
	now := s.now().UnixMilli()
	v := 0
	if value {
		v = 1
	}
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, v, now); err != nil {
			return fmt.Errorf("store: set %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO toggle_log (id, key, value, source, created_at) VALUES (?, ?, ?, ?, ?)`,
			id.String(), key, v, source, now); err != nil {
			return fmt.Errorf("store: journal %s: %w", key, err)
		}
		return nil
	})
}

// History returns the most recent journal entries, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]Toggle, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, value, source, created_at FROM toggle_log
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []Toggle
	for rows.Next() {
		var (
			t  Toggle
			v  int
			ms int64
		)
		if err := rows.Scan(&t.ID, &t.Key, &v, &t.Source, &ms); err != nil {
			return nil, fmt.Errorf("store: history scan: %w", err)
		}
		t.Value = v != 0
		t.CreatedAt = time.UnixMilli(ms)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Turbo returns the stored mode flag. Any failure reads as false.
func (s *Store) Turbo(ctx context.Context) bool {
	v, err := s.Bool(ctx, KeyTurbo)
	if err != nil {
		s.logger.Warn("store: read mode flag", "error", err)
		return false
	}
	return v
}

// SetTurbo persists the mode flag.
func (s *Store) SetTurbo(ctx context.Context, value bool, source string) error {
	return s.SetBool(ctx, KeyTurbo, value, source)
}
