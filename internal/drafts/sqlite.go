package drafts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore keeps drafts in a local SQLite file, for single-workstation
// deployments that must survive a restart without Redis.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("drafts: sqlite path not set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("drafts: create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("drafts: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("drafts: ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("drafts: apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, slot string, d Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("drafts: marshal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drafts (slot, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		slot, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("drafts: save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, slot string) (*Draft, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM drafts WHERE slot = ?`, slot).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("drafts: load: %w", err)
	}
	return decode([]byte(payload))
}

func (s *SQLiteStore) Clear(ctx context.Context, slot string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("drafts: clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, slot string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM drafts WHERE slot = ?`, slot).Scan(&n); err != nil {
		return false, fmt.Errorf("drafts: exists: %w", err)
	}
	return n > 0, nil
}
