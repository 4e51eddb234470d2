package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteAgentSchema = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteStore persists agent records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed agent store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("server: sqlite store dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("server: sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("server: sqlite store set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteAgentSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("server: sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// List returns all records in creation order.
func (s *SQLiteStore) List(ctx context.Context) ([]AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT payload
FROM agents
ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("server: sqlite list agents: %w", err)
	}
	defer rows.Close()

	var records []AgentRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("server: sqlite scan agent: %w", err)
		}
		var rec AgentRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("server: sqlite decode agent: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns a record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (AgentRecord, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM agents WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentRecord{}, false, nil
	}
	if err != nil {
		return AgentRecord{}, false, fmt.Errorf("server: sqlite get agent: %w", err)
	}
	var rec AgentRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return AgentRecord{}, false, fmt.Errorf("server: sqlite decode agent: %w", err)
	}
	return rec, true, nil
}

// Create inserts a new record.
func (s *SQLiteStore) Create(ctx context.Context, rec AgentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("server: sqlite encode agent: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO agents (id, payload, created_at, updated_at)
VALUES (?, ?, ?, ?)`,
		rec.ID, payload, rec.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"), rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrAgentExists
		}
		return fmt.Errorf("server: sqlite create agent: %w", err)
	}
	return nil
}

// Update replaces an existing record.
func (s *SQLiteStore) Update(ctx context.Context, rec AgentRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("server: sqlite encode agent: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE agents SET payload = ?, updated_at = ? WHERE id = ?`,
		payload, rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"), rec.ID)
	if err != nil {
		return fmt.Errorf("server: sqlite update agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("server: sqlite update agent: %w", err)
	}
	if affected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// Delete removes a record by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("server: sqlite delete agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("server: sqlite delete agent: %w", err)
	}
	if affected == 0 {
		return ErrAgentNotFound
	}
	return nil
}
