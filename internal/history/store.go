/*-------------------------------------------------------------------------
 *
 * pgEdge Natural Language Query Service
 *
 * Copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Exchange is one completed question/statement pair in a session's history.
// Recent exchanges feed the prompt builder as prior context.
type Exchange struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Question    string    `json:"question"`
	Statement   string    `json:"statement"`
	Explanation string    `json:"explanation,omitempty"`
	RowCount    int       `json:"row_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists query history using SQLite
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the history database under dataDir
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS exchanges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			question TEXT NOT NULL,
			statement TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			row_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_exchanges_session
			ON exchanges(session_id, id);
	`
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Append records a completed exchange
func (s *Store) Append(ctx context.Context, ex Exchange) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (session_id, question, statement, explanation, row_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ex.SessionID, ex.Question, ex.Statement, ex.Explanation, ex.RowCount,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append exchange: %w", err)
	}
	return nil
}

// Recent returns up to n most recent exchanges for a session, oldest first
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]Exchange, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, question, statement, explanation, row_count, created_at
		FROM exchanges
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		sessionID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var createdAt string
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.Question, &ex.Statement,
			&ex.Explanation, &ex.RowCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			ex.CreatedAt = t
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
