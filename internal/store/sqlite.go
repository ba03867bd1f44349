// Package store persists books and snapshot history. The engines never
// touch storage themselves; this is the explicit load/save collaborator.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"margin_monitor/internal/core"
	apperrors "margin_monitor/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	name       TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	book       TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_book ON snapshots(book, id);
`

// SQLiteStore implements core.IStore on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveBook persists the book under name, replacing any previous version.
func (s *SQLiteStore) SaveBook(ctx context.Context, name string, book *core.Book) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("failed to marshal book: %w", err)
	}

	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO books (name, data, checksum, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, name, string(data), checksum[:], time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write book: %w", err)
	}

	return tx.Commit()
}

// LoadBook returns the stored book, verifying its checksum first.
func (s *SQLiteStore) LoadBook(ctx context.Context, name string) (*core.Book, error) {
	query := `SELECT data, checksum FROM books WHERE name = ?`
	var data string
	var storedChecksum []byte
	err := s.db.QueryRowContext(ctx, query, name).Scan(&data, &storedChecksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrBookNotFound, name)
		}
		return nil, fmt.Errorf("failed to read book: %w", err)
	}

	computed := sha256.Sum256([]byte(data))
	if len(storedChecksum) != len(computed) {
		return nil, fmt.Errorf("%w: checksum length mismatch", apperrors.ErrStoreCorrupted)
	}
	for i := range computed {
		if storedChecksum[i] != computed[i] {
			return nil, fmt.Errorf("%w: checksum verification failed for book %s", apperrors.ErrStoreCorrupted, name)
		}
	}

	var book core.Book
	if err := json.Unmarshal([]byte(data), &book); err != nil {
		return nil, fmt.Errorf("failed to unmarshal book: %w", err)
	}

	return &book, nil
}

// AppendSnapshot adds one evaluation result to the history of a book.
func (s *SQLiteStore) AppendSnapshot(ctx context.Context, book string, snap *core.MarginSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `INSERT INTO snapshots (book, data, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, book, string(data), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots for a book, newest first.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, book string, limit int) ([]*core.MarginSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT data FROM snapshots WHERE book = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, book, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*core.MarginSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var snap core.MarginSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		snaps = append(snaps, &snap)
	}

	return snaps, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
