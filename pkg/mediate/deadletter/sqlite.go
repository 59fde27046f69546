package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Record is a stored dead letter.
type Record struct {
	EventID        string
	EventType      string
	Payload        []byte
	Error          string
	Attempts       int
	DeadLetteredAt time.Time
}

// SQLite stores dead letters in a SQLite table, one row per event id.
// dead_lettered_at holds Unix nanoseconds so rows sort by time.
// A repeated event id replaces the earlier row.
type SQLite struct {
	db     *sql.DB
	codec  Codec
	mu     sync.RWMutex
	closed bool
}

// NewSQLite opens (or creates) the database at path.
// Use ":memory:" for tests.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			error TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			dead_lettered_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_type
		ON dead_letters(event_type)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLite{db: db, codec: JSON}, nil
}

// DeadLetter implements Strategy.
func (s *SQLite) DeadLetter(ctx context.Context, letter Letter) error {
	if letter.EventID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	payload, err := s.codec.Marshal(letter.Event)
	if err != nil {
		return fmt.Errorf("deadletter: encode %s: %w", letter.EventID, err)
	}
	at := letter.At
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (event_id, event_type, payload, error, attempts, dead_lettered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			event_type = excluded.event_type,
			payload = excluded.payload,
			error = excluded.error,
			attempts = excluded.attempts,
			dead_lettered_at = excluded.dead_lettered_at
	`, letter.EventID, letter.EventType, payload, errorText(letter.Err), letter.Attempts,
		at.UnixNano())
	if err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

// Get returns the record for eventID.
func (s *SQLite) Get(ctx context.Context, eventID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_type, payload, error, attempts, dead_lettered_at
		FROM dead_letters WHERE event_id = ?
	`, eventID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load dead letter: %w", err)
	}
	return rec, nil
}

// List returns all records, oldest first.
func (s *SQLite) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, payload, error, attempts, dead_lettered_at
		FROM dead_letters ORDER BY dead_lettered_at, event_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return records, nil
}

// Delete removes the record for eventID. Deleting a missing record is
// not an error.
func (s *SQLite) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	return nil
}

// Close closes the database. It is safe to call more than once.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec Record
		at  int64
	)
	if err := row.Scan(&rec.EventID, &rec.EventType, &rec.Payload, &rec.Error, &rec.Attempts, &at); err != nil {
		return Record{}, err
	}
	rec.DeadLetteredAt = time.Unix(0, at).UTC()
	return rec, nil
}

// Decode unmarshals a record's payload into an E using JSON.
func Decode[E any](rec Record) (E, error) {
	var evt E
	if err := JSON.Unmarshal(rec.Payload, &evt); err != nil {
		return evt, fmt.Errorf("deadletter: decode %s: %w", rec.EventID, err)
	}
	return evt, nil
}
