package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"hostbridge/internal/domain"
)

// JournalEntry is one handled request and the host's answer to it.
type JournalEntry struct {
	ID        int64           `json:"id"`
	PeerID    string          `json:"peer_id"`
	PeerName  string          `json:"peer_name"`
	RequestID uint64          `json:"request_id"`
	Func      string          `json:"func"`
	Args      json.RawMessage `json:"args"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recorder persists handled requests.
type Recorder interface {
	Record(ctx context.Context, e JournalEntry) error
}

// SQLiteJournal implements Recorder using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			peer_id     TEXT NOT NULL,
			peer_name   TEXT NOT NULL,
			request_id  INTEGER NOT NULL,
			func        TEXT NOT NULL,
			args        TEXT NOT NULL DEFAULT '[]',
			success     INTEGER NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			duration_us INTEGER NOT NULL,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_requests_func ON requests(func);
	`)
	return err
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Record implements Recorder.
func (j *SQLiteJournal) Record(ctx context.Context, e JournalEntry) error {
	args := string(e.Args)
	if args == "" {
		args = "[]"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO requests (peer_id, peer_name, request_id, func, args, success, error, duration_us, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PeerID, e.PeerName, int64(e.RequestID), e.Func, args, e.Success, e.Error,
		e.Duration.Microseconds(), e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrJournalWrite, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty fn matches all functions.
func (j *SQLiteJournal) Recent(ctx context.Context, fn string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, peer_id, peer_name, request_id, func, args, success, error, duration_us, created_at
		 FROM requests WHERE (? = '' OR func = ?) ORDER BY id DESC LIMIT ?`,
		fn, fn, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			e          JournalEntry
			requestID  int64
			args       string
			durationUS int64
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.PeerID, &e.PeerName, &requestID, &e.Func, &args,
			&e.Success, &e.Error, &durationUS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		e.RequestID = uint64(requestID)
		e.Args = json.RawMessage(args)
		e.Duration = time.Duration(durationUS) * time.Microsecond
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded requests.
func (j *SQLiteJournal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}

var _ Recorder = (*SQLiteJournal)(nil)
