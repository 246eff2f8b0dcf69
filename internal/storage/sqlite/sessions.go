package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luup-life/luup/internal/session"
	"github.com/luup-life/luup/pkg/logger"
	_ "modernc.org/sqlite"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// timeLayout keeps a fixed-width fractional second so that stored UTC
// timestamps compare chronologically as strings in SQL
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SessionStorage is the durable local cache of known sessions. It survives
// process restarts; the server remains the authority on whether a session
// still exists. Records are replaced wholesale, never field-patched.
type SessionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSessionStorage creates a new SQLite-backed session cache
func NewSessionStorage(dbPath string, log *logger.Logger) (*SessionStorage, error) {
	storageLogger := log.Named("session-cache")

	storageLogger.Info("Initializing SQLite session cache",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	storage := &SessionStorage{
		db:     db,
		logger: storageLogger,
	}

	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database schema
func (s *SessionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			metadata TEXT,
			saved_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	// Secondary indexes for range pruning and filtered listing
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create expires_at index: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_type ON sessions(type)`)
	if err != nil {
		return fmt.Errorf("failed to create type index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SessionStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put upserts a record by id, replacing any prior record wholesale, and
// stamps SavedAt. Last put wins by id.
func (s *SessionStorage) Put(record session.Record) error {
	if record.ID == "" {
		return fmt.Errorf("missing session id")
	}
	if !record.Type.Valid() {
		return fmt.Errorf("unknown session type: %q", record.Type)
	}

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	savedAt := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, type, expires_at, metadata, saved_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.ID,
		string(record.Type),
		record.ExpiresAt.UTC().Format(timeLayout),
		string(metadata),
		savedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	s.logger.Debug("Session record saved",
		String("id", record.ID),
		String("type", string(record.Type)),
		logger.Time("expires_at", record.ExpiresAt))
	return nil
}

// Get returns the record for the given id, if present
func (s *SessionStorage) Get(id string) (session.Record, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, type, expires_at, metadata, saved_at FROM sessions WHERE id = ?`, id)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return session.Record{}, false, nil
	}
	if err != nil {
		return session.Record{}, false, fmt.Errorf("failed to read session: %w", err)
	}
	return record, true, nil
}

// GetActive returns all records with expires_at strictly after now.
// Order is unspecified; callers must not rely on it.
func (s *SessionStorage) GetActive(now time.Time) ([]session.Record, error) {
	rows, err := s.db.Query(
		`SELECT id, type, expires_at, metadata, saved_at FROM sessions WHERE expires_at > ?`,
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListByType returns all active records of the given type
func (s *SessionStorage) ListByType(t session.Type, now time.Time) ([]session.Record, error) {
	rows, err := s.db.Query(
		`SELECT id, type, expires_at, metadata, saved_at FROM sessions WHERE type = ? AND expires_at > ?`,
		string(t),
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions by type: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Remove deletes the record with the given id. Removing an absent id
// succeeds silently.
func (s *SessionStorage) Remove(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// PruneExpired removes every record with expires_at at or before now and
// reports how many were dropped. Re-running it removes nothing new.
func (s *SessionStorage) PruneExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM sessions WHERE expires_at <= ?`,
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if n > 0 {
		s.logger.Debug("Pruned expired sessions", logger.Int64("count", n))
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (session.Record, error) {
	var record session.Record
	var typ, expiresAt, metadata, savedAt string

	if err := row.Scan(&record.ID, &typ, &expiresAt, &metadata, &savedAt); err != nil {
		return session.Record{}, err
	}

	record.Type = session.Type(typ)

	t, err := time.Parse(timeLayout, expiresAt)
	if err != nil {
		return session.Record{}, fmt.Errorf("failed to parse expires_at: %w", err)
	}
	record.ExpiresAt = t

	t, err = time.Parse(timeLayout, savedAt)
	if err != nil {
		return session.Record{}, fmt.Errorf("failed to parse saved_at: %w", err)
	}
	record.SavedAt = t

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
			return session.Record{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return record, nil
}

func collectRecords(rows *sql.Rows) ([]session.Record, error) {
	var records []session.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return records, nil
}
