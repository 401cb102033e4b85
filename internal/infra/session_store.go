package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/hearthos/wellbeingd/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const sessionDBName = "sessions.db"

// SQLSessionStore implements domain.SessionStore using a SQLCipher encrypted
// SQLite database.
type SQLSessionStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLSessionStore opens (or creates) the encrypted session database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewSQLSessionStore(dataDir string, key []byte) (*SQLSessionStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, sessionDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &SQLSessionStore{db: db, dbPath: dbPath}

	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the schema if it doesn't exist.
func (s *SQLSessionStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		package_id TEXT NOT NULL,
		start_time_unix_ns INTEGER NOT NULL,
		planned_minutes INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		end_time_unix_ns INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_active
		ON sessions (package_id, active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DBPath returns the database file path, for change watchers and tests.
func (s *SQLSessionStore) DBPath() string {
	return s.dbPath
}

// StartSession creates a new active session for the package. Any prior
// active session for the same package is ended in the same transaction, so
// the one-active-per-package invariant holds even if a stale row was left
// behind by a crash.
func (s *SQLSessionStore) StartSession(ctx context.Context, packageID string, minutes int) (domain.AppSession, error) {
	if minutes < 1 {
		return domain.AppSession{}, fmt.Errorf("planned duration must be at least 1 minute, got %d", minutes)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AppSession{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET active = 0, end_time_unix_ns = ?
		WHERE package_id = ? AND active = 1`,
		now.UnixNano(), packageID,
	); err != nil {
		return domain.AppSession{}, fmt.Errorf("failed to end prior session: %w", err)
	}

	session := domain.AppSession{
		ID:                     uuid.NewString(),
		PackageID:              packageID,
		StartTime:              now,
		PlannedDurationMinutes: minutes,
		IsActive:               true,
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, package_id, start_time_unix_ns, planned_minutes, active)
		VALUES (?, ?, ?, ?, 1)`,
		session.ID, session.PackageID, session.StartTime.UnixNano(), session.PlannedDurationMinutes,
	); err != nil {
		return domain.AppSession{}, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.AppSession{}, fmt.Errorf("failed to commit session: %w", err)
	}

	return session, nil
}

// GetActiveSession returns the active session for the package, or nil.
func (s *SQLSessionStore) GetActiveSession(ctx context.Context, packageID string) (*domain.AppSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, package_id, start_time_unix_ns, planned_minutes, active, end_time_unix_ns
		FROM sessions WHERE package_id = ? AND active = 1`, packageID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return &session, nil
}

// ActiveSessions returns all sessions currently marked active.
func (s *SQLSessionStore) ActiveSessions(ctx context.Context) ([]domain.AppSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_id, start_time_unix_ns, planned_minutes, active, end_time_unix_ns
		FROM sessions WHERE active = 1 ORDER BY start_time_unix_ns`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.AppSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// EndSession marks the session inactive and stamps its end time.
func (s *SQLSessionStore) EndSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET active = 0, end_time_unix_ns = ?
		WHERE id = ? AND active = 1`,
		time.Now().UnixNano(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	// Ending an already-ended session is a no-op, not an error: a duplicate
	// intent may race a resolution that already completed.
	_, _ = res.RowsAffected()
	return nil
}

// Close releases the database connection.
func (s *SQLSessionStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.AppSession, error) {
	var (
		session    domain.AppSession
		startNanos int64
		activeInt  int
		endNanos   sql.NullInt64
	)
	if err := row.Scan(&session.ID, &session.PackageID, &startNanos,
		&session.PlannedDurationMinutes, &activeInt, &endNanos); err != nil {
		return domain.AppSession{}, err
	}
	session.StartTime = time.Unix(0, startNanos)
	session.IsActive = activeInt == 1
	if endNanos.Valid {
		t := time.Unix(0, endNanos.Int64)
		session.EndTime = &t
	}
	return session, nil
}

// Ensure SQLSessionStore implements domain.SessionStore.
var _ domain.SessionStore = (*SQLSessionStore)(nil)
