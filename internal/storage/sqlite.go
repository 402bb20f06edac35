package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const (
	schemaVersion      = 1
	defaultBusyTimeout = 5000 // ms
)

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS session (
		id        INTEGER PRIMARY KEY CHECK (id = 0),
		dc_id     INTEGER NOT NULL,
		addr      TEXT    NOT NULL DEFAULT '',
		auth_key  BLOB    NOT NULL,
		user_id   INTEGER NOT NULL DEFAULT 0,
		test_mode INTEGER NOT NULL DEFAULT 0,
		date      TEXT    NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS auth_keys (
		dc_id      INTEGER PRIMARY KEY,
		auth_key   BLOB    NOT NULL,
		updated_at TEXT    NOT NULL
	)`,
}

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	Path string

	// Passphrase, when set, seals auth key material at rest.
	Passphrase string
}

type sqliteStorage struct {
	db         *sql.DB
	passphrase string
}

// OpenSQLite opens (or creates) the session database at cfg.Path.
//
// The database uses WAL mode, a 5 s busy timeout, and a single connection
// (SQLite serialises writes). The schema is migrated automatically.
func OpenSQLite(cfg SQLiteConfig) (Storage, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("storage: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &sqliteStorage{db: db, passphrase: cfg.Passphrase}, nil
}

// migrate creates or updates the database schema to the latest version.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("storage: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("storage: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("storage: record schema version: %w", err)
	}
	return nil
}

func (s *sqliteStorage) encode(raw []byte) ([]byte, error) {
	if s.passphrase == "" {
		return raw, nil
	}
	return seal(s.passphrase, raw)
}

func (s *sqliteStorage) decode(stored []byte) ([]byte, error) {
	if s.passphrase == "" {
		return stored, nil
	}
	return open(s.passphrase, stored)
}

func (s *sqliteStorage) Load(ctx context.Context) (*Session, error) {
	var (
		sess     Session
		keyBlob  []byte
		testMode int
		dateStr  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT dc_id, addr, auth_key, user_id, test_mode, date
		FROM session WHERE id = 0`).
		Scan(&sess.DC, &sess.Addr, &keyBlob, &sess.UserID, &testMode, &dateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load session: %w", err)
	}

	if sess.AuthKey, err = s.decode(keyBlob); err != nil {
		return nil, err
	}
	sess.TestMode = testMode != 0
	if dateStr != "" {
		if sess.Date, err = time.Parse(time.RFC3339Nano, dateStr); err != nil {
			return nil, fmt.Errorf("storage: parse date %q: %w", dateStr, err)
		}
	}
	return &sess, nil
}

func (s *sqliteStorage) Save(ctx context.Context, sess *Session) error {
	keyBlob, err := s.encode(sess.AuthKey)
	if err != nil {
		return err
	}

	date := sess.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	testMode := 0
	if sess.TestMode {
		testMode = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO session (id, dc_id, addr, auth_key, user_id, test_mode, date)
		VALUES (0, ?, ?, ?, ?, ?, ?)`,
		sess.DC, sess.Addr, keyBlob, sess.UserID, testMode,
		date.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: save session: %w", err)
	}
	return nil
}

func (s *sqliteStorage) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session"); err != nil {
		return fmt.Errorf("storage: delete session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM auth_keys"); err != nil {
		return fmt.Errorf("storage: delete auth keys: %w", err)
	}
	return nil
}

func (s *sqliteStorage) LoadAuthKey(ctx context.Context, dc int) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT auth_key FROM auth_keys WHERE dc_id = ?", dc).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load auth key for dc %d: %w", dc, err)
	}
	return s.decode(blob)
}

func (s *sqliteStorage) SaveAuthKey(ctx context.Context, dc int, key []byte) error {
	blob, err := s.encode(key)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO auth_keys (dc_id, auth_key, updated_at)
		VALUES (?, ?, ?)`,
		dc, blob, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: save auth key for dc %d: %w", dc, err)
	}
	return nil
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
