package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/probelab/scoutrelay/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store, err := NewSQLiteStoreFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			mission_url TEXT NOT NULL DEFAULT '',
			mission_context TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrate sqlite schema: %w", err)
		}
	}
	return nil
}

// CreateSession seeds a PENDING row. The dashboard side owns creation in
// production; this exists for local runs and tests.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess domain.Session) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	status := sess.Status
	if status == "" {
		status = domain.StatusPending
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions(session_id, status, mission_url, mission_context, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(sess.ID), string(status), sess.Mission.URL, sess.Mission.Context, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT session_id, status, mission_url, mission_context FROM sessions WHERE session_id = ?`,
		string(id),
	)

	var sess domain.Session
	var sid, status string
	err := row.Scan(&sid, &status, &sess.Mission.URL, &sess.Mission.Context)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	sess.ID = domain.SessionID(sid)
	sess.Status = domain.Status(status)
	return sess, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id domain.SessionID, status domain.Status) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		string(status), now, string(id),
	)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}
