// Package sqlite stores sessions in a SQLite database. Bag values are kept as
// JSON, so numbers come back as float64.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/pagerun/internal/domain"
	"github.com/bnema/pagerun/internal/ports"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"
)

const (
	SessionsPathKey = "sessions.path"
	sessionsDirMode = 0o700
	sessionsDir     = ".pagerun"
	sessionsDBFile  = "sessions.db"
	timestampLayout = time.RFC3339Nano
	emptyJSONObject = "{}"
)

type SessionRepository struct {
	db   *sql.DB
	path string
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

func NewSessionRepository(cfg *viper.Viper) (*SessionRepository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path := cfg.GetString(SessionsPathKey)
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(homeDir, sessionsDir, sessionsDBFile)
	}

	return Open(path)
}

// Open opens or creates the database at path.
func Open(path string) (*SessionRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), sessionsDirMode); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	r := &SessionRepository{db: db, path: path}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return r, nil
}

func (r *SessionRepository) Close() error {
	return r.db.Close()
}

func (r *SessionRepository) Path() string {
	return r.path
}

func (r *SessionRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		last_run_seq  INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		values_json   TEXT NOT NULL DEFAULT '{}',
		widgets_json  TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := r.db.Exec(schema)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, last_run_seq, created_at, updated_at, values_json, widgets_json
		FROM sessions WHERE id = ?`, string(id))

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}

	return session, nil
}

func (r *SessionRepository) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, last_run_seq, created_at, updated_at, values_json, widgets_json
		FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

func (r *SessionRepository) Save(ctx context.Context, session domain.Session) error {
	values, err := encodeMap(session.Values)
	if err != nil {
		return fmt.Errorf("encode values for %s: %w", session.ID, err)
	}
	widgets, err := encodeMap(session.Widgets)
	if err != nil {
		return fmt.Errorf("encode widgets for %s: %w", session.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, last_run_seq, created_at, updated_at, values_json, widgets_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_run_seq = excluded.last_run_seq,
			created_at   = excluded.created_at,
			updated_at   = excluded.updated_at,
			values_json  = excluded.values_json,
			widgets_json = excluded.widgets_json`,
		string(session.ID),
		int64(session.LastRunSeq),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
		values,
		widgets,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}

	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.Session, error) {
	var (
		id, createdAt, updatedAt, values, widgets string
		seq                                       int64
	)
	if err := row.Scan(&id, &seq, &createdAt, &updatedAt, &values, &widgets); err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:         domain.SessionID(id),
		LastRunSeq: uint64(seq),
		CreatedAt:  parseTime(createdAt),
		UpdatedAt:  parseTime(updatedAt),
	}
	if err := json.Unmarshal([]byte(values), &session.Values); err != nil {
		return domain.Session{}, fmt.Errorf("decode values for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(widgets), &session.Widgets); err != nil {
		return domain.Session{}, fmt.Errorf("decode widgets for %s: %w", id, err)
	}

	return session.Clone(), nil
}

func encodeMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return emptyJSONObject, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timestampLayout)
}
