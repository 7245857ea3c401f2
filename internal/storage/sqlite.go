package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "restartbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ReadDocument(ctx context.Context, name string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	clean, err := CleanName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}
	var body []byte
	err = s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = ?`, clean).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *sqliteStore) WriteDocument(ctx context.Context, name string, data []byte) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	clean, err := CleanName(name)
	if err != nil {
		return fmt.Errorf("%w: %q", err, name)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents(name, body, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		clean, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err == nil {
		s.log.Debug("document written", logx.String("name", clean), logx.Int("bytes", len(data)))
	}
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_name, transport, chat_id, plugin, action, target, ok, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorName), nullStr(e.Transport), e.ChatID,
		e.Plugin, e.Action, e.Target, ok, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
