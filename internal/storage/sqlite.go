package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"starwatch/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrations)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	e = normalizeAudit(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, kind, surface, item_id, source_id, title, url, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.UTC().Format(time.RFC3339Nano), e.Kind, nullStr(e.Surface), nullStr(e.ItemID),
		nullStr(e.SourceID), nullStr(e.Title), nullStr(e.URL), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) PutConsent(ctx context.Context, c Consent) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	c.Surface = strings.TrimSpace(c.Surface)
	if c.Surface == "" {
		return errors.New("consent surface is empty")
	}
	if c.At.IsZero() {
		c.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consent(surface, state, at) VALUES(?,?,?)
		 ON CONFLICT(surface) DO UPDATE SET state=excluded.state, at=excluded.at`,
		c.Surface, c.State, c.At.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetConsent(ctx context.Context, surface string) (Consent, bool, error) {
	if s == nil || s.db == nil {
		return Consent{}, false, ErrDisabled
	}
	c := Consent{Surface: strings.TrimSpace(surface)}
	var at string
	err := s.db.QueryRowContext(ctx, `SELECT state, at FROM consent WHERE surface = ?`, c.Surface).Scan(&c.State, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Consent{}, false, nil
	}
	if err != nil {
		return Consent{}, false, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
		c.At = t
	}
	return c, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
