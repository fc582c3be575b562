// Package postgres provides the optional durable mirror of the job stream.
// The in-memory registry stays authoritative; the mirror only records the
// lifecycle so operators can audit jobs after the process restarts.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tunepull/internal/progress"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MirrorConfig controls the Postgres connection pool used for the mirror.
type MirrorConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Mirror consumes progress events and writes one row per job.
type Mirror struct {
	pool  execCloser
	table string
}

// NewMirror creates a Postgres-backed Mirror using the provided config.
func NewMirror(ctx context.Context, cfg MirrorConfig) (*Mirror, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mirror.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Mirror{pool: pool, table: table}, nil
}

// NewMirrorWithPool constructs a Mirror from an existing pool (primarily for
// testing).
func NewMirrorWithPool(pool execCloser, table string) (*Mirror, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Mirror{pool: pool, table: table}, nil
}

// CreateSchema creates the mirror table if it does not exist.
func (m *Mirror) CreateSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id      TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	status      TEXT NOT NULL,
	percent     DOUBLE PRECISION NOT NULL DEFAULT 0,
	note        TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL
)`, m.table)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create mirror schema: %w", err)
	}
	return nil
}

// Consume mirrors each event. Status events upsert the row; progress events
// only bump the percent of a row that already exists.
func (m *Mirror) Consume(ctx context.Context, batch []progress.Event) error {
	if m == nil || m.pool == nil {
		return nil
	}
	for _, evt := range batch {
		var err error
		switch evt.Kind {
		case progress.KindStatus:
			err = m.upsertStatus(ctx, evt)
		case progress.KindProgress:
			err = m.updatePercent(ctx, evt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) upsertStatus(ctx context.Context, evt progress.Event) error {
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, session_id, status, note, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id) DO UPDATE SET
	status = EXCLUDED.status,
	note = EXCLUDED.note,
	updated_at = EXCLUDED.updated_at`, m.table)
	if _, err := m.pool.Exec(ctx, query,
		evt.JobID, evt.SessionID, string(evt.Status), evt.Note, evt.TS); err != nil {
		return fmt.Errorf("mirror status upsert: %w", err)
	}
	return nil
}

func (m *Mirror) updatePercent(ctx context.Context, evt progress.Event) error {
	query := fmt.Sprintf(`
UPDATE %s SET percent = $2, updated_at = $3 WHERE job_id = $1`, m.table)
	if _, err := m.pool.Exec(ctx, query, evt.JobID, evt.Percent, evt.TS); err != nil {
		return fmt.Errorf("mirror percent update: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (m *Mirror) Close(context.Context) error {
	if m == nil || m.pool == nil {
		return nil
	}
	m.pool.Close()
	return nil
}

var _ progress.Sink = (*Mirror)(nil)
