// Package postgres provides a Postgres-backed batch sink.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/permitstream/harvester/internal/permit"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for permit rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink upserts harvested permits into Postgres. Rows are keyed by target
// and permit number, so re-harvesting a target refreshes existing rows
// instead of duplicating them.
type Sink struct {
	pool  execCloser
	table string
}

// New creates a Postgres-backed Sink using the provided config.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "permits"
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Sink{pool: pool, table: table}, nil
}

// NewWithPool constructs a Sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "permits"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Write upserts every permit in the batch.
func (s *Sink) Write(ctx context.Context, result permit.Result) error {
	return s.upsert(ctx, result, false)
}

// WritePartial upserts an aborted session's batch, flagging the rows.
func (s *Sink) WritePartial(ctx context.Context, result permit.Result) error {
	return s.upsert(ctx, result, true)
}

func (s *Sink) upsert(ctx context.Context, result permit.Result, partial bool) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres sink is not configured")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (target, adapter, permit_number, address, type, value, issued_date, status, partial, harvested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (target, permit_number) DO UPDATE SET
			adapter = EXCLUDED.adapter,
			address = EXCLUDED.address,
			type = EXCLUDED.type,
			value = EXCLUDED.value,
			issued_date = EXCLUDED.issued_date,
			status = EXCLUDED.status,
			partial = EXCLUDED.partial,
			harvested_at = EXCLUDED.harvested_at
	`, s.table)

	for _, p := range result.Permits {
		if _, err := s.pool.Exec(ctx, query,
			result.Target,
			result.Adapter,
			p.PermitNumber,
			p.Address,
			p.Type,
			p.Value,
			p.IssuedDate,
			p.Status,
			partial,
		); err != nil {
			return fmt.Errorf("upsert permit %s for %s: %w", p.PermitNumber, result.Target, err)
		}
	}
	return nil
}
