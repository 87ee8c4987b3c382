// Package postgres provides a Postgres-backed outcome store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scangrid-io/scangrid/internal/grid"
	"github.com/scangrid-io/scangrid/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store writes outcome rows into Postgres. Expected schema:
//
//	CREATE TABLE outcomes (
//	    job_id TEXT PRIMARY KEY,
//	    domain TEXT NOT NULL,
//	    status TEXT NOT NULL,
//	    error_kind TEXT,
//	    error_text TEXT,
//	    retry_count INT NOT NULL,
//	    started_at TIMESTAMPTZ,
//	    ended_at TIMESTAMPTZ,
//	    result JSONB,
//	    created_at TIMESTAMPTZ DEFAULT NOW()
//	);
type Store struct {
	pool  dbPool
	table string
}

// New connects a pool from config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for tests).
func NewWithPool(pool dbPool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	named, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: named}, nil
}

// Record upserts the outcome row for a job.
func (s *Store) Record(ctx context.Context, o grid.Outcome) error {
	var resultJSON []byte
	if o.Result != nil {
		data, err := json.Marshal(o.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = data
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, domain, status, error_kind, error_text, retry_count, started_at, ended_at, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_kind = EXCLUDED.error_kind,
			error_text = EXCLUDED.error_text,
			retry_count = EXCLUDED.retry_count,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			result = EXCLUDED.result
	`, s.table)
	_, err := s.pool.Exec(ctx, query,
		o.JobID, o.Domain, string(o.Status), string(o.ErrorKind), o.ErrorText,
		o.RetryCount, o.StartedAt, o.EndedAt, resultJSON,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Get fetches one outcome by job ID.
func (s *Store) Get(ctx context.Context, jobID string) (grid.Outcome, error) {
	query := fmt.Sprintf(`
		SELECT job_id, domain, status, error_kind, error_text, retry_count, started_at, ended_at, result
		FROM %s WHERE job_id = $1
	`, s.table)
	o, err := scanOutcome(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return grid.Outcome{}, store.ErrNotFound
		}
		return grid.Outcome{}, fmt.Errorf("select outcome: %w", err)
	}
	return o, nil
}

// List returns all outcomes ordered by job ID.
func (s *Store) List(ctx context.Context) ([]grid.Outcome, error) {
	query := fmt.Sprintf(`
		SELECT job_id, domain, status, error_kind, error_text, retry_count, started_at, ended_at, result
		FROM %s ORDER BY job_id
	`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []grid.Outcome
	for rows.Next() {
		o, scanErr := scanOutcome(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan outcome row: %w", scanErr)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome rows: %w", err)
	}
	return outcomes, nil
}

// Close releases pool resources.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func scanOutcome(row pgx.Row) (grid.Outcome, error) {
	var (
		o          grid.Outcome
		status     string
		errorKind  string
		resultJSON []byte
	)
	err := row.Scan(&o.JobID, &o.Domain, &status, &errorKind, &o.ErrorText,
		&o.RetryCount, &o.StartedAt, &o.EndedAt, &resultJSON)
	if err != nil {
		return grid.Outcome{}, err
	}
	o.Status = grid.JobStatus(status)
	o.ErrorKind = grid.ErrorKind(errorKind)
	if len(resultJSON) > 0 {
		var result grid.Result
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return grid.Outcome{}, fmt.Errorf("unmarshal result: %w", err)
		}
		o.Result = &result
	}
	return o, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "outcomes"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}
