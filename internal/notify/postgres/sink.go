// Package postgres appends every detected grade to a history table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gradewatch/internal/grades"
	"github.com/JakeFAU/gradewatch/internal/notify"
)

const defaultTable = "grade_events"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for grade history rows.
type Config struct {
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

// Expected table:
//
//	CREATE TABLE grade_events (
//		instance       TEXT NOT NULL,
//		resource_code  TEXT NOT NULL,
//		evaluation_id  BIGINT NOT NULL,
//		resource_title TEXT NOT NULL,
//		term           INT,
//		description    TEXT,
//		coef           TEXT,
//		grade_max      TEXT,
//		grade_min      TEXT,
//		grade_mean     TEXT,
//		grade_value    TEXT,
//		affectation    TEXT,
//		cycle_id       TEXT,
//		detected_at    TIMESTAMPTZ NOT NULL,
//		PRIMARY KEY (instance, resource_code, evaluation_id)
//	);

// Sink writes grade events into Postgres. The insert is idempotent per
// (instance, resource_code, evaluation_id) so a replayed cycle adds nothing.
type Sink struct {
	pool  execCloser
	table string
}

var _ grades.NotificationSink = (*Sink)(nil)

// New creates a Postgres-backed Sink using the provided config.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("notify.database.dsn is required")
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
	return &Sink{pool: pool, table: table}, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Notify inserts one history row.
func (s *Sink) Notify(ctx context.Context, n grades.Notification) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("grade history sink is not configured")
	}
	ev := notify.NewEvent(n)
	detectedAt := ev.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	instance,
	resource_code,
	evaluation_id,
	resource_title,
	term,
	description,
	coef,
	grade_max,
	grade_min,
	grade_mean,
	grade_value,
	affectation,
	cycle_id,
	detected_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (instance, resource_code, evaluation_id) DO NOTHING`, s.table)

	args := []any{
		ev.Instance,
		ev.ResourceCode,
		ev.EvaluationID,
		ev.ResourceTitle,
		ev.Term,
		ev.Description,
		ev.Coef,
		ev.Max,
		ev.Min,
		ev.Mean,
		ev.Value,
		ev.Affectation,
		ev.CycleID,
		detectedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert grade event: %w", err)
	}
	return nil
}
