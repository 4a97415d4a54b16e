// Package postgres provides Postgres-backed record persistence.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

const defaultTable = "deduplicated_products"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for records.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RecordStore reads source tables and writes deduplicated runs. Each output
// row holds one record as a json document; json rather than jsonb keeps the
// field order.
type RecordStore struct {
	pool  pool
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: p, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: p, table: name}, nil
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
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ReadTable loads every row of an arbitrary source table. row_to_json keeps
// the declared column order. Rows are sorted by orderBy when it is set;
// otherwise they follow ctid, the physical order, which is only stable while
// the table is not updated or vacuumed.
func (s *RecordStore) ReadTable(ctx context.Context, table, orderBy string) ([]*record.Record, error) {
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	order := "t.ctid"
	if orderBy != "" {
		if !validTableName.MatchString(orderBy) {
			return nil, fmt.Errorf("invalid order column %q", orderBy)
		}
		order = fmt.Sprintf("t.%s, t.ctid", pgx.Identifier{orderBy}.Sanitize())
	}
	return s.queryDocuments(ctx, fmt.Sprintf(`SELECT row_to_json(t)::text FROM %s t ORDER BY %s`, table, order))
}

// ReadRun loads the records WriteRecords stored for runID, in their original
// order.
func (s *RecordStore) ReadRun(ctx context.Context, runID string) ([]*record.Record, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`SELECT document::text FROM %s WHERE run_id = $1 ORDER BY ordinal`, s.table)
	return s.queryDocuments(ctx, query, runID)
}

func (s *RecordStore) queryDocuments(ctx context.Context, query string, args ...any) ([]*record.Record, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("record store is not configured")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan record %d: %w", len(out), err)
		}
		rec := record.New()
		if err := rec.UnmarshalJSON([]byte(doc)); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// WriteRecords stores recs under runID, replacing any earlier rows for the
// same run, inside one transaction.
func (s *RecordStore) WriteRecords(ctx context.Context, runID string, recs []*record.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	create := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	document JSON NOT NULL,
	PRIMARY KEY (run_id, ordinal)
)`, s.table)
	if _, err := s.pool.Exec(ctx, create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, s.table), runID); err != nil {
		return fmt.Errorf("clear run: %w", err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (run_id, ordinal, document) VALUES ($1, $2, $3)`, s.table)
	for i, rec := range recs {
		doc, err := rec.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		if _, err := tx.Exec(ctx, insert, runID, i, string(doc)); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
