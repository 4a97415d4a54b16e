// Package sqlite reads and writes record tables in a SQLite database file
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/codec"
)

const driverName = "sqlite"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store wraps a SQLite database handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReadTable loads every row of table in rowid order. Columns follow the
// table's declared order; BLOB values are returned as strings.
func (s *Store) ReadTable(ctx context.Context, table string) ([]*record.Record, error) {
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %q ORDER BY rowid`, table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err checked below

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var out []*record.Record
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(out), err)
		}
		rec := record.New()
		for i, name := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec.Set(name, v)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// WriteTable replaces table with recs. Columns are the union of record
// fields; integers and booleans are stored as INTEGER, floats as REAL and
// everything else as TEXT, with sequences and maps encoded as JSON.
func (s *Store) WriteTable(ctx context.Context, table string, recs []*record.Record) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	cols := codec.Columns(recs)
	if len(cols) == 0 {
		return fmt.Errorf("no columns to write")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	defs := make([]string, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
		defs[i] = fmt.Sprintf("%q %s", c, columnType(recs, c))
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table)); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %q (%s)`, table, strings.Join(defs, ","))); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}

	ph := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`, table, strings.Join(quoted, ","), ph))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // closed with the transaction

	for i, rec := range recs {
		args := make([]any, len(cols))
		for j, c := range cols {
			v, _ := rec.Get(c)
			arg, err := sqliteValue(v)
			if err != nil {
				return fmt.Errorf("record %d field %q: %w", i, c, err)
			}
			args[j] = arg
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// columnType picks a declared type from the first non-empty value of col.
func columnType(recs []*record.Record, col string) string {
	for _, rec := range recs {
		v, _ := rec.Get(col)
		if record.IsEmpty(v) {
			continue
		}
		if _, ok := asInt64(v); ok {
			return "INTEGER"
		}
		switch v.(type) {
		case bool:
			return "INTEGER"
		case float32, float64:
			return "REAL"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}

func sqliteValue(v any) (any, error) {
	if n, ok := asInt64(v); ok {
		return n, nil
	}
	switch val := v.(type) {
	case nil, string, float64:
		return val, nil
	case float32:
		return float64(val), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return codec.FormatCell(v)
}

// asInt64 widens every integer kind. Unsigned values above math.MaxInt64 do
// not fit an SQLite INTEGER and report false.
func asInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return asInt64(uint64(val))
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}
