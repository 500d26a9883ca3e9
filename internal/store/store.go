// Package store provides database access for mailcore.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql schema_postgres.sql
var schemaFS embed.FS

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Dialect identifies the SQL flavor of the underlying database.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// Store provides database operations for mailcore.
type Store struct {
	db      *sql.DB
	dbPath  string
	dialect Dialect
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// isSQLiteError checks if err is a sqlite3.Error with a message containing substr.
// Handles both value (sqlite3.Error) and pointer (*sqlite3.Error) forms.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// IsPostgresURL reports whether dsn addresses a PostgreSQL server.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "postgres://")
}

// Open opens or creates the database addressed by dsn. A postgres:// URL
// is opened through pgx; anything else is treated as a SQLite file path.
func Open(dsn string) (*Store, error) {
	if IsPostgresURL(dsn) {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return &Store{db: db, dialect: DialectPostgres}, nil
	}

	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:      db,
		dbPath:  dsn,
		dialect: DialectSQLite,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL flavor of the open database.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// withTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// WithTx runs fn inside a transaction with queries already rebound for
// the store's dialect.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&Tx{tx: tx, dialect: s.dialect})
	})
}

// Tx is a transaction that rebinds placeholders before executing.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// ExecContext executes a statement written with ? placeholders.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, Rebind(t.dialect, query), args...)
}

// QueryContext runs a query written with ? placeholders.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, Rebind(t.dialect, query), args...)
}

// QueryRowContext runs a single-row query written with ? placeholders.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, Rebind(t.dialect, query), args...)
}

// InChunkSize bounds how many ids one IN list binds, keeping statements
// under SQLite's and PostgreSQL's parameter limits.
const InChunkSize = 500

// Querier runs a query. *sql.DB and *sql.Tx satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// QueryInChunks executes a parameterized IN-query once per InChunkSize
// ids. queryTemplate must contain a single %s placeholder for the
// comma-separated "?" list. The prefix args are prepended before each
// chunk's args (e.g., a namespace_id filter).
func QueryInChunks[T any](ctx context.Context, q Querier, d Dialect, ids []T, prefixArgs []interface{}, queryTemplate string, fn func(*sql.Rows) error) error {
	for chunk := range slices.Chunk(ids, InChunkSize) {
		query, args := inChunk(d, queryTemplate, prefixArgs, chunk)
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}

		for rows.Next() {
			if err := fn(rows); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// ExecInChunks runs an IN-statement once per InChunkSize ids inside the
// transaction and returns the total rows affected.
func (t *Tx) ExecInChunks(ctx context.Context, ids []int64, queryTemplate string) (int64, error) {
	var total int64
	for chunk := range slices.Chunk(ids, InChunkSize) {
		query, args := inChunk(t.dialect, queryTemplate, nil, chunk)
		res, err := t.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func inChunk[T any](d Dialect, queryTemplate string, prefixArgs []interface{}, chunk []T) (string, []interface{}) {
	args := make([]interface{}, 0, len(prefixArgs)+len(chunk))
	args = append(args, prefixArgs...)
	for _, id := range chunk {
		args = append(args, id)
	}
	list := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
	return Rebind(d, fmt.Sprintf(queryTemplate, list)), args
}

// Rebind converts a query with ? placeholders to the format of the
// store's driver.
func (s *Store) Rebind(query string) string {
	return Rebind(s.dialect, query)
}

// Rebind converts ? placeholders to $1, $2, ... for PostgreSQL. SQLite
// queries are returned unchanged. Question marks inside single-quoted
// literals are left alone.
func Rebind(d Dialect, query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// InitSchema initializes the database schema.
// This creates all tables if they don't exist.
func (s *Store) InitSchema() error {
	name := "schema.sql"
	if s.dialect == DialectPostgres {
		name = "schema_postgres.sql"
	}

	schema, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	return nil
}

// Stats holds database statistics.
type Stats struct {
	NamespaceCount int64
	ThreadCount    int64
	MessageCount   int64
	BlockCount     int64
	EventCount     int64
	DatabaseSize   int64
}

// GetStats returns row counts for the main tables.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM namespaces", &stats.NamespaceCount},
		{"SELECT COUNT(*) FROM threads", &stats.ThreadCount},
		{"SELECT COUNT(*) FROM messages", &stats.MessageCount},
		{"SELECT COUNT(*) FROM blocks", &stats.BlockCount},
		{"SELECT COUNT(*) FROM events", &stats.EventCount},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			if isSQLiteError(err, "no such table") {
				continue
			}
			return nil, fmt.Errorf("get stats %q: %w", q.query, err)
		}
	}

	if s.dbPath != "" {
		if info, err := os.Stat(s.dbPath); err == nil {
			stats.DatabaseSize = info.Size()
		}
	}

	return stats, nil
}
