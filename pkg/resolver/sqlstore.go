package resolver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// SQLStore resolves names from a facts table:
//
//	facts(name, value, source, reference, kind)
type SQLStore struct {
	db     *sql.DB
	driver string
	table  string
}

// OpenSQLStore opens a fact store on one of the supported drivers.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres, DriverPgx:
	default:
		return nil, fmt.Errorf("fact store: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("fact store: open: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fact store: ping: %w", err)
	}
	return NewSQLStore(db, driver), nil
}

// NewSQLStore wraps an existing handle.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, table: "facts"}
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Init creates the facts table if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT PRIMARY KEY,
		value DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'database'
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("fact store: init: %w", err)
	}
	return nil
}

// Put upserts one fact. A fact without a source is rejected.
func (s *SQLStore) Put(ctx context.Context, b contracts.Binding) error {
	if b.Provenance.Source == "" {
		return fmt.Errorf("fact store: %s has no source", b.Name)
	}
	kind := b.Provenance.Kind
	if kind == "" {
		kind = contracts.ProvenanceDatabase
	}
	q := fmt.Sprintf(`INSERT INTO %s (name, value, source, reference, kind) VALUES (%s)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, source = excluded.source,
		reference = excluded.reference, kind = excluded.kind`, s.table, s.placeholders(5, 1))
	if _, err := s.db.ExecContext(ctx, q, b.Name, b.Value, b.Provenance.Source, b.Provenance.Reference, string(kind)); err != nil {
		return fmt.Errorf("fact store: put %s: %w", b.Name, err)
	}
	return nil
}

func (s *SQLStore) Resolve(ctx context.Context, names []string) (contracts.Resolution, error) {
	out := newResolution(len(names))
	query := sortedKeys(names)
	if len(query) == 0 {
		return out, nil
	}

	q := fmt.Sprintf("SELECT name, value, source, reference, kind FROM %s WHERE name IN (%s)",
		s.table, s.placeholders(len(query), 1))
	args := make([]any, len(query))
	for i, n := range query {
		args[i] = n
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return contracts.Resolution{}, fmt.Errorf("fact store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			b    contracts.Binding
			kind string
		)
		if err := rows.Scan(&b.Name, &b.Value, &b.Provenance.Source, &b.Provenance.Reference, &kind); err != nil {
			return contracts.Resolution{}, fmt.Errorf("fact store: scan: %w", err)
		}
		b.Provenance.Kind = contracts.ProvenanceKind(kind)
		out.Bound[b.Name] = b
	}
	if err := rows.Err(); err != nil {
		return contracts.Resolution{}, fmt.Errorf("fact store: rows: %w", err)
	}
	out.Missing = missingFrom(names, out.Bound)
	return out, nil
}

// placeholders renders n bind markers starting at position start.
func (s *SQLStore) placeholders(n, start int) string {
	marks := make([]string, n)
	for i := range marks {
		if s.driver == DriverSQLite {
			marks[i] = "?"
		} else {
			marks[i] = fmt.Sprintf("$%d", start+i)
		}
	}
	return strings.Join(marks, ", ")
}
