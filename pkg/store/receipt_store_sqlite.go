package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"

	_ "modernc.org/sqlite"
)

type SQLiteReceiptStore struct {
	db *sql.DB
}

// OpenSQLiteReceiptStore opens (or creates) a receipt database at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLiteReceiptStore(ctx context.Context, path string) (*SQLiteReceiptStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteReceiptStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteReceiptStore(ctx context.Context, db *sql.DB) (*SQLiteReceiptStore, error) {
	s := &SQLiteReceiptStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteReceiptStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS solve_receipts (
		receipt_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL UNIQUE,
		card_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		result_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		sequence INTEGER NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		key_id TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL DEFAULT ''
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate solve_receipts: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *SQLiteReceiptStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteReceiptStore) Store(ctx context.Context, r *contracts.Receipt) error {
	query := `INSERT OR IGNORE INTO solve_receipts (` + receiptColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.ReceiptID, r.RequestID, r.CardID, string(r.Status), r.ResultHash, r.PrevHash,
		int64(r.Sequence), r.Timestamp.UTC().Format(time.RFC3339Nano), r.KeyID, r.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *SQLiteReceiptStore) Get(ctx context.Context, receiptID string) (*contracts.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM solve_receipts WHERE receipt_id = ?`, receiptID)
}

func (s *SQLiteReceiptStore) GetByRequest(ctx context.Context, requestID string) (*contracts.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM solve_receipts WHERE request_id = ?`, requestID)
}

func (s *SQLiteReceiptStore) Last(ctx context.Context) (*contracts.Receipt, error) {
	r, err := s.queryOne(ctx, `SELECT `+receiptColumns+` FROM solve_receipts ORDER BY sequence DESC LIMIT 1`)
	if errors.Is(err, ErrReceiptNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteReceiptStore) List(ctx context.Context, limit int) ([]*contracts.Receipt, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+receiptColumns+` FROM solve_receipts ORDER BY sequence DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []*contracts.Receipt
	for rows.Next() {
		r, err := scanSQLiteReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func (s *SQLiteReceiptStore) queryOne(ctx context.Context, query string, args ...any) (*contracts.Receipt, error) {
	r, err := scanSQLiteReceipt(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

// scanSQLiteReceipt differs from the Postgres scan only in reading the
// timestamp as RFC 3339 text.
func scanSQLiteReceipt(row rowScanner) (*contracts.Receipt, error) {
	var (
		r         contracts.Receipt
		status    string
		seq       int64
		timestamp string
	)
	if err := row.Scan(&r.ReceiptID, &r.RequestID, &r.CardID, &status, &r.ResultHash,
		&r.PrevHash, &seq, &timestamp, &r.KeyID, &r.Signature); err != nil {
		return nil, err
	}
	r.Status = contracts.Status(status)
	r.Sequence = uint64(seq)
	r.Timestamp = parseTime(timestamp)
	return &r, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
