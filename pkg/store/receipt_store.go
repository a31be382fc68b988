package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// ErrReceiptNotFound is returned when no receipt matches.
var ErrReceiptNotFound = errors.New("receipt not found")

// ReceiptStore persists signed solve receipts.
type ReceiptStore interface {
	Store(ctx context.Context, r *contracts.Receipt) error
	Get(ctx context.Context, receiptID string) (*contracts.Receipt, error)
	GetByRequest(ctx context.Context, requestID string) (*contracts.Receipt, error)
	List(ctx context.Context, limit int) ([]*contracts.Receipt, error)
	// Last returns the receipt with the highest sequence, or nil for an
	// empty store.
	Last(ctx context.Context) (*contracts.Receipt, error)
}

// receiptColumns is the select list shared by the SQL stores.
const receiptColumns = `receipt_id, request_id, card_id, status, result_hash, prev_hash, sequence, timestamp, key_id, signature`

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresReceiptStore is a durable SQL-based implementation.
type PostgresReceiptStore struct {
	db *sql.DB
}

func NewPostgresReceiptStore(db *sql.DB) *PostgresReceiptStore {
	return &PostgresReceiptStore{db: db}
}

// Init creates the receipts table.
func (s *PostgresReceiptStore) Init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS solve_receipts (
		receipt_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL UNIQUE,
		card_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		result_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		sequence BIGINT NOT NULL UNIQUE,
		timestamp TIMESTAMPTZ NOT NULL,
		key_id TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL DEFAULT ''
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create solve_receipts: %w", err)
	}
	return nil
}

func (s *PostgresReceiptStore) Store(ctx context.Context, r *contracts.Receipt) error {
	query := `
		INSERT INTO solve_receipts (` + receiptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (receipt_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ReceiptID, r.RequestID, r.CardID, string(r.Status), r.ResultHash,
		r.PrevHash, int64(r.Sequence), r.Timestamp.UTC(), r.KeyID, r.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *PostgresReceiptStore) Get(ctx context.Context, receiptID string) (*contracts.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM solve_receipts WHERE receipt_id = $1`, receiptID)
}

func (s *PostgresReceiptStore) GetByRequest(ctx context.Context, requestID string) (*contracts.Receipt, error) {
	return s.queryOne(ctx, `SELECT `+receiptColumns+` FROM solve_receipts WHERE request_id = $1`, requestID)
}

func (s *PostgresReceiptStore) Last(ctx context.Context) (*contracts.Receipt, error) {
	r, err := s.queryOne(ctx, `SELECT `+receiptColumns+` FROM solve_receipts ORDER BY sequence DESC LIMIT 1`)
	if errors.Is(err, ErrReceiptNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresReceiptStore) List(ctx context.Context, limit int) ([]*contracts.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+receiptColumns+` FROM solve_receipts ORDER BY sequence DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []*contracts.Receipt
	for rows.Next() {
		r, err := scanPostgresReceipt(rows)
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

func (s *PostgresReceiptStore) queryOne(ctx context.Context, query string, args ...any) (*contracts.Receipt, error) {
	r, err := scanPostgresReceipt(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func scanPostgresReceipt(row rowScanner) (*contracts.Receipt, error) {
	var (
		r      contracts.Receipt
		status string
		seq    int64
	)
	if err := row.Scan(&r.ReceiptID, &r.RequestID, &r.CardID, &status, &r.ResultHash,
		&r.PrevHash, &seq, &r.Timestamp, &r.KeyID, &r.Signature); err != nil {
		return nil, err
	}
	r.Status = contracts.Status(status)
	r.Sequence = uint64(seq)
	return &r, nil
}

// MemoryReceiptStore keeps receipts in process memory.
type MemoryReceiptStore struct {
	mu      sync.RWMutex
	byID    map[string]*contracts.Receipt
	byReq   map[string]*contracts.Receipt
	ordered []*contracts.Receipt
}

func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{
		byID:  make(map[string]*contracts.Receipt),
		byReq: make(map[string]*contracts.Receipt),
	}
}

func (s *MemoryReceiptStore) Store(_ context.Context, r *contracts.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ReceiptID]; ok {
		return nil
	}
	cp := *r
	s.byID[cp.ReceiptID] = &cp
	s.byReq[cp.RequestID] = &cp
	s.ordered = append(s.ordered, &cp)
	sort.SliceStable(s.ordered, func(i, j int) bool { return s.ordered[i].Sequence < s.ordered[j].Sequence })
	return nil
}

func (s *MemoryReceiptStore) Get(_ context.Context, receiptID string) (*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[receiptID]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryReceiptStore) GetByRequest(_ context.Context, requestID string) (*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byReq[requestID]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryReceiptStore) List(_ context.Context, limit int) ([]*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.Receipt
	for i := len(s.ordered) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *s.ordered[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryReceiptStore) Last(_ context.Context) (*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ordered) == 0 {
		return nil, nil
	}
	cp := *s.ordered[len(s.ordered)-1]
	return &cp, nil
}
