package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

func receipt(seq uint64, requestID string) *contracts.Receipt {
	return &contracts.Receipt{
		ReceiptID:  "rcpt-" + requestID,
		RequestID:  requestID,
		CardID:     "sharpe_ratio",
		Status:     contracts.StatusSuccess,
		ResultHash: "sha256:aa",
		PrevHash:   contracts.GenesisHash,
		Sequence:   seq,
		Timestamp:  time.Date(2026, 4, 1, 9, 30, 0, 123, time.UTC),
		KeyID:      "k1",
		Signature:  "deadbeef",
	}
}

// exerciseStore runs the same contract against every ReceiptStore.
func exerciseStore(t *testing.T, s ReceiptStore) {
	t.Helper()
	ctx := context.Background()

	last, err := s.Last(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, s.Store(ctx, receipt(1, "req-1")))
	require.NoError(t, s.Store(ctx, receipt(2, "req-2")))
	require.NoError(t, s.Store(ctx, receipt(1, "req-1")), "storing the same receipt twice is a no-op")

	got, err := s.Get(ctx, "rcpt-req-1")
	require.NoError(t, err)
	assert.Equal(t, receipt(1, "req-1"), got)

	got, err = s.GetByRequest(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Sequence)

	last, err = s.Last(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "req-2", last.RequestID)

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "req-2", list[0].RequestID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestMemoryReceiptStore(t *testing.T) {
	exerciseStore(t, NewMemoryReceiptStore())
}

func TestSQLiteReceiptStore(t *testing.T) {
	s, err := OpenSQLiteReceiptStore(context.Background(), ":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestPostgresReceiptStore_Store(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	r := receipt(7, "req-7")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO solve_receipts")).
		WithArgs(r.ReceiptID, r.RequestID, r.CardID, "success", r.ResultHash, r.PrevHash, int64(7), r.Timestamp, r.KeyID, r.Signature).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewPostgresReceiptStore(db).Store(context.Background(), r))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReceiptStore_Last(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	s := NewPostgresReceiptStore(db)

	cols := []string{"receipt_id", "request_id", "card_id", "status", "result_hash", "prev_hash", "sequence", "timestamp", "key_id", "signature"}
	ts := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY sequence DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("rcpt-1", "req-1", "cagr", "refused", "sha256:bb", "genesis", int64(3), ts, "k1", "ff"))

	got, err := s.Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusRefused, got.Status)
	assert.Equal(t, uint64(3), got.Sequence)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY sequence DESC LIMIT 1")).WillReturnRows(sqlmock.NewRows(cols))
	got, err = s.Last(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
