package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresCatalogLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	v1, _ := json.Marshal(card("alpha", "d", "t"))
	v2c := card("alpha", "d", "t2")
	v2c.Version = "1.2.0"
	v2, _ := json.Marshal(v2c)
	beta, _ := json.Marshal(card("beta", "d", "t"))

	rows := sqlmock.NewRows([]string{"id", "version", "card_json"}).
		AddRow("alpha", "1.0.0", v1).
		AddRow("beta", "1.0.0", beta).
		AddRow("alpha", "1.2.0", v2)
	mock.ExpectQuery("SELECT id, version, card_json FROM formula_cards").WillReturnRows(rows)

	cards, err := NewPostgresCatalog(db).Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "alpha", cards[0].ID)
	assert.Equal(t, "1.2.0", cards[0].Version)
	assert.Equal(t, "t2", cards[0].Topic)
	assert.Equal(t, "beta", cards[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalogPut(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO formula_cards").
		WithArgs("alpha", DefaultVersion, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewPostgresCatalog(db).Put(context.Background(), card("alpha", "d", "t")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalogPutRejectsBadVersion(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	c := card("alpha", "d", "t")
	c.Version = "latest"
	require.Error(t, NewPostgresCatalog(db).Put(context.Background(), c))
}
