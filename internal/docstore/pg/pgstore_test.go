package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"lakegate.org/internal/docstore"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewWithDB(db, "users"), mock
}

func TestGet(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`select doc from documents where scope=$1 and collection=$2 and key=$3`)).
		WithArgs("users", "info", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow([]byte(`{"id":"u-1","name":"Alice"}`)))

	doc, err := s.Get(context.Background(), "info", "u-1")
	require.NoError(t, err)

	var got struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, doc.Decode(&got))
	require.Equal(t, "Alice", got.Name)
}

func TestGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`select doc from documents`).
		WithArgs("users", "info", "u-missing").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))

	_, err := s.Get(context.Background(), "info", "u-missing")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestInsertDuplicateKey(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		`insert into documents(scope, collection, key, doc) values ($1,$2,$3,$4)`)).
		WithArgs("users", "info", "u-1", []byte(`{"id":"u-1"}`)).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "documents_pkey"`))

	err := s.Insert(context.Background(), "info", "u-1", map[string]string{"id": "u-1"})
	require.ErrorIs(t, err, docstore.ErrExists)
}

func TestUpsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`on conflict \(scope, collection, key\) do update`).
		WithArgs("users", "info", "u-1", []byte(`{"id":"u-1"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Upsert(context.Background(), "info", "u-1", map[string]string{"id": "u-1"})
	require.NoError(t, err)
}

func TestDelete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		`delete from documents where scope=$1 and collection=$2 and key=$3`)).
		WithArgs("users", "info", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from documents`).
		WithArgs("users", "info", "u-gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, s.Delete(ctx, "info", "u-1"))
	require.ErrorIs(t, s.Delete(ctx, "info", "u-gone"), docstore.ErrNotFound)
}

func TestQueryCompilesToJsonb(t *testing.T) {
	s, mock := newMockStore(t)

	q := docstore.NewQuery("info").
		Where("email", docstore.OpEq, "alice@example.org").
		OrderBy("inserted_at", true).
		LimitTo(1)

	mock.ExpectQuery(regexp.QuoteMeta(
		`select key, doc from documents where scope = $1 and collection = $2 and doc->>'email' = $3 order by doc->'inserted_at' desc limit 1`)).
		WithArgs("users", "info", "alice@example.org").
		WillReturnRows(sqlmock.NewRows([]string{"key", "doc"}).
			AddRow("u-1", []byte(`{"id":"u-1","email":"alice@example.org"}`)))

	docs, err := s.Query(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "u-1", docs[0].Key)
}

func TestGetAll(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`select key, doc from documents where scope=$1 and collection=$2 order by key`)).
		WithArgs("users", "info").
		WillReturnRows(sqlmock.NewRows([]string{"key", "doc"}).
			AddRow("u-1", []byte(`{"id":"u-1"}`)).
			AddRow("u-2", []byte(`{"id":"u-2"}`)))

	docs, err := s.GetAll(context.Background(), "info")
	require.NoError(t, err)
	require.Len(t, docs, 2)
}
