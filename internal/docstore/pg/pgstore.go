// Package pg keeps documents in a single Postgres jsonb table. It satisfies
// the same Store contract as the Couchbase gateway and is selected by DSN.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lakegate.org/internal/docstore"
)

const table = "documents"

type Store struct {
	db    *sql.DB
	scope string
	owned bool
}

var _ docstore.Store = (*Store)(nil)

// Open connects to Postgres and binds the store to one scope.
func Open(dsn, scope string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, scope: scope, owned: true}, nil
}

// NewWithDB binds a store to an existing handle; used by tests and when
// several scopes share one pool.
func NewWithDB(db *sql.DB, scope string) *Store {
	return &Store{db: db, scope: scope}
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Get(ctx context.Context, collection, key string) (docstore.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`select doc from documents where scope=$1 and collection=$2 and key=$3`,
		s.scope, collection, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{Key: key, Data: json.RawMessage(raw)}, nil
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]docstore.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`select key, doc from documents where scope=$1 and collection=$2 order by key`,
		s.scope, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs(rows)
}

func (s *Store) Query(ctx context.Context, q *docstore.Query) ([]docstore.Document, error) {
	stmt, args, err := q.SQL(table, s.scope)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs(rows)
}

func (s *Store) Insert(ctx context.Context, collection, key string, doc any) error {
	raw, err := docstore.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into documents(scope, collection, key, doc) values ($1,$2,$3,$4)`,
		s.scope, collection, key, []byte(raw))
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return docstore.ErrExists
	}
	return err
}

func (s *Store) Upsert(ctx context.Context, collection, key string, doc any) error {
	raw, err := docstore.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into documents(scope, collection, key, doc)
		values ($1,$2,$3,$4)
		on conflict (scope, collection, key) do update set doc = excluded.doc
	`, s.scope, collection, key, []byte(raw))
	return err
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from documents where scope=$1 and collection=$2 and key=$3`,
		s.scope, collection, key)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func scanDocs(rows *sql.Rows) ([]docstore.Document, error) {
	var out []docstore.Document
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		out = append(out, docstore.Document{Key: key, Data: json.RawMessage(raw)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: scan documents: %w", err)
	}
	return out, nil
}
