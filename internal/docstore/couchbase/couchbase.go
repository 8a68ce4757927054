// Package couchbase implements docstore.Store against the Couchbase REST
// query service. Statements are compiled from the typed query AST and carry
// every value as a positional parameter.
package couchbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lakegate.org/internal/docstore"
)

const (
	queryPort = 8093

	defaultTimeout = 30 * time.Second
)

// Config carries the connection settings for one bucket.
type Config struct {
	Host     string
	User     string
	Password string
	Bucket   string
}

type Store struct {
	cfg    Config
	scope  string
	client *http.Client
}

var _ docstore.Store = (*Store)(nil)

// New binds a store to one scope of the configured bucket. Each call builds
// its own lightweight client; no connection state is shared across requests.
func New(cfg Config, scope string) *Store {
	return &Store{
		cfg:    cfg,
		scope:  scope,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

type queryResponse struct {
	Status  string            `json:"status"`
	Results []json.RawMessage `json:"results"`
	Errors  []struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"errors"`
	Metrics struct {
		MutationCount uint64 `json:"mutationCount"`
	} `json:"metrics"`
}

func (s *Store) exec(ctx context.Context, statement string, args []any) (*queryResponse, error) {
	payload := map[string]any{"statement": statement}
	if len(args) > 0 {
		payload["args"] = args
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s:%d/query/service", s.cfg.Host, queryPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.cfg.User, s.cfg.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("couchbase: query request: %w", err)
	}
	defer resp.Body.Close()

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("couchbase: invalid response: %w", err)
	}
	if parsed.Status != "success" {
		msg := "unknown error"
		if len(parsed.Errors) > 0 {
			msg = parsed.Errors[0].Msg
			// 12009: duplicate document key on INSERT.
			if parsed.Errors[0].Code == 12009 || strings.Contains(strings.ToLower(msg), "duplicate") {
				return nil, docstore.ErrExists
			}
		}
		return nil, fmt.Errorf("couchbase: %s", msg)
	}
	return &parsed, nil
}

func (s *Store) keyspace(collection string) string {
	return fmt.Sprintf("`%s`.`%s`.`%s`", s.cfg.Bucket, s.scope, collection)
}

// decodeRows strips the __key column injected by the compiled SELECT and
// re-marshals the remaining fields as the document body.
func decodeRows(rows []json.RawMessage) ([]docstore.Document, error) {
	out := make([]docstore.Document, 0, len(rows))
	for _, row := range rows {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(row, &m); err != nil {
			return nil, fmt.Errorf("couchbase: decode row: %w", err)
		}
		var key string
		if rawKey, ok := m["__key"]; ok {
			_ = json.Unmarshal(rawKey, &key)
			delete(m, "__key")
		}
		data, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, docstore.Document{Key: key, Data: data})
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, collection, key string) (docstore.Document, error) {
	stmt := fmt.Sprintf("SELECT META(d).id AS __key, d.* FROM %s AS d USE KEYS $1", s.keyspace(collection))
	resp, err := s.exec(ctx, stmt, []any{[]string{key}})
	if err != nil {
		return docstore.Document{}, err
	}
	docs, err := decodeRows(resp.Results)
	if err != nil {
		return docstore.Document{}, err
	}
	if len(docs) == 0 {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docs[0], nil
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]docstore.Document, error) {
	stmt := fmt.Sprintf("SELECT META(d).id AS __key, d.* FROM %s AS d", s.keyspace(collection))
	resp, err := s.exec(ctx, stmt, nil)
	if err != nil {
		return nil, err
	}
	return decodeRows(resp.Results)
}

func (s *Store) Query(ctx context.Context, q *docstore.Query) ([]docstore.Document, error) {
	stmt, args, err := q.N1QL(s.cfg.Bucket, s.scope)
	if err != nil {
		return nil, err
	}
	resp, err := s.exec(ctx, stmt, args)
	if err != nil {
		return nil, err
	}
	return decodeRows(resp.Results)
}

func (s *Store) Insert(ctx context.Context, collection, key string, doc any) error {
	value, err := normalize(doc)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (KEY, VALUE) VALUES ($1, $2)", s.keyspace(collection))
	_, err = s.exec(ctx, stmt, []any{key, value})
	return err
}

func (s *Store) Upsert(ctx context.Context, collection, key string, doc any) error {
	value, err := normalize(doc)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPSERT INTO %s (KEY, VALUE) VALUES ($1, $2)", s.keyspace(collection))
	_, err = s.exec(ctx, stmt, []any{key, value})
	return err
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	stmt := fmt.Sprintf("DELETE FROM %s AS d WHERE META(d).id = $1", s.keyspace(collection))
	resp, err := s.exec(ctx, stmt, []any{key})
	if err != nil {
		return err
	}
	// A DELETE of a missing key still reports success; the mutation count
	// tells the two cases apart.
	if resp.Metrics.MutationCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// normalize converts any document representation into a generic value the
// query-service JSON payload can carry.
func normalize(doc any) (any, error) {
	raw, err := docstore.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
