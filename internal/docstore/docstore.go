// Package docstore is the persistence gateway. Every service keeps its state
// in JSON documents addressed by (scope, collection, key); the store owns all
// of it and services reload per operation.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned when a document key does not resolve.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrExists is returned by Insert when the key is already present.
	ErrExists = errors.New("docstore: document already exists")
)

// Document is a stored record: its key plus the raw JSON body.
type Document struct {
	Key  string
	Data json.RawMessage
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Store executes key-value and query operations against one scope of the
// document database. Implementations: couchbase (REST), pg (jsonb), memstore.
type Store interface {
	Get(ctx context.Context, collection, key string) (Document, error)
	GetAll(ctx context.Context, collection string) ([]Document, error)
	Query(ctx context.Context, q *Query) ([]Document, error)
	Insert(ctx context.Context, collection, key string, doc any) error
	Upsert(ctx context.Context, collection, key string, doc any) error
	Delete(ctx context.Context, collection, key string) error
}

// Marshal normalizes a document body to raw JSON.
func Marshal(doc any) (json.RawMessage, error) {
	switch v := doc.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(doc)
	}
}
