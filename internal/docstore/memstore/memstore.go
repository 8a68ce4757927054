// Package memstore is an in-process docstore.Store evaluating the query AST
// directly. It backs service tests and single-node development setups.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"lakegate.org/internal/docstore"
)

type Store struct {
	mu    sync.RWMutex
	scope string
	colls map[string]map[string]json.RawMessage
}

var _ docstore.Store = (*Store)(nil)

// New creates an empty store bound to one scope name.
func New(scope string) *Store {
	return &Store{
		scope: scope,
		colls: make(map[string]map[string]json.RawMessage),
	}
}

// coll returns the named collection, creating it. Callers must hold the
// write lock.
func (s *Store) coll(name string) map[string]json.RawMessage {
	c, ok := s.colls[name]
	if !ok {
		c = make(map[string]json.RawMessage)
		s.colls[name] = c
	}
	return c
}

func (s *Store) Get(ctx context.Context, collection, key string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.colls[collection][key]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{Key: key, Data: append(json.RawMessage(nil), raw...)}, nil
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.colls[collection]
	out := make([]docstore.Document, 0, len(c))
	for k, raw := range c {
		out = append(out, docstore.Document{Key: k, Data: append(json.RawMessage(nil), raw...)})
	}
	// Stable order for deterministic pagination; keys are time-sortable.
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Insert(ctx context.Context, collection, key string, doc any) error {
	raw, err := docstore.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	if _, ok := c[key]; ok {
		return docstore.ErrExists
	}
	c[key] = raw
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection, key string, doc any) error {
	raw, err := docstore.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(collection)[key] = raw
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	if _, ok := c[key]; !ok {
		return docstore.ErrNotFound
	}
	delete(c, key)
	return nil
}

func (s *Store) Query(ctx context.Context, q *docstore.Query) ([]docstore.Document, error) {
	all, err := s.GetAll(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	var out []docstore.Document
	for _, doc := range all {
		var m map[string]any
		if err := json.Unmarshal(doc.Data, &m); err != nil {
			return nil, fmt.Errorf("memstore: decode %s/%s: %w", q.Collection, doc.Key, err)
		}
		ok, err := docstore.Eval(q, m)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	docstore.Order(q, out)
	if n := docstore.Limit(q); n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Dump returns the raw collection contents, for test assertions.
func (s *Store) Dump(collection string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range s.colls[collection] {
		out[k] = strings.TrimSpace(string(v))
	}
	return out
}
