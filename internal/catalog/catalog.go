// Package catalog is the collection and file registry with visa-gated
// visibility. Every read recomputes the caller's accessible-name set from
// their passport; nothing is cached.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"lakegate.org/internal/docstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/passport"
	"lakegate.org/internal/storage"
	"lakegate.org/internal/vault"
	"lakegate.org/internal/visa"
)

const (
	collCollections = "collections"
	collFiles       = "files"
)

// Record statuses.
const (
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusUploading  = "uploading"
	StatusDeleted    = "deleted"
)

// File processing levels and categories.
const (
	LevelRaw       = "raw"
	LevelProcessed = "processed"
	LevelCurated   = "curated"

	CategoryStructured   = "structured"
	CategoryUnstructured = "unstructured"
)

// Collection is one catalog entry. InsertedBy is "user_id:email".
type Collection struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	StorageType string `json:"storage_type"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	InsertedBy  string `json:"inserted_by"`
	Public      bool   `json:"public"`
	Secret      bool   `json:"secret"`
	Description string `json:"description"`
	InsertedAt  int64  `json:"inserted_at"`
}

// OwnerID extracts the user id component of the owner string.
func (c Collection) OwnerID() string {
	id, _, _ := strings.Cut(c.InsertedBy, ":")
	return id
}

// File is one stored object's catalog entry. Version increases per
// (collection, category, processing_level).
type File struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CollectionID    string `json:"collection_id"`
	CollectionName  string `json:"collection_name"`
	StorageType     string `json:"storage_type"`
	Location        string `json:"location"`
	ProcessingLevel string `json:"processing_level"`
	Category        string `json:"category"`
	Status          string `json:"status"`
	Version         int    `json:"version"`
	Size            int64  `json:"size"`
	Public          bool   `json:"public"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
	InsertedBy      string `json:"inserted_by"`
	InsertedAt      int64  `json:"inserted_at"`
}

// NameSetReader supplies a user's visa-derived collection-name set.
type NameSetReader interface {
	AccessibleCollectionNames(ctx context.Context, userID string) (map[string]bool, error)
}

// VisaGranter grants freshly minted collection visas to their creator.
type VisaGranter interface {
	Grant(ctx context.Context, userID string, visaIDs []string) error
}

// VisaLifecycle is the slice of the visa service the collection lifecycle
// needs.
type VisaLifecycle interface {
	Create(ctx context.Context, name, issuer, description string) (visa.Visa, error)
	ByName(ctx context.Context, name string) (visa.Visa, error)
	Delete(ctx context.Context, visaID string) error
}

// CredentialChecker resolves the credential backing a storage bucket.
type CredentialChecker interface {
	ByStorageBucket(ctx context.Context, storageType, bucket string) (vault.Credential, error)
	GrantVisa(ctx context.Context, credentialID, visaID string) error
}

// RequestSweeper removes open access requests during a collection delete.
type RequestSweeper interface {
	DeleteForCollection(ctx context.Context, collectionID string) error
}

// Service implements the catalog.
type Service struct {
	store     docstore.Store
	names     NameSetReader
	granter   VisaGranter
	visas     VisaLifecycle
	creds     CredentialChecker
	requests  RequestSweeper
	providers map[string]storage.Provider
	issuer    string
	now       func() time.Time
}

var _ passport.CollectionTransfer = (*Service)(nil)

func NewService(store docstore.Store, names NameSetReader, granter VisaGranter, visas VisaLifecycle, creds CredentialChecker, providers map[string]storage.Provider, issuer string) *Service {
	return &Service{
		store:     store,
		names:     names,
		granter:   granter,
		visas:     visas,
		creds:     creds,
		providers: providers,
		issuer:    issuer,
		now:       time.Now,
	}
}

// BindRequests wires the access-request sweeper after construction; the
// request service itself reads the catalog, so the composition root closes
// the loop here.
func (s *Service) BindRequests(r RequestSweeper) { s.requests = r }

// collectionVisible applies the per-user visibility rule for collections:
// name held via visa, or not secret, or the user appears in the owner field.
func collectionVisible(c Collection, userID string, names map[string]bool) bool {
	if c.Status == StatusDeleted {
		return false
	}
	if names[c.Name] {
		return true
	}
	if !c.Secret {
		return true
	}
	return userID != "" && strings.Contains(c.InsertedBy, userID)
}

// fileVisible applies the per-user visibility rule for files: collection
// name held via visa, or the file is public.
func fileVisible(f File, names map[string]bool) bool {
	if f.Status == StatusDeleted {
		return false
	}
	return f.Public || names[f.CollectionName]
}

// GetCollection loads one collection, enforcing visibility. A record the
// caller cannot see is AccessDenied, not NotFound.
func (s *Service) GetCollection(ctx context.Context, userID, collectionID string) (Collection, error) {
	c, err := s.rawCollection(ctx, collectionID)
	if err != nil {
		return Collection{}, err
	}
	names, err := s.names.AccessibleCollectionNames(ctx, userID)
	if err != nil {
		return Collection{}, err
	}
	if !collectionVisible(c, userID, names) {
		return Collection{}, fault.AccessDenied("collection %s is not accessible", collectionID)
	}
	return c, nil
}

// CollectionByID loads a collection without a visibility check. For
// internal collaborators that enforce their own authorization.
func (s *Service) CollectionByID(ctx context.Context, collectionID string) (Collection, error) {
	return s.rawCollection(ctx, collectionID)
}

func (s *Service) rawCollection(ctx context.Context, collectionID string) (Collection, error) {
	doc, err := s.store.Get(ctx, collCollections, collectionID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Collection{}, fault.NotFound("collection %s not found", collectionID)
		}
		return Collection{}, err
	}
	var c Collection
	if err := doc.Decode(&c); err != nil {
		return Collection{}, err
	}
	return c, nil
}

// GetFile loads one file, enforcing visibility.
func (s *Service) GetFile(ctx context.Context, userID, fileID string) (File, error) {
	f, err := s.rawFile(ctx, fileID)
	if err != nil {
		return File{}, err
	}
	names, err := s.names.AccessibleCollectionNames(ctx, userID)
	if err != nil {
		return File{}, err
	}
	if !fileVisible(f, names) {
		return File{}, fault.AccessDenied("file %s is not accessible", fileID)
	}
	return f, nil
}

func (s *Service) rawFile(ctx context.Context, fileID string) (File, error) {
	doc, err := s.store.Get(ctx, collFiles, fileID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return File{}, fault.NotFound("file %s not found", fileID)
		}
		return File{}, err
	}
	var f File
	if err := doc.Decode(&f); err != nil {
		return File{}, err
	}
	return f, nil
}

// SetCollectionStatus re-reads the record, applies the status and persists a
// full upsert. Concurrent writers race; the last write wins.
func (s *Service) SetCollectionStatus(ctx context.Context, collectionID, status string) (Collection, error) {
	if !validStatus(status) {
		return Collection{}, fault.Validation("unknown status %q", status)
	}
	c, err := s.rawCollection(ctx, collectionID)
	if err != nil {
		return Collection{}, err
	}
	c.Status = status
	if err := s.store.Upsert(ctx, collCollections, c.ID, c); err != nil {
		return Collection{}, err
	}
	return c, nil
}

// SetFileStatus mirrors SetCollectionStatus for files.
func (s *Service) SetFileStatus(ctx context.Context, fileID, status string) (File, error) {
	if !validStatus(status) {
		return File{}, fault.Validation("unknown status %q", status)
	}
	f, err := s.rawFile(ctx, fileID)
	if err != nil {
		return File{}, err
	}
	f.Status = status
	if err := s.store.Upsert(ctx, collFiles, f.ID, f); err != nil {
		return File{}, err
	}
	return f, nil
}

func validStatus(status string) bool {
	switch status {
	case StatusReady, StatusProcessing, StatusUploading, StatusDeleted:
		return true
	}
	return false
}

// SetOwner rewrites a collection's owner string.
func (s *Service) SetOwner(ctx context.Context, collectionID, owner string) error {
	c, err := s.rawCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	c.InsertedBy = owner
	return s.store.Upsert(ctx, collCollections, c.ID, c)
}

// OwnedCollections lists the non-deleted collections owned by a user.
func (s *Service) OwnedCollections(ctx context.Context, userID string) ([]passport.OwnedCollection, error) {
	docs, err := s.store.GetAll(ctx, collCollections)
	if err != nil {
		return nil, err
	}
	var out []passport.OwnedCollection
	for _, d := range docs {
		var c Collection
		if err := d.Decode(&c); err != nil {
			return nil, err
		}
		if c.Status != StatusDeleted && c.OwnerID() == userID {
			out = append(out, passport.OwnedCollection{ID: c.ID, Name: c.Name})
		}
	}
	return out, nil
}
