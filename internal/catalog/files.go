package catalog

import (
	"context"
	"fmt"
	"strings"

	"lakegate.org/internal/audit"
	"lakegate.org/internal/docstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/ids"
	"lakegate.org/internal/storage"
)

// UploadParams carries the caller-supplied fields of an upload request.
type UploadParams struct {
	CollectionID    string `json:"collection_id"`
	FileName        string `json:"file_name"`
	ProcessingLevel string `json:"processing_level"`
	Category        string `json:"category"`
	Size            int64  `json:"size"`
	Public          bool   `json:"public"`
}

// UploadGrant is a minted upload slot: the pending file record plus the
// signed URL to put the bytes to.
type UploadGrant struct {
	File File              `json:"file"`
	URL  storage.SignedURL `json:"url"`
}

// blobPath is where a file version lives inside its bucket.
func blobPath(collectionName, level string, version int, fileName string) string {
	return fmt.Sprintf("lakehouse/collections/%s/%s/v%d/%s", collectionName, level, version, fileName)
}

// RequestUpload reserves the next version for a file and mints a signed
// upload URL. The record starts as `uploading` with a 30-minute hold; the
// record is rolled back if the URL cannot be minted.
func (s *Service) RequestUpload(ctx context.Context, userID, userEmail string, p UploadParams) (UploadGrant, error) {
	p.FileName = strings.TrimSpace(p.FileName)
	if p.FileName == "" {
		return UploadGrant{}, fault.Validation("file_name is required")
	}
	if !validLevel(p.ProcessingLevel) {
		return UploadGrant{}, fault.Validation("processing_level must be raw, processed or curated")
	}
	if !validCategory(p.Category) {
		return UploadGrant{}, fault.Validation("category must be structured or unstructured")
	}

	c, err := s.GetCollection(ctx, userID, p.CollectionID)
	if err != nil {
		return UploadGrant{}, err
	}
	provider, ok := s.providers[c.StorageType]
	if !ok {
		return UploadGrant{}, fault.Validation("storage type %q has no configured provider", c.StorageType)
	}

	version, err := s.nextVersion(ctx, c.ID, p.Category, p.ProcessingLevel)
	if err != nil {
		return UploadGrant{}, err
	}

	f := File{
		ID:              ids.New(),
		Name:            p.FileName,
		CollectionID:    c.ID,
		CollectionName:  c.Name,
		StorageType:     c.StorageType,
		Location:        c.Location,
		ProcessingLevel: p.ProcessingLevel,
		Category:        p.Category,
		Status:          StatusUploading,
		Version:         version,
		Size:            p.Size,
		Public:          p.Public,
		ExpiresAt:       s.now().Add(storage.URLExpiry).Unix(),
		InsertedBy:      userID + ":" + userEmail,
		InsertedAt:      s.now().Unix(),
	}
	if err := s.store.Insert(ctx, collFiles, f.ID, f); err != nil {
		return UploadGrant{}, err
	}

	signed, err := provider.SignUpload(ctx, c.Location, blobPath(c.Name, f.ProcessingLevel, f.Version, f.Name))
	if err != nil {
		_ = s.store.Delete(ctx, collFiles, f.ID)
		return UploadGrant{}, fault.Upstream("unable to mint the upload URL", err)
	}

	_ = audit.LogEvent(ctx, "file.upload_requested", map[string]any{
		"file_id":       f.ID,
		"collection_id": c.ID,
		"version":       f.Version,
	})
	return UploadGrant{File: f, URL: signed}, nil
}

// nextVersion computes the monotonically increasing version for one
// (collection, category, processing_level) series.
func (s *Service) nextVersion(ctx context.Context, collectionID, category, level string) (int, error) {
	q := docstore.NewQuery(collFiles).
		Where("collection_id", docstore.OpEq, collectionID).
		Where("category", docstore.OpEq, category).
		Where("processing_level", docstore.OpEq, level)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	files, err := decodeFiles(docs)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, f := range files {
		if f.Version >= next {
			next = f.Version + 1
		}
	}
	return next, nil
}

// RequestDownload mints a signed download URL for a visible file.
func (s *Service) RequestDownload(ctx context.Context, userID, fileID string) (storage.SignedURL, error) {
	f, err := s.GetFile(ctx, userID, fileID)
	if err != nil {
		return storage.SignedURL{}, err
	}
	if f.Status == StatusUploading {
		return storage.SignedURL{}, fault.InvalidState("file %s is still uploading", fileID)
	}
	provider, ok := s.providers[f.StorageType]
	if !ok {
		return storage.SignedURL{}, fault.Validation("storage type %q has no configured provider", f.StorageType)
	}
	signed, err := provider.SignDownload(ctx, f.Location, blobPath(f.CollectionName, f.ProcessingLevel, f.Version, f.Name))
	if err != nil {
		return storage.SignedURL{}, fault.Upstream("unable to mint the download URL", err)
	}
	if signed.Expired(s.now()) {
		return storage.SignedURL{}, fault.Upstream("minted URL is already expired", nil)
	}
	return signed, nil
}

// DeleteFile removes the storage object and marks the record deleted. Only
// the owner of the file's collection may delete it.
func (s *Service) DeleteFile(ctx context.Context, userID, fileID string) error {
	f, err := s.rawFile(ctx, fileID)
	if err != nil {
		return err
	}
	c, err := s.rawCollection(ctx, f.CollectionID)
	if err != nil {
		return err
	}
	if c.OwnerID() != userID {
		return fault.AccessDenied("only the collection owner can delete files")
	}
	if f.Status == StatusDeleted {
		return fault.InvalidState("file %s is already deleted", fileID)
	}

	provider, ok := s.providers[f.StorageType]
	if !ok {
		return fault.Validation("storage type %q has no configured provider", f.StorageType)
	}
	if err := provider.DeleteObject(ctx, f.Location, blobPath(f.CollectionName, f.ProcessingLevel, f.Version, f.Name)); err != nil {
		return fault.Upstream("unable to delete the storage object", err)
	}

	f.Status = StatusDeleted
	if err := s.store.Upsert(ctx, collFiles, f.ID, f); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "file.deleted", map[string]any{"file_id": f.ID, "collection_id": f.CollectionID})
	return nil
}

func validLevel(level string) bool {
	switch level {
	case LevelRaw, LevelProcessed, LevelCurated:
		return true
	}
	return false
}

func validCategory(category string) bool {
	switch category {
	case CategoryStructured, CategoryUnstructured:
		return true
	}
	return false
}
