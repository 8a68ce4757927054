package catalog

import (
	"context"
	"strings"

	"lakegate.org/internal/audit"
	"lakegate.org/internal/docstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/ids"
	"lakegate.org/internal/visa"
)

// NewCollectionParams carries the caller-supplied fields of a new
// collection. Owner fields come from the authenticated identity.
type NewCollectionParams struct {
	Name        string `json:"name"`
	StorageType string `json:"storage_type"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
	Secret      bool   `json:"secret"`
}

// CreateCollection registers a collection, mints its visa and grants it to
// the creator and to the backing credential. A credential for the
// storage_type+bucket pair must already exist. If the visa cannot be minted
// the record is rolled back.
func (s *Service) CreateCollection(ctx context.Context, ownerID, ownerEmail string, p NewCollectionParams) (Collection, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.StorageType = strings.ToLower(strings.TrimSpace(p.StorageType))
	p.Location = strings.TrimSpace(p.Location)
	if p.Name == "" || p.StorageType == "" || p.Location == "" {
		return Collection{}, fault.Validation("name, storage_type and location are required")
	}

	cred, err := s.creds.ByStorageBucket(ctx, p.StorageType, p.Location)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return Collection{}, fault.Validation("no credential registered for storage %q bucket %q", p.StorageType, p.Location)
		}
		return Collection{}, err
	}

	taken, err := s.nameTaken(ctx, p.Name, p.StorageType, p.Location)
	if err != nil {
		return Collection{}, err
	}
	if taken {
		return Collection{}, fault.Validation("collection %q already exists for storage %q at %q", p.Name, p.StorageType, p.Location)
	}

	c := Collection{
		ID:          ids.New(),
		Name:        p.Name,
		StorageType: p.StorageType,
		Location:    p.Location,
		Status:      StatusReady,
		InsertedBy:  ownerID + ":" + ownerEmail,
		Public:      p.Public,
		Secret:      p.Secret,
		Description: p.Description,
		InsertedAt:  s.now().Unix(),
	}
	if err := s.store.Insert(ctx, collCollections, c.ID, c); err != nil {
		return Collection{}, err
	}

	v, err := s.visas.Create(ctx, visa.Name(c.ID, c.Name), s.issuer, "access to collection "+c.Name)
	if err != nil {
		// Without a visa the collection would be unreachable; undo the insert.
		_ = s.store.Delete(ctx, collCollections, c.ID)
		return Collection{}, err
	}
	if err := s.granter.Grant(ctx, ownerID, []string{v.ID}); err != nil {
		return Collection{}, err
	}
	if err := s.creds.GrantVisa(ctx, cred.ID, v.ID); err != nil {
		return Collection{}, err
	}

	_ = audit.LogEvent(ctx, "collection.created", map[string]any{
		"collection_id": c.ID,
		"name":          c.Name,
		"storage_type":  c.StorageType,
		"visa_id":       v.ID,
	})
	return c, nil
}

// nameTaken checks (name, storage_type, location) uniqueness among
// non-deleted collections.
func (s *Service) nameTaken(ctx context.Context, name, storageType, location string) (bool, error) {
	q := docstore.NewQuery(collCollections).
		Where("name", docstore.OpEq, name).
		Where("storage_type", docstore.OpEq, storageType).
		Where("location", docstore.OpEq, location).
		Where("status", docstore.OpNeq, StatusDeleted)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

// DeleteCollection is owner-only and cascades in order: open access requests
// are removed, the collection visa is deleted (revoking it from every holder
// and credential), member files are marked deleted, and finally the
// collection itself. Steps already applied stay applied if a later one
// fails.
func (s *Service) DeleteCollection(ctx context.Context, userID, collectionID string) error {
	c, err := s.rawCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if c.OwnerID() != userID {
		return fault.AccessDenied("only the collection owner can delete it")
	}
	if c.Status == StatusDeleted {
		return fault.InvalidState("collection %s is already deleted", collectionID)
	}

	if s.requests != nil {
		if err := s.requests.DeleteForCollection(ctx, c.ID); err != nil {
			return err
		}
	}

	if v, err := s.visas.ByName(ctx, visa.Name(c.ID, c.Name)); err == nil {
		if err := s.visas.Delete(ctx, v.ID); err != nil {
			return err
		}
	} else if !fault.IsKind(err, fault.KindNotFound) {
		return err
	}

	files, err := s.filesOf(ctx, c.ID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Status == StatusDeleted {
			continue
		}
		f.Status = StatusDeleted
		if err := s.store.Upsert(ctx, collFiles, f.ID, f); err != nil {
			return err
		}
	}

	c.Status = StatusDeleted
	if err := s.store.Upsert(ctx, collCollections, c.ID, c); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "collection.deleted", map[string]any{
		"collection_id": c.ID,
		"name":          c.Name,
		"files":         len(files),
	})
	return nil
}

func (s *Service) filesOf(ctx context.Context, collectionID string) ([]File, error) {
	q := docstore.NewQuery(collFiles).Where("collection_id", docstore.OpEq, collectionID)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeFiles(docs)
}
