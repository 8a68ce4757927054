// Package vault stores encrypted cloud-storage credentials and associates
// them with visas and storage buckets.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"lakegate.org/internal/audit"
	"lakegate.org/internal/crypt"
	"lakegate.org/internal/docstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/ids"
	"lakegate.org/internal/visa"
)

const collCloud = "cloud"

// Credential is one stored cloud-storage secret. Secret holds the sealed
// payload; plaintext only exists transiently inside Open calls.
type Credential struct {
	ID          string   `json:"id"`
	StorageType string   `json:"storage_type"`
	BucketNames []string `json:"bucket_names"`
	VisaIDs     []string `json:"visa_uuids"`
	Secret      string   `json:"credentials"`
}

// VisaResolver validates visa ids against the broker before they are bound
// to a credential.
type VisaResolver interface {
	GetVisa(ctx context.Context, id string) (visa.Visa, error)
}

// Service is the credential vault.
type Service struct {
	store docstore.Store
	box   *crypt.Box
	visas VisaResolver
}

var _ visa.CredentialRevoker = (*Service)(nil)

func NewService(store docstore.Store, box *crypt.Box, visas VisaResolver) *Service {
	return &Service{store: store, box: box, visas: visas}
}

// Create seals the secret payload and stores a new credential. Every visa id
// must resolve at the broker; one bad id fails the whole call.
func (s *Service) Create(ctx context.Context, storageType string, buckets, visaIDs []string, secret map[string]any) (Credential, error) {
	storageType = strings.ToLower(strings.TrimSpace(storageType))
	if storageType == "" {
		return Credential{}, fault.Validation("storage_type is required")
	}
	if len(buckets) == 0 {
		return Credential{}, fault.Validation("at least one bucket name is required")
	}
	if err := s.checkVisas(ctx, visaIDs); err != nil {
		return Credential{}, err
	}

	sealed, err := s.box.Seal(secret)
	if err != nil {
		return Credential{}, fmt.Errorf("seal credential payload: %w", err)
	}
	cred := Credential{
		ID:          ids.New(),
		StorageType: storageType,
		BucketNames: buckets,
		VisaIDs:     visaIDs,
		Secret:      sealed,
	}
	if cred.VisaIDs == nil {
		cred.VisaIDs = []string{}
	}
	if err := s.store.Insert(ctx, collCloud, cred.ID, cred); err != nil {
		return Credential{}, err
	}
	_ = audit.LogEvent(ctx, "credential.created", map[string]any{
		"credential_id": cred.ID,
		"storage_type":  cred.StorageType,
		"buckets":       cred.BucketNames,
	})
	return cred, nil
}

// CreateFromJSON reads a service-account style JSON file from disk and
// stores it as the secret payload. Used at bootstrap.
func (s *Service) CreateFromJSON(ctx context.Context, storageType string, buckets, visaIDs []string, path string) (Credential, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Credential{}, fmt.Errorf("read credential file: %w", err)
	}
	var secret map[string]any
	if err := json.Unmarshal(raw, &secret); err != nil {
		return Credential{}, fault.Validation("credential file is not valid JSON: %v", err)
	}
	return s.Create(ctx, storageType, buckets, visaIDs, secret)
}

func (s *Service) checkVisas(ctx context.Context, visaIDs []string) error {
	var invalid []string
	for _, id := range visaIDs {
		if _, err := s.visas.GetVisa(ctx, id); err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				invalid = append(invalid, id)
				continue
			}
			return fault.Upstream("unable to validate visas at the passport broker", err)
		}
	}
	if len(invalid) > 0 {
		return fault.Validation("invalid visa ids: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// Get loads one credential by id.
func (s *Service) Get(ctx context.Context, credentialID string) (Credential, error) {
	doc, err := s.store.Get(ctx, collCloud, credentialID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Credential{}, fault.NotFound("credential %s not found", credentialID)
		}
		return Credential{}, err
	}
	var cred Credential
	if err := doc.Decode(&cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// List returns every stored credential. Payloads stay sealed.
func (s *Service) List(ctx context.Context) ([]Credential, error) {
	docs, err := s.store.GetAll(ctx, collCloud)
	if err != nil {
		return nil, err
	}
	return decodeAll(docs)
}

// Delete removes a credential.
func (s *Service) Delete(ctx context.Context, credentialID string) error {
	if err := s.store.Delete(ctx, collCloud, credentialID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fault.NotFound("credential %s not found", credentialID)
		}
		return err
	}
	_ = audit.LogEvent(ctx, "credential.deleted", map[string]any{"credential_id": credentialID})
	return nil
}

// ListBuckets returns every known (storage_type, bucket) pair.
func (s *Service) ListBuckets(ctx context.Context) (map[string][]string, error) {
	creds, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string][]string{}
	for _, c := range creds {
		for _, b := range c.BucketNames {
			if !slices.Contains(out[c.StorageType], b) {
				out[c.StorageType] = append(out[c.StorageType], b)
			}
		}
	}
	for _, buckets := range out {
		slices.Sort(buckets)
	}
	return out, nil
}

// ByStorageBucket finds the credential serving one storage_type+bucket pair.
// Storage operations require this match.
func (s *Service) ByStorageBucket(ctx context.Context, storageType, bucket string) (Credential, error) {
	storageType = strings.ToLower(strings.TrimSpace(storageType))
	q := docstore.NewQuery(collCloud).
		Where("storage_type", docstore.OpEq, storageType).
		ContainsValue("bucket_names", bucket)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return Credential{}, err
	}
	if len(docs) == 0 {
		return Credential{}, fault.NotFound("no credential for storage %q bucket %q", storageType, bucket)
	}
	var cred Credential
	if err := docs[0].Decode(&cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// Open unseals a credential's secret payload.
func (s *Service) Open(cred Credential) (map[string]any, error) {
	var secret map[string]any
	if err := s.box.Open(cred.Secret, &secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// CredentialsByVisa lists the ids of credentials referencing a visa.
func (s *Service) CredentialsByVisa(ctx context.Context, visaID string) ([]string, error) {
	q := docstore.NewQuery(collCloud).ContainsValue("visa_uuids", visaID)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		var cred Credential
		if err := d.Decode(&cred); err != nil {
			return nil, err
		}
		out = append(out, cred.ID)
	}
	return out, nil
}

// GrantVisa adds a visa reference to a credential if not already present.
func (s *Service) GrantVisa(ctx context.Context, credentialID, visaID string) error {
	cred, err := s.Get(ctx, credentialID)
	if err != nil {
		return err
	}
	if slices.Contains(cred.VisaIDs, visaID) {
		return nil
	}
	cred.VisaIDs = append(cred.VisaIDs, visaID)
	return s.store.Upsert(ctx, collCloud, cred.ID, cred)
}

// RevokeVisa removes a visa reference from a credential. Removing an absent
// reference is a no-op.
func (s *Service) RevokeVisa(ctx context.Context, credentialID, visaID string) error {
	cred, err := s.Get(ctx, credentialID)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(cred.VisaIDs), func(id string) bool { return id == visaID })
	if len(kept) == len(cred.VisaIDs) {
		return nil
	}
	cred.VisaIDs = kept
	return s.store.Upsert(ctx, collCloud, cred.ID, cred)
}

func decodeAll(docs []docstore.Document) ([]Credential, error) {
	out := make([]Credential, 0, len(docs))
	for _, d := range docs {
		var cred Credential
		if err := d.Decode(&cred); err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}
