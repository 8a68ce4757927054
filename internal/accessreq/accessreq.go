// Package accessreq runs the access-request workflow between collection
// owners and requestors. Transitions are append-only: every state change
// mints a new record, and the workflow's current state is the newest record
// for a (collection, requestor) pair.
package accessreq

import (
	"context"
	"errors"
	"time"

	"lakegate.org/internal/audit"
	"lakegate.org/internal/catalog"
	"lakegate.org/internal/docstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/ids"
	"lakegate.org/internal/mail"
	"lakegate.org/internal/obs"
	"lakegate.org/internal/passport"
	"lakegate.org/internal/visa"
)

const collRequests = "requests"

// Workflow states.
const (
	StatusRequested = "requested"
	StatusGranted   = "granted"
	StatusRevoked   = "revoked"
)

// Request is one workflow record.
type Request struct {
	ID             string `json:"id"`
	CollectionID   string `json:"collection_id"`
	OwnerID        string `json:"owner_id"`
	OwnerEmail     string `json:"owner_email"`
	RequestedBy    string `json:"requested_by"`
	RequestorEmail string `json:"requestor_email"`
	Status         string `json:"status"`
	RequestedAt    int64  `json:"requested_at"`
}

// UserDirectory resolves user ids for validation and notification.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (passport.User, error)
}

// CatalogReader resolves collections without a visibility check.
type CatalogReader interface {
	CollectionByID(ctx context.Context, collectionID string) (catalog.Collection, error)
}

// PassportOps grants and revokes the collection visa and reads the owner's
// passport to find it.
type PassportOps interface {
	PassportFor(ctx context.Context, userID string) ([]visa.Assertion, error)
	Grant(ctx context.Context, userID string, visaIDs []string) error
	Revoke(ctx context.Context, userID string, visaIDs []string) error
}

// Service implements the workflow.
type Service struct {
	store     docstore.Store
	users     UserDirectory
	catalog   CatalogReader
	passports PassportOps
	sender    mail.Sender
	now       func() time.Time
}

var _ catalog.RequestSweeper = (*Service)(nil)

func NewService(store docstore.Store, users UserDirectory, cat CatalogReader, passports PassportOps, sender mail.Sender) *Service {
	return &Service{
		store:     store,
		users:     users,
		catalog:   cat,
		passports: passports,
		sender:    sender,
		now:       time.Now,
	}
}

// Create validates that owner, requestor and collection all exist, inserts a
// `requested` record and notifies the owner.
func (s *Service) Create(ctx context.Context, collectionID, ownerID, requestorID string) (Request, error) {
	owner, err := s.users.GetUser(ctx, ownerID)
	if err != nil {
		return Request{}, fault.Validation("owner %s does not resolve to a user", ownerID)
	}
	requestor, err := s.users.GetUser(ctx, requestorID)
	if err != nil {
		return Request{}, fault.Validation("requestor %s does not resolve to a user", requestorID)
	}
	c, err := s.catalog.CollectionByID(ctx, collectionID)
	if err != nil {
		return Request{}, fault.Validation("collection %s does not resolve", collectionID)
	}

	r := Request{
		ID:             ids.New(),
		CollectionID:   c.ID,
		OwnerID:        owner.ID,
		OwnerEmail:     owner.Email,
		RequestedBy:    requestor.ID,
		RequestorEmail: requestor.Email,
		Status:         StatusRequested,
		RequestedAt:    s.now().Unix(),
	}
	// A re-request in the same second as the previous record would tie on
	// requested_at and leave the newest record ambiguous.
	if cur, err := s.current(ctx, c.ID, requestor.ID); err == nil && r.RequestedAt <= cur.RequestedAt {
		r.RequestedAt = cur.RequestedAt + 1
	}
	if err := s.store.Insert(ctx, collRequests, r.ID, r); err != nil {
		return Request{}, err
	}
	obs.CountAccessTransition(StatusRequested)

	s.notify(ctx, owner.Email, "Access requested for "+c.Name,
		requestor.Email+" has requested access to your collection "+c.Name+".")
	_ = audit.LogEvent(ctx, "access_request.created", map[string]any{
		"request_id":    r.ID,
		"collection_id": c.ID,
		"requested_by":  requestor.ID,
	})
	return r, nil
}

// Get loads one request record.
func (s *Service) Get(ctx context.Context, requestID string) (Request, error) {
	doc, err := s.store.Get(ctx, collRequests, requestID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Request{}, fault.NotFound("access request %s not found", requestID)
		}
		return Request{}, err
	}
	var r Request
	if err := doc.Decode(&r); err != nil {
		return Request{}, err
	}
	return r, nil
}

// current returns the newest record for a (collection, requestor) pair; the
// workflow's effective state lives there, older records are audit trail.
func (s *Service) current(ctx context.Context, collectionID, requestorID string) (Request, error) {
	q := docstore.NewQuery(collRequests).
		Where("collection_id", docstore.OpEq, collectionID).
		Where("requested_by", docstore.OpEq, requestorID).
		OrderBy("requested_at", true).
		LimitTo(1)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return Request{}, err
	}
	if len(docs) == 0 {
		return Request{}, fault.NotFound("no access request for collection %s by user %s", collectionID, requestorID)
	}
	var r Request
	if err := docs[0].Decode(&r); err != nil {
		return Request{}, err
	}
	return r, nil
}

// Grant is owner-only and requires the workflow to currently be in
// `requested`. It grants the collection visa to the requestor and appends a
// `granted` record.
func (s *Service) Grant(ctx context.Context, callerID, requestID string) (Request, error) {
	r, err := s.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if r.OwnerID != callerID {
		return Request{}, fault.AccessDenied("only the collection owner can grant access")
	}
	cur, err := s.current(ctx, r.CollectionID, r.RequestedBy)
	if err != nil {
		return Request{}, err
	}
	switch cur.Status {
	case StatusRequested:
	case StatusGranted:
		return Request{}, fault.InvalidState("access request has already been granted")
	default:
		return Request{}, fault.InvalidState("access was revoked, a new request has to be made")
	}

	c, err := s.catalog.CollectionByID(ctx, r.CollectionID)
	if err != nil {
		return Request{}, fault.Validation("collection %s does not resolve", r.CollectionID)
	}
	v, err := s.ownerVisa(ctx, r.OwnerID, c)
	if err != nil {
		return Request{}, err
	}
	if err := s.passports.Grant(ctx, r.RequestedBy, []string{v.ID}); err != nil {
		return Request{}, err
	}

	next, err := s.transition(ctx, r, cur, StatusGranted)
	if err != nil {
		return Request{}, err
	}
	s.notify(ctx, r.RequestorEmail, "Access granted for "+c.Name,
		"Your access request for collection "+c.Name+" has been granted.")
	_ = audit.LogEvent(ctx, "access_request.granted", map[string]any{
		"request_id":    next.ID,
		"collection_id": r.CollectionID,
		"requested_by":  r.RequestedBy,
	})
	return next, nil
}

// Revoke is owner-only and requires the workflow to currently be `granted`.
// It removes the collection visa from the requestor and appends a `revoked`
// record.
func (s *Service) Revoke(ctx context.Context, callerID, requestID string) (Request, error) {
	r, err := s.Get(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if r.OwnerID != callerID {
		return Request{}, fault.AccessDenied("only the collection owner can revoke access")
	}
	cur, err := s.current(ctx, r.CollectionID, r.RequestedBy)
	if err != nil {
		return Request{}, err
	}
	switch cur.Status {
	case StatusGranted:
	case StatusRequested:
		return Request{}, fault.InvalidState("access request has not been granted yet")
	default:
		return Request{}, fault.InvalidState("access has already been revoked")
	}

	c, err := s.catalog.CollectionByID(ctx, r.CollectionID)
	if err != nil {
		return Request{}, fault.Validation("collection %s does not resolve", r.CollectionID)
	}
	v, err := s.ownerVisa(ctx, r.OwnerID, c)
	if err != nil {
		return Request{}, err
	}
	if err := s.passports.Revoke(ctx, r.RequestedBy, []string{v.ID}); err != nil {
		return Request{}, err
	}

	next, err := s.transition(ctx, r, cur, StatusRevoked)
	if err != nil {
		return Request{}, err
	}
	s.notify(ctx, r.RequestorEmail, "Access revoked for "+c.Name,
		"Your access to collection "+c.Name+" has been revoked.")
	_ = audit.LogEvent(ctx, "access_request.revoked", map[string]any{
		"request_id":    next.ID,
		"collection_id": r.CollectionID,
		"requested_by":  r.RequestedBy,
	})
	return next, nil
}

// ownerVisa finds the collection's visa inside the owner's passport by the
// `{collection_id}:{collection_name}` convention.
func (s *Service) ownerVisa(ctx context.Context, ownerID string, c catalog.Collection) (visa.Visa, error) {
	assertions, err := s.passports.PassportFor(ctx, ownerID)
	if err != nil {
		return visa.Visa{}, err
	}
	want := visa.Name(c.ID, c.Name)
	for _, a := range assertions {
		if a.Visa.Name == want {
			return a.Visa, nil
		}
	}
	return visa.Visa{}, fault.NotFound("owner does not hold the visa for collection %s", c.ID)
}

// transition appends a new record carrying the next state. The prior record
// stays in place as audit trail; timestamps stay strictly increasing within
// a workflow so the newest record is unambiguous at second granularity.
func (s *Service) transition(ctx context.Context, r, cur Request, status string) (Request, error) {
	next := r
	next.ID = ids.New()
	next.Status = status
	next.RequestedAt = s.now().Unix()
	if next.RequestedAt <= cur.RequestedAt {
		next.RequestedAt = cur.RequestedAt + 1
	}
	if err := s.store.Insert(ctx, collRequests, next.ID, next); err != nil {
		return Request{}, err
	}
	obs.CountAccessTransition(status)
	return next, nil
}

// Delete hard-deletes one record. Allowed for the owner or the requestor.
func (s *Service) Delete(ctx context.Context, callerID, requestID string) error {
	r, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if callerID != r.OwnerID && callerID != r.RequestedBy {
		return fault.AccessDenied("only the owner or the requestor can delete an access request")
	}
	if err := s.store.Delete(ctx, collRequests, requestID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "access_request.deleted", map[string]any{"request_id": requestID})
	return nil
}

// SearchFilter narrows a search; zero values are ignored.
type SearchFilter struct {
	CollectionID   string `json:"collection_id,omitempty"`
	OwnerID        string `json:"owner_id,omitempty"`
	RequestedBy    string `json:"requested_by,omitempty"`
	OwnerEmail     string `json:"owner_email,omitempty"`
	RequestorEmail string `json:"requestor_email,omitempty"`
	Status         string `json:"status,omitempty"`
}

// Search returns matching records, newest first.
func (s *Service) Search(ctx context.Context, f SearchFilter) ([]Request, error) {
	q := docstore.NewQuery(collRequests).OrderBy("requested_at", true)
	for _, p := range []struct{ field, value string }{
		{"collection_id", f.CollectionID},
		{"owner_id", f.OwnerID},
		{"requested_by", f.RequestedBy},
		{"owner_email", f.OwnerEmail},
		{"requestor_email", f.RequestorEmail},
		{"status", f.Status},
	} {
		if p.value != "" {
			q.Where(p.field, docstore.OpEq, p.value)
		}
	}
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(docs))
	for _, d := range docs {
		var r Request
		if err := d.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteForCollection removes every record of a collection. Used by the
// collection delete cascade.
func (s *Service) DeleteForCollection(ctx context.Context, collectionID string) error {
	q := docstore.NewQuery(collRequests).Where("collection_id", docstore.OpEq, collectionID)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := s.store.Delete(ctx, collRequests, d.Key); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
	}
	return nil
}

// notify sends a best-effort workflow mail.
func (s *Service) notify(ctx context.Context, to, subject, body string) {
	if err := s.sender.Send(ctx, mail.Message{To: to, Subject: subject, Body: body}); err != nil {
		obs.Warn("access request mail failed", map[string]any{"to": to, "error": err.Error()})
	}
}
