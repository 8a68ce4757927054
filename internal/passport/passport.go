// Package passport owns user records and their visa assertion sets. The
// broker remains the issuing authority; this package keeps the local shadow
// copies in sync on every mutation.
package passport

import (
	"context"
	"errors"
	"strings"
	"time"

	"lakegate.org/internal/audit"
	"lakegate.org/internal/auth"
	"lakegate.org/internal/docstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/ids"
	"lakegate.org/internal/mail"
	"lakegate.org/internal/obs"
	"lakegate.org/internal/visa"
)

const (
	collInfo     = "info"
	collPassport = "visa"
)

// User is one account record.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password,omitempty"`
	Role       string `json:"role"`
	Active     bool   `json:"active"`
	InsertedAt int64  `json:"inserted_at"`
}

// Passport is the local shadow of a user's assertion set at the broker.
type Passport struct {
	ID         string           `json:"id"`
	Assertions []visa.Assertion `json:"passportVisaAssertions"`
}

// OwnedCollection identifies one catalog record a user owns.
type OwnedCollection struct {
	ID   string
	Name string
}

// CollectionTransfer is the slice of the catalog that user deletion and
// ownership transfer need.
type CollectionTransfer interface {
	OwnedCollections(ctx context.Context, userID string) ([]OwnedCollection, error)
	DeleteCollection(ctx context.Context, ownerID, collectionID string) error
	SetOwner(ctx context.Context, collectionID, owner string) error
}

// Service manages users and their passports.
type Service struct {
	store       docstore.Store
	broker      visa.Broker
	sender      mail.Sender
	collections CollectionTransfer
	recovery    *recoveryTokens
	now         func() time.Time
}

var (
	_ auth.AccountSource     = (*Service)(nil)
	_ visa.PassportDirectory = (*Service)(nil)
)

func NewService(store docstore.Store, broker visa.Broker, sender mail.Sender, recovery *recoveryTokens) *Service {
	return &Service{
		store:    store,
		broker:   broker,
		sender:   sender,
		recovery: recovery,
		now:      time.Now,
	}
}

// BindCollections wires the catalog slice after construction. The catalog
// itself depends on this service, so the composition root closes the loop
// here instead of through constructor arguments.
func (s *Service) BindCollections(c CollectionTransfer) { s.collections = c }

// CreateUser registers a new account. The welcome mail is best-effort; a
// broker registration failure is not.
func (s *Service) CreateUser(ctx context.Context, name, email, password, role string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fault.Validation("a valid email is required")
	}
	if strings.TrimSpace(name) == "" {
		return User{}, fault.Validation("name is required")
	}
	if role == "" {
		role = "user"
	}
	if role != "user" && role != "admin" {
		return User{}, fault.Validation("role must be user or admin")
	}

	if _, err := s.userByEmail(ctx, email); err == nil {
		return User{}, fault.Validation("email %s is already registered", email)
	} else if !fault.IsKind(err, fault.KindNotFound) {
		return User{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, fault.Validation("unusable password: %v", err)
	}
	u := User{
		ID:         ids.New(),
		Name:       strings.TrimSpace(name),
		Email:      email,
		Password:   hash,
		Role:       role,
		Active:     true,
		InsertedAt: s.now().Unix(),
	}
	if err := s.store.Insert(ctx, collInfo, u.ID, u); err != nil {
		return User{}, err
	}
	if err := s.broker.RegisterUser(ctx, u.ID); err != nil {
		return User{}, fault.Upstream("unable to register user at the passport broker", err)
	}

	welcome := mail.Message{
		To:      u.Email,
		Subject: "Welcome to the lakehouse",
		Body:    "Hi " + u.Name + ",\n\nyour account has been created. You can sign in with this email address.",
	}
	if err := s.sender.Send(ctx, welcome); err != nil {
		obs.Warn("welcome mail failed", map[string]any{"user_id": u.ID, "error": err.Error()})
	}

	_ = audit.LogEvent(ctx, "user.created", map[string]any{"user_id": u.ID, "email": u.Email})
	u.Password = ""
	return u, nil
}

// GetUser loads one user. The password hash is stripped.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	u, err := s.rawUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	u.Password = ""
	return u, nil
}

func (s *Service) rawUser(ctx context.Context, userID string) (User, error) {
	doc, err := s.store.Get(ctx, collInfo, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return User{}, fault.NotFound("user %s not found", userID)
		}
		return User{}, err
	}
	var u User
	if err := doc.Decode(&u); err != nil {
		return User{}, err
	}
	return u, nil
}

// ListUsers returns every account, password hashes stripped.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	docs, err := s.store.GetAll(ctx, collInfo)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(docs))
	for _, d := range docs {
		var u User
		if err := d.Decode(&u); err != nil {
			return nil, err
		}
		u.Password = ""
		out = append(out, u)
	}
	return out, nil
}

// GetUserByEmail loads one user by email, password hash stripped.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (User, error) {
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	u.Password = ""
	return u, nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	q := docstore.NewQuery(collInfo).Where("email", docstore.OpEq, email)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return User{}, err
	}
	if len(docs) == 0 {
		return User{}, fault.NotFound("user with email %s not found", email)
	}
	var u User
	if err := docs[0].Decode(&u); err != nil {
		return User{}, err
	}
	return u, nil
}

// AccountByEmail resolves a login email for the auth service.
func (s *Service) AccountByEmail(ctx context.Context, email string) (auth.Account, error) {
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return auth.Account{}, err
	}
	return auth.Account{
		ID:           u.ID,
		Email:        u.Email,
		Role:         u.Role,
		PasswordHash: u.Password,
		Active:       u.Active,
	}, nil
}

// DeleteUser removes an account. Only the user themselves or an admin may
// do it. Owned collections are either transferred to newOwnerID or deleted.
// The cascade is a sequence of independent calls; a mid-way failure leaves
// the completed steps applied.
func (s *Service) DeleteUser(ctx context.Context, userID, newOwnerID string) error {
	caller, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return fault.AccessDenied("authentication required")
	}
	if caller.UserID != userID && caller.Role != "admin" {
		return fault.AccessDenied("only the account owner or an admin can delete a user")
	}
	u, err := s.rawUser(ctx, userID)
	if err != nil {
		return err
	}

	if newOwnerID != "" {
		if err := s.TransferOwnership(ctx, userID, newOwnerID); err != nil {
			return err
		}
	} else if s.collections != nil {
		owned, err := s.collections.OwnedCollections(ctx, userID)
		if err != nil {
			return err
		}
		for _, c := range owned {
			if err := s.collections.DeleteCollection(ctx, userID, c.ID); err != nil {
				return err
			}
		}
	}

	if err := s.store.Delete(ctx, collPassport, userID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	if err := s.broker.RemoveUser(ctx, userID); err != nil {
		return fault.Upstream("unable to remove user at the passport broker", err)
	}
	if err := s.store.Delete(ctx, collInfo, userID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "user.deleted", map[string]any{"user_id": userID, "email": u.Email, "transferred_to": newOwnerID})
	return nil
}

// TransferOwnership moves every collection owned by fromID to toID: the
// matching visas are granted to the new owner and the owner strings
// rewritten.
func (s *Service) TransferOwnership(ctx context.Context, fromID, toID string) error {
	if s.collections == nil {
		return fault.InvalidState("collection transfer is not configured")
	}
	to, err := s.rawUser(ctx, toID)
	if err != nil {
		return err
	}
	owned, err := s.collections.OwnedCollections(ctx, fromID)
	if err != nil {
		return err
	}
	fromPassport, err := s.PassportFor(ctx, fromID)
	if err != nil {
		return err
	}

	var transferable []visa.Assertion
	for _, c := range owned {
		want := visa.Name(c.ID, c.Name)
		for _, a := range fromPassport {
			if a.Visa.Name == want {
				transferable = append(transferable, a)
				break
			}
		}
	}
	if len(transferable) > 0 {
		visaIDs := make([]string, 0, len(transferable))
		for _, a := range transferable {
			visaIDs = append(visaIDs, a.Visa.ID)
		}
		if err := s.Grant(ctx, toID, visaIDs); err != nil {
			return err
		}
	}
	for _, c := range owned {
		if err := s.collections.SetOwner(ctx, c.ID, to.ID+":"+to.Email); err != nil {
			return err
		}
	}
	_ = audit.LogEvent(ctx, "user.ownership_transferred", map[string]any{
		"from_user_id": fromID,
		"to_user_id":   toID,
		"collections":  len(owned),
	})
	return nil
}
