// Package visa models the capability layer: every private collection is
// gated by one externally-issued visa, and a user's passport is the set of
// visa assertions they hold.
package visa

import (
	"context"
	"fmt"
	"strings"
)

// StatusActive is the only assertion status this system issues.
const StatusActive = "Active"

// Visa is a named capability token. The canonical copy lives at the broker.
type Visa struct {
	ID          string `json:"id"`
	Name        string `json:"visaName"`
	Issuer      string `json:"visaIssuer"`
	Description string `json:"visaDescription"`
	Secret      string `json:"visaSecret,omitempty"`
}

// Assertion records one granted visa inside a passport.
type Assertion struct {
	Visa       Visa   `json:"passportVisa"`
	Status     string `json:"status,omitempty"`
	AssertedAt int64  `json:"assertedAt,omitempty"`
}

// Name builds the visa name for a collection. The id component exists to
// disambiguate collections sharing a name; visibility matching still only
// compares the name component (see SplitName callers).
func Name(collectionID, collectionName string) string {
	return fmt.Sprintf("%s:%s", collectionID, collectionName)
}

// SplitName parses `{collection_id}:{collection_name}`.
func SplitName(name string) (collectionID, collectionName string, ok bool) {
	id, rest, found := strings.Cut(name, ":")
	if !found || id == "" || rest == "" {
		return "", "", false
	}
	return id, rest, true
}

// Broker is the external passport-broker API. It is the source of truth for
// visa existence and passport issuance; local shadow copies are caches.
type Broker interface {
	CreateVisa(ctx context.Context, v Visa) error
	GetVisa(ctx context.Context, id string) (Visa, error)
	ListVisas(ctx context.Context) ([]Visa, error)
	UpdateVisa(ctx context.Context, v Visa) (Visa, error)
	DeleteVisa(ctx context.Context, id string) error

	RegisterUser(ctx context.Context, userID string) error
	PutPassport(ctx context.Context, userID string, assertions []Assertion) error
	RemoveUser(ctx context.Context, userID string) error
}

// PassportDirectory is the slice of the passport service the visa lifecycle
// needs: who holds a visa, revoking it, and rewriting shadow assertions.
type PassportDirectory interface {
	HoldersOf(ctx context.Context, visaID string) ([]string, error)
	Revoke(ctx context.Context, userID string, visaIDs []string) error
	RewriteVisa(ctx context.Context, v Visa) error
}

// CredentialRevoker is the slice of the credential vault the delete cascade
// needs.
type CredentialRevoker interface {
	CredentialsByVisa(ctx context.Context, visaID string) ([]string, error)
	RevokeVisa(ctx context.Context, credentialID, visaID string) error
}
