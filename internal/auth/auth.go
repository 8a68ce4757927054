// Package auth issues and validates the bearer tokens gatekeeping every
// request: a short-lived access token plus a 7-day refresh token, both HS256.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lakegate.org/internal/fault"
)

const (
	issuer = "lakegate"

	// Refresh tokens always live 7 days; only the access TTL is configured.
	refreshTTL = 7 * 24 * time.Hour
)

// Identity is the decoded caller: enough for ownership and role checks.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// Claims are the JWT claims carried by both token types.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"user_email"`
	Role   string `json:"user_role"`
	jwt.RegisteredClaims
}

// Account is the stored user record auth needs to verify a login. The user
// directory (passport service) provides it.
type Account struct {
	ID           string
	Email        string
	Role         string
	PasswordHash string
	Active       bool
}

// AccountSource resolves login emails to stored accounts.
type AccountSource interface {
	AccountByEmail(ctx context.Context, email string) (Account, error)
}

// TokenPair is the result of a successful authentication.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Service implements the token lifecycle.
type Service struct {
	users         AccountSource
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	now           func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService builds the auth service. accessTTL comes from configuration in
// minutes; the refresh lifetime is fixed.
func NewService(users AccountSource, accessSecret, refreshSecret string, accessTTL time.Duration, opts ...Option) (*Service, error) {
	if strings.TrimSpace(accessSecret) == "" || strings.TrimSpace(refreshSecret) == "" {
		return nil, errors.New("auth: signing secrets are not configured")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	svc := &Service{
		users:         users,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Authenticate verifies the password and issues a fresh token pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (TokenPair, Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, Identity{}, fault.AccessDenied("invalid credentials")
	}
	account, err := s.users.AccountByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, Identity{}, fault.AccessDenied("invalid credentials")
	}
	if !account.Active {
		return TokenPair{}, Identity{}, fault.AccessDenied("account is inactive")
	}
	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		return TokenPair{}, Identity{}, fault.AccessDenied("invalid credentials")
	}

	id := Identity{UserID: account.ID, Email: account.Email, Role: account.Role}
	pair, err := s.mintPair(id)
	if err != nil {
		return TokenPair{}, Identity{}, err
	}
	return pair, id, nil
}

// Refresh re-issues an access token from refresh-token claims without
// re-validating the password.
func (s *Service) Refresh(id Identity) (string, time.Time, error) {
	return s.sign(id, s.accessSecret, s.accessTTL)
}

// Decode validates signature and expiry and returns the identity claims.
func (s *Service) Decode(token string, refresh bool) (Identity, error) {
	secret := s.accessSecret
	if refresh {
		secret = s.refreshSecret
	}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fault.TokenExpired("token has expired")
		}
		return Identity{}, fault.InvalidToken("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.UserID) == "" {
		return Identity{}, fault.InvalidToken("invalid token")
	}
	return Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

func (s *Service) mintPair(id Identity) (TokenPair, error) {
	access, accessExp, err := s.sign(id, s.accessSecret, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.sign(id, s.refreshSecret, refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) sign(id Identity, secret []byte, ttl time.Duration) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
