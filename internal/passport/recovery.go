package passport

import (
	"context"
	"time"

	"lakegate.org/internal/audit"
	"lakegate.org/internal/auth"
	"lakegate.org/internal/crypt"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/mail"
	"lakegate.org/internal/obs"
)

const recoveryTTL = 30 * time.Minute

// recoveryTokens seals and opens password-recovery tokens. The token is the
// whole state; nothing is stored server-side.
type recoveryTokens struct {
	box *crypt.Box
}

// NewRecoveryTokens wraps the service crypt box for recovery tokens.
func NewRecoveryTokens(box *crypt.Box) *recoveryTokens {
	return &recoveryTokens{box: box}
}

type recoveryClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"expires_at"`
}

// RequestPasswordRecovery mails a sealed recovery token to the account's
// email. An unknown email is reported to the caller as NotFound.
func (s *Service) RequestPasswordRecovery(ctx context.Context, email string) error {
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	token, err := s.recovery.box.Seal(recoveryClaims{
		UserID:    u.ID,
		Email:     u.Email,
		ExpiresAt: s.now().Add(recoveryTTL).Unix(),
	})
	if err != nil {
		return err
	}
	msg := mail.Message{
		To:      u.Email,
		Subject: "Password recovery",
		Body:    "Hi " + u.Name + ",\n\nuse this token to set a new password within 30 minutes:\n\n" + token,
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return fault.Upstream("unable to send the recovery mail", err)
	}
	_ = audit.LogEvent(ctx, "user.recovery_requested", map[string]any{"user_id": u.ID})
	return nil
}

// ChangePassword sets a new password from a recovery token.
func (s *Service) ChangePassword(ctx context.Context, token, newPassword string) error {
	var claims recoveryClaims
	if err := s.recovery.box.Open(token, &claims); err != nil {
		return fault.InvalidToken("recovery token is not valid")
	}
	if s.now().Unix() > claims.ExpiresAt {
		return fault.TokenExpired("recovery token has expired")
	}
	u, err := s.rawUser(ctx, claims.UserID)
	if err != nil {
		return err
	}
	if u.Email != claims.Email {
		return fault.InvalidToken("recovery token is not valid")
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fault.Validation("unusable password: %v", err)
	}
	u.Password = hash
	if err := s.store.Upsert(ctx, collInfo, u.ID, u); err != nil {
		return err
	}

	notice := mail.Message{
		To:      u.Email,
		Subject: "Your password was changed",
		Body:    "Hi " + u.Name + ",\n\nthe password of your account was just changed. If this was not you, contact an administrator.",
	}
	if err := s.sender.Send(ctx, notice); err != nil {
		obs.Warn("password change notice mail failed", map[string]any{"user_id": u.ID, "error": err.Error()})
	}
	_ = audit.LogEvent(ctx, "user.password_changed", map[string]any{"user_id": u.ID})
	return nil
}
