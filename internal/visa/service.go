package visa

import (
	"context"

	"lakegate.org/internal/audit"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/ids"
)

// Service owns the visa lifecycle. Holder and credential cleanup are reached
// through narrow interfaces wired at the composition root.
type Service struct {
	broker    Broker
	passports PassportDirectory
	creds     CredentialRevoker
}

func NewService(broker Broker, passports PassportDirectory, creds CredentialRevoker) *Service {
	return &Service{broker: broker, passports: passports, creds: creds}
}

// Create mints a new visa at the broker.
func (s *Service) Create(ctx context.Context, name, issuer, description string) (Visa, error) {
	if name == "" || issuer == "" {
		return Visa{}, fault.Validation("visa name and issuer are required")
	}
	v := Visa{
		ID:          ids.New(),
		Name:        name,
		Issuer:      issuer,
		Description: description,
	}
	if err := s.broker.CreateVisa(ctx, v); err != nil {
		return Visa{}, fault.Upstream("unable to create visa at the passport broker", err)
	}
	_ = audit.LogEvent(ctx, "visa.created", map[string]any{"visa_id": v.ID, "visa_name": v.Name})
	return v, nil
}

// Get resolves one visa at the broker.
func (s *Service) Get(ctx context.Context, visaID string) (Visa, error) {
	return s.broker.GetVisa(ctx, visaID)
}

// List returns every visa known to the broker.
func (s *Service) List(ctx context.Context) ([]Visa, error) {
	return s.broker.ListVisas(ctx)
}

// ByName finds a visa by its exact name, or NotFound.
func (s *Service) ByName(ctx context.Context, name string) (Visa, error) {
	all, err := s.broker.ListVisas(ctx)
	if err != nil {
		return Visa{}, fault.Upstream("unable to list visas", err)
	}
	for _, v := range all {
		if v.Name == name {
			return v, nil
		}
	}
	return Visa{}, fault.NotFound("visa %q not found", name)
}

// Update rewrites every holder's shadow assertion first, then updates the
// canonical copy at the broker.
func (s *Service) Update(ctx context.Context, v Visa) (Visa, error) {
	if v.ID == "" {
		return Visa{}, fault.Validation("visa id is required")
	}
	if err := s.passports.RewriteVisa(ctx, v); err != nil {
		return Visa{}, err
	}
	updated, err := s.broker.UpdateVisa(ctx, v)
	if err != nil {
		return Visa{}, fault.Upstream("unable to update visa at the passport broker", err)
	}
	return updated, nil
}

// Delete cascades: revoke from every holder, strip from every credential,
// then delete at the broker. Best-effort: a failure mid-cascade leaves the
// completed steps applied and surfaces the error.
func (s *Service) Delete(ctx context.Context, visaID string) error {
	holders, err := s.passports.HoldersOf(ctx, visaID)
	if err != nil {
		return err
	}
	for _, userID := range holders {
		if err := s.passports.Revoke(ctx, userID, []string{visaID}); err != nil {
			return err
		}
	}

	credIDs, err := s.creds.CredentialsByVisa(ctx, visaID)
	if err != nil {
		return err
	}
	for _, credID := range credIDs {
		if err := s.creds.RevokeVisa(ctx, credID, visaID); err != nil {
			return err
		}
	}

	if err := s.broker.DeleteVisa(ctx, visaID); err != nil {
		return fault.Upstream("unable to delete visa at the passport broker", err)
	}
	_ = audit.LogEvent(ctx, "visa.deleted", map[string]any{"visa_id": visaID, "holders": len(holders)})
	return nil
}
