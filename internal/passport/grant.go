package passport

import (
	"context"
	"errors"
	"strings"

	"lakegate.org/internal/audit"
	"lakegate.org/internal/docstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/obs"
	"lakegate.org/internal/visa"
)

// PassportFor returns a user's current assertion set. A user with no shadow
// document simply holds nothing.
func (s *Service) PassportFor(ctx context.Context, userID string) ([]visa.Assertion, error) {
	doc, err := s.store.Get(ctx, collPassport, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var p Passport
	if err := doc.Decode(&p); err != nil {
		return nil, err
	}
	return p.Assertions, nil
}

// resolveAll resolves every visa id at the broker. One unresolvable id fails
// the whole batch, listing every invalid id. Resolution happens before any
// passport write, but broker-side reads are still network calls and can
// interleave with concurrent mutations.
func (s *Service) resolveAll(ctx context.Context, visaIDs []string) ([]visa.Visa, error) {
	resolved := make([]visa.Visa, 0, len(visaIDs))
	var invalid []string
	for _, id := range visaIDs {
		v, err := s.broker.GetVisa(ctx, id)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				invalid = append(invalid, id)
				continue
			}
			return nil, fault.Upstream("unable to resolve visas at the passport broker", err)
		}
		resolved = append(resolved, v)
	}
	if len(invalid) > 0 {
		return nil, fault.Validation("invalid visa ids: %s", strings.Join(invalid, ", "))
	}
	return resolved, nil
}

// writeThrough replaces the user's passport at the broker, then upserts the
// local shadow. Broker first: the shadow is a cache, never ahead of the
// authority.
func (s *Service) writeThrough(ctx context.Context, userID string, assertions []visa.Assertion) error {
	if assertions == nil {
		assertions = []visa.Assertion{}
	}
	if err := s.broker.PutPassport(ctx, userID, assertions); err != nil {
		return fault.Upstream("unable to update passport at the broker", err)
	}
	return s.store.Upsert(ctx, collPassport, userID, Passport{ID: userID, Assertions: assertions})
}

// Grant adds visas to a user's passport. Granting an already-held visa is a
// no-op for that visa: no duplicate, no new timestamp.
func (s *Service) Grant(ctx context.Context, userID string, visaIDs []string) error {
	if _, err := s.rawUser(ctx, userID); err != nil {
		return err
	}
	resolved, err := s.resolveAll(ctx, visaIDs)
	if err != nil {
		return err
	}
	current, err := s.PassportFor(ctx, userID)
	if err != nil {
		return err
	}

	held := make(map[string]bool, len(current))
	for _, a := range current {
		held[a.Visa.ID] = true
	}
	merged := current
	for _, v := range resolved {
		if held[v.ID] {
			continue
		}
		held[v.ID] = true
		merged = append(merged, visa.Assertion{
			Visa:       v,
			Status:     visa.StatusActive,
			AssertedAt: s.now().Unix(),
		})
	}
	if err := s.writeThrough(ctx, userID, merged); err != nil {
		return err
	}
	obs.CountVisaOp("grant")
	_ = audit.LogEvent(ctx, "passport.granted", map[string]any{"user_id": userID, "visa_ids": visaIDs})
	return nil
}

// Revoke removes visas from a user's passport. Ids are validated with the
// same all-or-nothing rule as Grant; revoking a visa the user does not hold
// is a no-op for that visa.
func (s *Service) Revoke(ctx context.Context, userID string, visaIDs []string) error {
	resolved, err := s.resolveAll(ctx, visaIDs)
	if err != nil {
		return err
	}
	current, err := s.PassportFor(ctx, userID)
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(resolved))
	for _, v := range resolved {
		drop[v.ID] = true
	}
	kept := make([]visa.Assertion, 0, len(current))
	for _, a := range current {
		if !drop[a.Visa.ID] {
			kept = append(kept, a)
		}
	}
	if err := s.writeThrough(ctx, userID, kept); err != nil {
		return err
	}
	obs.CountVisaOp("revoke")
	_ = audit.LogEvent(ctx, "passport.revoked", map[string]any{"user_id": userID, "visa_ids": visaIDs})
	return nil
}

// HoldersOf lists the user ids currently holding a visa.
func (s *Service) HoldersOf(ctx context.Context, visaID string) ([]string, error) {
	q := docstore.NewQuery(collPassport).
		AnyEquals("a", "passportVisaAssertions", "passportVisa.id", visaID)
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		var p Passport
		if err := d.Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, p.ID)
	}
	return out, nil
}

// RewriteVisa replaces the stored copy of a visa inside every passport that
// holds it. Used before the canonical copy is updated at the broker.
func (s *Service) RewriteVisa(ctx context.Context, v visa.Visa) error {
	holders, err := s.HoldersOf(ctx, v.ID)
	if err != nil {
		return err
	}
	for _, userID := range holders {
		assertions, err := s.PassportFor(ctx, userID)
		if err != nil {
			return err
		}
		for i := range assertions {
			if assertions[i].Visa.ID == v.ID {
				assertions[i].Visa = v
			}
		}
		if err := s.writeThrough(ctx, userID, assertions); err != nil {
			return err
		}
	}
	return nil
}

// AccessibleCollectionNames derives the set of collection names a user can
// see from their held visas. Matching is by the name component only; two
// collections sharing a name are indistinguishable here.
func (s *Service) AccessibleCollectionNames(ctx context.Context, userID string) (map[string]bool, error) {
	names := map[string]bool{}
	if userID == "" {
		return names, nil
	}
	assertions, err := s.PassportFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range assertions {
		if _, name, ok := visa.SplitName(a.Visa.Name); ok {
			names[name] = true
		}
	}
	return names, nil
}
