package visa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lakegate.org/internal/fault"
)

// stubBroker is an in-memory Broker covering the visa half of the API.
type stubBroker struct {
	visas map[string]Visa
}

func newStubBroker() *stubBroker {
	return &stubBroker{visas: map[string]Visa{}}
}

func (b *stubBroker) CreateVisa(_ context.Context, v Visa) error {
	b.visas[v.ID] = v
	return nil
}

func (b *stubBroker) GetVisa(_ context.Context, id string) (Visa, error) {
	v, ok := b.visas[id]
	if !ok {
		return Visa{}, fault.NotFound("visa %s not found", id)
	}
	return v, nil
}

func (b *stubBroker) ListVisas(_ context.Context) ([]Visa, error) {
	out := make([]Visa, 0, len(b.visas))
	for _, v := range b.visas {
		out = append(out, v)
	}
	return out, nil
}

func (b *stubBroker) UpdateVisa(_ context.Context, v Visa) (Visa, error) {
	b.visas[v.ID] = v
	return v, nil
}

func (b *stubBroker) DeleteVisa(_ context.Context, id string) error {
	delete(b.visas, id)
	return nil
}

func (b *stubBroker) RegisterUser(context.Context, string) error          { return nil }
func (b *stubBroker) PutPassport(context.Context, string, []Assertion) error { return nil }
func (b *stubBroker) RemoveUser(context.Context, string) error            { return nil }

// stubDirectory records revocations and rewrites.
type stubDirectory struct {
	holders   map[string][]string
	revoked   map[string][]string
	rewritten []Visa
}

func (d *stubDirectory) HoldersOf(_ context.Context, visaID string) ([]string, error) {
	return d.holders[visaID], nil
}

func (d *stubDirectory) Revoke(_ context.Context, userID string, visaIDs []string) error {
	if d.revoked == nil {
		d.revoked = map[string][]string{}
	}
	d.revoked[userID] = append(d.revoked[userID], visaIDs...)
	return nil
}

func (d *stubDirectory) RewriteVisa(_ context.Context, v Visa) error {
	d.rewritten = append(d.rewritten, v)
	return nil
}

// stubRevoker records credential cleanup.
type stubRevoker struct {
	byVisa  map[string][]string
	revoked [][2]string
}

func (r *stubRevoker) CredentialsByVisa(_ context.Context, visaID string) ([]string, error) {
	return r.byVisa[visaID], nil
}

func (r *stubRevoker) RevokeVisa(_ context.Context, credentialID, visaID string) error {
	r.revoked = append(r.revoked, [2]string{credentialID, visaID})
	return nil
}

func TestCreateAndByName(t *testing.T) {
	broker := newStubBroker()
	svc := NewService(broker, &stubDirectory{holders: map[string][]string{}}, &stubRevoker{byVisa: map[string][]string{}})
	ctx := context.Background()

	v, err := svc.Create(ctx, Name("c-1", "genomics"), "lakegate", "access to genomics")
	require.NoError(t, err)
	require.NotEmpty(t, v.ID)

	found, err := svc.ByName(ctx, "c-1:genomics")
	require.NoError(t, err)
	require.Equal(t, v.ID, found.ID)

	_, err = svc.ByName(ctx, "c-2:proteomics")
	require.True(t, fault.IsKind(err, fault.KindNotFound))

	_, err = svc.Create(ctx, "", "lakegate", "")
	require.True(t, fault.IsKind(err, fault.KindValidation))
	_, err = svc.Create(ctx, "c-1:genomics", "", "")
	require.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestUpdateRewritesShadowsFirst(t *testing.T) {
	broker := newStubBroker()
	dir := &stubDirectory{holders: map[string][]string{}}
	svc := NewService(broker, dir, &stubRevoker{byVisa: map[string][]string{}})
	ctx := context.Background()

	v, err := svc.Create(ctx, "c-1:genomics", "lakegate", "")
	require.NoError(t, err)

	v.Description = "updated"
	updated, err := svc.Update(ctx, v)
	require.NoError(t, err)
	require.Equal(t, "updated", updated.Description)
	require.Len(t, dir.rewritten, 1)
	require.Equal(t, "updated", broker.visas[v.ID].Description)

	_, err = svc.Update(ctx, Visa{Name: "no-id"})
	require.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestDeleteCascades(t *testing.T) {
	broker := newStubBroker()
	dir := &stubDirectory{holders: map[string][]string{}}
	revoker := &stubRevoker{byVisa: map[string][]string{}}
	svc := NewService(broker, dir, revoker)
	ctx := context.Background()

	v, err := svc.Create(ctx, "c-1:genomics", "lakegate", "")
	require.NoError(t, err)
	dir.holders[v.ID] = []string{"u-1", "u-2"}
	revoker.byVisa[v.ID] = []string{"cred-1"}

	require.NoError(t, svc.Delete(ctx, v.ID))
	require.Equal(t, []string{v.ID}, dir.revoked["u-1"])
	require.Equal(t, []string{v.ID}, dir.revoked["u-2"])
	require.Equal(t, [][2]string{{"cred-1", v.ID}}, revoker.revoked)
	require.NotContains(t, broker.visas, v.ID)
}

func TestSplitName(t *testing.T) {
	id, name, ok := SplitName("c-1:genomics")
	require.True(t, ok)
	require.Equal(t, "c-1", id)
	require.Equal(t, "genomics", name)

	// the name component may itself contain separators
	_, name, ok = SplitName("c-1:a:b")
	require.True(t, ok)
	require.Equal(t, "a:b", name)

	for _, bad := range []string{"", "plain", ":x", "x:"} {
		_, _, ok := SplitName(bad)
		require.False(t, ok, "SplitName(%q)", bad)
	}
}
