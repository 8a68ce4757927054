package accessreq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lakegate.org/internal/catalog"
	"lakegate.org/internal/docstore/memstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/mail"
	"lakegate.org/internal/passport"
	"lakegate.org/internal/visa"
)

type fakeDirectory struct {
	users map[string]passport.User
}

func (f fakeDirectory) GetUser(_ context.Context, userID string) (passport.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return passport.User{}, fault.NotFound("user %s not found", userID)
	}
	return u, nil
}

type fakeCatalog struct {
	collections map[string]catalog.Collection
}

func (f fakeCatalog) CollectionByID(_ context.Context, collectionID string) (catalog.Collection, error) {
	c, ok := f.collections[collectionID]
	if !ok {
		return catalog.Collection{}, fault.NotFound("collection %s not found", collectionID)
	}
	return c, nil
}

// fakePassports records grant and revoke calls.
type fakePassports struct {
	held    map[string][]visa.Assertion
	grants  map[string][]string
	revokes map[string][]string
}

func newFakePassports() *fakePassports {
	return &fakePassports{
		held:    map[string][]visa.Assertion{},
		grants:  map[string][]string{},
		revokes: map[string][]string{},
	}
}

func (f *fakePassports) PassportFor(_ context.Context, userID string) ([]visa.Assertion, error) {
	return f.held[userID], nil
}

func (f *fakePassports) Grant(_ context.Context, userID string, visaIDs []string) error {
	f.grants[userID] = append(f.grants[userID], visaIDs...)
	return nil
}

func (f *fakePassports) Revoke(_ context.Context, userID string, visaIDs []string) error {
	f.revokes[userID] = append(f.revokes[userID], visaIDs...)
	return nil
}

type workflow struct {
	svc       *Service
	passports *fakePassports
	sender    *mail.Nop
	clock     time.Time
}

// newWorkflow seeds an owner holding the collection visa and a requestor.
// The clock advances one second per observation so append-only transitions
// order deterministically.
func newWorkflow(t *testing.T) *workflow {
	t.Helper()
	w := &workflow{
		passports: newFakePassports(),
		sender:    &mail.Nop{},
		clock:     time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	users := fakeDirectory{users: map[string]passport.User{
		"u-owner":     {ID: "u-owner", Email: "owner@example.org"},
		"u-requestor": {ID: "u-requestor", Email: "req@example.org"},
	}}
	cat := fakeCatalog{collections: map[string]catalog.Collection{
		"c-1": {ID: "c-1", Name: "genomics", InsertedBy: "u-owner:owner@example.org"},
	}}
	w.passports.held["u-owner"] = []visa.Assertion{{
		Visa:   visa.Visa{ID: "v-1", Name: visa.Name("c-1", "genomics")},
		Status: visa.StatusActive,
	}}
	w.svc = NewService(memstore.New("access_requests"), users, cat, w.passports, w.sender)
	w.svc.now = func() time.Time {
		w.clock = w.clock.Add(time.Second)
		return w.clock
	}
	return w
}

func (w *workflow) request(t *testing.T) Request {
	t.Helper()
	r, err := w.svc.Create(context.Background(), "c-1", "u-owner", "u-requestor")
	require.NoError(t, err)
	return r
}

func TestCreateValidatesEveryParty(t *testing.T) {
	w := newWorkflow(t)
	ctx := context.Background()

	_, err := w.svc.Create(ctx, "c-1", "u-ghost", "u-requestor")
	require.True(t, fault.IsKind(err, fault.KindValidation))
	require.Contains(t, err.Error(), "owner")

	_, err = w.svc.Create(ctx, "c-1", "u-owner", "u-ghost")
	require.True(t, fault.IsKind(err, fault.KindValidation))
	require.Contains(t, err.Error(), "requestor")

	_, err = w.svc.Create(ctx, "c-ghost", "u-owner", "u-requestor")
	require.True(t, fault.IsKind(err, fault.KindValidation))
	require.Contains(t, err.Error(), "collection")
}

func TestCreateNotifiesOwner(t *testing.T) {
	w := newWorkflow(t)

	r := w.request(t)
	require.Equal(t, StatusRequested, r.Status)
	require.Equal(t, "owner@example.org", r.OwnerEmail)
	require.Len(t, w.sender.Sent, 1)
	require.Equal(t, "owner@example.org", w.sender.Sent[0].To)
}

func TestGrantRevokeLifecycle(t *testing.T) {
	w := newWorkflow(t)
	ctx := context.Background()

	r := w.request(t)

	granted, err := w.svc.Grant(ctx, "u-owner", r.ID)
	require.NoError(t, err)
	require.Equal(t, StatusGranted, granted.Status)
	require.NotEqual(t, r.ID, granted.ID, "a transition mints a new record")
	require.Equal(t, []string{"v-1"}, w.passports.grants["u-requestor"])

	revoked, err := w.svc.Revoke(ctx, "u-owner", granted.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRevoked, revoked.Status)
	require.Equal(t, []string{"v-1"}, w.passports.revokes["u-requestor"])

	// the full trail stays queryable, newest first
	trail, err := w.svc.Search(ctx, SearchFilter{CollectionID: "c-1"})
	require.NoError(t, err)
	require.Len(t, trail, 3)
	require.Equal(t, StatusRevoked, trail[0].Status)
	require.Equal(t, StatusGranted, trail[1].Status)
	require.Equal(t, StatusRequested, trail[2].Status)

	// requestor got both workflow mails on top of the owner's
	require.Len(t, w.sender.Sent, 3)
	require.Equal(t, "req@example.org", w.sender.Sent[1].To)
	require.Equal(t, "req@example.org", w.sender.Sent[2].To)
}

func TestGrantIsOwnerOnly(t *testing.T) {
	w := newWorkflow(t)
	r := w.request(t)

	_, err := w.svc.Grant(context.Background(), "u-requestor", r.ID)
	require.True(t, fault.IsKind(err, fault.KindAccessDenied))
}

func TestGrantTwiceFails(t *testing.T) {
	w := newWorkflow(t)
	ctx := context.Background()
	r := w.request(t)

	_, err := w.svc.Grant(ctx, "u-owner", r.ID)
	require.NoError(t, err)

	_, err = w.svc.Grant(ctx, "u-owner", r.ID)
	require.True(t, fault.IsKind(err, fault.KindInvalidState))
	require.Contains(t, err.Error(), "already been granted")
	require.Len(t, w.passports.grants["u-requestor"], 1, "no second visa grant")
}

func TestRevokeBeforeGrantFails(t *testing.T) {
	w := newWorkflow(t)
	r := w.request(t)

	_, err := w.svc.Revoke(context.Background(), "u-owner", r.ID)
	require.True(t, fault.IsKind(err, fault.KindInvalidState))
	require.Contains(t, err.Error(), "has not been granted yet")
}

func TestGrantAfterRevokeRequiresNewRequest(t *testing.T) {
	w := newWorkflow(t)
	ctx := context.Background()
	r := w.request(t)

	granted, err := w.svc.Grant(ctx, "u-owner", r.ID)
	require.NoError(t, err)
	_, err = w.svc.Revoke(ctx, "u-owner", granted.ID)
	require.NoError(t, err)

	// neither the original nor the granted record can restart the workflow
	_, err = w.svc.Grant(ctx, "u-owner", r.ID)
	require.True(t, fault.IsKind(err, fault.KindInvalidState))
	require.Contains(t, err.Error(), "new request has to be made")

	_, err = w.svc.Revoke(ctx, "u-owner", granted.ID)
	require.True(t, fault.IsKind(err, fault.KindInvalidState))
	require.Contains(t, err.Error(), "already been revoked")

	// a fresh request restarts it
	again := w.request(t)
	_, err = w.svc.Grant(ctx, "u-owner", again.ID)
	require.NoError(t, err)
}

func TestGrantRequiresOwnerVisa(t *testing.T) {
	w := newWorkflow(t)
	w.passports.held["u-owner"] = nil
	r := w.request(t)

	_, err := w.svc.Grant(context.Background(), "u-owner", r.ID)
	require.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestDelete(t *testing.T) {
	w := newWorkflow(t)
	ctx := context.Background()
	r := w.request(t)

	err := w.svc.Delete(ctx, "u-stranger", r.ID)
	require.True(t, fault.IsKind(err, fault.KindAccessDenied))

	require.NoError(t, w.svc.Delete(ctx, "u-requestor", r.ID))
	_, err = w.svc.Get(ctx, r.ID)
	require.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestSearchFilters(t *testing.T) {
	w := newWorkflow(t)
	ctx := context.Background()
	r := w.request(t)
	_, err := w.svc.Grant(ctx, "u-owner", r.ID)
	require.NoError(t, err)

	byStatus, err := w.svc.Search(ctx, SearchFilter{Status: StatusGranted})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)

	byRequestor, err := w.svc.Search(ctx, SearchFilter{RequestedBy: "u-requestor"})
	require.NoError(t, err)
	require.Len(t, byRequestor, 2)

	none, err := w.svc.Search(ctx, SearchFilter{RequestedBy: "u-ghost"})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDeleteForCollection(t *testing.T) {
	w := newWorkflow(t)
	ctx := context.Background()
	r := w.request(t)
	_, err := w.svc.Grant(ctx, "u-owner", r.ID)
	require.NoError(t, err)

	require.NoError(t, w.svc.DeleteForCollection(ctx, "c-1"))
	left, err := w.svc.Search(ctx, SearchFilter{CollectionID: "c-1"})
	require.NoError(t, err)
	require.Empty(t, left)
}
