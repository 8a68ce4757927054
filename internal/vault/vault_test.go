package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lakegate.org/internal/crypt"
	"lakegate.org/internal/docstore/memstore"
	"lakegate.org/internal/fault"
	"lakegate.org/internal/visa"
)

type stubResolver struct {
	known map[string]bool
}

func (s stubResolver) GetVisa(_ context.Context, id string) (visa.Visa, error) {
	if !s.known[id] {
		return visa.Visa{}, fault.NotFound("visa %s not found", id)
	}
	return visa.Visa{ID: id}, nil
}

func newTestVault(t *testing.T, knownVisas ...string) *Service {
	t.Helper()
	box, err := crypt.New("vault-test-secret")
	require.NoError(t, err)
	known := map[string]bool{}
	for _, id := range knownVisas {
		known[id] = true
	}
	return NewService(memstore.New("credentials"), box, stubResolver{known: known})
}

func TestCreateSealsPayload(t *testing.T) {
	svc := newTestVault(t, "v-1")
	ctx := context.Background()

	secret := map[string]any{"access_key": "AK", "secret_key": "SK"}
	cred, err := svc.Create(ctx, "S3", []string{"b1", "b2"}, []string{"v-1"}, secret)
	require.NoError(t, err)
	require.Equal(t, "s3", cred.StorageType)
	require.NotContains(t, cred.Secret, "AK")

	opened, err := svc.Open(cred)
	require.NoError(t, err)
	require.Equal(t, secret, opened)
}

func TestCreateValidatesAllVisas(t *testing.T) {
	svc := newTestVault(t, "v-1")
	ctx := context.Background()

	_, err := svc.Create(ctx, "s3", []string{"b1"}, []string{"v-1", "v-bad", "v-worse"}, nil)
	require.True(t, fault.IsKind(err, fault.KindValidation))
	require.Contains(t, err.Error(), "v-bad")
	require.Contains(t, err.Error(), "v-worse")

	// nothing was stored
	creds, listErr := svc.List(ctx)
	require.NoError(t, listErr)
	require.Empty(t, creds)
}

func TestByStorageBucket(t *testing.T) {
	svc := newTestVault(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "hdfs", []string{"warehouse"}, nil, map[string]any{"user": "hive"})
	require.NoError(t, err)

	got, err := svc.ByStorageBucket(ctx, "HDFS", "warehouse")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = svc.ByStorageBucket(ctx, "hdfs", "other")
	require.True(t, fault.IsKind(err, fault.KindNotFound))

	_, err = svc.ByStorageBucket(ctx, "s3", "warehouse")
	require.True(t, fault.IsKind(err, fault.KindNotFound), "storage type must match too")
}

func TestGrantAndRevokeVisa(t *testing.T) {
	svc := newTestVault(t, "v-1")
	ctx := context.Background()

	cred, err := svc.Create(ctx, "s3", []string{"b1"}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.GrantVisa(ctx, cred.ID, "v-1"))
	require.NoError(t, svc.GrantVisa(ctx, cred.ID, "v-1"), "re-grant is a no-op")

	ids, err := svc.CredentialsByVisa(ctx, "v-1")
	require.NoError(t, err)
	require.Equal(t, []string{cred.ID}, ids)

	got, err := svc.Get(ctx, cred.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"v-1"}, got.VisaIDs)

	require.NoError(t, svc.RevokeVisa(ctx, cred.ID, "v-1"))
	require.NoError(t, svc.RevokeVisa(ctx, cred.ID, "v-1"), "re-revoke is a no-op")

	ids, err = svc.CredentialsByVisa(ctx, "v-1")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestListBuckets(t *testing.T) {
	svc := newTestVault(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "s3", []string{"b2", "b1"}, nil, nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "hdfs", []string{"warehouse"}, nil, nil)
	require.NoError(t, err)

	buckets, err := svc.ListBuckets(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"s3":   {"b1", "b2"},
		"hdfs": {"warehouse"},
	}, buckets)
}

func TestDeleteCredential(t *testing.T) {
	svc := newTestVault(t)
	ctx := context.Background()

	cred, err := svc.Create(ctx, "s3", []string{"b1"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, cred.ID))
	require.True(t, fault.IsKind(svc.Delete(ctx, cred.ID), fault.KindNotFound))

	_, err = svc.Get(ctx, cred.ID)
	require.True(t, fault.IsKind(err, fault.KindNotFound))
}
