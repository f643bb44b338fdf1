package apikeysrv

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanonasis/authgate/pkg/apikey"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/user"
)

type fakeRepo struct {
	byID map[string]*apikey.APIKey
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]*apikey.APIKey)}
}

func (f *fakeRepo) Save(_ context.Context, key apikey.APIKey) error {
	f.byID[key.ID] = &key
	return nil
}

func (f *fakeRepo) FindByID(_ context.Context, id string) (*apikey.APIKey, error) {
	k, ok := f.byID[id]
	if !ok {
		return nil, apikey.ErrKeyNotFound()
	}
	cp := *k
	return &cp, nil
}

func (f *fakeRepo) FindByHash(_ context.Context, hash string) (*apikey.APIKey, error) {
	for _, k := range f.byID {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, apikey.ErrKeyNotFound()
}

func (f *fakeRepo) FindByUser(_ context.Context, userID kernel.UserID, page kernel.PaginationOptions) ([]*apikey.APIKey, int, error) {
	page = page.Normalize()
	var all []*apikey.APIKey
	for _, k := range f.byID {
		if k.UserID == userID {
			cp := *k
			all = append(all, &cp)
		}
	}
	total := len(all)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.PageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (f *fakeRepo) FindByOrganization(_ context.Context, orgID kernel.OrgID) ([]*apikey.APIKey, error) {
	var out []*apikey.APIKey
	for _, k := range f.byID {
		if k.OrganizationID == orgID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) Rotate(_ context.Context, old apikey.APIKey, replacement apikey.APIKey, graceUntil *time.Time) error {
	stored, ok := f.byID[old.ID]
	if !ok || !stored.IsActive {
		return apikey.ErrKeyRevoked()
	}
	stored.IsActive = false
	stored.GraceUntil = graceUntil
	stored.ReplacedByID = &replacement.ID
	f.byID[replacement.ID] = &replacement
	return nil
}

func (f *fakeRepo) Revoke(_ context.Context, id string) error {
	if k, ok := f.byID[id]; ok {
		k.IsActive = false
		k.GraceUntil = nil
	}
	return nil
}

func (f *fakeRepo) UpdateLastUsed(_ context.Context, id string) error { return nil }

type fakeUsers struct {
	byID map[string]*user.Account
}

func (f *fakeUsers) Upsert(_ context.Context, p user.UpsertParams) (*user.Account, error) {
	return nil, nil
}

func (f *fakeUsers) FindByID(_ context.Context, id kernel.UserID) (*user.Account, error) {
	a, ok := f.byID[id.String()]
	if !ok {
		return nil, user.ErrUserNotFound()
	}
	return a, nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*user.Account, error) {
	return nil, user.ErrUserNotFound()
}

func fixture() (*APIKeyService, *fakeRepo, *fakeUsers) {
	repo := newFakeRepo()
	users := &fakeUsers{byID: make(map[string]*user.Account)}
	return NewAPIKeyService(repo, users), repo, users
}

func TestCreateReturnsRawKeyOnce(t *testing.T) {
	svc, repo, _ := fixture()
	uid := kernel.NewUserID("u-1")

	resp, err := svc.Create(context.Background(), apikey.CreateParams{
		UserID:      uid,
		Name:        "ci",
		Environment: "production",
		Scopes:      []string{"memories:read"},
	})
	require.NoError(t, err)

	assert.True(t, apikey.ValidFormat(resp.SecretKey))
	assert.Equal(t, apikey.KeyPrefixLive, resp.APIKey.Prefix)

	stored := repo.byID[resp.APIKey.ID]
	require.NotNil(t, stored)
	assert.Equal(t, apikey.Hash(resp.SecretKey), stored.KeyHash)
	assert.True(t, stored.IsActive)
}

func TestValidateKey(t *testing.T) {
	svc, _, users := fixture()
	uid := kernel.NewUserID("u-1")
	users.byID["u-1"] = &user.Account{UserID: uid, Email: "dev@lanonasis.com", Role: "user"}

	resp, err := svc.Create(context.Background(), apikey.CreateParams{
		UserID:      uid,
		Name:        "ci",
		Environment: "test",
		Scopes:      []string{"memories:read"},
	})
	require.NoError(t, err)

	ac, err := svc.ValidateKey(context.Background(), resp.SecretKey)
	require.NoError(t, err)
	assert.Equal(t, uid, ac.UserID)
	assert.Equal(t, "dev@lanonasis.com", ac.Email)
	assert.Equal(t, kernel.CredentialAPIKey, ac.CredentialType)
	assert.Equal(t, []string{"memories:read"}, ac.Scopes)
}

func TestValidateKeySyntheticEmail(t *testing.T) {
	svc, _, _ := fixture()
	uid := kernel.NewUserID("11111111-2222-3333-4444-555555555555")

	resp, err := svc.Create(context.Background(), apikey.CreateParams{
		UserID: uid, Name: "machine", Environment: "test",
	})
	require.NoError(t, err)

	ac, err := svc.ValidateKey(context.Background(), resp.SecretKey)
	require.NoError(t, err)
	assert.Equal(t, uid.String()+"@api-key.local", ac.Email)
	assert.Equal(t, "user", ac.Role)
}

func TestValidateKeyRejectsGarbage(t *testing.T) {
	svc, _, _ := fixture()

	_, err := svc.ValidateKey(context.Background(), "not-a-key")
	assert.ErrorIs(t, err, apikey.ErrKeyInvalid())

	_, err = svc.ValidateKey(context.Background(), "")
	assert.ErrorIs(t, err, apikey.ErrKeyInvalid())
}

func TestRotateKeepsOldKeyInsideGrace(t *testing.T) {
	svc, repo, _ := fixture()
	uid := kernel.NewUserID("u-1")

	created, err := svc.Create(context.Background(), apikey.CreateParams{
		UserID: uid, Name: "ci", Environment: "production",
	})
	require.NoError(t, err)

	rotated, err := svc.Rotate(context.Background(), created.APIKey.ID, uid)
	require.NoError(t, err)
	assert.NotEqual(t, created.SecretKey, rotated.SecretKey)
	assert.Equal(t, created.APIKey.Prefix, rotated.APIKey.Prefix)

	// Old key still validates inside the grace window.
	_, err = svc.ValidateKey(context.Background(), created.SecretKey)
	assert.NoError(t, err)

	// Replacement validates too.
	_, err = svc.ValidateKey(context.Background(), rotated.SecretKey)
	assert.NoError(t, err)

	old := repo.byID[created.APIKey.ID]
	assert.False(t, old.IsActive)
	require.NotNil(t, old.GraceUntil)
	require.NotNil(t, old.ReplacedByID)
	assert.Equal(t, rotated.APIKey.ID, *old.ReplacedByID)
}

func TestRotateRequiresOwnership(t *testing.T) {
	svc, _, _ := fixture()

	created, err := svc.Create(context.Background(), apikey.CreateParams{
		UserID: kernel.NewUserID("owner"), Name: "ci", Environment: "production",
	})
	require.NoError(t, err)

	_, err = svc.Rotate(context.Background(), created.APIKey.ID, kernel.NewUserID("intruder"))
	assert.ErrorIs(t, err, apikey.ErrKeyNotFound())
}

func TestRevokeStopsValidation(t *testing.T) {
	svc, _, _ := fixture()
	uid := kernel.NewUserID("u-1")

	created, err := svc.Create(context.Background(), apikey.CreateParams{
		UserID: uid, Name: "ci", Environment: "production",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), created.APIKey.ID, uid))

	_, err = svc.ValidateKey(context.Background(), created.SecretKey)
	assert.ErrorIs(t, err, apikey.ErrKeyRevoked())
}

func TestListPaginates(t *testing.T) {
	svc, _, _ := fixture()
	uid := kernel.NewUserID("u-1")

	for i := 0; i < 5; i++ {
		_, err := svc.Create(context.Background(), apikey.CreateParams{
			UserID:      uid,
			Name:        fmt.Sprintf("key-%d", i),
			Environment: "production",
		})
		require.NoError(t, err)
	}

	page, err := svc.List(context.Background(), uid, kernel.PaginationOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 5, page.Page.Total)
	assert.Equal(t, 3, page.Page.Pages)
	assert.False(t, page.Empty)

	last, err := svc.List(context.Background(), uid, kernel.PaginationOptions{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, last.Items, 1)

	empty, err := svc.List(context.Background(), kernel.NewUserID("u-nobody"), kernel.PaginationOptions{})
	require.NoError(t, err)
	assert.True(t, empty.Empty)
}
