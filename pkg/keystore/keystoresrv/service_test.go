package keystoresrv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/keystore"
)

type fakeProjects struct {
	byID map[kernel.ProjectID]*keystore.Project
}

func (f *fakeProjects) Create(_ context.Context, p keystore.Project) error {
	for _, existing := range f.byID {
		if existing.OrganizationID == p.OrganizationID && existing.Name == p.Name {
			return keystore.ErrDuplicateProject()
		}
	}
	f.byID[p.ID] = &p
	return nil
}

func (f *fakeProjects) FindByID(_ context.Context, id kernel.ProjectID) (*keystore.Project, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, keystore.ErrProjectNotFound()
	}
	return p, nil
}

func (f *fakeProjects) FindByOrganization(_ context.Context, orgID kernel.OrgID) ([]*keystore.Project, error) {
	var out []*keystore.Project
	for _, p := range f.byID {
		if p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProjects) Delete(_ context.Context, id kernel.ProjectID) error {
	if _, ok := f.byID[id]; !ok {
		return keystore.ErrProjectNotFound()
	}
	delete(f.byID, id)
	return nil
}

type fakeStoredKeys struct {
	byID map[string]*keystore.StoredKey
}

func (f *fakeStoredKeys) Save(_ context.Context, k keystore.StoredKey) error {
	for _, existing := range f.byID {
		if existing.ProjectID == k.ProjectID && existing.Name == k.Name && existing.Environment == k.Environment {
			return keystore.ErrDuplicateKey()
		}
	}
	f.byID[k.ID] = &k
	return nil
}

func (f *fakeStoredKeys) FindByID(_ context.Context, id string) (*keystore.StoredKey, error) {
	k, ok := f.byID[id]
	if !ok {
		return nil, keystore.ErrKeyNotFound()
	}
	return k, nil
}

func (f *fakeStoredKeys) FindByProject(_ context.Context, projectID kernel.ProjectID) ([]*keystore.StoredKey, error) {
	var out []*keystore.StoredKey
	for _, k := range f.byID {
		if k.ProjectID == projectID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStoredKeys) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

// xorEncryptor is reversible and visibly not a no-op.
type xorEncryptor struct{}

func (xorEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func (xorEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	for i, b := range ciphertext {
		out[i] = b ^ 0x5a
	}
	return out, nil
}

func member() *kernel.AuthContext {
	return &kernel.AuthContext{
		UserID: kernel.NewUserID("u-1"),
		OrgID:  kernel.NewOrgID("org-1"),
		Email:  "dev@lanonasis.com",
	}
}

func outsider() *kernel.AuthContext {
	return &kernel.AuthContext{
		UserID: kernel.NewUserID("u-2"),
		OrgID:  kernel.NewOrgID("org-2"),
	}
}

func fixture() *KeystoreService {
	return NewKeystoreService(
		&fakeProjects{byID: make(map[kernel.ProjectID]*keystore.Project)},
		&fakeStoredKeys{byID: make(map[string]*keystore.StoredKey)},
		xorEncryptor{},
	)
}

func TestCreateProject(t *testing.T) {
	svc := fixture()

	p, err := svc.CreateProject(context.Background(), member(), "integrations", "third party creds")
	require.NoError(t, err)
	assert.Equal(t, kernel.NewOrgID("org-1"), p.OrganizationID)

	// Same name in the same organization conflicts.
	_, err = svc.CreateProject(context.Background(), member(), "integrations", "")
	assert.ErrorIs(t, err, keystore.ErrDuplicateProject())

	// No organization, no vault.
	_, err = svc.CreateProject(context.Background(), &kernel.AuthContext{UserID: kernel.NewUserID("u-3")}, "x", "")
	assert.ErrorIs(t, err, keystore.ErrAccessDenied())
}

func TestStoreAndRevealKey(t *testing.T) {
	svc := fixture()

	p, err := svc.CreateProject(context.Background(), member(), "integrations", "")
	require.NoError(t, err)

	stored, err := svc.StoreKey(context.Background(), member(), p.ID, "stripe", "production", "sk_live_secret")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("sk_live_secret"), stored.EncryptedValue)

	revealed, err := svc.RevealKey(context.Background(), member(), stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "sk_live_secret", revealed.Value)
}

func TestStoreKeyDefaultsEnvironment(t *testing.T) {
	svc := fixture()

	p, err := svc.CreateProject(context.Background(), member(), "integrations", "")
	require.NoError(t, err)

	stored, err := svc.StoreKey(context.Background(), member(), p.ID, "stripe", "", "v")
	require.NoError(t, err)
	assert.Equal(t, "production", stored.Environment)
}

func TestOrganizationBoundary(t *testing.T) {
	svc := fixture()

	p, err := svc.CreateProject(context.Background(), member(), "integrations", "")
	require.NoError(t, err)
	stored, err := svc.StoreKey(context.Background(), member(), p.ID, "stripe", "production", "v")
	require.NoError(t, err)

	_, err = svc.ListKeys(context.Background(), outsider(), p.ID)
	assert.ErrorIs(t, err, keystore.ErrAccessDenied())

	_, err = svc.RevealKey(context.Background(), outsider(), stored.ID)
	assert.ErrorIs(t, err, keystore.ErrAccessDenied())

	err = svc.DeleteProject(context.Background(), outsider(), p.ID)
	assert.ErrorIs(t, err, keystore.ErrAccessDenied())
}

func TestDuplicateKeyWithinEnvironment(t *testing.T) {
	svc := fixture()

	p, err := svc.CreateProject(context.Background(), member(), "integrations", "")
	require.NoError(t, err)

	_, err = svc.StoreKey(context.Background(), member(), p.ID, "stripe", "production", "v1")
	require.NoError(t, err)

	_, err = svc.StoreKey(context.Background(), member(), p.ID, "stripe", "production", "v2")
	assert.ErrorIs(t, err, keystore.ErrDuplicateKey())

	// Same name, different environment is fine.
	_, err = svc.StoreKey(context.Background(), member(), p.ID, "stripe", "staging", "v2")
	assert.NoError(t, err)
}
