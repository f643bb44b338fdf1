package adminsrv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lanonasis/authgate/pkg/admin"
	"github.com/lanonasis/authgate/pkg/auth"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/lanonasis/authgate/pkg/session"
	"github.com/lanonasis/authgate/pkg/user"
)

type fakeAdmins struct {
	byEmail map[string]*admin.Account
}

func (f *fakeAdmins) Create(_ context.Context, a admin.Account) error {
	if _, ok := f.byEmail[a.Email]; ok {
		return admin.ErrDuplicateEmail()
	}
	f.byEmail[a.Email] = &a
	return nil
}

func (f *fakeAdmins) FindByEmail(_ context.Context, email string) (*admin.Account, error) {
	a, ok := f.byEmail[email]
	if !ok {
		return nil, admin.ErrAccountNotFound()
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAdmins) UpdatePassword(_ context.Context, id string, hash string) error {
	for _, a := range f.byEmail {
		if a.ID.String() == id {
			a.PasswordHash = hash
			return nil
		}
	}
	return admin.ErrAccountNotFound()
}

type fakeUsers struct {
	byID map[kernel.UserID]*user.Account
}

func (f *fakeUsers) Upsert(_ context.Context, params user.UpsertParams) (*user.Account, error) {
	a := &user.Account{
		UserID:   params.UserID,
		Email:    params.Email,
		Role:     params.Role,
		Provider: params.Provider,
	}
	f.byID[params.UserID] = a
	cp := *a
	return &cp, nil
}

func (f *fakeUsers) FindByID(_ context.Context, userID kernel.UserID) (*user.Account, error) {
	a, ok := f.byID[userID]
	if !ok {
		return nil, user.ErrUserNotFound()
	}
	cp := *a
	return &cp, nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*user.Account, error) {
	for _, a := range f.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, user.ErrUserNotFound()
}

// fakeSessions enforces the registry foreign key the real sessions table
// carries: creating a session for an unknown user fails like Postgres would.
type fakeSessions struct {
	registry *fakeUsers
	rows     []session.Session
}

func (f *fakeSessions) Create(_ context.Context, s session.Session) error {
	if _, ok := f.registry.byID[s.UserID]; !ok {
		return errx.New("session user_id has no registry row", errx.TypeInternal)
	}
	f.rows = append(f.rows, s)
	return nil
}

func (f *fakeSessions) FindLive(_ context.Context, userID kernel.UserID, platform string, issuedAt time.Time) (*session.Session, error) {
	for i := range f.rows {
		s := &f.rows[i]
		if s.UserID == userID && s.Platform == platform && s.IsLive(time.Now()) {
			return s, nil
		}
	}
	return nil, session.ErrSessionNotFound()
}

func (f *fakeSessions) RevokeForUser(context.Context, kernel.UserID, string) (int64, error) {
	return 0, nil
}

func (f *fakeSessions) Touch(context.Context, string) error { return nil }

func (f *fakeSessions) PurgeExpired(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

type fakeClients struct {
	byID map[kernel.ClientID]*oauth.Client
}

func (f *fakeClients) FindByID(_ context.Context, id kernel.ClientID) (*oauth.Client, error) {
	return f.byID[id], nil
}

func (f *fakeClients) Save(_ context.Context, c oauth.Client) error {
	f.byID[c.ClientID] = &c
	return nil
}

type fakeCache struct {
	invalidated []kernel.ClientID
}

func (f *fakeCache) InvalidateClient(_ context.Context, clientID kernel.ClientID) {
	f.invalidated = append(f.invalidated, clientID)
}

const testPassword = "correct-horse-battery"

type fixture struct {
	svc      *AdminService
	admins   *fakeAdmins
	users    *fakeUsers
	sessions *fakeSessions
	clients  *fakeClients
	cache    *fakeCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	admins := &fakeAdmins{byEmail: map[string]*admin.Account{
		"root@lanonasis.com": {
			ID:           kernel.NewUserID("a-1"),
			Email:        "root@lanonasis.com",
			PasswordHash: string(hash),
		},
	}}
	users := &fakeUsers{byID: map[kernel.UserID]*user.Account{}}
	sessions := &fakeSessions{registry: users}
	clients := &fakeClients{byID: map[kernel.ClientID]*oauth.Client{}}
	cache := &fakeCache{}
	jwt := auth.NewJWTService("0123456789abcdef0123456789abcdef", time.Hour, "test")
	svc := NewAdminService(admins, users, sessions, clients, cache, jwt, bcrypt.MinCost)
	return &fixture{svc: svc, admins: admins, users: users, sessions: sessions, clients: clients, cache: cache}
}

func TestBypassLogin(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.BypassLogin(context.Background(), "Root@Lanonasis.com ", testPassword, "10.0.0.1", "curl/8")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "root@lanonasis.com", res.Account.Email)

	require.Len(t, fx.sessions.rows, 1)
	sess := fx.sessions.rows[0]
	assert.Equal(t, "admin", sess.Platform)
	assert.True(t, sess.NeverExpires)
	assert.Equal(t, "10.0.0.1", sess.IPAddress)
}

func TestBypassLoginProvisionsRegistryRow(t *testing.T) {
	fx := newFixture(t)

	// The session insert in fakeSessions fails for any user missing from
	// the registry, so a passing login proves the upsert ran first.
	_, err := fx.svc.BypassLogin(context.Background(), "root@lanonasis.com", testPassword, "10.0.0.1", "curl/8")
	require.NoError(t, err)

	row := fx.users.byID[kernel.NewUserID("a-1")]
	require.NotNil(t, row)
	assert.Equal(t, "admin", row.Role)
	assert.Equal(t, "admin", row.Provider)
	assert.Equal(t, "root@lanonasis.com", row.Email)
	require.Len(t, fx.sessions.rows, 1)
}

func TestBypassLoginWrongPassword(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.BypassLogin(context.Background(), "root@lanonasis.com", "nope", "10.0.0.1", "curl/8")
	assert.ErrorIs(t, err, admin.ErrInvalidCredentials())
	assert.Empty(t, fx.sessions.rows)
	assert.Empty(t, fx.users.byID)
}

func TestBypassLoginUnknownEmailSameError(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.BypassLogin(context.Background(), "ghost@lanonasis.com", testPassword, "10.0.0.1", "curl/8")
	assert.ErrorIs(t, err, admin.ErrInvalidCredentials())
}

func TestBypassLoginEmptyCredentials(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.BypassLogin(context.Background(), "", "", "10.0.0.1", "curl/8")
	assert.ErrorIs(t, err, admin.ErrInvalidCredentials())
}

func TestChangePassword(t *testing.T) {
	fx := newFixture(t)
	caller := &kernel.AuthContext{UserID: kernel.NewUserID("a-1"), Email: "root@lanonasis.com"}

	err := fx.svc.ChangePassword(context.Background(), caller, testPassword, "a-much-longer-password")
	require.NoError(t, err)

	updated := fx.admins.byEmail["root@lanonasis.com"]
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("a-much-longer-password")))
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	fx := newFixture(t)
	caller := &kernel.AuthContext{UserID: kernel.NewUserID("a-1"), Email: "root@lanonasis.com"}

	err := fx.svc.ChangePassword(context.Background(), caller, "wrong", "a-much-longer-password")
	assert.ErrorIs(t, err, admin.ErrInvalidCredentials())
}

func TestChangePasswordTooShort(t *testing.T) {
	fx := newFixture(t)
	caller := &kernel.AuthContext{UserID: kernel.NewUserID("a-1"), Email: "root@lanonasis.com"}

	err := fx.svc.ChangePassword(context.Background(), caller, testPassword, "short")
	assert.ErrorIs(t, err, admin.ErrWeakPassword())
}

func TestRegisterAppPublicDefaults(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.RegisterApp(context.Background(), RegisterAppParams{
		Name:         "CLI",
		RedirectURIs: []string{"http://127.0.0.1/callback"},
	})
	require.NoError(t, err)

	assert.Empty(t, res.ClientSecret)
	assert.Equal(t, oauth.ClientPublic, res.Client.ClientType)
	assert.True(t, res.Client.RequirePKCE)
	assert.Equal(t, []string{oauth.PKCEMethodS256}, res.Client.ChallengeMethods)
	assert.Nil(t, res.Client.SecretHash)
	assert.Len(t, fx.clients.byID, 1)
}

func TestRegisterAppConfidentialSecret(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.RegisterApp(context.Background(), RegisterAppParams{
		ClientID:   "Dashboard",
		Name:       "Dashboard",
		ClientType: "confidential",
	})
	require.NoError(t, err)

	// The raw secret comes back exactly once; only its hash is stored.
	require.NotEmpty(t, res.ClientSecret)
	require.NotNil(t, res.Client.SecretHash)
	assert.NotEqual(t, res.ClientSecret, *res.Client.SecretHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*res.Client.SecretHash), []byte(res.ClientSecret)))
	assert.Equal(t, "dashboard", res.Client.ClientID.String())
}

func TestRegisterAppInvalidatesClientCache(t *testing.T) {
	fx := newFixture(t)

	params := RegisterAppParams{
		ClientID:     "cli",
		Name:         "CLI",
		RedirectURIs: []string{"http://127.0.0.1/callback"},
	}
	_, err := fx.svc.RegisterApp(context.Background(), params)
	require.NoError(t, err)

	// Re-registering upserts the row; the cached copy must be dropped so
	// the old redirect URIs do not survive until the TTL.
	params.RedirectURIs = []string{"http://127.0.0.1/v2/callback"}
	_, err = fx.svc.RegisterApp(context.Background(), params)
	require.NoError(t, err)

	require.Len(t, fx.cache.invalidated, 2)
	assert.Equal(t, "cli", fx.cache.invalidated[1].String())
	assert.Equal(t, []string{"http://127.0.0.1/v2/callback"}, fx.clients.byID[kernel.NewClientID("cli")].RedirectURIs)
}

func TestRegisterAppPublicNeedsRedirectURI(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.RegisterApp(context.Background(), RegisterAppParams{Name: "CLI"})
	assert.Error(t, err)
}

func TestRegisterAppRejectsUnknownClientType(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.RegisterApp(context.Background(), RegisterAppParams{
		Name:       "X",
		ClientType: "hybrid",
	})
	assert.Error(t, err)
}

func TestProvisionerCreateAccount(t *testing.T) {
	admins := &fakeAdmins{byEmail: map[string]*admin.Account{}}
	p := NewProvisioner(admins, bcrypt.MinCost)

	account, err := p.CreateAccount(context.Background(), "Root@Lanonasis.com ", "a-strong-password")
	require.NoError(t, err)
	assert.Equal(t, "root@lanonasis.com", account.Email)
	assert.NotEmpty(t, account.ID.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("a-strong-password")))

	stored := admins.byEmail["root@lanonasis.com"]
	require.NotNil(t, stored)

	_, err = p.CreateAccount(context.Background(), "root@lanonasis.com", "another-long-password")
	assert.ErrorIs(t, err, admin.ErrDuplicateEmail())
}

func TestProvisionerRejectsWeakPassword(t *testing.T) {
	p := NewProvisioner(&fakeAdmins{byEmail: map[string]*admin.Account{}}, bcrypt.MinCost)

	_, err := p.CreateAccount(context.Background(), "root@lanonasis.com", "short")
	assert.ErrorIs(t, err, admin.ErrWeakPassword())
}
