package oauthsrv

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeClients struct {
	clients map[string]*oauth.Client
}

func (f *fakeClients) FindByID(_ context.Context, id kernel.ClientID) (*oauth.Client, error) {
	c, ok := f.clients[id.String()]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (f *fakeClients) Save(_ context.Context, c oauth.Client) error {
	f.clients[c.ClientID.String()] = &c
	return nil
}

type fakeCodes struct {
	byRaw map[string]*oauth.AuthorizationCode
}

func (f *fakeCodes) CreateCode(_ context.Context, p oauth.CreateCodeParams) (string, *oauth.AuthorizationCode, error) {
	raw, err := oauth.GenerateOpaque()
	if err != nil {
		return "", nil, err
	}
	rec := &oauth.AuthorizationCode{
		ID:              uuid.NewString(),
		LookupHash:      oauth.LookupHash(raw),
		ClientID:        p.ClientID,
		UserID:          p.UserID,
		RedirectURI:     p.RedirectURI,
		Scopes:          p.Scopes,
		State:           p.State,
		CodeChallenge:   p.CodeChallenge,
		ChallengeMethod: p.ChallengeMethod,
		ExpiresAt:       time.Now().Add(p.TTL),
		CreatedAt:       time.Now(),
	}
	f.byRaw[raw] = rec
	return raw, rec, nil
}

func (f *fakeCodes) ConsumeCode(_ context.Context, client *oauth.Client, raw, redirectURI string) (*oauth.AuthorizationCode, error) {
	rec, ok := f.byRaw[raw]
	if !ok {
		return nil, oauth.ErrInvalidGrant("Invalid authorization code")
	}
	if rec.ClientID != client.ClientID {
		return nil, oauth.ErrInvalidGrant("Authorization code was issued to a different client")
	}
	if rec.RedirectURI != redirectURI {
		return nil, oauth.ErrInvalidGrant("redirect_uri does not match the authorization request")
	}
	if rec.Consumed {
		return nil, oauth.ErrInvalidGrant("Authorization code already used")
	}
	if rec.IsExpired() {
		return nil, oauth.ErrInvalidGrant("Authorization code has expired")
	}
	rec.Consumed = true
	return rec, nil
}

type fakeTokens struct {
	byRaw map[string]*oauth.Token
	byID  map[string]*oauth.Token
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{byRaw: map[string]*oauth.Token{}, byID: map[string]*oauth.Token{}}
}

func (f *fakeTokens) mint(tokenType oauth.TokenType, client *oauth.Client, userID kernel.UserID, scopes []string, parent *string, ttl time.Duration) (string, *oauth.Token) {
	raw, _ := oauth.GenerateOpaque()
	t := &oauth.Token{
		ID:            uuid.NewString(),
		TokenType:     tokenType,
		ClientID:      client.ClientID,
		UserID:        userID,
		Scopes:        scopes,
		ExpiresAt:     time.Now().Add(ttl),
		ParentTokenID: parent,
		CreatedAt:     time.Now(),
	}
	f.byRaw[raw] = t
	f.byID[t.ID] = t
	return raw, t
}

func (f *fakeTokens) IssueTokenPair(_ context.Context, client *oauth.Client, userID kernel.UserID, scopes []string, _ oauth.ActorContext) (*oauth.TokenPair, error) {
	rawRefresh, refresh := f.mint(oauth.TokenRefresh, client, userID, scopes, nil, 30*24*time.Hour)
	rawAccess, access := f.mint(oauth.TokenAccess, client, userID, scopes, &refresh.ID, 15*time.Minute)
	return &oauth.TokenPair{
		AccessToken:   rawAccess,
		RefreshToken:  rawRefresh,
		AccessRecord:  *access,
		RefreshRecord: *refresh,
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
	}, nil
}

func (f *fakeTokens) FindRefreshToken(_ context.Context, raw string, clientID kernel.ClientID) (*oauth.Token, error) {
	t, ok := f.byRaw[raw]
	if !ok || t.TokenType != oauth.TokenRefresh || t.ClientID != clientID {
		return nil, nil
	}
	return t, nil
}

func (f *fakeTokens) RotateRefreshToken(ctx context.Context, existing *oauth.Token, client *oauth.Client, scopes []string, actor oauth.ActorContext) (*oauth.TokenPair, error) {
	f.revoke(existing.ID, oauth.ReasonRotated)
	for _, t := range f.byID {
		if t.ParentTokenID != nil && *t.ParentTokenID == existing.ID {
			f.revoke(t.ID, oauth.ReasonAncestorRotated)
		}
	}
	pair, err := f.IssueTokenPair(ctx, client, existing.UserID, scopes, actor)
	if err != nil {
		return nil, err
	}
	rec := f.byID[pair.RefreshRecord.ID]
	rec.ParentTokenID = &existing.ID
	pair.RefreshRecord = *rec
	return pair, nil
}

func (f *fakeTokens) FindTokenByValue(_ context.Context, raw, _ string) (*oauth.Token, error) {
	t, ok := f.byRaw[raw]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (f *fakeTokens) revoke(id, reason string) {
	t := f.byID[id]
	if t == nil || t.Revoked {
		return
	}
	now := time.Now()
	t.Revoked, t.RevokedAt, t.RevokedReason = true, &now, &reason
}

func (f *fakeTokens) RevokeToken(_ context.Context, id, reason string) error {
	f.revoke(id, reason)
	return nil
}

func (f *fakeTokens) RevokeChain(_ context.Context, rootID, reason string) error {
	f.revoke(rootID, reason)
	frontier := []string{rootID}
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, t := range f.byID {
			if t.ParentTokenID == nil {
				continue
			}
			for _, id := range frontier {
				if *t.ParentTokenID == id && !t.Revoked {
					f.revoke(t.ID, reason)
					next = append(next, t.ID)
				}
			}
		}
		frontier = next
	}
	return nil
}

func (f *fakeTokens) Introspect(ctx context.Context, raw string) (*oauth.Introspection, error) {
	t, err := f.FindTokenByValue(ctx, raw, "")
	if err != nil || t == nil {
		return &oauth.Introspection{Active: false}, nil
	}
	return &oauth.Introspection{
		Active:    t.IsActive(),
		ClientID:  t.ClientID.String(),
		UserID:    t.UserID.String(),
		Scope:     oauth.JoinScopes(t.Scopes),
		TokenType: string(t.TokenType),
		Revoked:   t.Revoked,
	}, nil
}

type fakeDevices struct {
	byRaw  map[string]*oauth.DeviceAuthorization
	byID   map[string]*oauth.DeviceAuthorization
	byCode map[string]*oauth.DeviceAuthorization
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		byRaw:  map[string]*oauth.DeviceAuthorization{},
		byID:   map[string]*oauth.DeviceAuthorization{},
		byCode: map[string]*oauth.DeviceAuthorization{},
	}
}

func (f *fakeDevices) CreateDevice(_ context.Context, client *oauth.Client, scopes []string, verificationURI string, ttl time.Duration, interval int) (string, *oauth.DeviceAuthorization, error) {
	raw, _ := oauth.GenerateOpaque()
	userCode, _ := oauth.GenerateUserCode()
	d := &oauth.DeviceAuthorization{
		ID:              uuid.NewString(),
		UserCode:        userCode,
		ClientID:        client.ClientID,
		Scopes:          scopes,
		VerificationURI: verificationURI,
		Interval:        interval,
		ExpiresAt:       time.Now().Add(ttl),
		Status:          oauth.DevicePending,
		CreatedAt:       time.Now(),
	}
	f.byRaw[raw] = d
	f.byID[d.ID] = d
	f.byCode[userCode] = d
	return raw, d, nil
}

func (f *fakeDevices) FindByDeviceCode(_ context.Context, raw string, clientID kernel.ClientID) (*oauth.DeviceAuthorization, error) {
	d, ok := f.byRaw[raw]
	if !ok || d.ClientID != clientID {
		return nil, nil
	}
	return d, nil
}

func (f *fakeDevices) FindByUserCode(_ context.Context, userCode string) (*oauth.DeviceAuthorization, error) {
	d, ok := f.byCode[userCode]
	if !ok || d.Status != oauth.DevicePending || d.IsExpired() {
		return nil, nil
	}
	return d, nil
}

func (f *fakeDevices) RecordPoll(_ context.Context, id string, interval int, polledAt time.Time) error {
	d := f.byID[id]
	d.Interval = interval
	t := polledAt
	d.LastPolledAt = &t
	return nil
}

func (f *fakeDevices) Approve(_ context.Context, id string, userID kernel.UserID) error {
	d := f.byID[id]
	d.Status = oauth.DeviceApproved
	d.UserID = &userID
	return nil
}

func (f *fakeDevices) Deny(_ context.Context, id string) error {
	f.byID[id].Status = oauth.DeviceDenied
	return nil
}

func (f *fakeDevices) MarkConsumed(_ context.Context, id string) error {
	f.byID[id].Consumed = true
	return nil
}

type noopCache struct{}

func (noopCache) GetClient(context.Context, kernel.ClientID) (*oauth.Client, bool) { return nil, false }
func (noopCache) SetClient(context.Context, *oauth.Client)                         {}
func (noopCache) InvalidateClient(context.Context, kernel.ClientID)                {}
func (noopCache) GetCode(context.Context, string) (*oauth.AuthorizationCode, bool) { return nil, false }
func (noopCache) SetCode(context.Context, *oauth.AuthorizationCode)                {}
func (noopCache) DropCode(context.Context, string)                                 {}

type fixture struct {
	svc     *OAuthService
	clients *fakeClients
	codes   *fakeCodes
	tokens  *fakeTokens
	devices *fakeDevices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOpts(t, ServiceOptions{})
}

func newFixtureOpts(t *testing.T, opts ServiceOptions) *fixture {
	t.Helper()
	if opts.AuthBaseURL == "" {
		opts.AuthBaseURL = "https://auth.example.com"
	}
	clients := &fakeClients{clients: map[string]*oauth.Client{}}
	codes := &fakeCodes{byRaw: map[string]*oauth.AuthorizationCode{}}
	tokens := newFakeTokens()
	devices := newFakeDevices()
	svc := NewOAuthService(clients, codes, tokens, devices, noopCache{}, opts)
	return &fixture{svc: svc, clients: clients, codes: codes, tokens: tokens, devices: devices}
}

func (fx *fixture) registerClient(c oauth.Client) *oauth.Client {
	if c.Status == "" {
		c.Status = oauth.ClientActive
	}
	fx.clients.clients[c.ClientID.String()] = &c
	return &c
}

func testClient() oauth.Client {
	return oauth.Client{
		ClientID:        kernel.NewClientID("cli"),
		ClientType:      oauth.ClientPublic,
		ApplicationType: oauth.AppCLI,
		Name:            "CLI",
		RequirePKCE:     true,
		RedirectURIs:    []string{"http://localhost:8888/callback"},
		AllowedScopes:   []string{"memories:read", "memories:write", "profile"},
		DefaultScopes:   []string{"profile"},
	}
}

func wireCode(t *testing.T, err error) string {
	t.Helper()
	e, ok := errx.As(err)
	require.True(t, ok, "expected an errx error, got %v", err)
	return e.WireCode
}

func TestAuthorizeHappyPath(t *testing.T) {
	fx := newFixture(t)
	fx.registerClient(testClient())
	ctx := context.Background()

	verifier := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	v, err := fx.svc.ValidateAuthorize(ctx, AuthorizeRequest{
		ClientID:        kernel.NewClientID("cli"),
		ResponseType:    "code",
		RedirectURI:     "http://localhost:8888/callback",
		Scope:           "memories:read",
		State:           "xyz",
		CodeChallenge:   challenge,
		ChallengeMethod: oauth.PKCEMethodS256,
	})
	require.NoError(t, err)

	target, err := fx.svc.Authorize(ctx, v, kernel.NewUserID("u1"), oauth.ActorContext{})
	require.NoError(t, err)

	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8888", u.Host)
	assert.NotEmpty(t, u.Query().Get("code"))
	assert.Equal(t, "xyz", u.Query().Get("state"))

	resp, err := fx.svc.Exchange(ctx, TokenRequest{
		GrantType:    oauth.GrantAuthorizationCode,
		ClientID:     kernel.NewClientID("cli"),
		Code:         u.Query().Get("code"),
		RedirectURI:  "http://localhost:8888/callback",
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "memories:read", resp.Scope)
}

func TestAuthorizeRejectsUnknownRedirect(t *testing.T) {
	fx := newFixture(t)
	fx.registerClient(testClient())

	_, err := fx.svc.ValidateAuthorize(context.Background(), AuthorizeRequest{
		ClientID:     kernel.NewClientID("cli"),
		ResponseType: "code",
		RedirectURI:  "http://evil.example.com/callback",
	})
	assert.Equal(t, "invalid_request", wireCode(t, err))
}

func TestAuthorizeDefaultsScopes(t *testing.T) {
	fx := newFixture(t)
	client := testClient()
	client.RequirePKCE = false
	fx.registerClient(client)

	v, err := fx.svc.ValidateAuthorize(context.Background(), AuthorizeRequest{
		ClientID:     kernel.NewClientID("cli"),
		ResponseType: "code",
		RedirectURI:  "http://localhost:8888/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"profile"}, v.Scopes)
}

func TestAuthorizeRequiresPKCEWhenClientDemandsIt(t *testing.T) {
	fx := newFixture(t)
	fx.registerClient(testClient())

	_, err := fx.svc.ValidateAuthorize(context.Background(), AuthorizeRequest{
		ClientID:     kernel.NewClientID("cli"),
		ResponseType: "code",
		RedirectURI:  "http://localhost:8888/callback",
	})
	assert.Equal(t, "invalid_request", wireCode(t, err))
}

func TestAuthorizeRequiresStateWhenEnforced(t *testing.T) {
	fx := newFixtureOpts(t, ServiceOptions{EnforceState: true})
	fx.registerClient(testClient())

	verifier := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	req := AuthorizeRequest{
		ClientID:        kernel.NewClientID("cli"),
		ResponseType:    "code",
		RedirectURI:     "http://localhost:8888/callback",
		CodeChallenge:   oauth2.S256ChallengeFromVerifier(verifier),
		ChallengeMethod: oauth.PKCEMethodS256,
	}

	_, err := fx.svc.ValidateAuthorize(context.Background(), req)
	assert.Equal(t, "invalid_request", wireCode(t, err))

	req.State = "xyz"
	_, err = fx.svc.ValidateAuthorize(context.Background(), req)
	assert.NoError(t, err)
}

func TestAuthorizeRejectsPlainChallengeUnlessAllowed(t *testing.T) {
	client := testClient()
	client.ChallengeMethods = []string{oauth.PKCEMethodS256, oauth.PKCEMethodPlain}

	req := AuthorizeRequest{
		ClientID:        kernel.NewClientID("cli"),
		ResponseType:    "code",
		RedirectURI:     "http://localhost:8888/callback",
		CodeChallenge:   "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		ChallengeMethod: oauth.PKCEMethodPlain,
	}

	// Even a client whose allow-list carries "plain" is refused while the
	// global policy forbids it.
	fx := newFixture(t)
	fx.registerClient(client)
	_, err := fx.svc.ValidateAuthorize(context.Background(), req)
	assert.Equal(t, "invalid_request", wireCode(t, err))

	permissive := newFixtureOpts(t, ServiceOptions{AllowPlainPKCE: true})
	permissive.registerClient(client)
	_, err = permissive.svc.ValidateAuthorize(context.Background(), req)
	assert.NoError(t, err)
}

func TestAuthorizeGlobalPKCERequirement(t *testing.T) {
	client := testClient()
	client.RequirePKCE = false

	fx := newFixtureOpts(t, ServiceOptions{RequirePKCE: true})
	fx.registerClient(client)

	_, err := fx.svc.ValidateAuthorize(context.Background(), AuthorizeRequest{
		ClientID:     kernel.NewClientID("cli"),
		ResponseType: "code",
		RedirectURI:  "http://localhost:8888/callback",
	})
	assert.Equal(t, "invalid_request", wireCode(t, err))
}

func TestAuthenticateClientConfidentialNeedsSecret(t *testing.T) {
	fx := newFixture(t)
	hash, err := oauth.SlowHash("s3cret-value", 4)
	require.NoError(t, err)
	client := testClient()
	client.ClientID = kernel.NewClientID("dashboard")
	client.ClientType = oauth.ClientConfidential
	client.SecretHash = &hash
	fx.registerClient(client)

	_, err = fx.svc.AuthenticateClient(context.Background(), kernel.NewClientID("dashboard"), "")
	assert.Equal(t, "invalid_client", wireCode(t, err))

	_, err = fx.svc.AuthenticateClient(context.Background(), kernel.NewClientID("dashboard"), "wrong")
	assert.Equal(t, "invalid_client", wireCode(t, err))

	resolved, err := fx.svc.AuthenticateClient(context.Background(), kernel.NewClientID("dashboard"), "s3cret-value")
	require.NoError(t, err)
	assert.Equal(t, oauth.ClientConfidential, resolved.ClientType)

	// Public clients hold no secret and are identified by id alone.
	fx.registerClient(testClient())
	_, err = fx.svc.AuthenticateClient(context.Background(), kernel.NewClientID("cli"), "")
	assert.NoError(t, err)
}

func TestExchangeRejectsWrongVerifier(t *testing.T) {
	fx := newFixture(t)
	fx.registerClient(testClient())
	ctx := context.Background()

	verifier := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	v, err := fx.svc.ValidateAuthorize(ctx, AuthorizeRequest{
		ClientID:        kernel.NewClientID("cli"),
		ResponseType:    "code",
		RedirectURI:     "http://localhost:8888/callback",
		CodeChallenge:   oauth2.S256ChallengeFromVerifier(verifier),
		ChallengeMethod: oauth.PKCEMethodS256,
	})
	require.NoError(t, err)
	target, err := fx.svc.Authorize(ctx, v, kernel.NewUserID("u1"), oauth.ActorContext{})
	require.NoError(t, err)
	u, _ := url.Parse(target)
	code := u.Query().Get("code")

	_, err = fx.svc.Exchange(ctx, TokenRequest{
		GrantType:    oauth.GrantAuthorizationCode,
		ClientID:     kernel.NewClientID("cli"),
		Code:         code,
		RedirectURI:  "http://localhost:8888/callback",
		CodeVerifier: "dn02hZ7wZ1MUlFz-wGyKxOyHYNEVlEwywsvJyICqxKQ",
	})
	assert.Equal(t, "invalid_grant", wireCode(t, err))

	// A wrong verifier burns the code: the real verifier no longer works.
	_, err = fx.svc.Exchange(ctx, TokenRequest{
		GrantType:    oauth.GrantAuthorizationCode,
		ClientID:     kernel.NewClientID("cli"),
		Code:         code,
		RedirectURI:  "http://localhost:8888/callback",
		CodeVerifier: verifier,
	})
	assert.Equal(t, "invalid_grant", wireCode(t, err))
}

func TestExchangeCodeReplayFails(t *testing.T) {
	fx := newFixture(t)
	fx.registerClient(testClient())
	ctx := context.Background()

	verifier := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	v, err := fx.svc.ValidateAuthorize(ctx, AuthorizeRequest{
		ClientID:        kernel.NewClientID("cli"),
		ResponseType:    "code",
		RedirectURI:     "http://localhost:8888/callback",
		CodeChallenge:   oauth2.S256ChallengeFromVerifier(verifier),
		ChallengeMethod: oauth.PKCEMethodS256,
	})
	require.NoError(t, err)
	target, err := fx.svc.Authorize(ctx, v, kernel.NewUserID("u1"), oauth.ActorContext{})
	require.NoError(t, err)
	u, _ := url.Parse(target)

	req := TokenRequest{
		GrantType:    oauth.GrantAuthorizationCode,
		ClientID:     kernel.NewClientID("cli"),
		Code:         u.Query().Get("code"),
		RedirectURI:  "http://localhost:8888/callback",
		CodeVerifier: verifier,
	}
	first, err := fx.svc.Exchange(ctx, req)
	require.NoError(t, err)

	_, err = fx.svc.Exchange(ctx, req)
	assert.Equal(t, "invalid_grant", wireCode(t, err))

	// The replay does not disturb the issued pair.
	info, err := fx.svc.Introspect(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.True(t, info.Active)
}

func TestRefreshRotation(t *testing.T) {
	fx := newFixture(t)
	client := fx.registerClient(testClient())
	ctx := context.Background()

	pair, err := fx.tokens.IssueTokenPair(ctx, client, kernel.NewUserID("u1"), []string{"profile"}, oauth.ActorContext{})
	require.NoError(t, err)

	rotated, err := fx.svc.Exchange(ctx, TokenRequest{
		GrantType:    oauth.GrantRefreshToken,
		ClientID:     kernel.NewClientID("cli"),
		RefreshToken: pair.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The rotated-out refresh and its access token are dead.
	info, err := fx.svc.Introspect(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, info.Active)
	info, err = fx.svc.Introspect(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, info.Active)
}

func TestRefreshReplayRevokesChain(t *testing.T) {
	fx := newFixture(t)
	client := fx.registerClient(testClient())
	ctx := context.Background()

	pair, err := fx.tokens.IssueTokenPair(ctx, client, kernel.NewUserID("u1"), []string{"profile"}, oauth.ActorContext{})
	require.NoError(t, err)

	rotated, err := fx.svc.Exchange(ctx, TokenRequest{
		GrantType:    oauth.GrantRefreshToken,
		ClientID:     kernel.NewClientID("cli"),
		RefreshToken: pair.RefreshToken,
	})
	require.NoError(t, err)

	// Presenting the old refresh again is a replay.
	_, err = fx.svc.Exchange(ctx, TokenRequest{
		GrantType:    oauth.GrantRefreshToken,
		ClientID:     kernel.NewClientID("cli"),
		RefreshToken: pair.RefreshToken,
	})
	assert.Equal(t, "invalid_grant", wireCode(t, err))

	// The successor pair descends from the replayed token, so it dies too.
	info, err := fx.svc.Introspect(ctx, rotated.RefreshToken)
	require.NoError(t, err)
	assert.False(t, info.Active)
	info, err = fx.svc.Introspect(ctx, rotated.AccessToken)
	require.NoError(t, err)
	assert.False(t, info.Active)
}

func TestRefreshCannotWidenScopes(t *testing.T) {
	fx := newFixture(t)
	client := fx.registerClient(testClient())
	ctx := context.Background()

	pair, err := fx.tokens.IssueTokenPair(ctx, client, kernel.NewUserID("u1"), []string{"profile"}, oauth.ActorContext{})
	require.NoError(t, err)

	_, err = fx.svc.Exchange(ctx, TokenRequest{
		GrantType:    oauth.GrantRefreshToken,
		ClientID:     kernel.NewClientID("cli"),
		RefreshToken: pair.RefreshToken,
		Scope:        "profile memories:write",
	})
	assert.Equal(t, "invalid_scope", wireCode(t, err))
}

func TestDeviceFlowLifecycle(t *testing.T) {
	fx := newFixture(t)
	fx.registerClient(testClient())
	ctx := context.Background()

	grant, err := fx.svc.StartDeviceAuthorization(ctx, kernel.NewClientID("cli"), "memories:read")
	require.NoError(t, err)
	assert.Len(t, grant.UserCode, 9)
	assert.Equal(t, 5, grant.Interval)
	assert.Contains(t, grant.VerificationURIComplete, url.QueryEscape(grant.UserCode))

	poll := TokenRequest{
		GrantType:  oauth.GrantDeviceCode,
		ClientID:   kernel.NewClientID("cli"),
		DeviceCode: grant.DeviceCode,
	}

	_, err = fx.svc.Exchange(ctx, poll)
	assert.Equal(t, "authorization_pending", wireCode(t, err))

	// Second poll inside the interval.
	_, err = fx.svc.Exchange(ctx, poll)
	assert.Equal(t, "slow_down", wireCode(t, err))

	require.NoError(t, fx.svc.ApproveDevice(ctx, grant.UserCode, kernel.NewUserID("u1")))

	resp, err := fx.svc.Exchange(ctx, poll)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)

	// The device code is one-shot.
	_, err = fx.svc.Exchange(ctx, poll)
	assert.Equal(t, "invalid_grant", wireCode(t, err))
}

func TestDeviceFlowDenied(t *testing.T) {
	fx := newFixture(t)
	fx.registerClient(testClient())
	ctx := context.Background()

	grant, err := fx.svc.StartDeviceAuthorization(ctx, kernel.NewClientID("cli"), "")
	require.NoError(t, err)
	require.NoError(t, fx.svc.DenyDevice(ctx, grant.UserCode))

	_, err = fx.svc.Exchange(ctx, TokenRequest{
		GrantType:  oauth.GrantDeviceCode,
		ClientID:   kernel.NewClientID("cli"),
		DeviceCode: grant.DeviceCode,
	})
	assert.Equal(t, "access_denied", wireCode(t, err))
}

func TestDeviceFlowExpired(t *testing.T) {
	fx := newFixture(t)
	fx.registerClient(testClient())
	ctx := context.Background()

	grant, err := fx.svc.StartDeviceAuthorization(ctx, kernel.NewClientID("cli"), "")
	require.NoError(t, err)

	for _, d := range fx.devices.byID {
		d.ExpiresAt = time.Now().Add(-time.Second)
	}

	_, err = fx.svc.Exchange(ctx, TokenRequest{
		GrantType:  oauth.GrantDeviceCode,
		ClientID:   kernel.NewClientID("cli"),
		DeviceCode: grant.DeviceCode,
	})
	assert.Equal(t, "expired_token", wireCode(t, err))
}

func TestRevokeRefreshTakesChain(t *testing.T) {
	fx := newFixture(t)
	client := fx.registerClient(testClient())
	ctx := context.Background()

	pair, err := fx.tokens.IssueTokenPair(ctx, client, kernel.NewUserID("u1"), []string{"profile"}, oauth.ActorContext{})
	require.NoError(t, err)

	require.NoError(t, fx.svc.Revoke(ctx, pair.RefreshToken, "refresh_token"))

	info, err := fx.svc.Introspect(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, info.Active)
}

func TestRevokeUnknownTokenSucceeds(t *testing.T) {
	fx := newFixture(t)
	assert.NoError(t, fx.svc.Revoke(context.Background(), "not-a-token", ""))
}

func TestExchangeRejectsUnknownGrantType(t *testing.T) {
	fx := newFixture(t)
	fx.registerClient(testClient())

	_, err := fx.svc.Exchange(context.Background(), TokenRequest{
		GrantType: "client_credentials",
		ClientID:  kernel.NewClientID("cli"),
	})
	assert.Equal(t, "unsupported_grant_type", wireCode(t, err))
}

func TestConfidentialClientMustAuthenticate(t *testing.T) {
	fx := newFixture(t)
	secretHash, err := oauth.SlowHash("s3cret", 4)
	require.NoError(t, err)
	client := testClient()
	client.ClientID = kernel.NewClientID("web")
	client.ClientType = oauth.ClientConfidential
	client.SecretHash = &secretHash
	fx.registerClient(client)

	_, err = fx.svc.Exchange(context.Background(), TokenRequest{
		GrantType:    oauth.GrantRefreshToken,
		ClientID:     kernel.NewClientID("web"),
		ClientSecret: "wrong",
		RefreshToken: "whatever",
	})
	assert.Equal(t, "invalid_client", wireCode(t, err))
}
