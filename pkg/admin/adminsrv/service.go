// Package adminsrv implements the bypass login and the app registration
// operations. Everything here touches only the primary store.
package adminsrv

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lanonasis/authgate/pkg/admin"
	"github.com/lanonasis/authgate/pkg/auth"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/lanonasis/authgate/pkg/session"
	"github.com/lanonasis/authgate/pkg/user"
)

// ClientCacheInvalidator drops a cached OAuth client after a mutation so
// stale redirect URIs and scopes never outlive an upsert.
type ClientCacheInvalidator interface {
	InvalidateClient(ctx context.Context, clientID kernel.ClientID)
}

type AdminService struct {
	admins     admin.Repository
	users      user.Repository
	sessions   session.Repository
	clients    oauth.ClientRepository
	cache      ClientCacheInvalidator
	jwt        *auth.JWTService
	bcryptCost int
}

func NewAdminService(
	admins admin.Repository,
	users user.Repository,
	sessions session.Repository,
	clients oauth.ClientRepository,
	cache ClientCacheInvalidator,
	jwt *auth.JWTService,
	bcryptCost int,
) *AdminService {
	if bcryptCost == 0 {
		bcryptCost = 10
	}
	return &AdminService{
		admins:     admins,
		users:      users,
		sessions:   sessions,
		clients:    clients,
		cache:      cache,
		jwt:        jwt,
		bcryptCost: bcryptCost,
	}
}

// Provisioner seeds admin accounts out of band. The gateway exposes no
// HTTP surface for this: the first admin must exist before bypass login can
// authenticate anyone, so accounts are created through the adminctl tool.
type Provisioner struct {
	admins     admin.Repository
	bcryptCost int
}

func NewProvisioner(admins admin.Repository, bcryptCost int) *Provisioner {
	if bcryptCost == 0 {
		bcryptCost = 10
	}
	return &Provisioner{admins: admins, bcryptCost: bcryptCost}
}

// CreateAccount validates and stores a new admin account.
func (p *Provisioner) CreateAccount(ctx context.Context, email, password string) (*admin.Account, error) {
	email = user.NormalizeEmail(email)
	if email == "" {
		return nil, errx.New("email is required", errx.TypeValidation)
	}
	if len(password) < admin.MinPasswordLength {
		return nil, admin.ErrWeakPassword()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return nil, errx.Wrap(err, "failed to hash admin password", errx.TypeInternal)
	}

	now := time.Now().UTC()
	account := admin.Account{
		ID:           kernel.NewUserID(uuid.NewString()),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.admins.Create(ctx, account); err != nil {
		return nil, err
	}
	return &account, nil
}

// BypassResult is the bypass-login response body.
type BypassResult struct {
	Token   string         `json:"token"`
	Account *admin.Account `json:"account"`
}

// BypassLogin verifies the password against the admin_accounts row and
// opens a never-expiring admin session. The same wrong-credentials error
// covers unknown emails so the endpoint does not leak which admins exist.
func (s *AdminService) BypassLogin(ctx context.Context, email, password, ipAddress, userAgent string) (*BypassResult, error) {
	email = user.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, admin.ErrInvalidCredentials()
	}

	account, err := s.admins.FindByEmail(ctx, email)
	if err != nil {
		if e, ok := errx.As(err); ok && e.Type == errx.TypeNotFound {
			// Burn a hash anyway to keep timing uniform.
			_, _ = bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
			return nil, admin.ErrInvalidCredentials()
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, admin.ErrInvalidCredentials()
	}

	// Sessions reference the local registry, so the admin needs a row there
	// before the session insert. The upsert touches only the primary store.
	_, err = s.users.Upsert(ctx, user.UpsertParams{
		UserID:   account.ID,
		Email:    account.Email,
		Role:     "admin",
		Provider: "admin",
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := session.Session{
		ID:           uuid.NewString(),
		UserID:       account.ID,
		Platform:     "admin",
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		NeverExpires: true,
		CreatedAt:    now,
		LastUsedAt:   now,
		ExpiresAt:    now.Add(session.DefaultTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	token, err := s.jwt.GenerateAdminToken(account.ID, account.Email)
	if err != nil {
		return nil, err
	}
	return &BypassResult{Token: token, Account: account}, nil
}

// ChangePassword rotates the caller's own admin password. Other admin
// sessions stay live; only the credential changes.
func (s *AdminService) ChangePassword(ctx context.Context, caller *kernel.AuthContext, currentPassword, newPassword string) error {
	account, err := s.admins.FindByEmail(ctx, user.NormalizeEmail(caller.Email))
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(currentPassword)) != nil {
		return admin.ErrInvalidCredentials()
	}
	if len(newPassword) < admin.MinPasswordLength {
		return admin.ErrWeakPassword()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return errx.Wrap(err, "failed to hash admin password", errx.TypeInternal)
	}
	return s.admins.UpdatePassword(ctx, account.ID.String(), string(hash))
}

// RegisterAppParams describes a client registration request.
type RegisterAppParams struct {
	ClientID         string   `json:"client_id"`
	Name             string   `json:"name"`
	ClientType       string   `json:"client_type"`
	ApplicationType  string   `json:"application_type"`
	RedirectURIs     []string `json:"redirect_uris"`
	AllowedScopes    []string `json:"allowed_scopes"`
	DefaultScopes    []string `json:"default_scopes"`
	RequirePKCE      *bool    `json:"require_pkce"`
	ChallengeMethods []string `json:"allowed_code_challenge_methods"`
}

// RegisteredApp carries the one-shot client_secret for confidential
// clients. The secret is never retrievable again.
type RegisteredApp struct {
	Client       *oauth.Client `json:"client"`
	ClientSecret string        `json:"client_secret,omitempty"`
}

// RegisterApp creates an OAuth client. Public clients get PKCE required by
// default; confidential clients get a generated secret returned exactly
// once, with only its bcrypt hash stored.
func (s *AdminService) RegisterApp(ctx context.Context, params RegisterAppParams) (*RegisteredApp, error) {
	if params.Name == "" {
		return nil, errx.New("name is required", errx.TypeValidation)
	}

	clientType := oauth.ClientType(params.ClientType)
	switch clientType {
	case oauth.ClientPublic, oauth.ClientConfidential:
	case "":
		clientType = oauth.ClientPublic
	default:
		return nil, errx.New("client_type must be public or confidential", errx.TypeValidation)
	}

	appType := oauth.ApplicationType(params.ApplicationType)
	switch appType {
	case oauth.AppWeb, oauth.AppNative, oauth.AppCLI, oauth.AppMCP, oauth.AppServer:
	case "":
		appType = oauth.AppWeb
	default:
		return nil, errx.New("unknown application_type", errx.TypeValidation)
	}

	if clientType == oauth.ClientPublic && len(params.RedirectURIs) == 0 {
		return nil, errx.New("public clients need at least one redirect_uri", errx.TypeValidation)
	}

	clientID := strings.ToLower(strings.TrimSpace(params.ClientID))
	if clientID == "" {
		clientID = uuid.NewString()
	}

	requirePKCE := clientType == oauth.ClientPublic
	if params.RequirePKCE != nil {
		requirePKCE = *params.RequirePKCE
	}
	methods := params.ChallengeMethods
	if len(methods) == 0 {
		methods = []string{oauth.PKCEMethodS256}
	}

	now := time.Now().UTC()
	client := oauth.Client{
		ClientID:         kernel.NewClientID(clientID),
		ClientType:       clientType,
		ApplicationType:  appType,
		Name:             params.Name,
		RequirePKCE:      requirePKCE,
		ChallengeMethods: methods,
		RedirectURIs:     params.RedirectURIs,
		AllowedScopes:    params.AllowedScopes,
		DefaultScopes:    params.DefaultScopes,
		Status:           oauth.ClientActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var secret string
	if clientType == oauth.ClientConfidential {
		raw, err := oauth.GenerateOpaque()
		if err != nil {
			return nil, err
		}
		hash, err := oauth.SlowHash(raw, s.bcryptCost)
		if err != nil {
			return nil, err
		}
		client.SecretHash = &hash
		secret = raw
	}

	if err := s.clients.Save(ctx, client); err != nil {
		return nil, err
	}
	// Upserting an existing client would otherwise serve the old redirect
	// URIs and scopes out of the cache for up to its TTL.
	s.cache.InvalidateClient(ctx, client.ClientID)
	return &RegisteredApp{Client: &client, ClientSecret: secret}, nil
}
