// Package oauthsrv is the OAuth 2.0 protocol engine: grant handling, PKCE
// verification, token rotation, and the device flow state machine. It is
// transport-agnostic; oauthhttp adapts it to Fiber.
package oauthsrv

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/rs/zerolog/log"
)

type OAuthService struct {
	clients oauth.ClientRepository
	codes   oauth.CodeStore
	tokens  oauth.TokenStore
	devices oauth.DeviceStore
	cache   oauth.Cache

	codeTTL        time.Duration
	deviceTTL      time.Duration
	deviceInterval int
	authBaseURL    string

	requirePKCE    bool
	allowPlainPKCE bool
	enforceState   bool
}

type ServiceOptions struct {
	CodeTTL        time.Duration
	DeviceTTL      time.Duration
	DeviceInterval int
	// AuthBaseURL is the public base URL of this server, used to build the
	// device verification URI.
	AuthBaseURL string

	// RequirePKCE forces a code challenge on every authorize request, even
	// for clients whose own require_pkce flag is off.
	RequirePKCE bool
	// AllowPlainPKCE permits the "plain" challenge method. Off, clients may
	// only use S256 regardless of their allow-list.
	AllowPlainPKCE bool
	// EnforceState rejects authorize requests that omit the state parameter.
	EnforceState bool
}

func NewOAuthService(
	clients oauth.ClientRepository,
	codes oauth.CodeStore,
	tokens oauth.TokenStore,
	devices oauth.DeviceStore,
	cache oauth.Cache,
	opts ServiceOptions,
) *OAuthService {
	if opts.CodeTTL == 0 {
		opts.CodeTTL = 5 * time.Minute
	}
	if opts.DeviceTTL == 0 {
		opts.DeviceTTL = 15 * time.Minute
	}
	if opts.DeviceInterval == 0 {
		opts.DeviceInterval = 5
	}
	return &OAuthService{
		clients:        clients,
		codes:          codes,
		tokens:         tokens,
		devices:        devices,
		cache:          cache,
		codeTTL:        opts.CodeTTL,
		deviceTTL:      opts.DeviceTTL,
		deviceInterval: opts.DeviceInterval,
		authBaseURL:    opts.AuthBaseURL,
		requirePKCE:    opts.RequirePKCE,
		allowPlainPKCE: opts.AllowPlainPKCE,
		enforceState:   opts.EnforceState,
	}
}

// ResolveClient finds an active client, cache first. A cached hit is still
// re-checked for status so a revoked client never survives through the cache.
func (s *OAuthService) ResolveClient(ctx context.Context, clientID kernel.ClientID) (*oauth.Client, error) {
	if clientID.IsEmpty() {
		return nil, oauth.ErrInvalidRequest("client_id is required")
	}
	if cached, ok := s.cache.GetClient(ctx, clientID); ok {
		if !cached.IsActive() {
			return nil, oauth.ErrInvalidClient()
		}
		return cached, nil
	}
	client, err := s.clients.FindByID(ctx, clientID)
	if err != nil {
		if e, ok := errx.As(err); ok && e.Type == errx.TypeNotFound {
			return nil, oauth.ErrInvalidClient()
		}
		return nil, err
	}
	if client == nil || !client.IsActive() {
		return nil, oauth.ErrInvalidClient()
	}
	s.cache.SetClient(ctx, client)
	return client, nil
}

// AuthorizeRequest is a parsed GET /oauth/authorize query.
type AuthorizeRequest struct {
	ClientID        kernel.ClientID
	ResponseType    string
	RedirectURI     string
	Scope           string
	State           string
	CodeChallenge   string
	ChallengeMethod string
}

// ValidatedAuthorize is an authorize request that passed every check that
// does not require a logged-in user. The HTTP layer runs validation before
// bouncing an anonymous browser to the login bridge, so a malformed request
// never round-trips through login.
type ValidatedAuthorize struct {
	Client          *oauth.Client
	RedirectURI     string
	Scopes          []string
	State           string
	CodeChallenge   string
	ChallengeMethod string
}

// CheckAuthorizeClient runs the authorize checks that establish trust in the
// redirect URI: syntactic validation, client lookup, redirect allow-list.
// Errors from this stage must be rendered as JSON, never by redirect.
func (s *OAuthService) CheckAuthorizeClient(ctx context.Context, req AuthorizeRequest) (*oauth.Client, error) {
	if req.ResponseType != "code" {
		return nil, oauth.ErrInvalidRequest("response_type must be 'code'")
	}
	if req.RedirectURI == "" {
		return nil, oauth.ErrInvalidRequest("redirect_uri is required")
	}

	client, err := s.ResolveClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		return nil, oauth.ErrInvalidRequest("redirect_uri is not registered for this client")
	}
	return client, nil
}

// ValidateAuthorize runs every check that precedes user resolution.
func (s *OAuthService) ValidateAuthorize(ctx context.Context, req AuthorizeRequest) (*ValidatedAuthorize, error) {
	client, err := s.CheckAuthorizeClient(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.ValidateAuthorizeParams(client, req)
}

// ValidateAuthorizeParams validates PKCE and scopes against an already
// resolved client.
func (s *OAuthService) ValidateAuthorizeParams(client *oauth.Client, req AuthorizeRequest) (*ValidatedAuthorize, error) {
	if s.enforceState && req.State == "" {
		return nil, oauth.ErrInvalidRequest("state parameter is required")
	}

	method := req.ChallengeMethod
	if method == "" {
		method = oauth.PKCEMethodS256
	}
	if req.CodeChallenge != "" {
		if method == oauth.PKCEMethodPlain && !s.allowPlainPKCE {
			return nil, oauth.ErrInvalidRequest("plain code_challenge_method is not allowed")
		}
		if !client.AllowsChallengeMethod(method) {
			return nil, oauth.ErrInvalidRequest("code_challenge_method is not allowed for this client")
		}
		if err := oauth.ValidateChallenge(req.CodeChallenge); err != nil {
			return nil, err
		}
	} else if client.RequirePKCE || s.requirePKCE {
		return nil, oauth.ErrInvalidRequest("code_challenge is required for this client")
	}

	scopes, err := client.FilterScopes(oauth.ParseScopeParam(req.Scope))
	if err != nil {
		return nil, err
	}

	return &ValidatedAuthorize{
		Client:          client,
		RedirectURI:     req.RedirectURI,
		Scopes:          scopes,
		State:           req.State,
		CodeChallenge:   req.CodeChallenge,
		ChallengeMethod: method,
	}, nil
}

// Authorize completes a validated authorize request for a logged-in user:
// mints the code and returns the redirect target carrying code and state.
func (s *OAuthService) Authorize(ctx context.Context, v *ValidatedAuthorize, userID kernel.UserID, actor oauth.ActorContext) (string, error) {
	raw, record, err := s.codes.CreateCode(ctx, oauth.CreateCodeParams{
		ClientID:        v.Client.ClientID,
		UserID:          userID,
		RedirectURI:     v.RedirectURI,
		Scopes:          v.Scopes,
		State:           v.State,
		CodeChallenge:   v.CodeChallenge,
		ChallengeMethod: v.ChallengeMethod,
		TTL:             s.codeTTL,
		IPAddress:       actor.IPAddress,
		UserAgent:       actor.UserAgent,
	})
	if err != nil {
		return "", err
	}
	s.cache.SetCode(ctx, record)

	target, err := url.Parse(v.RedirectURI)
	if err != nil {
		return "", oauth.ErrInvalidRequest("redirect_uri is not a valid URL")
	}
	q := target.Query()
	q.Set("code", raw)
	if v.State != "" {
		q.Set("state", v.State)
	}
	target.RawQuery = q.Encode()
	return target.String(), nil
}

// TokenRequest is a parsed POST /oauth/token form.
type TokenRequest struct {
	GrantType    string
	ClientID     kernel.ClientID
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	DeviceCode   string
	Scope        string
	Actor        oauth.ActorContext
}

// TokenResponse is the RFC 6749 token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Exchange dispatches a token request to its grant handler.
func (s *OAuthService) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}
	switch req.GrantType {
	case oauth.GrantAuthorizationCode:
		return s.exchangeCode(ctx, client, req)
	case oauth.GrantRefreshToken:
		return s.exchangeRefresh(ctx, client, req)
	case oauth.GrantDeviceCode:
		return s.exchangeDevice(ctx, client, req)
	case "":
		return nil, oauth.ErrInvalidRequest("grant_type is required")
	default:
		return nil, oauth.ErrUnsupportedGrant()
	}
}

// authenticateClient adapts AuthenticateClient to a token request.
func (s *OAuthService) authenticateClient(ctx context.Context, req TokenRequest) (*oauth.Client, error) {
	return s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
}

// AuthenticateClient resolves the client and, for confidential clients,
// verifies the presented secret. Public clients are identified only.
func (s *OAuthService) AuthenticateClient(ctx context.Context, clientID kernel.ClientID, secret string) (*oauth.Client, error) {
	client, err := s.ResolveClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.ClientType == oauth.ClientConfidential {
		if client.SecretHash == nil || secret == "" {
			return nil, oauth.ErrInvalidClient()
		}
		if !oauth.VerifySlow(*client.SecretHash, secret) {
			return nil, oauth.ErrInvalidClient()
		}
	}
	return client, nil
}

func (s *OAuthService) exchangeCode(ctx context.Context, client *oauth.Client, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, oauth.ErrInvalidRequest("code is required")
	}
	if req.RedirectURI == "" {
		return nil, oauth.ErrInvalidRequest("redirect_uri is required")
	}

	code, err := s.codes.ConsumeCode(ctx, client, req.Code, req.RedirectURI)
	if err != nil {
		return nil, err
	}
	s.cache.DropCode(ctx, code.LookupHash)

	// PKCE runs after the consume: a wrong verifier still burns the code, so
	// a stolen code cannot be retried against the real verifier.
	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, oauth.ErrInvalidGrant("code_verifier is required")
		}
		if !oauth.VerifyPKCE(req.CodeVerifier, code.CodeChallenge, code.ChallengeMethod) {
			log.Warn().
				Str("client_id", client.ClientID.String()).
				Msg("pkce verification failed")
			return nil, oauth.ErrInvalidGrant("PKCE verification failed")
		}
	} else if client.RequirePKCE {
		return nil, oauth.ErrInvalidGrant("PKCE verification failed")
	}

	pair, err := s.tokens.IssueTokenPair(ctx, client, code.UserID, code.Scopes, req.Actor)
	if err != nil {
		return nil, err
	}
	return tokenResponse(pair), nil
}

func (s *OAuthService) exchangeRefresh(ctx context.Context, client *oauth.Client, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oauth.ErrInvalidRequest("refresh_token is required")
	}

	existing, err := s.tokens.FindRefreshToken(ctx, req.RefreshToken, client.ClientID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, oauth.ErrInvalidGrant("Refresh token is invalid or expired")
	}
	if existing.Revoked {
		// A revoked refresh presented again is a replay: someone holds a
		// rotated-out token. Everything descended from it is burned.
		log.Warn().
			Str("token_id", existing.ID).
			Str("client_id", client.ClientID.String()).
			Msg("refresh token replay detected")
		if err := s.tokens.RevokeChain(ctx, existing.ID, oauth.ReasonReplayDetected); err != nil {
			log.Error().Err(err).Str("token_id", existing.ID).Msg("failed to revoke replayed chain")
		}
		return nil, oauth.ErrInvalidGrant("Refresh token has been revoked")
	}

	scopes, err := narrowScopes(existing.Scopes, oauth.ParseScopeParam(req.Scope))
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.RotateRefreshToken(ctx, existing, client, scopes, req.Actor)
	if err != nil {
		return nil, err
	}
	return tokenResponse(pair), nil
}

func (s *OAuthService) exchangeDevice(ctx context.Context, client *oauth.Client, req TokenRequest) (*TokenResponse, error) {
	if req.DeviceCode == "" {
		return nil, oauth.ErrInvalidRequest("device_code is required")
	}

	device, err := s.devices.FindByDeviceCode(ctx, req.DeviceCode, client.ClientID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, oauth.ErrInvalidGrant("Device code is invalid")
	}
	if device.IsExpired() {
		return nil, oauth.ErrExpiredToken()
	}

	now := time.Now().UTC()
	switch device.Status {
	case oauth.DevicePending:
		if device.PolledTooSoon(now) {
			next := device.NextIntervalAfterSlowDown()
			if err := s.devices.RecordPoll(ctx, device.ID, next, now); err != nil {
				return nil, err
			}
			return nil, oauth.ErrSlowDown()
		}
		if err := s.devices.RecordPoll(ctx, device.ID, device.Interval, now); err != nil {
			return nil, err
		}
		return nil, oauth.ErrAuthorizationPending()
	case oauth.DeviceDenied:
		return nil, oauth.ErrAccessDenied()
	case oauth.DeviceApproved:
		if device.Consumed || device.UserID == nil {
			return nil, oauth.ErrInvalidGrant("Device code already used")
		}
		if err := s.devices.MarkConsumed(ctx, device.ID); err != nil {
			return nil, err
		}
		pair, err := s.tokens.IssueTokenPair(ctx, client, *device.UserID, device.Scopes, req.Actor)
		if err != nil {
			return nil, err
		}
		return tokenResponse(pair), nil
	default:
		return nil, oauth.ErrInvalidGrant("Device code is invalid")
	}
}

// Revoke implements RFC 7009: locate by value, revoke the row (refresh
// tokens take their whole chain down). Unknown tokens are not an error.
func (s *OAuthService) Revoke(ctx context.Context, raw, hint string) error {
	if raw == "" {
		return oauth.ErrInvalidRequest("token is required")
	}
	token, err := s.tokens.FindTokenByValue(ctx, raw, hint)
	if err != nil {
		return err
	}
	if token == nil || token.Revoked {
		return nil
	}
	if token.TokenType == oauth.TokenRefresh {
		return s.tokens.RevokeChain(ctx, token.ID, oauth.ReasonRevoked)
	}
	return s.tokens.RevokeToken(ctx, token.ID, oauth.ReasonRevoked)
}

// Introspect answers RFC 7662 for a raw token value.
func (s *OAuthService) Introspect(ctx context.Context, raw string) (*oauth.Introspection, error) {
	if raw == "" {
		return &oauth.Introspection{Active: false}, nil
	}
	return s.tokens.Introspect(ctx, raw)
}

// StartDeviceAuthorization begins an RFC 8628 flow for a client.
func (s *OAuthService) StartDeviceAuthorization(ctx context.Context, clientID kernel.ClientID, scopeParam string) (*oauth.DeviceGrantResponse, error) {
	client, err := s.ResolveClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	scopes, err := client.FilterScopes(oauth.ParseScopeParam(scopeParam))
	if err != nil {
		return nil, err
	}

	verificationURI := s.authBaseURL + "/oauth/device/verify"
	raw, device, err := s.devices.CreateDevice(ctx, client, scopes, verificationURI, s.deviceTTL, s.deviceInterval)
	if err != nil {
		return nil, err
	}

	return &oauth.DeviceGrantResponse{
		DeviceCode:              raw,
		UserCode:                device.UserCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: fmt.Sprintf("%s?user_code=%s", verificationURI, url.QueryEscape(device.UserCode)),
		ExpiresIn:               int64(time.Until(device.ExpiresAt).Seconds()),
		Interval:                device.Interval,
	}, nil
}

// LookupUserCode resolves a human-entered user code to its pending
// authorization, for the verify page.
func (s *OAuthService) LookupUserCode(ctx context.Context, userCode string) (*oauth.DeviceAuthorization, error) {
	if userCode == "" {
		return nil, oauth.ErrInvalidRequest("user_code is required")
	}
	device, err := s.devices.FindByUserCode(ctx, userCode)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, oauth.ErrInvalidGrant("Code not recognized or expired")
	}
	return device, nil
}

// ApproveDevice records the user's consent on a pending authorization.
func (s *OAuthService) ApproveDevice(ctx context.Context, userCode string, userID kernel.UserID) error {
	device, err := s.LookupUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	return s.devices.Approve(ctx, device.ID, userID)
}

// DenyDevice records the user's refusal.
func (s *OAuthService) DenyDevice(ctx context.Context, userCode string) error {
	device, err := s.LookupUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	return s.devices.Deny(ctx, device.ID)
}

func tokenResponse(pair *oauth.TokenPair) *TokenResponse {
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(pair.AccessTTL.Seconds()),
		RefreshToken: pair.RefreshToken,
		Scope:        oauth.JoinScopes(pair.AccessRecord.Scopes),
	}
}

// narrowScopes applies the optional scope parameter on refresh: it may only
// shrink the grant, never widen it.
func narrowScopes(granted, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return granted, nil
	}
	grantedSet := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		grantedSet[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := grantedSet[s]; !ok {
			return nil, oauth.ErrInvalidScope("Requested scope exceeds the original grant: " + s)
		}
	}
	return requested, nil
}
