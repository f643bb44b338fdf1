// Package apikeysrv implements the first-party API key lifecycle and the
// validator the authentication middleware runs for X-API-Key callers.
package apikeysrv

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lanonasis/authgate/pkg/apikey"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/user"
	"github.com/rs/zerolog/log"
)

// DefaultGraceWindow is how long a rotated-out key keeps validating so
// callers can switch to the replacement without an outage.
const DefaultGraceWindow = 24 * time.Hour

type APIKeyService struct {
	keys  apikey.Repository
	users user.Repository
	grace time.Duration
}

func NewAPIKeyService(keys apikey.Repository, users user.Repository) *APIKeyService {
	return &APIKeyService{keys: keys, users: users, grace: DefaultGraceWindow}
}

// Create mints a key and returns the raw value, once.
func (s *APIKeyService) Create(ctx context.Context, params apikey.CreateParams) (*apikey.CreateResponse, error) {
	generated, err := apikey.Generate(apikey.PrefixFor(params.Environment))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	if params.ExpiresIn != nil && *params.ExpiresIn > 0 {
		t := now.Add(*params.ExpiresIn)
		expiresAt = &t
	}

	key := apikey.APIKey{
		ID:             uuid.NewString(),
		KeyHash:        generated.KeyHash,
		Prefix:         generated.Prefix,
		UserID:         params.UserID,
		OrganizationID: params.OrganizationID,
		Name:           params.Name,
		Scopes:         params.Scopes,
		ExpiresAt:      expiresAt,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.keys.Save(ctx, key); err != nil {
		return nil, err
	}

	return &apikey.CreateResponse{
		APIKey:    key,
		SecretKey: generated.Key,
		Message:   "Save this key securely. It will not be shown again.",
	}, nil
}

// Rotate mints a replacement and deactivates the old key atomically. The
// old key keeps validating until the grace window closes.
func (s *APIKeyService) Rotate(ctx context.Context, keyID string, caller kernel.UserID) (*apikey.CreateResponse, error) {
	old, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if old.UserID != caller {
		return nil, apikey.ErrKeyNotFound()
	}

	generated, err := apikey.Generate(old.Prefix)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	replacement := apikey.APIKey{
		ID:             uuid.NewString(),
		KeyHash:        generated.KeyHash,
		Prefix:         old.Prefix,
		UserID:         old.UserID,
		OrganizationID: old.OrganizationID,
		Name:           old.Name,
		Scopes:         old.Scopes,
		ExpiresAt:      old.ExpiresAt,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	graceUntil := now.Add(s.grace)
	if err := s.keys.Rotate(ctx, *old, replacement, &graceUntil); err != nil {
		return nil, err
	}

	return &apikey.CreateResponse{
		APIKey:    replacement,
		SecretKey: generated.Key,
		Message:   "Save this key securely. The previous key stops working after the grace window.",
	}, nil
}

// Revoke deactivates immediately; no grace window.
func (s *APIKeyService) Revoke(ctx context.Context, keyID string, caller kernel.UserID) error {
	key, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		return err
	}
	if key.UserID != caller {
		return apikey.ErrKeyNotFound()
	}
	return s.keys.Revoke(ctx, key.ID)
}

// List returns one page of the caller's keys, hashes omitted by the domain
// type.
func (s *APIKeyService) List(ctx context.Context, caller kernel.UserID, page kernel.PaginationOptions) (kernel.Paginated[*apikey.APIKey], error) {
	page = page.Normalize()
	keys, total, err := s.keys.FindByUser(ctx, caller, page)
	if err != nil {
		return kernel.Paginated[*apikey.APIKey]{}, err
	}
	return kernel.NewPaginated(keys, page.Page, page.PageSize, total), nil
}

// ValidateKey resolves an X-API-Key credential to a caller identity. It
// satisfies the middleware's APIKeyValidator contract. A key whose user is
// missing from the local registry still validates, with a synthetic email.
func (s *APIKeyService) ValidateKey(ctx context.Context, raw string) (*kernel.AuthContext, error) {
	if !apikey.ValidFormat(raw) {
		return nil, apikey.ErrKeyInvalid()
	}

	key, err := s.keys.FindByHash(ctx, apikey.Hash(raw))
	if err != nil {
		return nil, apikey.ErrKeyInvalid()
	}
	if !apikey.VerifyHash(key.KeyHash, raw) {
		return nil, apikey.ErrKeyInvalid()
	}
	if !key.Accepts(time.Now()) {
		if key.IsExpired() {
			return nil, apikey.ErrKeyExpired()
		}
		return nil, apikey.ErrKeyRevoked()
	}

	email := fmt.Sprintf("%s@api-key.local", key.UserID.String())
	role := "user"
	if account, err := s.users.FindByID(ctx, key.UserID); err == nil {
		email = account.Email
		role = account.Role
	}

	go func() {
		if err := s.keys.UpdateLastUsed(context.Background(), key.ID); err != nil {
			log.Debug().Err(err).Str("key_id", key.ID).Msg("failed to update key last_used_at")
		}
	}()

	return &kernel.AuthContext{
		UserID:         key.UserID,
		OrgID:          key.OrganizationID,
		Email:          email,
		Role:           role,
		Scopes:         key.Scopes,
		CredentialType: kernel.CredentialAPIKey,
	}, nil
}
