package oauthinfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/eventlog"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/lib/pq"
)

type clientPersistence struct {
	ClientID         string         `db:"client_id"`
	SecretHash       sql.NullString `db:"secret_hash"`
	ClientType       string         `db:"client_type"`
	ApplicationType  string         `db:"application_type"`
	Name             string         `db:"name"`
	RequirePKCE      bool           `db:"require_pkce"`
	ChallengeMethods pq.StringArray `db:"challenge_methods"`
	RedirectURIs     pq.StringArray `db:"redirect_uris"`
	AllowedScopes    pq.StringArray `db:"allowed_scopes"`
	DefaultScopes    pq.StringArray `db:"default_scopes"`
	Status           string         `db:"status"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// FindByID looks a client up by its case-insensitive id.
func (s *Store) FindByID(ctx context.Context, clientID kernel.ClientID) (*oauth.Client, error) {
	var p clientPersistence
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM oauth_clients WHERE LOWER(client_id) = LOWER($1)`, clientID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, oauth.ErrRegistry.New(oauth.CodeClientNotFound)
		}
		return nil, errx.Wrap(err, "failed to find OAuth client", errx.TypeInternal)
	}
	c := clientToDomain(p)
	return &c, nil
}

// Save upserts a client and appends an OAuthClientRegistered event in the
// same transaction on first insert.
func (s *Store) Save(ctx context.Context, client oauth.Client) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	p := clientToPersistence(client)
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO oauth_clients (
			client_id, secret_hash, client_type, application_type, name, require_pkce,
			challenge_methods, redirect_uris, allowed_scopes, default_scopes, status,
			created_at, updated_at
		) VALUES (
			:client_id, :secret_hash, :client_type, :application_type, :name, :require_pkce,
			:challenge_methods, :redirect_uris, :allowed_scopes, :default_scopes, :status,
			:created_at, :updated_at
		)
		ON CONFLICT (client_id) DO UPDATE SET
			client_type = EXCLUDED.client_type,
			application_type = EXCLUDED.application_type,
			name = EXCLUDED.name,
			require_pkce = EXCLUDED.require_pkce,
			challenge_methods = EXCLUDED.challenge_methods,
			redirect_uris = EXCLUDED.redirect_uris,
			allowed_scopes = EXCLUDED.allowed_scopes,
			default_scopes = EXCLUDED.default_scopes,
			status = EXCLUDED.status,
			updated_at = NOW()`, p)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errx.New("client_id already registered", errx.TypeConflict)
		}
		return errx.Wrap(err, "failed to save OAuth client", errx.TypeInternal).
			WithDetail("client_id", client.ClientID.String())
	}

	if _, err := s.events.Append(ctx, tx, eventlog.Event{
		AggregateType: eventlog.AggregateOAuthClient,
		AggregateID:   client.ClientID.String(),
		EventType:     eventlog.EventClientRegistered,
		Payload: eventlog.MarshalPayload(eventlog.ClientRegisteredPayload{
			ClientID:        client.ClientID.String(),
			ClientType:      string(client.ClientType),
			ApplicationType: string(client.ApplicationType),
		}),
	}); err != nil {
		return err
	}

	return tx.Commit()
}

func clientToPersistence(c oauth.Client) clientPersistence {
	now := time.Now().UTC()
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}
	var secret sql.NullString
	if c.SecretHash != nil {
		secret = sql.NullString{String: *c.SecretHash, Valid: true}
	}
	return clientPersistence{
		ClientID:         c.ClientID.String(),
		SecretHash:       secret,
		ClientType:       string(c.ClientType),
		ApplicationType:  string(c.ApplicationType),
		Name:             c.Name,
		RequirePKCE:      c.RequirePKCE,
		ChallengeMethods: c.ChallengeMethods,
		RedirectURIs:     c.RedirectURIs,
		AllowedScopes:    c.AllowedScopes,
		DefaultScopes:    c.DefaultScopes,
		Status:           string(c.Status),
		CreatedAt:        created,
		UpdatedAt:        now,
	}
}

func clientToDomain(p clientPersistence) oauth.Client {
	var secret *string
	if p.SecretHash.Valid {
		v := p.SecretHash.String
		secret = &v
	}
	return oauth.Client{
		ClientID:         kernel.NewClientID(p.ClientID),
		SecretHash:       secret,
		ClientType:       oauth.ClientType(p.ClientType),
		ApplicationType:  oauth.ApplicationType(p.ApplicationType),
		Name:             p.Name,
		RequirePKCE:      p.RequirePKCE,
		ChallengeMethods: p.ChallengeMethods,
		RedirectURIs:     p.RedirectURIs,
		AllowedScopes:    p.AllowedScopes,
		DefaultScopes:    p.DefaultScopes,
		Status:           oauth.ClientStatus(p.Status),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}
