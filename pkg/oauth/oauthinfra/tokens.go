package oauthinfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/eventlog"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/lib/pq"
)

type tokenPersistence struct {
	ID            string         `db:"id"`
	LookupHash    string         `db:"lookup_hash"`
	TokenHash     string         `db:"token_hash"`
	TokenType     string         `db:"token_type"`
	ClientID      string         `db:"client_id"`
	UserID        string         `db:"user_id"`
	Scopes        pq.StringArray `db:"scopes"`
	ExpiresAt     time.Time      `db:"expires_at"`
	Revoked       bool           `db:"revoked"`
	RevokedAt     *time.Time     `db:"revoked_at"`
	RevokedReason sql.NullString `db:"revoked_reason"`
	ParentTokenID sql.NullString `db:"parent_token_id"`
	CreatedAt     time.Time      `db:"created_at"`
}

// IssueTokenPair creates the refresh and access rows in one transaction.
// The access token's parent is the refresh row, so revoking the refresh
// chain reaches the access tokens it granted.
func (s *Store) IssueTokenPair(ctx context.Context, client *oauth.Client, userID kernel.UserID, scopes []string, actor oauth.ActorContext) (*oauth.TokenPair, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	pair, err := s.insertPair(ctx, tx, client, userID, scopes, nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit token issuance", errx.TypeInternal)
	}
	return pair, nil
}

// insertPair writes a refresh + access pair inside tx and appends their
// TokenIssued events. parentRefreshID links a rotated refresh to its
// predecessor.
func (s *Store) insertPair(ctx context.Context, tx *sqlx.Tx, client *oauth.Client, userID kernel.UserID, scopes []string, parentRefreshID *string) (*oauth.TokenPair, error) {
	rawRefresh, err := oauth.GenerateOpaque()
	if err != nil {
		return nil, err
	}
	rawAccess, err := oauth.GenerateOpaque()
	if err != nil {
		return nil, err
	}
	refreshHash, err := oauth.SlowHash(rawRefresh, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	refresh := oauth.Token{
		ID:            uuid.NewString(),
		LookupHash:    oauth.LookupHash(rawRefresh),
		TokenHash:     refreshHash,
		TokenType:     oauth.TokenRefresh,
		ClientID:      client.ClientID,
		UserID:        userID,
		Scopes:        scopes,
		ExpiresAt:     now.Add(s.refreshTokenTTL),
		ParentTokenID: parentRefreshID,
		CreatedAt:     now,
	}
	access := oauth.Token{
		ID:         uuid.NewString(),
		LookupHash: oauth.LookupHash(rawAccess),
		// Access tokens are verified on every request: fast hash only.
		TokenHash:     oauth.LookupHash(rawAccess),
		TokenType:     oauth.TokenAccess,
		ClientID:      client.ClientID,
		UserID:        userID,
		Scopes:        scopes,
		ExpiresAt:     now.Add(s.accessTokenTTL),
		ParentTokenID: &refresh.ID,
		CreatedAt:     now,
	}

	for _, t := range []oauth.Token{refresh, access} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO oauth_tokens (
				id, lookup_hash, token_hash, token_type, client_id, user_id, scopes,
				expires_at, revoked, parent_token_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10)`,
			t.ID, t.LookupHash, t.TokenHash, string(t.TokenType),
			t.ClientID.String(), t.UserID.String(), pq.StringArray(t.Scopes),
			t.ExpiresAt, t.ParentTokenID, t.CreatedAt); err != nil {
			return nil, errx.Wrap(err, "failed to insert token", errx.TypeInternal)
		}
		exp := t.ExpiresAt
		if _, err := s.events.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateOAuthToken,
			AggregateID:   t.ID,
			EventType:     eventlog.EventTokenIssued,
			Payload: eventlog.MarshalPayload(eventlog.TokenPayload{
				TokenID:   t.ID,
				TokenType: string(t.TokenType),
				ClientID:  t.ClientID.String(),
				UserID:    t.UserID.String(),
				Scopes:    t.Scopes,
				ExpiresAt: &exp,
			}),
		}); err != nil {
			return nil, err
		}
	}

	return &oauth.TokenPair{
		AccessToken:   rawAccess,
		RefreshToken:  rawRefresh,
		AccessRecord:  access,
		RefreshRecord: refresh,
		AccessTTL:     s.accessTokenTTL,
		RefreshTTL:    s.refreshTokenTTL,
	}, nil
}

// FindRefreshToken resolves a presented refresh token. Expired-but-unrevoked
// chains are revoked transparently and reported as not found; revoked rows
// are returned so the caller can run replay defense.
func (s *Store) FindRefreshToken(ctx context.Context, raw string, clientID kernel.ClientID) (*oauth.Token, error) {
	var p tokenPersistence
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM oauth_tokens WHERE lookup_hash = $1 AND token_type = 'refresh'`,
		oauth.LookupHash(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find refresh token", errx.TypeInternal)
	}
	if !oauth.VerifySlow(p.TokenHash, raw) {
		return nil, nil
	}
	if p.ClientID != clientID.String() {
		return nil, nil
	}

	t := tokenToDomain(p)
	if !t.Revoked && t.IsExpired() {
		if err := s.RevokeChain(ctx, t.ID, oauth.ReasonExpired); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &t, nil
}

// RotateRefreshToken revokes the presented refresh and all descendants,
// then issues the successor pair, all in one transaction. The successor
// refresh records the rotated one as its parent.
func (s *Store) RotateRefreshToken(ctx context.Context, existing *oauth.Token, client *oauth.Client, scopes []string, actor oauth.ActorContext) (*oauth.TokenPair, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.revokeOne(ctx, tx, existing.ID, oauth.ReasonRotated, eventlog.EventTokenRotated); err != nil {
		return nil, err
	}
	if err := s.revokeDescendants(ctx, tx, existing.ID, oauth.ReasonAncestorRotated); err != nil {
		return nil, err
	}

	if len(scopes) == 0 {
		scopes = existing.Scopes
	}
	pair, err := s.insertPair(ctx, tx, client, existing.UserID, scopes, &existing.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit token rotation", errx.TypeInternal)
	}
	return pair, nil
}

// FindTokenByValue locates a token by raw value. The hint narrows the first
// probe; both types are tried because RFC 7009 allows a wrong hint.
func (s *Store) FindTokenByValue(ctx context.Context, raw, hint string) (*oauth.Token, error) {
	var p tokenPersistence
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM oauth_tokens WHERE lookup_hash = $1`, oauth.LookupHash(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find token", errx.TypeInternal)
	}

	switch oauth.TokenType(p.TokenType) {
	case oauth.TokenAccess:
		if !oauth.VerifyFast(p.TokenHash, raw) {
			return nil, nil
		}
	case oauth.TokenRefresh:
		if !oauth.VerifySlow(p.TokenHash, raw) {
			return nil, nil
		}
	default:
		return nil, nil
	}

	t := tokenToDomain(p)
	return &t, nil
}

// RevokeToken revokes one row. Monotonic: an already revoked row keeps its
// original reason and timestamp.
func (s *Store) RevokeToken(ctx context.Context, tokenID, reason string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.revokeOne(ctx, tx, tokenID, reason, eventlog.EventTokenRevoked); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeChain revokes the root and every descendant reachable through
// parent_token_id in one transaction.
func (s *Store) RevokeChain(ctx context.Context, rootID, reason string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.revokeOne(ctx, tx, rootID, reason, eventlog.EventTokenRevoked); err != nil {
		return err
	}
	if err := s.revokeDescendants(ctx, tx, rootID, reason); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) revokeOne(ctx context.Context, tx *sqlx.Tx, tokenID, reason, eventType string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET revoked = TRUE, revoked_at = NOW(), revoked_reason = $2
		WHERE id = $1 AND revoked = FALSE`,
		tokenID, reason)
	if err != nil {
		return errx.Wrap(err, "failed to revoke token", errx.TypeInternal)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Already revoked: monotonic, no event.
		return nil
	}

	_, err = s.events.Append(ctx, tx, eventlog.Event{
		AggregateType: eventlog.AggregateOAuthToken,
		AggregateID:   tokenID,
		EventType:     eventType,
		Payload: eventlog.MarshalPayload(eventlog.TokenPayload{
			TokenID: tokenID,
			Reason:  reason,
		}),
	})
	return err
}

// revokeDescendants walks the parent_token_id tree below root with a
// recursive query; no in-memory graph is needed.
func (s *Store) revokeDescendants(ctx context.Context, tx *sqlx.Tx, rootID, reason string) error {
	var ids []string
	err := tx.SelectContext(ctx, &ids, `
		WITH RECURSIVE descendants AS (
			SELECT id FROM oauth_tokens WHERE parent_token_id = $1
			UNION ALL
			SELECT t.id FROM oauth_tokens t
			JOIN descendants d ON t.parent_token_id = d.id
		)
		UPDATE oauth_tokens
		SET revoked = TRUE, revoked_at = NOW(), revoked_reason = $2
		FROM descendants
		WHERE oauth_tokens.id = descendants.id AND oauth_tokens.revoked = FALSE
		RETURNING oauth_tokens.id`,
		rootID, reason)
	if err != nil {
		return errx.Wrap(err, "failed to revoke token descendants", errx.TypeInternal)
	}

	for _, id := range ids {
		if _, err := s.events.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateOAuthToken,
			AggregateID:   id,
			EventType:     eventlog.EventTokenRevoked,
			Payload: eventlog.MarshalPayload(eventlog.TokenPayload{
				TokenID: id,
				Reason:  reason,
			}),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Introspect answers RFC 7662: active iff the token exists, verifies, is
// not revoked and not expired.
func (s *Store) Introspect(ctx context.Context, raw string) (*oauth.Introspection, error) {
	t, err := s.FindTokenByValue(ctx, raw, "")
	if err != nil {
		return nil, err
	}
	if t == nil {
		return &oauth.Introspection{Active: false}, nil
	}
	return &oauth.Introspection{
		Active:    t.IsActive(),
		ClientID:  t.ClientID.String(),
		UserID:    t.UserID.String(),
		Scope:     oauth.JoinScopes(t.Scopes),
		TokenType: string(t.TokenType),
		Exp:       t.ExpiresAt.Unix(),
		Iat:       t.CreatedAt.Unix(),
		Revoked:   t.Revoked,
	}, nil
}

// PurgeExpiredTokens deletes tokens expired longer than olderThan ago.
func (s *Store) PurgeExpiredTokens(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE expires_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, errx.Wrap(err, "failed to purge tokens", errx.TypeInternal)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func tokenToDomain(p tokenPersistence) oauth.Token {
	var reason *string
	if p.RevokedReason.Valid {
		v := p.RevokedReason.String
		reason = &v
	}
	var parent *string
	if p.ParentTokenID.Valid {
		v := p.ParentTokenID.String
		parent = &v
	}
	return oauth.Token{
		ID:            p.ID,
		LookupHash:    p.LookupHash,
		TokenHash:     p.TokenHash,
		TokenType:     oauth.TokenType(p.TokenType),
		ClientID:      kernel.NewClientID(p.ClientID),
		UserID:        kernel.NewUserID(p.UserID),
		Scopes:        p.Scopes,
		ExpiresAt:     p.ExpiresAt,
		Revoked:       p.Revoked,
		RevokedAt:     p.RevokedAt,
		RevokedReason: reason,
		ParentTokenID: parent,
		CreatedAt:     p.CreatedAt,
	}
}
