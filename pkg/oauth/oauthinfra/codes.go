package oauthinfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/lib/pq"
)

type codePersistence struct {
	ID              string         `db:"id"`
	LookupHash      string         `db:"lookup_hash"`
	CodeHash        string         `db:"code_hash"`
	ClientID        string         `db:"client_id"`
	UserID          string         `db:"user_id"`
	RedirectURI     string         `db:"redirect_uri"`
	Scopes          pq.StringArray `db:"scopes"`
	State           sql.NullString `db:"state"`
	CodeChallenge   sql.NullString `db:"code_challenge"`
	ChallengeMethod sql.NullString `db:"challenge_method"`
	ExpiresAt       time.Time      `db:"expires_at"`
	Consumed        bool           `db:"consumed"`
	ConsumedAt      *time.Time     `db:"consumed_at"`
	IPAddress       sql.NullString `db:"ip_address"`
	UserAgent       sql.NullString `db:"user_agent"`
	CreatedAt       time.Time      `db:"created_at"`
}

// CreateCode mints an opaque authorization code: 48 random bytes, sha256
// lookup column, bcrypt verification column. TTL defaults to 5 minutes.
func (s *Store) CreateCode(ctx context.Context, params oauth.CreateCodeParams) (string, *oauth.AuthorizationCode, error) {
	raw, err := oauth.GenerateOpaque()
	if err != nil {
		return "", nil, err
	}
	slow, err := oauth.SlowHash(raw, s.bcryptCost)
	if err != nil {
		return "", nil, err
	}

	ttl := params.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now().UTC()
	record := oauth.AuthorizationCode{
		ID:              uuid.NewString(),
		LookupHash:      oauth.LookupHash(raw),
		CodeHash:        slow,
		ClientID:        params.ClientID,
		UserID:          params.UserID,
		RedirectURI:     params.RedirectURI,
		Scopes:          params.Scopes,
		State:           params.State,
		CodeChallenge:   params.CodeChallenge,
		ChallengeMethod: params.ChallengeMethod,
		ExpiresAt:       now.Add(ttl),
		IPAddress:       params.IPAddress,
		UserAgent:       params.UserAgent,
		CreatedAt:       now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_authorization_codes (
			id, lookup_hash, code_hash, client_id, user_id, redirect_uri, scopes,
			state, code_challenge, challenge_method, expires_at, consumed,
			ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12, $13, $14)`,
		record.ID, record.LookupHash, record.CodeHash,
		record.ClientID.String(), record.UserID.String(), record.RedirectURI,
		pq.StringArray(record.Scopes),
		nullIfEmpty(record.State), nullIfEmpty(record.CodeChallenge), nullIfEmpty(record.ChallengeMethod),
		record.ExpiresAt, nullIfEmpty(record.IPAddress), nullIfEmpty(record.UserAgent), record.CreatedAt)
	if err != nil {
		return "", nil, errx.Wrap(err, "failed to create authorization code", errx.TypeInternal)
	}

	return raw, &record, nil
}

// ConsumeCode is the one-time exchange. The row lock on the hashed code
// makes two concurrent exchanges resolve to exactly one success: the loser
// observes consumed=true and fails invalid_grant.
func (s *Store) ConsumeCode(ctx context.Context, client *oauth.Client, rawCode, redirectURI string) (*oauth.AuthorizationCode, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	var p codePersistence
	err = tx.GetContext(ctx, &p,
		`SELECT * FROM oauth_authorization_codes WHERE lookup_hash = $1 FOR UPDATE`,
		oauth.LookupHash(rawCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, oauth.ErrInvalidGrant("Invalid authorization code")
		}
		return nil, errx.Wrap(err, "failed to look up authorization code", errx.TypeInternal)
	}

	if !oauth.VerifySlow(p.CodeHash, rawCode) {
		return nil, oauth.ErrInvalidGrant("Invalid authorization code")
	}
	if p.ClientID != client.ClientID.String() {
		return nil, oauth.ErrInvalidGrant("Authorization code was issued to a different client")
	}
	if p.RedirectURI != redirectURI {
		return nil, oauth.ErrInvalidGrant("redirect_uri does not match the authorization request")
	}
	if p.Consumed {
		return nil, oauth.ErrInvalidGrant("Authorization code already used")
	}
	if time.Now().After(p.ExpiresAt) {
		return nil, oauth.ErrInvalidGrant("Authorization code expired")
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE oauth_authorization_codes SET consumed = TRUE, consumed_at = $2 WHERE id = $1`,
		p.ID, now); err != nil {
		return nil, errx.Wrap(err, "failed to consume authorization code", errx.TypeInternal)
	}
	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit code consumption", errx.TypeInternal)
	}

	record := codeToDomain(p)
	record.Consumed = true
	record.ConsumedAt = &now
	return &record, nil
}

// PurgeExpiredCodes deletes consumed and long-expired codes. Run by the
// forwarder's maintenance schedule.
func (s *Store) PurgeExpiredCodes(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_authorization_codes WHERE expires_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, errx.Wrap(err, "failed to purge authorization codes", errx.TypeInternal)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func codeToDomain(p codePersistence) oauth.AuthorizationCode {
	return oauth.AuthorizationCode{
		ID:              p.ID,
		LookupHash:      p.LookupHash,
		CodeHash:        p.CodeHash,
		ClientID:        kernel.NewClientID(p.ClientID),
		UserID:          kernel.NewUserID(p.UserID),
		RedirectURI:     p.RedirectURI,
		Scopes:          p.Scopes,
		State:           p.State.String,
		CodeChallenge:   p.CodeChallenge.String,
		ChallengeMethod: p.ChallengeMethod.String,
		ExpiresAt:       p.ExpiresAt,
		Consumed:        p.Consumed,
		ConsumedAt:      p.ConsumedAt,
		IPAddress:       p.IPAddress.String,
		UserAgent:       p.UserAgent.String,
		CreatedAt:       p.CreatedAt,
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
