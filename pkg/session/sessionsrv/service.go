// Package sessionsrv implements the login bridge: identity-provider
// verification, local registry upsert, session creation, and the JWT the
// cookies carry.
package sessionsrv

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lanonasis/authgate/pkg/auth"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/session"
	"github.com/lanonasis/authgate/pkg/user"
	"github.com/rs/zerolog/log"
)

type SessionService struct {
	sessions session.Repository
	users    user.Repository
	idp      session.IdentityProvider
	jwt      *auth.JWTService
	ttl      time.Duration
}

func NewSessionService(
	sessions session.Repository,
	users user.Repository,
	idp session.IdentityProvider,
	jwt *auth.JWTService,
	ttl time.Duration,
) *SessionService {
	if ttl == 0 {
		ttl = session.DefaultTTL
	}
	return &SessionService{
		sessions: sessions,
		users:    users,
		idp:      idp,
		jwt:      jwt,
		ttl:      ttl,
	}
}

// ActorInfo records where a login came from.
type ActorInfo struct {
	IPAddress string
	UserAgent string
}

// LoginResult carries everything the HTTP layer needs to set cookies.
type LoginResult struct {
	Token   string
	Session session.Session
	Account *user.Account
}

// Login verifies credentials against the identity provider, refreshes the
// local registry, creates the session row, and signs the cookie JWT.
func (s *SessionService) Login(ctx context.Context, email, password, platform string, actor ActorInfo) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, session.ErrInvalidCredentials()
	}
	if platform == "" {
		platform = "web"
	}

	identity, err := s.idp.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	account, err := s.users.Upsert(ctx, user.UpsertParams{
		UserID:   identity.UserID,
		Email:    identity.Email,
		Role:     identity.Role,
		Provider: identity.Provider,
		Metadata: identity.Metadata,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := session.Session{
		ID:         uuid.NewString(),
		UserID:     account.UserID,
		Platform:   platform,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, record); err != nil {
		return nil, err
	}

	token, err := s.jwt.GenerateSessionToken(account.UserID, account.Email, account.Role, platform)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", account.UserID.String()).
		Str("platform", platform).
		Str("session_id", record.ID).
		Msg("session created")

	return &LoginResult{Token: token, Session: record, Account: account}, nil
}

// Logout revokes every live session the user holds on the platform. The
// cookie dies with the rows: ConfirmSession fails afterwards.
func (s *SessionService) Logout(ctx context.Context, userID kernel.UserID, platform string) error {
	n, err := s.sessions.RevokeForUser(ctx, userID, platform)
	if err != nil {
		return err
	}
	log.Info().
		Str("user_id", userID.String()).
		Str("platform", platform).
		Int64("revoked", n).
		Msg("sessions revoked")
	return nil
}

// ConfirmSession implements auth.SessionChecker: a JWT only authenticates
// while a live session row created at or before its issue time exists.
func (s *SessionService) ConfirmSession(ctx context.Context, userID kernel.UserID, platform string, issuedAt time.Time) (string, error) {
	record, err := s.sessions.FindLive(ctx, userID, platform, issuedAt)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", session.ErrSessionNotFound()
	}
	go s.sessions.Touch(context.Background(), record.ID) //nolint:errcheck
	return record.ID, nil
}
