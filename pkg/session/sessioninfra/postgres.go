package sessioninfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/eventlog"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/session"
)

// PostgresRepository implements session.Repository over the primary store.
type PostgresRepository struct {
	db     *sqlx.DB
	events eventlog.Appender
}

func NewPostgresRepository(db *sqlx.DB, events eventlog.Appender) *PostgresRepository {
	return &PostgresRepository{db: db, events: events}
}

type sessionPersistence struct {
	ID           string     `db:"id"`
	UserID       string     `db:"user_id"`
	Platform     string     `db:"platform"`
	IPAddress    string     `db:"ip_address"`
	UserAgent    string     `db:"user_agent"`
	Revoked      bool       `db:"revoked"`
	RevokedAt    *time.Time `db:"revoked_at"`
	NeverExpires bool       `db:"never_expires"`
	CreatedAt    time.Time  `db:"created_at"`
	LastUsedAt   time.Time  `db:"last_used_at"`
	ExpiresAt    time.Time  `db:"expires_at"`
}

// Create inserts the session and appends a SessionCreated event in the same
// transaction.
func (r *PostgresRepository) Create(ctx context.Context, s session.Session) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, platform, ip_address, user_agent, revoked, never_expires, created_at, last_used_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8, $9)`,
		s.ID, s.UserID.String(), s.Platform, s.IPAddress, s.UserAgent,
		s.NeverExpires, s.CreatedAt, s.LastUsedAt, s.ExpiresAt)
	if err != nil {
		return errx.Wrap(err, "failed to create session", errx.TypeInternal).
			WithDetail("session_id", s.ID)
	}

	if _, err := r.events.Append(ctx, tx, eventlog.Event{
		AggregateType: eventlog.AggregateSession,
		AggregateID:   s.ID,
		EventType:     eventlog.EventSessionCreated,
		Payload: eventlog.MarshalPayload(eventlog.SessionCreatedPayload{
			SessionID: s.ID,
			UserID:    s.UserID.String(),
			Platform:  s.Platform,
			IPAddress: s.IPAddress,
			UserAgent: s.UserAgent,
			ExpiresAt: s.ExpiresAt,
		}),
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// FindLive locates the newest live session for the user on the platform
// that already existed when the JWT was issued. A small clock skew margin
// keeps a session created milliseconds after signing from failing.
func (r *PostgresRepository) FindLive(ctx context.Context, userID kernel.UserID, platform string, issuedAt time.Time) (*session.Session, error) {
	var p sessionPersistence
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM sessions
		WHERE user_id = $1 AND platform = $2 AND revoked = FALSE
		  AND created_at <= $3
		  AND (never_expires OR expires_at > NOW())
		ORDER BY created_at DESC
		LIMIT 1`,
		userID.String(), platform, issuedAt.Add(5*time.Second))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find session", errx.TypeInternal)
	}
	s := sessionToDomain(p)
	return &s, nil
}

// RevokeForUser revokes every live session on the platform, appending one
// SessionRevoked event per row in the same transaction.
func (r *PostgresRepository) RevokeForUser(ctx context.Context, userID kernel.UserID, platform string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	var ids []string
	err = tx.SelectContext(ctx, &ids, `
		UPDATE sessions SET revoked = TRUE, revoked_at = NOW()
		WHERE user_id = $1 AND platform = $2 AND revoked = FALSE
		RETURNING id`,
		userID.String(), platform)
	if err != nil {
		return 0, errx.Wrap(err, "failed to revoke sessions", errx.TypeInternal)
	}

	for _, id := range ids {
		if _, err := r.events.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateSession,
			AggregateID:   id,
			EventType:     eventlog.EventSessionRevoked,
			Payload: eventlog.MarshalPayload(eventlog.SessionRevokedPayload{
				SessionID: id,
				UserID:    userID.String(),
			}),
		}); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errx.Wrap(err, "failed to commit session revocation", errx.TypeInternal)
	}
	return int64(len(ids)), nil
}

func (r *PostgresRepository) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return errx.Wrap(err, "failed to touch session", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE NOT never_expires AND expires_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, errx.Wrap(err, "failed to purge sessions", errx.TypeInternal)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func sessionToDomain(p sessionPersistence) session.Session {
	return session.Session{
		ID:           p.ID,
		UserID:       kernel.NewUserID(p.UserID),
		Platform:     p.Platform,
		IPAddress:    p.IPAddress,
		UserAgent:    p.UserAgent,
		Revoked:      p.Revoked,
		RevokedAt:    p.RevokedAt,
		NeverExpires: p.NeverExpires,
		CreatedAt:    p.CreatedAt,
		LastUsedAt:   p.LastUsedAt,
		ExpiresAt:    p.ExpiresAt,
	}
}
