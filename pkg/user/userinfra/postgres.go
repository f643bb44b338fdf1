package userinfra

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/eventlog"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/user"
)

// PostgresRepository implements user.Repository over the primary store.
type PostgresRepository struct {
	db     *sqlx.DB
	events eventlog.Appender
}

func NewPostgresRepository(db *sqlx.DB, events eventlog.Appender) *PostgresRepository {
	return &PostgresRepository{db: db, events: events}
}

type accountPersistence struct {
	UserID       string          `db:"user_id"`
	Email        string          `db:"email"`
	Role         string          `db:"role"`
	Provider     string          `db:"provider"`
	Metadata     json.RawMessage `db:"metadata"`
	LastSignInAt *time.Time      `db:"last_sign_in_at"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// Upsert refreshes the registry row and appends a UserUpserted event in the
// same transaction.
func (r *PostgresRepository) Upsert(ctx context.Context, params user.UpsertParams) (*user.Account, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	metadata := json.RawMessage(`{}`)
	if params.Metadata != nil {
		if b, err := json.Marshal(params.Metadata); err == nil {
			metadata = b
		}
	}

	email := user.NormalizeEmail(params.Email)
	role := params.Role
	if role == "" {
		role = "user"
	}

	var p accountPersistence
	err = tx.GetContext(ctx, &p, `
		INSERT INTO user_accounts (user_id, email, role, provider, metadata, last_sign_in_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			provider = EXCLUDED.provider,
			metadata = EXCLUDED.metadata,
			last_sign_in_at = NOW(),
			updated_at = NOW()
		RETURNING *`,
		params.UserID.String(), email, role, params.Provider, metadata)
	if err != nil {
		return nil, errx.Wrap(err, "failed to upsert user account", errx.TypeInternal).
			WithDetail("user_id", params.UserID.String())
	}

	if _, err := r.events.Append(ctx, tx, eventlog.Event{
		AggregateType: eventlog.AggregateUser,
		AggregateID:   p.UserID,
		EventType:     eventlog.EventUserUpserted,
		Payload: eventlog.MarshalPayload(eventlog.UserUpsertedPayload{
			UserID:       p.UserID,
			Email:        p.Email,
			Role:         p.Role,
			Provider:     p.Provider,
			LastSignInAt: p.LastSignInAt,
		}),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit user upsert", errx.TypeInternal)
	}
	account := accountToDomain(p)
	return &account, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, userID kernel.UserID) (*user.Account, error) {
	var p accountPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM user_accounts WHERE user_id = $1`, userID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, user.ErrUserNotFound()
		}
		return nil, errx.Wrap(err, "failed to find user account", errx.TypeInternal)
	}
	account := accountToDomain(p)
	return &account, nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*user.Account, error) {
	var p accountPersistence
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM user_accounts WHERE email = $1`, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, user.ErrUserNotFound()
		}
		return nil, errx.Wrap(err, "failed to find user account by email", errx.TypeInternal)
	}
	account := accountToDomain(p)
	return &account, nil
}

func accountToDomain(p accountPersistence) user.Account {
	var metadata map[string]any
	if len(p.Metadata) > 0 {
		_ = json.Unmarshal(p.Metadata, &metadata)
	}
	return user.Account{
		UserID:       kernel.NewUserID(p.UserID),
		Email:        p.Email,
		Role:         p.Role,
		Provider:     p.Provider,
		Metadata:     metadata,
		LastSignInAt: p.LastSignInAt,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
