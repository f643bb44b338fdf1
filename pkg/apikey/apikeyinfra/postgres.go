package apikeyinfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lanonasis/authgate/pkg/apikey"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/eventlog"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lib/pq"
)

// PostgresRepository implements apikey.Repository over the primary store.
type PostgresRepository struct {
	db     *sqlx.DB
	events eventlog.Appender
}

func NewPostgresRepository(db *sqlx.DB, events eventlog.Appender) *PostgresRepository {
	return &PostgresRepository{db: db, events: events}
}

type keyPersistence struct {
	ID             string         `db:"id"`
	KeyHash        string         `db:"key_hash"`
	Prefix         string         `db:"prefix"`
	UserID         string         `db:"user_id"`
	OrganizationID sql.NullString `db:"organization_id"`
	Name           string         `db:"name"`
	Scopes         pq.StringArray `db:"scopes"`
	ExpiresAt      *time.Time     `db:"expires_at"`
	IsActive       bool           `db:"is_active"`
	GraceUntil     *time.Time     `db:"grace_until"`
	ReplacedByID   *string        `db:"replaced_by_id"`
	LastUsedAt     *time.Time     `db:"last_used_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// Save inserts a new key and appends an ApiKeyCreated event in the same
// transaction.
func (r *PostgresRepository) Save(ctx context.Context, key apikey.APIKey) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertKey(ctx, tx, key); err != nil {
		return err
	}
	if err := appendKeyEvent(ctx, r.events, tx, eventlog.EventAPIKeyCreated, key, ""); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*apikey.APIKey, error) {
	var p keyPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM api_keys WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apikey.ErrKeyNotFound()
		}
		return nil, errx.Wrap(err, "failed to find API key", errx.TypeInternal)
	}
	k := keyToDomain(p)
	return &k, nil
}

func (r *PostgresRepository) FindByHash(ctx context.Context, keyHash string) (*apikey.APIKey, error) {
	var p keyPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM api_keys WHERE key_hash = $1`, keyHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apikey.ErrKeyNotFound()
		}
		return nil, errx.Wrap(err, "failed to find API key by hash", errx.TypeInternal)
	}
	k := keyToDomain(p)
	return &k, nil
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID kernel.UserID, page kernel.PaginationOptions) ([]*apikey.APIKey, int, error) {
	page = page.Normalize()

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM api_keys WHERE user_id = $1`, userID.String()); err != nil {
		return nil, 0, errx.Wrap(err, "failed to count API keys", errx.TypeInternal)
	}

	var rows []keyPersistence
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID.String(), page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, errx.Wrap(err, "failed to list API keys", errx.TypeInternal)
	}
	keys := make([]*apikey.APIKey, 0, len(rows))
	for _, p := range rows {
		k := keyToDomain(p)
		keys = append(keys, &k)
	}
	return keys, total, nil
}

func (r *PostgresRepository) FindByOrganization(ctx context.Context, orgID kernel.OrgID) ([]*apikey.APIKey, error) {
	return r.list(ctx, `SELECT * FROM api_keys WHERE organization_id = $1 ORDER BY created_at DESC`, orgID.String())
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg any) ([]*apikey.APIKey, error) {
	var rows []keyPersistence
	if err := r.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, errx.Wrap(err, "failed to list API keys", errx.TypeInternal)
	}
	keys := make([]*apikey.APIKey, 0, len(rows))
	for _, p := range rows {
		k := keyToDomain(p)
		keys = append(keys, &k)
	}
	return keys, nil
}

// Rotate deactivates the old key and inserts its replacement in one
// transaction, appending an ApiKeyRotated event that names both.
func (r *PostgresRepository) Rotate(ctx context.Context, old apikey.APIKey, replacement apikey.APIKey, graceUntil *time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE api_keys
		SET is_active = FALSE, grace_until = $2, replaced_by_id = $3, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE`,
		old.ID, graceUntil, replacement.ID)
	if err != nil {
		return errx.Wrap(err, "failed to deactivate rotated key", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apikey.ErrKeyRevoked()
	}

	if err := insertKey(ctx, tx, replacement); err != nil {
		return err
	}
	if err := appendKeyEvent(ctx, r.events, tx, eventlog.EventAPIKeyRotated, replacement, old.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// Revoke deactivates immediately. Monotonic: revoking a revoked key is a
// no-op and emits nothing.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}
	defer tx.Rollback() //nolint:errcheck

	var p keyPersistence
	err = tx.GetContext(ctx, &p, `
		UPDATE api_keys
		SET is_active = FALSE, grace_until = NULL, updated_at = NOW()
		WHERE id = $1 AND (is_active = TRUE OR grace_until IS NOT NULL)
		RETURNING *`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx.Commit()
		}
		return errx.Wrap(err, "failed to revoke API key", errx.TypeInternal)
	}

	if err := appendKeyEvent(ctx, r.events, tx, eventlog.EventAPIKeyRevoked, keyToDomain(p), ""); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return errx.Wrap(err, "failed to update last_used_at", errx.TypeInternal)
	}
	return nil
}

func insertKey(ctx context.Context, tx *sqlx.Tx, key apikey.APIKey) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO api_keys (
			id, key_hash, prefix, user_id, organization_id, name, scopes,
			expires_at, is_active, grace_until, replaced_by_id, last_used_at,
			created_at, updated_at
		) VALUES (
			:id, :key_hash, :prefix, :user_id, :organization_id, :name, :scopes,
			:expires_at, :is_active, :grace_until, :replaced_by_id, :last_used_at,
			:created_at, :updated_at
		)`, keyToPersistence(key))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errx.New("API key hash collision", errx.TypeConflict)
		}
		return errx.Wrap(err, "failed to insert API key", errx.TypeInternal).
			WithDetail("key_id", key.ID)
	}
	return nil
}

func appendKeyEvent(ctx context.Context, events eventlog.Appender, tx *sqlx.Tx, eventType string, key apikey.APIKey, replacesID string) error {
	_, err := events.Append(ctx, tx, eventlog.Event{
		AggregateType: eventlog.AggregateAPIKey,
		AggregateID:   key.ID,
		EventType:     eventType,
		Payload: eventlog.MarshalPayload(eventlog.APIKeyPayload{
			KeyID:          key.ID,
			ReplacesKeyID:  replacesID,
			UserID:         key.UserID.String(),
			OrganizationID: key.OrganizationID.String(),
			Name:           key.Name,
			Prefix:         key.Prefix,
			Scopes:         key.Scopes,
			ExpiresAt:      key.ExpiresAt,
		}),
	})
	return err
}

func keyToPersistence(k apikey.APIKey) keyPersistence {
	var org sql.NullString
	if !k.OrganizationID.IsEmpty() {
		org = sql.NullString{String: k.OrganizationID.String(), Valid: true}
	}
	return keyPersistence{
		ID:             k.ID,
		KeyHash:        k.KeyHash,
		Prefix:         k.Prefix,
		UserID:         k.UserID.String(),
		OrganizationID: org,
		Name:           k.Name,
		Scopes:         k.Scopes,
		ExpiresAt:      k.ExpiresAt,
		IsActive:       k.IsActive,
		GraceUntil:     k.GraceUntil,
		ReplacedByID:   k.ReplacedByID,
		LastUsedAt:     k.LastUsedAt,
		CreatedAt:      k.CreatedAt,
		UpdatedAt:      k.UpdatedAt,
	}
}

func keyToDomain(p keyPersistence) apikey.APIKey {
	var org kernel.OrgID
	if p.OrganizationID.Valid {
		org = kernel.NewOrgID(p.OrganizationID.String)
	}
	return apikey.APIKey{
		ID:             p.ID,
		KeyHash:        p.KeyHash,
		Prefix:         p.Prefix,
		UserID:         kernel.NewUserID(p.UserID),
		OrganizationID: org,
		Name:           p.Name,
		Scopes:         p.Scopes,
		ExpiresAt:      p.ExpiresAt,
		IsActive:       p.IsActive,
		GraceUntil:     p.GraceUntil,
		ReplacedByID:   p.ReplacedByID,
		LastUsedAt:     p.LastUsedAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}
