package admininfra

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lanonasis/authgate/pkg/admin"
	"github.com/lanonasis/authgate/pkg/errx"
)

// PostgresRepository implements admin.Repository against admin_accounts.
// It deliberately writes no events: the bypass path has no read-side
// dependency at all.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a admin.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admin_accounts (id, email, password_hash, created_at, updated_at)
		VALUES ($1, LOWER($2), $3, $4, $5)`,
		a.ID.String(), a.Email, a.PasswordHash, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return admin.ErrDuplicateEmail()
		}
		return errx.Wrap(err, "failed to create admin account", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*admin.Account, error) {
	var a admin.Account
	err := r.db.GetContext(ctx, &a,
		`SELECT * FROM admin_accounts WHERE email = LOWER($1)`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, admin.ErrAccountNotFound()
		}
		return nil, errx.Wrap(err, "failed to find admin account", errx.TypeInternal)
	}
	return &a, nil
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE admin_accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		id, passwordHash)
	if err != nil {
		return errx.Wrap(err, "failed to update admin password", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return admin.ErrAccountNotFound()
	}
	return nil
}
