package keystoreinfra

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/keystore"
	"github.com/lib/pq"
)

// PostgresProjects implements keystore.ProjectRepository.
type PostgresProjects struct {
	db *sqlx.DB
}

func NewPostgresProjects(db *sqlx.DB) *PostgresProjects {
	return &PostgresProjects{db: db}
}

func (r *PostgresProjects) Create(ctx context.Context, p keystore.Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO keystore_projects (id, organization_id, name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID.String(), p.OrganizationID.String(), p.Name, p.Description,
		p.CreatedBy.String(), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return keystore.ErrDuplicateProject()
		}
		return errx.Wrap(err, "failed to create project", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresProjects) FindByID(ctx context.Context, id kernel.ProjectID) (*keystore.Project, error) {
	var p keystore.Project
	err := r.db.GetContext(ctx, &p, `SELECT * FROM keystore_projects WHERE id = $1`, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, keystore.ErrProjectNotFound()
		}
		return nil, errx.Wrap(err, "failed to find project", errx.TypeInternal)
	}
	return &p, nil
}

func (r *PostgresProjects) FindByOrganization(ctx context.Context, orgID kernel.OrgID) ([]*keystore.Project, error) {
	var projects []*keystore.Project
	err := r.db.SelectContext(ctx, &projects,
		`SELECT * FROM keystore_projects WHERE organization_id = $1 ORDER BY created_at DESC`,
		orgID.String())
	if err != nil {
		return nil, errx.Wrap(err, "failed to list projects", errx.TypeInternal)
	}
	return projects, nil
}

// Delete removes the project. Stored keys cascade via the foreign key.
func (r *PostgresProjects) Delete(ctx context.Context, id kernel.ProjectID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM keystore_projects WHERE id = $1`, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete project", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return keystore.ErrProjectNotFound()
	}
	return nil
}

// PostgresStoredKeys implements keystore.StoredKeyRepository.
type PostgresStoredKeys struct {
	db *sqlx.DB
}

func NewPostgresStoredKeys(db *sqlx.DB) *PostgresStoredKeys {
	return &PostgresStoredKeys{db: db}
}

func (r *PostgresStoredKeys) Save(ctx context.Context, k keystore.StoredKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO keystore_keys (id, project_id, name, environment, encrypted_value, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.ProjectID.String(), k.Name, k.Environment, k.EncryptedValue,
		k.CreatedBy.String(), k.CreatedAt, k.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return keystore.ErrDuplicateKey()
		}
		return errx.Wrap(err, "failed to save stored key", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresStoredKeys) FindByID(ctx context.Context, id string) (*keystore.StoredKey, error) {
	var k keystore.StoredKey
	err := r.db.GetContext(ctx, &k, `SELECT * FROM keystore_keys WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, keystore.ErrKeyNotFound()
		}
		return nil, errx.Wrap(err, "failed to find stored key", errx.TypeInternal)
	}
	return &k, nil
}

func (r *PostgresStoredKeys) FindByProject(ctx context.Context, projectID kernel.ProjectID) ([]*keystore.StoredKey, error) {
	var keys []*keystore.StoredKey
	err := r.db.SelectContext(ctx, &keys,
		`SELECT * FROM keystore_keys WHERE project_id = $1 ORDER BY name, environment`,
		projectID.String())
	if err != nil {
		return nil, errx.Wrap(err, "failed to list stored keys", errx.TypeInternal)
	}
	return keys, nil
}

func (r *PostgresStoredKeys) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM keystore_keys WHERE id = $1`, id)
	if err != nil {
		return errx.Wrap(err, "failed to delete stored key", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return keystore.ErrKeyNotFound()
	}
	return nil
}
