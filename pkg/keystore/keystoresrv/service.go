// Package keystoresrv enforces organization access on the stored-key
// vault and moves values through the Encryptor boundary.
package keystoresrv

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/keystore"
)

type KeystoreService struct {
	projects  keystore.ProjectRepository
	keys      keystore.StoredKeyRepository
	encryptor keystore.Encryptor
}

func NewKeystoreService(projects keystore.ProjectRepository, keys keystore.StoredKeyRepository, encryptor keystore.Encryptor) *KeystoreService {
	return &KeystoreService{projects: projects, keys: keys, encryptor: encryptor}
}

// CreateProject creates a project owned by the caller's organization.
func (s *KeystoreService) CreateProject(ctx context.Context, caller *kernel.AuthContext, name, description string) (*keystore.Project, error) {
	if caller.OrgID.IsEmpty() {
		return nil, keystore.ErrAccessDenied()
	}
	if name == "" {
		return nil, errx.New("project name is required", errx.TypeValidation)
	}
	now := time.Now().UTC()
	p := keystore.Project{
		ID:             kernel.NewProjectID(uuid.NewString()),
		OrganizationID: caller.OrgID,
		Name:           name,
		Description:    description,
		CreatedBy:      caller.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns the caller's organization projects.
func (s *KeystoreService) ListProjects(ctx context.Context, caller *kernel.AuthContext) ([]*keystore.Project, error) {
	if caller.OrgID.IsEmpty() {
		return nil, keystore.ErrAccessDenied()
	}
	return s.projects.FindByOrganization(ctx, caller.OrgID)
}

// DeleteProject removes a project and, by cascade, every key it holds.
func (s *KeystoreService) DeleteProject(ctx context.Context, caller *kernel.AuthContext, id kernel.ProjectID) error {
	if _, err := s.memberProject(ctx, caller, id); err != nil {
		return err
	}
	return s.projects.Delete(ctx, id)
}

// StoreKey encrypts and saves a third-party credential in a project.
func (s *KeystoreService) StoreKey(ctx context.Context, caller *kernel.AuthContext, projectID kernel.ProjectID, name, environment, value string) (*keystore.StoredKey, error) {
	if _, err := s.memberProject(ctx, caller, projectID); err != nil {
		return nil, err
	}
	if name == "" || value == "" {
		return nil, errx.New("name and value are required", errx.TypeValidation)
	}
	if environment == "" {
		environment = "production"
	}

	ciphertext, err := s.encryptor.Encrypt([]byte(value))
	if err != nil {
		return nil, errx.Wrap(err, "failed to encrypt stored key", errx.TypeInternal)
	}

	now := time.Now().UTC()
	k := keystore.StoredKey{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		Name:           name,
		Environment:    environment,
		EncryptedValue: ciphertext,
		CreatedBy:      caller.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.keys.Save(ctx, k); err != nil {
		return nil, err
	}
	return &k, nil
}

// ListKeys returns a project's keys without decrypting them.
func (s *KeystoreService) ListKeys(ctx context.Context, caller *kernel.AuthContext, projectID kernel.ProjectID) ([]*keystore.StoredKey, error) {
	if _, err := s.memberProject(ctx, caller, projectID); err != nil {
		return nil, err
	}
	return s.keys.FindByProject(ctx, projectID)
}

// RevealKey decrypts one credential for an authorized member.
func (s *KeystoreService) RevealKey(ctx context.Context, caller *kernel.AuthContext, id string) (*keystore.DecryptedKey, error) {
	k, err := s.keys.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberProject(ctx, caller, k.ProjectID); err != nil {
		return nil, err
	}
	plaintext, err := s.encryptor.Decrypt(k.EncryptedValue)
	if err != nil {
		return nil, errx.Wrap(err, "failed to decrypt stored key", errx.TypeInternal)
	}
	return &keystore.DecryptedKey{StoredKey: *k, Value: string(plaintext)}, nil
}

// DeleteKey removes one credential.
func (s *KeystoreService) DeleteKey(ctx context.Context, caller *kernel.AuthContext, id string) error {
	k, err := s.keys.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.memberProject(ctx, caller, k.ProjectID); err != nil {
		return err
	}
	return s.keys.Delete(ctx, id)
}

// memberProject loads the project and checks the caller's organization
// against its owner.
func (s *KeystoreService) memberProject(ctx context.Context, caller *kernel.AuthContext, id kernel.ProjectID) (*keystore.Project, error) {
	p, err := s.projects.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.OrgID.IsEmpty() || p.OrganizationID != caller.OrgID {
		return nil, keystore.ErrAccessDenied()
	}
	return p, nil
}
