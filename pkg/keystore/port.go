package keystore

import (
	"context"

	"github.com/lanonasis/authgate/pkg/kernel"
)

// ProjectRepository persists stored-key projects.
type ProjectRepository interface {
	Create(ctx context.Context, p Project) error
	FindByID(ctx context.Context, id kernel.ProjectID) (*Project, error)
	FindByOrganization(ctx context.Context, orgID kernel.OrgID) ([]*Project, error)

	// Delete removes the project; its stored keys cascade.
	Delete(ctx context.Context, id kernel.ProjectID) error
}

// StoredKeyRepository persists encrypted third-party credentials.
type StoredKeyRepository interface {
	Save(ctx context.Context, k StoredKey) error
	FindByID(ctx context.Context, id string) (*StoredKey, error)
	FindByProject(ctx context.Context, projectID kernel.ProjectID) ([]*StoredKey, error)
	Delete(ctx context.Context, id string) error
}

// Encryptor is the at-rest cipher boundary. Production binds AES-GCM over
// the configured key; tests substitute a reversible fake.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
