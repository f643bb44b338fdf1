// Package keystore manages stored third-party credentials: keys users
// entrust to the service for later programmatic use. Values are encrypted
// at rest and returned decrypted only to members of the owning
// organization.
package keystore

import (
	"net/http"
	"time"

	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
)

var ErrRegistry = errx.NewRegistry("KEYSTORE")

var (
	CodeProjectNotFound  = ErrRegistry.Register("PROJECT_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Project not found")
	CodeKeyNotFound      = ErrRegistry.Register("KEY_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Stored key not found")
	CodeDuplicateProject = ErrRegistry.Register("DUPLICATE_PROJECT", errx.TypeConflict, http.StatusConflict, "A project with this name already exists in the organization")
	CodeDuplicateKey     = ErrRegistry.Register("DUPLICATE_KEY", errx.TypeConflict, http.StatusConflict, "A key with this name already exists for the project and environment")
	CodeAccessDenied     = ErrRegistry.Register("ACCESS_DENIED", errx.TypeAuthorization, http.StatusForbidden, "Caller is not a member of the owning organization")
)

func ErrProjectNotFound() *errx.Error  { return ErrRegistry.New(CodeProjectNotFound) }
func ErrKeyNotFound() *errx.Error      { return ErrRegistry.New(CodeKeyNotFound) }
func ErrDuplicateProject() *errx.Error { return ErrRegistry.New(CodeDuplicateProject) }
func ErrDuplicateKey() *errx.Error     { return ErrRegistry.New(CodeDuplicateKey) }
func ErrAccessDenied() *errx.Error     { return ErrRegistry.New(CodeAccessDenied) }

// Project groups stored keys and belongs to an organization. Name is
// unique per organization.
type Project struct {
	ID             kernel.ProjectID `db:"id" json:"id"`
	OrganizationID kernel.OrgID     `db:"organization_id" json:"organization_id"`
	Name           string           `db:"name" json:"name"`
	Description    string           `db:"description" json:"description,omitempty"`
	CreatedBy      kernel.UserID    `db:"created_by" json:"created_by"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// StoredKey is one third-party credential. The value column holds
// ciphertext; decryption happens only on an authorized read.
type StoredKey struct {
	ID             string           `db:"id" json:"id"`
	ProjectID      kernel.ProjectID `db:"project_id" json:"project_id"`
	Name           string           `db:"name" json:"name"`
	Environment    string           `db:"environment" json:"environment"`
	EncryptedValue []byte           `db:"encrypted_value" json:"-"`
	CreatedBy      kernel.UserID    `db:"created_by" json:"created_by"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// DecryptedKey is the authorized read result. The plaintext never persists.
type DecryptedKey struct {
	StoredKey
	Value string `json:"value"`
}
