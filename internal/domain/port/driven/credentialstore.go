package driven

import (
	"context"
	"errors"

	"github.com/arborops/veggateway/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when the
// adapter was constructed without an encryption key. Stored secrets are
// encrypted at rest; without a key the store can neither write nor read them.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set VEGGW_SECRET_KEY")

// CredentialStore defines the driven port for per-caller upstream credential
// persistence. The shared service credential is configuration, not a row, and
// never passes through this store.
type CredentialStore interface {
	// Get returns the caller's credential, or nil if none is stored. Returns
	// ErrEncryptionKeyNotSet if the adapter was constructed without an
	// encryption key.
	Get(ctx context.Context, callerID int64) (*model.Credential, error)

	// Upsert creates or fully replaces the caller's credential row. Returns
	// ErrEncryptionKeyNotSet if the adapter was constructed without an
	// encryption key.
	Upsert(ctx context.Context, cred model.Credential) error

	// Delete removes the caller's credential. Deleting a missing row is not
	// an error.
	Delete(ctx context.Context, callerID int64) error
}
