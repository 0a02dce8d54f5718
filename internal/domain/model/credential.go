package model

import "time"

// CredentialKind distinguishes per-user credentials from the shared service
// account.
type CredentialKind string

const (
	CredentialUser    CredentialKind = "user"
	CredentialService CredentialKind = "service"
)

// Credential is an upstream identity. Per-caller credentials are persisted;
// the service credential is built from configuration at startup and is never
// invalidated by caller activity.
type Credential struct {
	Kind            CredentialKind
	Principal       string
	Secret          string
	CallerID        int64 // 0 for the service credential
	Valid           bool
	LastValidatedAt time.Time
	LastUsedAt      time.Time
	FailureCount    int
}

// CredentialInfo is the externally visible view of a credential. It carries
// no secret material.
type CredentialInfo struct {
	Kind      CredentialKind
	Principal string
	CallerID  int64
}

// Info returns the secret-free view of the credential.
func (c Credential) Info() CredentialInfo {
	return CredentialInfo{
		Kind:      c.Kind,
		Principal: c.Principal,
		CallerID:  c.CallerID,
	}
}
