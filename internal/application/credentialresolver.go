// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialMarker = (*CredentialResolver)(nil)

// CredentialResolver decides which upstream identity to present for a caller
// and tracks credential validity. A caller with a stored, valid credential is
// queried as themselves; everyone else rides the shared service account.
//
// Validity updates are single-row last-writer-wins: concurrent requests for
// the same caller may race on the flag, which is acceptable because the flag
// only picks a fallback path, it never gates correctness.
type CredentialResolver struct {
	creds    driven.CredentialStore
	profiles driven.ProfileStore
	service  model.Credential
	logger   *slog.Logger
	now      func() time.Time
}

// NewCredentialResolver creates a resolver with the configured service
// credential as the fallback identity.
func NewCredentialResolver(
	creds driven.CredentialStore,
	profiles driven.ProfileStore,
	service model.Credential,
	logger *slog.Logger,
) *CredentialResolver {
	service.Kind = model.CredentialService
	service.Valid = true
	return &CredentialResolver{
		creds:    creds,
		profiles: profiles,
		service:  service,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve returns the caller's credential when one exists and is marked
// valid, otherwise the shared service credential. callerID 0 always resolves
// to the service credential.
func (r *CredentialResolver) Resolve(ctx context.Context, callerID int64) (model.Credential, error) {
	if callerID == 0 {
		return r.service, nil
	}

	cred, err := r.creds.Get(ctx, callerID)
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		// Credential storage is disabled; every caller rides the service account.
		return r.service, nil
	}
	if err != nil {
		return model.Credential{}, err
	}
	if cred == nil || !cred.Valid {
		return r.service, nil
	}
	return *cred, nil
}

// MarkSuccess records a successful upstream call for the caller. If a
// per-caller credential exists it is revalidated: validity set, timestamps
// refreshed, failure counter cleared. Caller-level bookkeeping on the profile
// is always updated, independent of which credential actually served the
// request.
func (r *CredentialResolver) MarkSuccess(ctx context.Context, callerID int64) {
	if callerID == 0 {
		return
	}

	if cred, err := r.creds.Get(ctx, callerID); errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		// No stored credentials without a key; profile bookkeeping still applies.
	} else if err != nil {
		r.logger.Error("loading credential for success mark", "caller_id", callerID, "error", err)
	} else if cred != nil {
		now := r.now()
		cred.Valid = true
		cred.LastValidatedAt = now
		cred.LastUsedAt = now
		cred.FailureCount = 0
		if err := r.creds.Upsert(ctx, *cred); err != nil {
			r.logger.Error("marking credential valid", "caller_id", callerID, "error", err)
		}
	}

	if err := r.profiles.RecordUpstreamSuccess(ctx, callerID); err != nil {
		r.logger.Error("recording upstream success", "caller_id", callerID, "error", err)
	}
}

// MarkFailed records an authentication failure for the caller's credential:
// validity cleared and the failure counter incremented. No-op without a
// caller; the service credential is never invalidated by caller activity.
func (r *CredentialResolver) MarkFailed(ctx context.Context, callerID int64) {
	if callerID == 0 {
		return
	}

	if cred, err := r.creds.Get(ctx, callerID); errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		// No stored credentials without a key; profile bookkeeping still applies.
	} else if err != nil {
		r.logger.Error("loading credential for failure mark", "caller_id", callerID, "error", err)
	} else if cred != nil {
		cred.Valid = false
		cred.FailureCount++
		if err := r.creds.Upsert(ctx, *cred); err != nil {
			r.logger.Error("marking credential invalid", "caller_id", callerID, "error", err)
		}
	}

	if err := r.profiles.RecordUpstreamFailure(ctx, callerID); err != nil {
		r.logger.Error("recording upstream failure", "caller_id", callerID, "error", err)
	}
}

// Store creates or overwrites the caller's credential. The new credential
// starts valid with a cleared validation timestamp; validation happens on
// first successful use.
func (r *CredentialResolver) Store(ctx context.Context, callerID int64, principal, secret string) error {
	return r.creds.Upsert(ctx, model.Credential{
		Kind:      model.CredentialUser,
		Principal: principal,
		Secret:    secret,
		CallerID:  callerID,
		Valid:     true,
	})
}

// HasValid reports whether the caller has a stored credential currently
// marked valid.
func (r *CredentialResolver) HasValid(ctx context.Context, callerID int64) (bool, error) {
	cred, err := r.creds.Get(ctx, callerID)
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cred != nil && cred.Valid, nil
}

// Reactivate clears the invalid flag and validation timestamp after an
// out-of-band secret rotation, letting the next call revalidate the stored
// credential.
func (r *CredentialResolver) Reactivate(ctx context.Context, callerID int64) error {
	cred, err := r.creds.Get(ctx, callerID)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}

	cred.Valid = true
	cred.LastValidatedAt = time.Time{}
	return r.creds.Upsert(ctx, *cred)
}

// Delete removes the caller's stored credential. Subsequent requests fall
// back to the service account. Deletion does not require an encryption key.
func (r *CredentialResolver) Delete(ctx context.Context, callerID int64) error {
	return r.creds.Delete(ctx, callerID)
}

// Info returns the secret-free view of the credential the caller would
// resolve to.
func (r *CredentialResolver) Info(ctx context.Context, callerID int64) (model.CredentialInfo, error) {
	cred, err := r.Resolve(ctx, callerID)
	if err != nil {
		return model.CredentialInfo{}, err
	}
	return cred.Info(), nil
}
