package driven

import (
	"context"

	"github.com/arborops/veggateway/internal/domain/model"
)

// ProfileStore defines the driven port for caller-profile data. Profiles are
// owned by the hosting application; the gateway reads scope-relevant fields
// and writes upstream bookkeeping only.
type ProfileStore interface {
	// Get returns the caller's profile, or nil if the caller is unknown.
	Get(ctx context.Context, callerID int64) (*model.CallerProfile, error)

	// Upsert creates or replaces a caller profile.
	Upsert(ctx context.Context, profile model.CallerProfile) error

	// RecordUpstreamSuccess resets the caller's upstream failure counter and
	// stamps the last-success time.
	RecordUpstreamSuccess(ctx context.Context, callerID int64) error

	// RecordUpstreamFailure increments the caller's upstream failure counter
	// and stamps the last-failure time.
	RecordUpstreamFailure(ctx context.Context, callerID int64) error
}
