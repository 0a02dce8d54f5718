package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProfileStore = (*ProfileRepo)(nil)

// ProfileRepo persists caller profiles. Region and group sets are stored as
// JSON arrays since group strings may contain arbitrary separator characters.
type ProfileRepo struct {
	db  *DB
	now func() time.Time
}

// NewProfileRepo creates a ProfileRepo.
func NewProfileRepo(db *DB) *ProfileRepo {
	return &ProfileRepo{db: db, now: time.Now}
}

// Get returns the caller's profile, or nil if the caller is unknown.
func (r *ProfileRepo) Get(ctx context.Context, callerID int64) (*model.CallerProfile, error) {
	query := r.db.rebind(`SELECT upstream_domain, upstream_username, regions, member_groups,
    upstream_failure_count, upstream_last_success_at, upstream_last_failure_at
FROM caller_profiles WHERE caller_id = ?`)

	var (
		profile       model.CallerProfile
		regionsJSON   string
		groupsJSON    string
		lastSuccessAt sql.NullString
		lastFailureAt sql.NullString
	)
	err := r.db.Reader.QueryRowContext(ctx, query, callerID).Scan(
		&profile.UpstreamDomain, &profile.UpstreamUsername, &regionsJSON, &groupsJSON,
		&profile.UpstreamFailureCount, &lastSuccessAt, &lastFailureAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile for caller %d: %w", callerID, err)
	}

	profile.CallerID = callerID
	if err := json.Unmarshal([]byte(regionsJSON), &profile.Regions); err != nil {
		return nil, fmt.Errorf("profile for caller %d: decode regions: %w", callerID, err)
	}
	if err := json.Unmarshal([]byte(groupsJSON), &profile.Groups); err != nil {
		return nil, fmt.Errorf("profile for caller %d: decode groups: %w", callerID, err)
	}
	if profile.UpstreamLastSuccessAt, err = parseTime(lastSuccessAt); err != nil {
		return nil, fmt.Errorf("profile for caller %d: %w", callerID, err)
	}
	if profile.UpstreamLastFailureAt, err = parseTime(lastFailureAt); err != nil {
		return nil, fmt.Errorf("profile for caller %d: %w", callerID, err)
	}

	return &profile, nil
}

// Upsert creates or replaces a caller profile.
func (r *ProfileRepo) Upsert(ctx context.Context, profile model.CallerProfile) error {
	regionsJSON, err := json.Marshal(emptyIfNil(profile.Regions))
	if err != nil {
		return fmt.Errorf("encode regions: %w", err)
	}
	groupsJSON, err := json.Marshal(emptyIfNil(profile.Groups))
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}

	query := r.db.rebind(`INSERT INTO caller_profiles
    (caller_id, upstream_domain, upstream_username, regions, member_groups,
     upstream_failure_count, upstream_last_success_at, upstream_last_failure_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (caller_id) DO UPDATE SET
    upstream_domain = excluded.upstream_domain,
    upstream_username = excluded.upstream_username,
    regions = excluded.regions,
    member_groups = excluded.member_groups,
    upstream_failure_count = excluded.upstream_failure_count,
    upstream_last_success_at = excluded.upstream_last_success_at,
    upstream_last_failure_at = excluded.upstream_last_failure_at`)

	_, err = r.db.Writer.ExecContext(ctx, query,
		profile.CallerID, profile.UpstreamDomain, profile.UpstreamUsername,
		string(regionsJSON), string(groupsJSON),
		profile.UpstreamFailureCount,
		formatTime(profile.UpstreamLastSuccessAt), formatTime(profile.UpstreamLastFailureAt),
	)
	if err != nil {
		return fmt.Errorf("upsert profile for caller %d: %w", profile.CallerID, err)
	}
	return nil
}

// RecordUpstreamSuccess resets the caller's upstream failure counter and
// stamps the last-success time. Unknown callers are a no-op.
func (r *ProfileRepo) RecordUpstreamSuccess(ctx context.Context, callerID int64) error {
	query := r.db.rebind(`UPDATE caller_profiles
SET upstream_failure_count = 0, upstream_last_success_at = ?
WHERE caller_id = ?`)

	if _, err := r.db.Writer.ExecContext(ctx, query, formatTime(r.now()), callerID); err != nil {
		return fmt.Errorf("record upstream success for caller %d: %w", callerID, err)
	}
	return nil
}

// RecordUpstreamFailure increments the caller's upstream failure counter and
// stamps the last-failure time. Unknown callers are a no-op.
func (r *ProfileRepo) RecordUpstreamFailure(ctx context.Context, callerID int64) error {
	query := r.db.rebind(`UPDATE caller_profiles
SET upstream_failure_count = upstream_failure_count + 1, upstream_last_failure_at = ?
WHERE caller_id = ?`)

	if _, err := r.db.Writer.ExecContext(ctx, query, formatTime(r.now()), callerID); err != nil {
		return fmt.Errorf("record upstream failure for caller %d: %w", callerID, err)
	}
	return nil
}

// emptyIfNil keeps stored JSON arrays as [] rather than null.
func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
