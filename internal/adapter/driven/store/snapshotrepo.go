package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SnapshotStore = (*SnapshotRepo)(nil)

// SnapshotRepo is the append-only snapshot sink. Rows are never updated;
// retention pruning is an external job.
type SnapshotRepo struct {
	db *DB
}

// NewSnapshotRepo creates a SnapshotRepo.
func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// InsertSystem appends one system-wide snapshot record.
func (r *SnapshotRepo) InsertSystem(ctx context.Context, snap model.SystemSnapshot) error {
	query := r.db.rebind(`INSERT INTO system_snapshots
    (total_assessments, completed_assessments, active_assessments, total_miles,
     completed_miles, active_planners, open_jobs, closed_jobs,
     scope_year, scope_hash, captured_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.Writer.ExecContext(ctx, query,
		snap.TotalAssessments, snap.CompletedAssessments, snap.ActiveAssessments,
		snap.TotalMiles, snap.CompletedMiles, snap.ActivePlanners,
		snap.OpenJobs, snap.ClosedJobs,
		snap.ScopeYear, snap.ScopeHash, formatTime(snap.CapturedAt),
	)
	if err != nil {
		return fmt.Errorf("insert system snapshot: %w", err)
	}
	return nil
}

// InsertRegional appends the given regional snapshot records in a single
// transaction.
func (r *SnapshotRepo) InsertRegional(ctx context.Context, snaps []model.RegionalSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin regional snapshot batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := r.db.rebind(`INSERT INTO regional_snapshots
    (region_name, total_assessments, completed_assessments, active_assessments,
     total_miles, completed_miles, active_planners,
     scope_year, scope_hash, captured_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	for _, snap := range snaps {
		if _, err := tx.ExecContext(ctx, query,
			snap.RegionName, snap.TotalAssessments, snap.CompletedAssessments,
			snap.ActiveAssessments, snap.TotalMiles, snap.CompletedMiles,
			snap.ActivePlanners,
			snap.ScopeYear, snap.ScopeHash, formatTime(snap.CapturedAt),
		); err != nil {
			return fmt.Errorf("insert regional snapshot for %s: %w", snap.RegionName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit regional snapshot batch: %w", err)
	}
	return nil
}

// LatestSystem returns the most recent system snapshot for the scope hash,
// or nil if none exists.
func (r *SnapshotRepo) LatestSystem(ctx context.Context, scopeHash string) (*model.SystemSnapshot, error) {
	query := r.db.rebind(`SELECT id, total_assessments, completed_assessments, active_assessments,
    total_miles, completed_miles, active_planners, open_jobs, closed_jobs,
    scope_year, scope_hash, captured_at
FROM system_snapshots WHERE scope_hash = ?
ORDER BY captured_at DESC LIMIT 1`)

	var (
		snap       model.SystemSnapshot
		capturedAt sql.NullString
	)
	err := r.db.Reader.QueryRowContext(ctx, query, scopeHash).Scan(
		&snap.ID, &snap.TotalAssessments, &snap.CompletedAssessments, &snap.ActiveAssessments,
		&snap.TotalMiles, &snap.CompletedMiles, &snap.ActivePlanners,
		&snap.OpenJobs, &snap.ClosedJobs,
		&snap.ScopeYear, &snap.ScopeHash, &capturedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest system snapshot: %w", err)
	}

	if snap.CapturedAt, err = parseTime(capturedAt); err != nil {
		return nil, fmt.Errorf("latest system snapshot: %w", err)
	}
	return &snap, nil
}

// LatestRegional returns the most recent regional snapshot batch for the
// scope hash: all rows sharing the newest capture time.
func (r *SnapshotRepo) LatestRegional(ctx context.Context, scopeHash string) ([]model.RegionalSnapshot, error) {
	query := r.db.rebind(`SELECT id, region_name, total_assessments, completed_assessments,
    active_assessments, total_miles, completed_miles, active_planners,
    scope_year, scope_hash, captured_at
FROM regional_snapshots
WHERE scope_hash = ? AND captured_at = (
    SELECT MAX(captured_at) FROM regional_snapshots WHERE scope_hash = ?
)
ORDER BY region_name`)

	rows, err := r.db.Reader.QueryContext(ctx, query, scopeHash, scopeHash)
	if err != nil {
		return nil, fmt.Errorf("latest regional snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []model.RegionalSnapshot
	for rows.Next() {
		var (
			snap       model.RegionalSnapshot
			capturedAt sql.NullString
		)
		if err := rows.Scan(
			&snap.ID, &snap.RegionName, &snap.TotalAssessments, &snap.CompletedAssessments,
			&snap.ActiveAssessments, &snap.TotalMiles, &snap.CompletedMiles,
			&snap.ActivePlanners,
			&snap.ScopeYear, &snap.ScopeHash, &capturedAt,
		); err != nil {
			return nil, fmt.Errorf("scan regional snapshot: %w", err)
		}
		if snap.CapturedAt, err = parseTime(capturedAt); err != nil {
			return nil, fmt.Errorf("regional snapshot %s: %w", snap.RegionName, err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regional snapshots: %w", err)
	}

	return snaps, nil
}
