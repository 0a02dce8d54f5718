package model

import "time"

// SystemSnapshot is a point-in-time capture of system-wide aggregate metrics.
// Snapshots are append-only: written once after a successful metrics query,
// never updated, pruned by an external retention job.
type SystemSnapshot struct {
	ID                   int64
	TotalAssessments     int64
	CompletedAssessments int64
	ActiveAssessments    int64
	TotalMiles           float64
	CompletedMiles       float64
	ActivePlanners       int64
	OpenJobs             int64
	ClosedJobs           int64
	ScopeYear            int
	ScopeHash            string
	CapturedAt           time.Time
}

// RegionalSnapshot is a per-region aggregate capture. A regional metrics
// query produces one row per region, batch-inserted together with identical
// scope-year, scope-hash, and capture-time stamps.
type RegionalSnapshot struct {
	ID                   int64
	RegionName           string
	TotalAssessments     int64
	CompletedAssessments int64
	ActiveAssessments    int64
	TotalMiles           float64
	CompletedMiles       float64
	ActivePlanners       int64
	ScopeYear            int
	ScopeHash            string
	CapturedAt           time.Time
}
