package model

import "time"

// CallerProfile carries the scope-relevant fields the hosting application
// records for a caller, plus upstream bookkeeping maintained by the gateway.
type CallerProfile struct {
	CallerID         int64
	UpstreamDomain   string
	UpstreamUsername string
	// Regions is the precomputed region set, when an administrator has
	// assigned one explicitly. Empty means "derive from Groups".
	Regions []string
	// Groups holds raw group-membership strings as reported by the upstream
	// directory, possibly domain-qualified (e.g. `ASPLUNDH\VEG_PLANNERS`).
	Groups []string

	UpstreamFailureCount  int
	UpstreamLastSuccessAt time.Time
	UpstreamLastFailureAt time.Time
}

// HasUpstreamIdentity reports whether the caller has any recorded upstream
// identity. Without one, the gateway falls back to the static default scope.
func (p CallerProfile) HasUpstreamIdentity() bool {
	return p.UpstreamDomain != "" && p.UpstreamUsername != ""
}
