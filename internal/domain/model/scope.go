package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ScopeContext describes a caller's effective data-access scope: the regions
// and organizational filters their upstream queries are constrained to.
// Treat values as immutable after construction; the constructor copies its
// slice arguments and accessors return copies.
type ScopeContext struct {
	regions       []string
	organizations []string
	domain        string
	principal     string
	callerID      int64
}

// NewScopeContext builds a ScopeContext from the given scope values. Region
// and organization order is irrelevant; duplicates are dropped.
func NewScopeContext(regions, organizations []string, domain, principal string, callerID int64) ScopeContext {
	return ScopeContext{
		regions:       dedupe(regions),
		organizations: dedupe(organizations),
		domain:        domain,
		principal:     principal,
		callerID:      callerID,
	}
}

// Regions returns a copy of the region code set.
func (s ScopeContext) Regions() []string {
	out := make([]string, len(s.regions))
	copy(out, s.regions)
	return out
}

// Organizations returns a copy of the organizational filter set.
func (s ScopeContext) Organizations() []string {
	out := make([]string, len(s.organizations))
	copy(out, s.organizations)
	return out
}

// Domain returns the caller's upstream domain.
func (s ScopeContext) Domain() string { return s.domain }

// Principal returns the upstream principal name.
func (s ScopeContext) Principal() string { return s.principal }

// CallerID returns the hosting-application caller id, or 0 for the system scope.
func (s ScopeContext) CallerID() int64 { return s.callerID }

// IsValid reports whether the scope can produce a meaningful query filter:
// both the region set and the organization set must be non-empty.
func (s ScopeContext) IsValid() bool {
	return len(s.regions) > 0 && len(s.organizations) > 0
}

// cacheKey is the canonical serialized form hashed by CacheHash.
type cacheKey struct {
	Regions       []string `json:"regions"`
	Organizations []string `json:"organizations"`
}

// CacheHash returns a deterministic digest of the scope's region and
// organization sets. Two contexts with set-equal values hash identically
// regardless of element order, duplicates, or which caller they belong to,
// so callers with the same data-access rights share cached results.
func (s ScopeContext) CacheHash() string {
	key := cacheKey{
		Regions:       sortedCopy(s.regions),
		Organizations: sortedCopy(s.organizations),
	}

	// Marshaling a struct of string slices cannot fail.
	data, _ := json.Marshal(key)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
