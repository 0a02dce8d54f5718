package application

import (
	"context"
	"strings"

	"github.com/arborops/veggateway/internal/config"
	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// systemPrincipal is the sentinel principal used for scopes built from static
// configuration rather than a caller's upstream identity.
const systemPrincipal = "system"

// ScopeResolver derives region sets from raw group-membership strings using
// the configured group-to-region mapping.
type ScopeResolver struct {
	groupRegions   map[string][]string
	knownRegions   map[string]bool
	plannerRegions []string
}

// NewScopeResolver creates a resolver. defaultRegions defines the known
// region codes; plannerRegions is the baseline-role fallback returned when a
// caller's groups resolve to nothing.
func NewScopeResolver(groupRegions map[string][]string, defaultRegions, plannerRegions []string) *ScopeResolver {
	known := make(map[string]bool, len(defaultRegions))
	for _, r := range defaultRegions {
		known[r] = true
	}
	return &ScopeResolver{
		groupRegions:   groupRegions,
		knownRegions:   known,
		plannerRegions: plannerRegions,
	}
}

// Resolve maps raw group-membership strings to a region set. Each group name
// is stripped of any domain-qualifying prefix, then looked up in the explicit
// group mapping; names that match a region code directly contribute that
// region. The result is deduplicated and never empty: an unresolvable input
// falls back to the baseline-role regions.
func (r *ScopeResolver) Resolve(groups []string) []string {
	var regions []string
	seen := make(map[string]bool)

	add := func(region string) {
		if !seen[region] {
			seen[region] = true
			regions = append(regions, region)
		}
	}

	for _, group := range groups {
		name := stripDomain(group)
		if mapped, ok := r.groupRegions[name]; ok {
			for _, region := range mapped {
				add(region)
			}
			continue
		}
		if r.knownRegions[name] {
			add(name)
		}
	}

	if len(regions) == 0 {
		return append([]string(nil), r.plannerRegions...)
	}
	return regions
}

// stripDomain removes a domain-qualifying prefix from a group string, e.g.
// `ASPLUNDH\VEG_PLANNERS` -> `VEG_PLANNERS`. Both backslash and forward-slash
// separators appear in the wild; the text before the last separator is
// dropped.
func stripDomain(group string) string {
	if i := strings.LastIndexAny(group, `\/`); i >= 0 {
		return group[i+1:]
	}
	return group
}

// ScopeService constructs ScopeContexts for callers.
type ScopeService struct {
	profiles driven.ProfileStore
	resolver *ScopeResolver
	cfg      *config.Config
}

// NewScopeService creates a ScopeService.
func NewScopeService(profiles driven.ProfileStore, resolver *ScopeResolver, cfg *config.Config) *ScopeService {
	return &ScopeService{
		profiles: profiles,
		resolver: resolver,
		cfg:      cfg,
	}
}

// SystemScope returns the static default scope used for unconfigured callers
// and scheduled background work: configured regions and organizations, domain
// derived from the first organization, principal "system".
func (s *ScopeService) SystemScope() model.ScopeContext {
	return model.NewScopeContext(
		s.cfg.DefaultRegions,
		s.cfg.Organizations,
		s.cfg.Organizations[0],
		systemPrincipal,
		0,
	)
}

// ForCaller builds the caller's effective scope, in priority order: static
// defaults when the caller has no upstream identity; the precomputed region
// set when present; regions derived from group memberships; finally the
// baseline-role default regions.
func (s *ScopeService) ForCaller(ctx context.Context, callerID int64) (model.ScopeContext, error) {
	if callerID == 0 {
		return s.SystemScope(), nil
	}

	profile, err := s.profiles.Get(ctx, callerID)
	if err != nil {
		return model.ScopeContext{}, err
	}
	if profile == nil || !profile.HasUpstreamIdentity() {
		return s.SystemScope(), nil
	}

	orgs := []string{normalizeOrganization(profile.UpstreamDomain)}

	var regions []string
	switch {
	case len(profile.Regions) > 0:
		regions = profile.Regions
	case len(profile.Groups) > 0:
		regions = s.resolver.Resolve(profile.Groups)
	default:
		regions = s.cfg.PlannerRegions
	}

	return model.NewScopeContext(
		regions,
		orgs,
		profile.UpstreamDomain,
		profile.UpstreamUsername,
		callerID,
	), nil
}

// normalizeOrganization reduces an upstream domain to the single capitalized
// token used as the organizational filter value, e.g. "ASPLUNDH" ->
// "Asplundh".
func normalizeOrganization(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}
	return strings.ToUpper(domain[:1]) + strings.ToLower(domain[1:])
}
