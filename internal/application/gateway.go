package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// Upstream protocol names. Each names a SQL-over-HTTP endpoint appended to
// the base URL.
const (
	protocolRunSQL  = "RunSQL"  // generic query execution
	protocolGetUser = "GetUser" // directory user-detail lookup
	protocolEcho    = "Echo"    // liveness echo
)

// assessmentDateFormat parses the strings produced by the upstream-side
// FORMAT(...) cast (layout yyyy-MM-dd HH:mm:ss).
const assessmentDateFormat = "2006-01-02 15:04:05"

// Gateway is the single public entry point for upstream queries. It composes
// scope resolution, credential resolution, request execution, column casting,
// and snapshot mapping behind one facade; collaborators are injected, never
// constructed internally.
type Gateway struct {
	scopes   *ScopeService
	creds    *CredentialResolver
	executor driven.Executor
	caster   *ColumnCaster
	mapper   *SnapshotMapper
	logger   *slog.Logger
	now      func() time.Time
}

// NewGateway creates a Gateway with all required collaborators.
func NewGateway(
	scopes *ScopeService,
	creds *CredentialResolver,
	executor driven.Executor,
	caster *ColumnCaster,
	mapper *SnapshotMapper,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		scopes:   scopes,
		creds:    creds,
		executor: executor,
		caster:   caster,
		mapper:   mapper,
		logger:   logger,
		now:      time.Now,
	}
}

// runSQL resolves the caller's credential, wraps the SQL text in a RunSQL
// payload (the upstream checks the principal/secret inside the body in
// addition to HTTP Basic auth), executes it, and returns the tabular result.
func (g *Gateway) runSQL(ctx context.Context, callerID int64, sqlText string) (*model.Dataset, error) {
	cred, err := g.creds.Resolve(ctx, callerID)
	if err != nil {
		return nil, err
	}

	req := model.UpstreamRequest{
		Protocol: protocolRunSQL,
		CallerID: callerID,
		Fields: map[string]any{
			"SQL":      sqlText,
			"Username": cred.Principal,
			"Password": cred.Secret,
		},
	}

	env, err := g.executor.Execute(ctx, req, cred)
	if err != nil {
		return nil, err
	}
	return env.Dataset()
}

// ExecuteRaw runs an ad-hoc SQL statement under the caller's credential and
// returns the raw result rows.
func (g *Gateway) ExecuteRaw(ctx context.Context, callerID int64, sqlText string) ([]model.Row, error) {
	ds, err := g.runSQL(ctx, callerID, sqlText)
	if err != nil {
		return nil, err
	}
	return ds.Rows, nil
}

// JobIdentifiers returns the distinct job numbers visible within the
// caller's scope, ordered alphabetically.
func (g *Gateway) JobIdentifiers(ctx context.Context, callerID int64) ([]string, error) {
	scope, err := g.scopes.ForCaller(ctx, callerID)
	if err != nil {
		return nil, err
	}

	sqlText := fmt.Sprintf(
		"SELECT DISTINCT Job_Number FROM assessments WHERE %s ORDER BY Job_Number",
		scopeFilter(scope),
	)

	ds, err := g.runSQL(ctx, callerID, sqlText)
	if err != nil {
		return nil, err
	}

	jobs := make([]string, 0, len(ds.Rows))
	for _, row := range ds.Rows {
		if job, ok := row["Job_Number"].(string); ok && job != "" {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// SystemMetrics runs the system-wide aggregate query for the caller's scope
// and returns the mapped snapshot. The snapshot is persisted best-effort: a
// capture failure is logged, never surfaced, since serving the metrics is the
// primary request. When the upstream query fails, the last captured snapshot
// for the scope is served instead; the error propagates only when no snapshot
// exists.
func (g *Gateway) SystemMetrics(ctx context.Context, callerID int64) (*model.SystemSnapshot, error) {
	scope, err := g.scopes.ForCaller(ctx, callerID)
	if err != nil {
		return nil, err
	}

	sqlText := fmt.Sprintf(`SELECT
  COUNT(*) AS total_assessments,
  SUM(CASE WHEN Status = 'COMPLETE' THEN 1 ELSE 0 END) AS completed_assessments,
  SUM(CASE WHEN Status = 'ACTIVE' THEN 1 ELSE 0 END) AS active_assessments,
  SUM(Miles) AS total_miles,
  SUM(CASE WHEN Status = 'COMPLETE' THEN Miles ELSE 0 END) AS completed_miles,
  COUNT(DISTINCT Planner) AS active_planners,
  SUM(CASE WHEN Job_Status = 'OPEN' THEN 1 ELSE 0 END) AS open_jobs,
  SUM(CASE WHEN Job_Status = 'CLOSED' THEN 1 ELSE 0 END) AS closed_jobs
FROM assessments WHERE %s`, scopeFilter(scope))

	ds, err := g.runSQL(ctx, callerID, sqlText)
	if err != nil {
		// Upstream down: serve the last captured snapshot for this scope, if any.
		cached, cacheErr := g.mapper.LatestSystem(ctx, scope.CacheHash())
		if cacheErr == nil && cached != nil {
			g.logger.Warn("serving cached system metrics, upstream query failed",
				"scope_hash", scope.CacheHash(), "captured_at", cached.CapturedAt, "error", err)
			return cached, nil
		}
		return nil, err
	}

	snap, mapErr := g.mapper.MapSystemWide(ctx, ds.Rows, g.scopeYear(), scope.CacheHash())
	if mapErr != nil {
		g.logger.Error("system snapshot capture failed", "scope_hash", scope.CacheHash(), "error", mapErr)
	}
	return snap, nil
}

// RegionalMetrics runs the per-region aggregate query for the caller's scope
// and returns one mapped snapshot per region. Persistence and the cached
// fallback on upstream failure behave as in SystemMetrics.
func (g *Gateway) RegionalMetrics(ctx context.Context, callerID int64) ([]model.RegionalSnapshot, error) {
	scope, err := g.scopes.ForCaller(ctx, callerID)
	if err != nil {
		return nil, err
	}

	sqlText := fmt.Sprintf(`SELECT
  Region AS Region_Name,
  COUNT(*) AS Total_Assessments,
  SUM(CASE WHEN Status = 'COMPLETE' THEN 1 ELSE 0 END) AS Completed_Assessments,
  SUM(CASE WHEN Status = 'ACTIVE' THEN 1 ELSE 0 END) AS Active_Assessments,
  SUM(Miles) AS Total_Miles,
  SUM(CASE WHEN Status = 'COMPLETE' THEN Miles ELSE 0 END) AS Completed_Miles,
  COUNT(DISTINCT Planner) AS Active_Planners
FROM assessments WHERE %s GROUP BY Region ORDER BY Region`, scopeFilter(scope))

	ds, err := g.runSQL(ctx, callerID, sqlText)
	if err != nil {
		cached, cacheErr := g.mapper.LatestRegional(ctx, scope.CacheHash())
		if cacheErr == nil && len(cached) > 0 {
			g.logger.Warn("serving cached regional metrics, upstream query failed",
				"scope_hash", scope.CacheHash(), "captured_at", cached[0].CapturedAt, "error", err)
			return cached, nil
		}
		return nil, err
	}

	snaps, mapErr := g.mapper.MapRegional(ctx, ds.Rows, g.scopeYear(), scope.CacheHash())
	if mapErr != nil {
		g.logger.Error("regional snapshot capture failed", "scope_hash", scope.CacheHash(), "error", mapErr)
	}
	return snaps, nil
}

// ActiveAssessments returns up to limit active assessments within the
// caller's scope, oldest audit date first. OLE-encoded date columns are cast
// and formatted on the upstream side via the column caster.
func (g *Gateway) ActiveAssessments(ctx context.Context, callerID int64, limit int) ([]model.Assessment, error) {
	if limit <= 0 {
		limit = 50
	}

	scope, err := g.scopes.ForCaller(ctx, callerID)
	if err != nil {
		return nil, err
	}

	sqlText := fmt.Sprintf(
		"SELECT TOP %d Job_Number, Region, Planner, Miles, Status, %s AS Audit_Date, %s AS Date_Uploaded "+
			"FROM assessments WHERE %s AND Status = 'ACTIVE' ORDER BY Audit_Date ASC",
		limit,
		g.caster.Cast("assessments.Audit_Date", ""),
		g.caster.Cast("assessments.Date_Uploaded", ""),
		scopeFilter(scope),
	)

	ds, err := g.runSQL(ctx, callerID, sqlText)
	if err != nil {
		return nil, err
	}

	assessments := make([]model.Assessment, 0, len(ds.Rows))
	for _, row := range ds.Rows {
		assessments = append(assessments, model.Assessment{
			JobNumber:  nameField(row, "Job_Number"),
			Region:     nameField(row, "Region"),
			Planner:    nameField(row, "Planner"),
			Miles:      floatField(row, "Miles"),
			Status:     nameField(row, "Status"),
			AuditDate:  dateField(row, "Audit_Date"),
			UploadedAt: dateField(row, "Date_Uploaded"),
		})
	}
	return assessments, nil
}

// UserDetails looks up a directory user through the user-detail protocol.
// Unknown usernames surface as *driven.NotFoundError so callers can branch
// without matching message text.
func (g *Gateway) UserDetails(ctx context.Context, username string) (*model.UserDetail, error) {
	cred, err := g.creds.Resolve(ctx, 0)
	if err != nil {
		return nil, err
	}

	req := model.UpstreamRequest{
		Protocol: protocolGetUser,
		Fields: map[string]any{
			"Username":     username,
			"AuthUsername": cred.Principal,
			"AuthPassword": cred.Secret,
		},
	}

	env, err := g.executor.Execute(ctx, req, cred)
	if err != nil {
		return nil, err
	}

	rawUser, ok := env["UserObject"].(map[string]any)
	if !ok {
		return nil, &driven.UpstreamError{
			Protocol: protocolGetUser,
			Err:      fmt.Errorf("response has no UserObject"),
		}
	}

	detail := &model.UserDetail{
		Username: stringValue(rawUser, "Username"),
		Domain:   stringValue(rawUser, "Domain"),
		FullName: stringValue(rawUser, "FullName"),
		Email:    stringValue(rawUser, "Email"),
	}

	if rawGroups, ok := env["Groups"].([]any); ok {
		for _, gr := range rawGroups {
			if s, ok := gr.(string); ok {
				detail.Groups = append(detail.Groups, s)
			}
		}
	}

	return detail, nil
}

// Echo executes the liveness-echo protocol with the service credential. It
// exercises the full request path including upstream-side authentication,
// unlike HealthCheck's connection-level probe.
func (g *Gateway) Echo(ctx context.Context) error {
	cred, err := g.creds.Resolve(ctx, 0)
	if err != nil {
		return err
	}

	_, err = g.executor.Execute(ctx, model.UpstreamRequest{Protocol: protocolEcho}, cred)
	return err
}

// HealthCheck probes upstream reachability with no query payload. It reports
// false on any connection-level failure and never returns an error.
func (g *Gateway) HealthCheck(ctx context.Context) bool {
	return g.executor.Probe(ctx)
}

// CredentialsInfo returns the secret-free view of the credential the caller
// resolves to.
func (g *Gateway) CredentialsInfo(ctx context.Context, callerID int64) (model.CredentialInfo, error) {
	return g.creds.Info(ctx, callerID)
}

// StoreCredentials saves or replaces the caller's upstream credential.
func (g *Gateway) StoreCredentials(ctx context.Context, callerID int64, principal, secret string) error {
	return g.creds.Store(ctx, callerID, principal, secret)
}

// ReactivateCredentials clears the invalid flag after an out-of-band secret
// rotation.
func (g *Gateway) ReactivateCredentials(ctx context.Context, callerID int64) error {
	return g.creds.Reactivate(ctx, callerID)
}

// DeleteCredentials removes the caller's stored credential; subsequent
// requests fall back to the service account.
func (g *Gateway) DeleteCredentials(ctx context.Context, callerID int64) error {
	return g.creds.Delete(ctx, callerID)
}

// scopeYear is the calendar year stamped on snapshot records.
func (g *Gateway) scopeYear() int {
	return g.now().UTC().Year()
}

// scopeFilter renders the scope's region and organization sets as a SQL
// predicate.
func scopeFilter(scope model.ScopeContext) string {
	return fmt.Sprintf("Region IN (%s) AND Company IN (%s)",
		quoteList(scope.Regions()),
		quoteList(scope.Organizations()),
	)
}

// quoteList renders string values as a comma-separated list of SQL string
// literals, doubling embedded quotes.
func quoteList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, "'"+strings.ReplaceAll(v, "'", "''")+"'")
	}
	return strings.Join(quoted, ",")
}

// dateField reads a date column that may arrive either as an upstream
// FORMAT(...) string or as a raw OLE float when the cast was not applied.
func dateField(row model.Row, key string) time.Time {
	switch v := row[key].(type) {
	case string:
		t, err := time.Parse(assessmentDateFormat, v)
		if err != nil {
			return time.Time{}
		}
		return t
	case float64:
		return OLEDateToTime(v)
	default:
		return time.Time{}
	}
}

// stringValue reads a string field from a decoded JSON object.
func stringValue(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
