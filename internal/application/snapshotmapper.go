package application

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// fieldClass classifies snapshot destination fields for value coercion.
type fieldClass int

const (
	fieldName    fieldClass = iota // identifier/name, passed through
	fieldInteger                   // coerced to int64, missing -> 0
	fieldDecimal                   // coerced to float64, missing -> 0.0
)

// systemFieldMap maps system-wide upstream aliases (already snake_case) to
// destination fields. The system-wide query always returns a single aggregate
// row.
var systemFieldMap = map[string]fieldClass{
	"total_assessments":     fieldInteger,
	"completed_assessments": fieldInteger,
	"active_assessments":    fieldInteger,
	"total_miles":           fieldDecimal,
	"completed_miles":       fieldDecimal,
	"active_planners":       fieldInteger,
	"open_jobs":             fieldInteger,
	"closed_jobs":           fieldInteger,
}

// regionalFieldMap maps regional upstream aliases (PascalCase with
// underscores) to destination fields. One record per input row.
var regionalFieldMap = map[string]fieldClass{
	"Region_Name":           fieldName,
	"Total_Assessments":     fieldInteger,
	"Completed_Assessments": fieldInteger,
	"Active_Assessments":    fieldInteger,
	"Total_Miles":           fieldDecimal,
	"Completed_Miles":       fieldDecimal,
	"Active_Planners":       fieldInteger,
}

// SnapshotMapper coerces loosely-typed upstream metric rows into typed
// snapshot records and persists them. Mapping failures are returned to the
// caller, which logs and drops them: snapshot capture is best-effort
// telemetry and must never fail the primary request.
type SnapshotMapper struct {
	store driven.SnapshotStore
	now   func() time.Time
}

// NewSnapshotMapper creates a mapper writing to the given snapshot sink.
func NewSnapshotMapper(store driven.SnapshotStore) *SnapshotMapper {
	return &SnapshotMapper{
		store: store,
		now:   time.Now,
	}
}

// MapSystemWide maps the first row of a system-wide metrics result into a
// single snapshot record stamped with the scope year and hash, and appends it
// to the snapshot sink. The upstream always returns exactly one aggregate row
// for this query; extra rows are ignored. An empty row set is a no-op:
// nothing written, no error, nil record.
//
// The mapped record is returned even when persistence fails, so the caller
// can serve the metrics and log the capture failure separately.
func (m *SnapshotMapper) MapSystemWide(ctx context.Context, rows []model.Row, scopeYear int, scopeHash string) (*model.SystemSnapshot, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	row := coerceFields(rows[0], systemFieldMap)
	snap := model.SystemSnapshot{
		TotalAssessments:     row["total_assessments"].(int64),
		CompletedAssessments: row["completed_assessments"].(int64),
		ActiveAssessments:    row["active_assessments"].(int64),
		TotalMiles:           row["total_miles"].(float64),
		CompletedMiles:       row["completed_miles"].(float64),
		ActivePlanners:       row["active_planners"].(int64),
		OpenJobs:             row["open_jobs"].(int64),
		ClosedJobs:           row["closed_jobs"].(int64),
		ScopeYear:            scopeYear,
		ScopeHash:            scopeHash,
		CapturedAt:           m.now().UTC(),
	}

	if err := m.store.InsertSystem(ctx, snap); err != nil {
		return &snap, fmt.Errorf("persisting system snapshot: %w", err)
	}
	return &snap, nil
}

// MapRegional maps every input row into a regional snapshot record, all
// stamped with the same scope year, hash, and capture time, and inserts them
// as one batch. An empty row set is a no-op. Like MapSystemWide, the mapped
// records are returned even when persistence fails.
func (m *SnapshotMapper) MapRegional(ctx context.Context, rows []model.Row, scopeYear int, scopeHash string) ([]model.RegionalSnapshot, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	capturedAt := m.now().UTC()
	snaps := make([]model.RegionalSnapshot, 0, len(rows))
	for _, raw := range rows {
		row := coerceFields(raw, regionalFieldMap)
		snaps = append(snaps, model.RegionalSnapshot{
			RegionName:           row["Region_Name"].(string),
			TotalAssessments:     row["Total_Assessments"].(int64),
			CompletedAssessments: row["Completed_Assessments"].(int64),
			ActiveAssessments:    row["Active_Assessments"].(int64),
			TotalMiles:           row["Total_Miles"].(float64),
			CompletedMiles:       row["Completed_Miles"].(float64),
			ActivePlanners:       row["Active_Planners"].(int64),
			ScopeYear:            scopeYear,
			ScopeHash:            scopeHash,
			CapturedAt:           capturedAt,
		})
	}

	if err := m.store.InsertRegional(ctx, snaps); err != nil {
		return snaps, fmt.Errorf("persisting regional snapshots: %w", err)
	}
	return snaps, nil
}

// LatestSystem returns the most recent persisted system snapshot for the
// scope hash, or nil when none has been captured. Used to serve stale metrics
// when the upstream is unreachable.
func (m *SnapshotMapper) LatestSystem(ctx context.Context, scopeHash string) (*model.SystemSnapshot, error) {
	return m.store.LatestSystem(ctx, scopeHash)
}

// LatestRegional returns the most recent persisted regional snapshot batch
// for the scope hash, or nil when none has been captured.
func (m *SnapshotMapper) LatestRegional(ctx context.Context, scopeHash string) ([]model.RegionalSnapshot, error) {
	return m.store.LatestRegional(ctx, scopeHash)
}

// coerceFields applies a mapping table to a raw upstream row, producing a row
// whose values have the destination types: string for name fields, int64 for
// integer fields, float64 for decimal fields. Missing source values coerce to
// the zero value of the destination class.
func coerceFields(row model.Row, table map[string]fieldClass) model.Row {
	out := make(model.Row, len(table))
	for key, class := range table {
		switch class {
		case fieldName:
			out[key] = nameField(row, key)
		case fieldInteger:
			out[key] = intField(row, key)
		case fieldDecimal:
			out[key] = floatField(row, key)
		}
	}
	return out
}

// nameField passes an identifier/name value through as a string.
func nameField(row model.Row, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// intField coerces a loosely-typed value to int64; missing or unparseable
// values become 0.
func intField(row model.Row, key string) int64 {
	switch v := row[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	default:
		return 0
	}
}

// floatField coerces a loosely-typed value to float64; missing or
// unparseable values become 0.0.
func floatField(row model.Row, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
