package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/arborops/veggateway/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SystemMetricsResponse is the JSON representation of a system-wide snapshot.
type SystemMetricsResponse struct {
	TotalAssessments     int64   `json:"total_assessments"`
	CompletedAssessments int64   `json:"completed_assessments"`
	ActiveAssessments    int64   `json:"active_assessments"`
	TotalMiles           float64 `json:"total_miles"`
	CompletedMiles       float64 `json:"completed_miles"`
	ActivePlanners       int64   `json:"active_planners"`
	OpenJobs             int64   `json:"open_jobs"`
	ClosedJobs           int64   `json:"closed_jobs"`
	ScopeYear            int     `json:"scope_year"`
	ScopeHash            string  `json:"scope_hash"`
	CapturedAt           string  `json:"captured_at"`
}

// RegionalMetricsResponse is the JSON representation of one regional snapshot.
type RegionalMetricsResponse struct {
	RegionName           string  `json:"region_name"`
	TotalAssessments     int64   `json:"total_assessments"`
	CompletedAssessments int64   `json:"completed_assessments"`
	ActiveAssessments    int64   `json:"active_assessments"`
	TotalMiles           float64 `json:"total_miles"`
	CompletedMiles       float64 `json:"completed_miles"`
	ActivePlanners       int64   `json:"active_planners"`
	ScopeYear            int     `json:"scope_year"`
	ScopeHash            string  `json:"scope_hash"`
	CapturedAt           string  `json:"captured_at"`
}

// AssessmentResponse is the JSON representation of an active assessment.
type AssessmentResponse struct {
	JobNumber  string  `json:"job_number"`
	Region     string  `json:"region"`
	Planner    string  `json:"planner"`
	Miles      float64 `json:"miles"`
	Status     string  `json:"status"`
	AuditDate  string  `json:"audit_date"`
	UploadedAt string  `json:"uploaded_at"`
}

// UserDetailResponse is the JSON representation of a directory user.
type UserDetailResponse struct {
	Username string   `json:"username"`
	Domain   string   `json:"domain"`
	FullName string   `json:"full_name"`
	Email    string   `json:"email"`
	Groups   []string `json:"groups"`
}

// CredentialInfoResponse is the secret-free credential view.
type CredentialInfoResponse struct {
	Kind      string `json:"kind"`
	Principal string `json:"principal"`
	CallerID  int64  `json:"caller_id"`
}

// QueryRequest is the body of the ad-hoc query endpoint.
type QueryRequest struct {
	CallerID int64  `json:"caller_id"`
	SQL      string `json:"sql"`
}

// StoreCredentialsRequest is the body of the credential upsert endpoint.
type StoreCredentialsRequest struct {
	Principal string `json:"principal"`
	Secret    string `json:"secret"`
}

// HealthResponse reports local liveness plus the upstream probe result.
// UpstreamAuthOK is only present on deep checks, which run an authenticated
// echo through the full request path.
type HealthResponse struct {
	Status            string `json:"status"`
	UpstreamReachable bool   `json:"upstream_reachable"`
	UpstreamAuthOK    *bool  `json:"upstream_auth_ok,omitempty"`
}

func toSystemMetricsResponse(s model.SystemSnapshot) SystemMetricsResponse {
	return SystemMetricsResponse{
		TotalAssessments:     s.TotalAssessments,
		CompletedAssessments: s.CompletedAssessments,
		ActiveAssessments:    s.ActiveAssessments,
		TotalMiles:           s.TotalMiles,
		CompletedMiles:       s.CompletedMiles,
		ActivePlanners:       s.ActivePlanners,
		OpenJobs:             s.OpenJobs,
		ClosedJobs:           s.ClosedJobs,
		ScopeYear:            s.ScopeYear,
		ScopeHash:            s.ScopeHash,
		CapturedAt:           s.CapturedAt.UTC().Format(time.RFC3339),
	}
}

func toRegionalMetricsResponse(s model.RegionalSnapshot) RegionalMetricsResponse {
	return RegionalMetricsResponse{
		RegionName:           s.RegionName,
		TotalAssessments:     s.TotalAssessments,
		CompletedAssessments: s.CompletedAssessments,
		ActiveAssessments:    s.ActiveAssessments,
		TotalMiles:           s.TotalMiles,
		CompletedMiles:       s.CompletedMiles,
		ActivePlanners:       s.ActivePlanners,
		ScopeYear:            s.ScopeYear,
		ScopeHash:            s.ScopeHash,
		CapturedAt:           s.CapturedAt.UTC().Format(time.RFC3339),
	}
}

func toAssessmentResponse(a model.Assessment) AssessmentResponse {
	return AssessmentResponse{
		JobNumber:  a.JobNumber,
		Region:     a.Region,
		Planner:    a.Planner,
		Miles:      a.Miles,
		Status:     a.Status,
		AuditDate:  a.AuditDate.UTC().Format(time.RFC3339),
		UploadedAt: a.UploadedAt.UTC().Format(time.RFC3339),
	}
}

func toUserDetailResponse(u model.UserDetail) UserDetailResponse {
	groups := u.Groups
	if groups == nil {
		groups = []string{}
	}
	return UserDetailResponse{
		Username: u.Username,
		Domain:   u.Domain,
		FullName: u.FullName,
		Email:    u.Email,
		Groups:   groups,
	}
}

func toCredentialInfoResponse(info model.CredentialInfo) CredentialInfoResponse {
	return CredentialInfoResponse{
		Kind:      string(info.Kind),
		Principal: info.Principal,
		CallerID:  info.CallerID,
	}
}
