// Package httphandler is the HTTP driving adapter that serves the gateway's
// REST API.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/arborops/veggateway/internal/application"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// Handler serves the REST API over the gateway facade.
type Handler struct {
	gateway *application.Gateway
	refresh *application.RefreshService
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(gateway *application.Gateway, refresh *application.RefreshService, logger *slog.Logger) *Handler {
	return &Handler{
		gateway: gateway,
		refresh: refresh,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/query", h.ExecuteQuery)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/metrics/system", h.SystemMetrics)
	mux.HandleFunc("GET /api/v1/metrics/regional", h.RegionalMetrics)
	mux.HandleFunc("GET /api/v1/assessments/active", h.ActiveAssessments)
	mux.HandleFunc("GET /api/v1/users/{username}", h.GetUser)
	mux.HandleFunc("GET /api/v1/credentials/{caller_id}", h.GetCredentialsInfo)
	mux.HandleFunc("PUT /api/v1/credentials/{caller_id}", h.StoreCredentials)
	mux.HandleFunc("DELETE /api/v1/credentials/{caller_id}", h.DeleteCredentials)
	mux.HandleFunc("POST /api/v1/credentials/{caller_id}/reactivate", h.ReactivateCredentials)
	mux.HandleFunc("POST /api/v1/refresh/{op}", h.Refresh)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// writeUpstreamError maps the upstream error taxonomy onto HTTP statuses:
// missing entities are 404, everything upstream-originated is 502, the rest
// is 500.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, err error) {
	var notFound *driven.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, notFound.Message)
		return
	}

	var protocolErr *driven.ProtocolError
	if errors.As(err, &protocolErr) {
		writeError(w, http.StatusBadGateway, protocolErr.Message)
		return
	}

	if errors.Is(err, driven.ErrAuthFailed) {
		writeError(w, http.StatusBadGateway, "upstream authentication failed")
		return
	}

	var upstreamErr *driven.UpstreamError
	if errors.As(err, &upstreamErr) {
		h.logger.Error("upstream request failed", "error", err)
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	h.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// callerID reads the optional caller_id query parameter; absent means the
// system scope.
func callerID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("caller_id")
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// ExecuteQuery runs an ad-hoc SQL statement and returns the raw rows.
func (h *Handler) ExecuteQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SQL == "" {
		writeError(w, http.StatusBadRequest, "sql is required")
		return
	}

	rows, err := h.gateway.ExecuteRaw(r.Context(), req.CallerID, req.SQL)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rows)
}

// ListJobs returns the distinct job numbers within the caller's scope.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller_id")
		return
	}

	jobs, err := h.gateway.JobIdentifiers(r.Context(), id)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

// SystemMetrics returns the system-wide aggregate metrics for the caller's
// scope.
func (h *Handler) SystemMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller_id")
		return
	}

	snap, err := h.gateway.SystemMetrics(r.Context(), id)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "no metrics available")
		return
	}

	writeJSON(w, http.StatusOK, toSystemMetricsResponse(*snap))
}

// RegionalMetrics returns per-region aggregate metrics for the caller's scope.
func (h *Handler) RegionalMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller_id")
		return
	}

	snaps, err := h.gateway.RegionalMetrics(r.Context(), id)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	resp := make([]RegionalMetricsResponse, 0, len(snaps))
	for _, snap := range snaps {
		resp = append(resp, toRegionalMetricsResponse(snap))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ActiveAssessments returns active assessments within scope, oldest first.
func (h *Handler) ActiveAssessments(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller_id")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	assessments, err := h.gateway.ActiveAssessments(r.Context(), id, limit)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	resp := make([]AssessmentResponse, 0, len(assessments))
	for _, a := range assessments {
		resp = append(resp, toAssessmentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser looks up a directory user by username.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	detail, err := h.gateway.UserDetails(r.Context(), username)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserDetailResponse(*detail))
}

// GetCredentialsInfo returns the secret-free view of the credential the
// caller resolves to.
func (h *Handler) GetCredentialsInfo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("caller_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller_id")
		return
	}

	info, err := h.gateway.CredentialsInfo(r.Context(), id)
	if err != nil {
		h.logger.Error("credentials info failed", "caller_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toCredentialInfoResponse(info))
}

// StoreCredentials saves or replaces a caller's upstream credential.
func (h *Handler) StoreCredentials(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("caller_id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid caller_id")
		return
	}

	var req StoreCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Principal == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "principal and secret are required")
		return
	}

	if err := h.gateway.StoreCredentials(r.Context(), id, req.Principal, req.Secret); err != nil {
		if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			writeError(w, http.StatusServiceUnavailable, "credential storage is disabled")
			return
		}
		h.logger.Error("store credentials failed", "caller_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteCredentials removes a caller's stored credential, dropping them back
// to the shared service account.
func (h *Handler) DeleteCredentials(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("caller_id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid caller_id")
		return
	}

	if err := h.gateway.DeleteCredentials(r.Context(), id); err != nil {
		h.logger.Error("delete credentials failed", "caller_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReactivateCredentials clears a caller credential's invalid flag after an
// out-of-band secret rotation.
func (h *Handler) ReactivateCredentials(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("caller_id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid caller_id")
		return
	}

	if err := h.gateway.ReactivateCredentials(r.Context(), id); err != nil {
		h.logger.Error("reactivate credentials failed", "caller_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Refresh triggers a single dataset-refresh operation immediately.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	op := application.RefreshOp(r.PathValue("op"))

	if err := h.refresh.Run(r.Context(), op); err != nil {
		if errors.Is(err, application.ErrUnknownOp) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeUpstreamError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health reports local liveness and the upstream reachability probe result.
// The endpoint itself always answers 200; probe failure is reported in the
// body so container orchestration doesn't restart the gateway for an
// upstream outage. With ?deep=1 a liveness echo is additionally run through
// the full authenticated request path and reported as upstream_auth_ok; the
// echo retries like any upstream call, so deep checks can block for a while.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:            "ok",
		UpstreamReachable: h.gateway.HealthCheck(r.Context()),
	}

	if r.URL.Query().Get("deep") != "" {
		authOK := true
		if err := h.gateway.Echo(r.Context()); err != nil {
			h.logger.Warn("upstream echo failed", "error", err)
			authOK = false
		}
		resp.UpstreamAuthOK = &authOK
	}

	writeJSON(w, http.StatusOK, resp)
}
