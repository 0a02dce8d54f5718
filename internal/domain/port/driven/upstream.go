// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
	"fmt"

	"github.com/arborops/veggateway/internal/domain/model"
)

// ErrAuthFailed indicates the upstream rejected the presented credential
// (HTTP 401). Authentication failures are never retried.
var ErrAuthFailed = errors.New("upstream authentication failed")

// UpstreamError wraps any unrecoverable upstream failure with a consistent
// prefix so callers can identify the origin while keeping the root cause for
// diagnostics.
type UpstreamError struct {
	Protocol string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: %s: %v", e.Protocol, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ProtocolError is a well-formed upstream response carrying the ERROR
// discriminator. It is not retried; the upstream-provided message is
// preserved verbatim.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("upstream protocol error: %s", e.Message)
}

// NotFoundError is a ProtocolError whose message indicates a missing entity
// (e.g. an unknown username), distinguished so callers can branch without
// string-matching themselves.
type NotFoundError struct {
	ProtocolError
}

// Executor is the driven port for issuing upstream protocol calls. The
// implementation owns retry/backoff, authentication short-circuiting, and
// credential validity marking.
type Executor interface {
	// Execute posts the request with the given credential and returns the
	// parsed response body. Fails with ErrAuthFailed on HTTP 401 (no retry),
	// *ProtocolError / *NotFoundError on an ERROR body, and *UpstreamError
	// once the retry budget is exhausted.
	Execute(ctx context.Context, req model.UpstreamRequest, cred model.Credential) (model.Envelope, error)

	// Probe performs a lightweight reachability check against the base
	// endpoint with no query payload. It reports false on any
	// connection-level failure and never returns an error.
	Probe(ctx context.Context) bool
}

// CredentialMarker receives credential validity feedback from the Executor.
// Implemented by the application-layer credential resolver.
type CredentialMarker interface {
	MarkSuccess(ctx context.Context, callerID int64)
	MarkFailed(ctx context.Context, callerID int64)
}
