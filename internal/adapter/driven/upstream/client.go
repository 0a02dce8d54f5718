// Package upstream implements the Executor port against the legacy
// SQL-over-HTTP platform.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Executor = (*Client)(nil)

// notFoundPattern matches upstream error messages that indicate a missing
// entity rather than a malfunction.
var notFoundPattern = regexp.MustCompile(`(?i)not found`)

// Client implements the driven.Executor port. All upstream calls pass through
// it: it owns the HTTP transport, the retry/backoff policy, and the
// authentication short-circuit.
type Client struct {
	baseURL    string
	httpClient *http.Client
	marker     driven.CredentialMarker
	maxRetries int
	logger     *slog.Logger

	// newBackOff builds the per-call backoff policy; replaced in tests to
	// avoid real sleeps.
	newBackOff func() backoff.BackOff
}

// NewClient creates an upstream client. connectTimeout bounds dialing;
// requestTimeout bounds each full attempt including the response body. The
// retry decision is evaluated only after an attempt has timed out or failed.
func NewClient(
	baseURL string,
	connectTimeout, requestTimeout time.Duration,
	maxRetries int,
	marker driven.CredentialMarker,
	logger *slog.Logger,
) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
		marker:     marker,
		maxRetries: maxRetries,
		logger:     logger,
		newBackOff: NewBackOff,
	}
}

// NewBackOff returns the production retry policy: exponential delays of
// 1s, 2s, 4s, ... doubling per attempt and capped at 30s, with no jitter so
// the schedule is deterministic.
func NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Execute posts the request to {baseURL}/{Protocol} with HTTP Basic auth and
// retries transient failures up to the configured maximum. HTTP 401 is never
// retried: the credential is marked failed and the call fails immediately.
// On success the credential is marked valid, and a parsed body that carries
// neither the DATASET nor the ERROR discriminator is returned with a warning
// rather than treated as fatal.
func (c *Client) Execute(ctx context.Context, req model.UpstreamRequest, cred model.Credential) (model.Envelope, error) {
	requestID := uuid.NewString()

	var env model.Envelope
	attempt := 0

	op := func() error {
		attempt++
		e, err := c.attempt(ctx, req, cred)
		if err != nil {
			if _, permanent := err.(*backoff.PermanentError); !permanent {
				c.logger.Warn("upstream attempt failed",
					"protocol", req.Protocol,
					"attempt", attempt,
					"request_id", requestID,
					"error", err,
				)
			}
			return err
		}
		env = e
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, &driven.UpstreamError{Protocol: req.Protocol, Err: err}
	}

	if c.marker != nil {
		c.marker.MarkSuccess(ctx, req.CallerID)
	}

	if disc := env.Discriminator(); disc != model.ProtocolDataset {
		c.logger.Warn("upstream response missing DATASET marker",
			"protocol", req.Protocol,
			"discriminator", disc,
			"request_id", requestID,
		)
	}

	return env, nil
}

// attempt performs a single HTTP exchange. Errors wrapped in
// backoff.Permanent are surfaced without further retries.
func (c *Client) attempt(ctx context.Context, req model.UpstreamRequest, cred model.Credential) (model.Envelope, error) {
	body, err := json.Marshal(req.Body())
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("encoding request body: %w", err))
	}

	url := c.baseURL + "/" + req.Protocol
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(cred.Principal, cred.Secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("posting %s: %w", req.Protocol, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		if c.marker != nil {
			c.marker.MarkFailed(ctx, req.CallerID)
		}
		return nil, backoff.Permanent(fmt.Errorf("%w (principal %q)", driven.ErrAuthFailed, cred.Principal))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parsing response body: %w", err)
	}

	if env.Discriminator() == model.ProtocolError {
		return nil, backoff.Permanent(protocolError(env.ErrorMessage()))
	}

	return env, nil
}

// protocolError builds the typed error for an ERROR body, promoting
// "not found" messages to the distinguished NotFoundError subtype.
func protocolError(message string) error {
	if notFoundPattern.MatchString(message) {
		return &driven.NotFoundError{ProtocolError: driven.ProtocolError{Message: message}}
	}
	return &driven.ProtocolError{Message: message}
}

// Probe performs a lightweight reachability check: a bare GET against the
// base endpoint with no query payload. Any response, including an HTTP error
// status, proves the upstream is reachable; only connection-level failures
// report false.
func (c *Client) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}
