package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// fakeMarker counts credential validity callbacks.
type fakeMarker struct {
	successes atomic.Int64
	failures  atomic.Int64
	lastID    atomic.Int64
}

func (m *fakeMarker) MarkSuccess(_ context.Context, callerID int64) {
	m.successes.Add(1)
	m.lastID.Store(callerID)
}

func (m *fakeMarker) MarkFailed(_ context.Context, callerID int64) {
	m.failures.Add(1)
	m.lastID.Store(callerID)
}

func newTestClient(t *testing.T, baseURL string, maxRetries int, marker driven.CredentialMarker) *Client {
	t.Helper()
	c := NewClient(baseURL, time.Second, 5*time.Second, maxRetries, marker, slog.New(slog.DiscardHandler))
	// No sleeping between attempts in tests.
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func testCredential() model.Credential {
	return model.Credential{Kind: model.CredentialUser, Principal: "jdoe", Secret: "s3cret", CallerID: 7, Valid: true}
}

func TestClient_ExecuteSuccess(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/RunSQL", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "jdoe", user)
		assert.Equal(t, "s3cret", pass)

		_, _ = w.Write([]byte(`{"Protocol":"DATASET","Heading":["n"],"Data":[[1]]}`))
	}))
	defer srv.Close()

	marker := &fakeMarker{}
	client := newTestClient(t, srv.URL, 5, marker)

	env, err := client.Execute(context.Background(), model.UpstreamRequest{
		Protocol: "RunSQL",
		Fields:   map[string]any{"SQL": "SELECT 1 AS n"},
		CallerID: 7,
	}, testCredential())
	require.NoError(t, err)

	assert.Equal(t, model.ProtocolDataset, env.Discriminator())
	assert.Equal(t, int64(1), requests.Load())
	assert.Equal(t, int64(1), marker.successes.Load())
	assert.Equal(t, int64(0), marker.failures.Load())
	assert.Equal(t, int64(7), marker.lastID.Load())
}

func TestClient_Execute401NoRetry(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	marker := &fakeMarker{}
	client := newTestClient(t, srv.URL, 5, marker)

	_, err := client.Execute(context.Background(), model.UpstreamRequest{
		Protocol: "RunSQL",
		CallerID: 7,
	}, testCredential())

	assert.ErrorIs(t, err, driven.ErrAuthFailed)

	var upstreamErr *driven.UpstreamError
	assert.ErrorAs(t, err, &upstreamErr)

	assert.Equal(t, int64(1), requests.Load(), "authentication failures must not be retried")
	assert.Equal(t, int64(1), marker.failures.Load())
	assert.Equal(t, int64(0), marker.successes.Load())
}

func TestClient_ExecuteRetriesTransientFailures(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"Protocol":"DATASET","Heading":[],"Data":[]}`))
	}))
	defer srv.Close()

	marker := &fakeMarker{}
	client := newTestClient(t, srv.URL, 5, marker)

	_, err := client.Execute(context.Background(), model.UpstreamRequest{Protocol: "RunSQL"}, testCredential())
	require.NoError(t, err)

	assert.Equal(t, int64(3), requests.Load())
	assert.Equal(t, int64(1), marker.successes.Load())
}

func TestClient_ExecuteRetryBudgetExhausted(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2, &fakeMarker{})

	_, err := client.Execute(context.Background(), model.UpstreamRequest{Protocol: "RunSQL"}, testCredential())

	var upstreamErr *driven.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, "RunSQL", upstreamErr.Protocol)
	assert.Equal(t, int64(3), requests.Load(), "initial attempt plus two retries")
}

func TestClient_ExecuteProtocolErrorNoRetry(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"protocol":"ERROR","errorMessage":"invalid column name"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 5, &fakeMarker{})

	_, err := client.Execute(context.Background(), model.UpstreamRequest{Protocol: "RunSQL"}, testCredential())

	var protocolErr *driven.ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	assert.Equal(t, "invalid column name", protocolErr.Message)

	var notFound *driven.NotFoundError
	assert.False(t, errors.As(err, &notFound))

	assert.Equal(t, int64(1), requests.Load(), "protocol errors must not be retried")
}

func TestClient_ExecuteNotFoundError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"protocol":"ERROR","errorMessage":"User not found: ghost"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 5, &fakeMarker{})

	_, err := client.Execute(context.Background(), model.UpstreamRequest{Protocol: "GetUser"}, testCredential())

	var notFound *driven.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "User not found: ghost", notFound.Message)
}

func TestClient_ExecuteNonDatasetBodyReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"UserObject":{"Username":"jdoe"},"Groups":[]}`))
	}))
	defer srv.Close()

	marker := &fakeMarker{}
	client := newTestClient(t, srv.URL, 5, marker)

	env, err := client.Execute(context.Background(), model.UpstreamRequest{Protocol: "GetUser", CallerID: 7}, testCredential())
	require.NoError(t, err, "a body without a DATASET marker is a warning, not a failure")

	assert.Contains(t, env, "UserObject")
	assert.Equal(t, int64(1), marker.successes.Load())
}

func TestClient_ExecuteMalformedBodyRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			_, _ = w.Write([]byte(`{truncated`))
			return
		}
		_, _ = w.Write([]byte(`{"Protocol":"DATASET","Heading":[],"Data":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 5, &fakeMarker{})

	_, err := client.Execute(context.Background(), model.UpstreamRequest{Protocol: "RunSQL"}, testCredential())
	require.NoError(t, err)

	assert.Equal(t, int64(2), requests.Load())
}

func TestClient_ExecuteContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1000, &fakeMarker{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Execute(ctx, model.UpstreamRequest{Protocol: "RunSQL"}, testCredential())
	assert.Error(t, err)
}

func TestNewBackOff_DeterministicSchedule(t *testing.T) {
	b := NewBackOff()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, b.NextBackOff(), "delay %d", i+1)
	}
}

func TestClient_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	client := newTestClient(t, srv.URL, 0, &fakeMarker{})

	assert.True(t, client.Probe(context.Background()),
		"any response, even an error status, proves reachability")

	srv.Close()
	assert.False(t, client.Probe(context.Background()))
}
