package adapter

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aibridge-io/aibridge/internal/credential"
)

// newTestStore builds an in-memory credential store from a raw JSON
// document.
func newTestStore(t *testing.T, doc string) *credential.Store {
	t.Helper()
	store, err := credential.Load(base64.StdEncoding.EncodeToString([]byte(doc)), "", "")
	require.NoError(t, err)
	return store
}

func testPolicy() retryPolicy {
	return retryPolicy{maxRetries: 3, baseDelay: time.Millisecond}
}

func sendTo(server *httptest.Server, calls *atomic.Int32) func(ctx context.Context) (*http.Response, error) {
	return func(ctx context.Context) (*http.Response, error) {
		calls.Add(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL, nil)
		if err != nil {
			return nil, err
		}
		return http.DefaultClient.Do(req)
	}
}

func TestDoWithRetryForbiddenRefreshesOnceAndReplays(t *testing.T) {
	var upstream atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if upstream.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer server.Close()

	var sends, refreshes atomic.Int32
	resp, err := testPolicy().doWithRetry(context.Background(), sendTo(server, &sends), func(ctx context.Context) error {
		refreshes.Add(1)
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(2), sends.Load())
	require.Equal(t, int32(1), refreshes.Load())
}

// The forced-refresh replay must not consume a retry attempt: a 403 replay
// followed by maxRetries worth of 429s still reaches the final attempt.
func TestDoWithRetryForbiddenReplayDoesNotConsumeAttempt(t *testing.T) {
	var upstream atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch upstream.Add(1) {
		case 1:
			w.WriteHeader(http.StatusForbidden)
		case 2, 3, 4:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = io.WriteString(w, `{"ok":true}`)
		}
	}))
	defer server.Close()

	var sends atomic.Int32
	resp, err := testPolicy().doWithRetry(context.Background(), sendTo(server, &sends), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(5), sends.Load())
}

func TestDoWithRetrySecondForbiddenIsAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	var sends, refreshes atomic.Int32
	_, err := testPolicy().doWithRetry(context.Background(), sendTo(server, &sends), func(ctx context.Context) error {
		refreshes.Add(1)
		return nil
	})
	require.ErrorIs(t, err, ErrAuthFailed)
	require.Equal(t, int32(2), sends.Load())
	require.Equal(t, int32(1), refreshes.Load())
}

func TestDoWithRetryForbiddenWithoutRefreshIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	var sends atomic.Int32
	_, err := testPolicy().doWithRetry(context.Background(), sendTo(server, &sends), nil)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusForbidden, upstream.Status)
	require.Equal(t, int32(1), sends.Load())
}

func TestDoWithRetryBacksOffOnRateLimit(t *testing.T) {
	var upstream atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if upstream.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer server.Close()

	var sends atomic.Int32
	resp, err := testPolicy().doWithRetry(context.Background(), sendTo(server, &sends), nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, int32(3), sends.Load())
}

func TestDoWithRetryExhaustedBudgetReturnsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "overloaded")
	}))
	defer server.Close()

	var sends atomic.Int32
	_, err := testPolicy().doWithRetry(context.Background(), sendTo(server, &sends), nil)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusServiceUnavailable, upstream.Status)
	require.Equal(t, "overloaded", upstream.Body)
	require.Equal(t, int32(4), sends.Load())
}

func TestDoWithRetryClientErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"bad request"}`)
	}))
	defer server.Close()

	var sends atomic.Int32
	_, err := testPolicy().doWithRetry(context.Background(), sendTo(server, &sends), nil)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusBadRequest, upstream.Status)
	require.Equal(t, int32(1), sends.Load())
}

func TestDoWithRetryTransportErrorsRetryThenWrap(t *testing.T) {
	var sends atomic.Int32
	boom := errors.New("connection reset")
	_, err := testPolicy().doWithRetry(context.Background(), func(ctx context.Context) (*http.Response, error) {
		sends.Add(1)
		return nil, boom
	}, nil)

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	require.ErrorIs(t, transport.Err, boom)
	require.Equal(t, int32(4), sends.Load())
}

func TestDoWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testPolicy().doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		return nil, ctx.Err()
	}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
