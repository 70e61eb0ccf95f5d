package adapter

import (
	"context"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aibridge-io/aibridge/internal/config"
)

// retryPolicy holds the shared upstream retry tuning.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

func retryPolicyFromConfig(cfg *config.Config) retryPolicy {
	return retryPolicy{
		maxRetries: cfg.RequestMaxRetries,
		baseDelay:  time.Duration(cfg.RequestBaseDelay) * time.Millisecond,
	}
}

// retryable reports whether an HTTP status warrants a backoff retry.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// doWithRetry issues send() until it succeeds, the retry budget runs out or
// the context is cancelled. 429 and 5xx back off exponentially. A 403 with
// a non-nil refresh triggers exactly one forced token refresh and an
// uncounted replay; a second 403 is terminal with ErrAuthFailed. Other 4xx
// are terminal immediately.
func (p retryPolicy) doWithRetry(ctx context.Context, send func(ctx context.Context) (*http.Response, error), refresh func(ctx context.Context) error) (*http.Response, error) {
	refreshed := false
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err := send(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < p.maxRetries {
				if err = p.sleep(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, &TransportError{Err: lastErr}
		}

		switch {
		case resp.StatusCode < 400:
			return resp, nil

		case resp.StatusCode == http.StatusForbidden && refresh != nil:
			drain(resp)
			if refreshed {
				return nil, ErrAuthFailed
			}
			refreshed = true
			log.Debug("upstream returned 403, forcing token refresh")
			if err = refresh(ctx); err != nil {
				return nil, ErrAuthFailed
			}
			// The replay does not consume a retry attempt.
			attempt--

		case retryable(resp.StatusCode):
			body := readBody(resp)
			if attempt < p.maxRetries {
				log.Debugf("upstream returned %d, retrying (attempt %d/%d)", resp.StatusCode, attempt+1, p.maxRetries)
				if err = p.sleep(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, &UpstreamError{Status: resp.StatusCode, Body: body}

		default:
			return nil, &UpstreamError{Status: resp.StatusCode, Body: readBody(resp)}
		}
	}
	if lastErr != nil {
		return nil, &TransportError{Err: lastErr}
	}
	return nil, ErrAuthFailed
}

// sleep waits base_delay << attempt, aborting early on cancellation.
func (p retryPolicy) sleep(ctx context.Context, attempt int) error {
	delay := p.baseDelay << attempt
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return string(b)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
