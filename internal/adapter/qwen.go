package adapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aibridge-io/aibridge/internal/constant"
	"github.com/aibridge-io/aibridge/internal/credential"
)

const (
	defaultQwenBaseURL     = "https://api.qwen.aliyun.com/v1"
	qwenOAuthTokenEndpoint = "https://chat.qwen.ai/api/v1/oauth2/token"
	qwenOAuthClientID      = "f0304373b74a44d2b584a3fb70ca9e56"
)

// Qwen speaks the OpenAI protocol against the Qwen service using OAuth
// device-flow credentials. The credential document may carry a
// resource_url that overrides the API base.
type Qwen struct {
	store  *credential.Store
	policy retryPolicy
	client *http.Client
	stream *http.Client
	token  *http.Client
}

// NewQwen builds the openai-qwen-oauth adapter.
func NewQwen(store *credential.Store, policy retryPolicy) *Qwen {
	return &Qwen{
		store:  store,
		policy: policy,
		client: newHTTPClient(60 * time.Second),
		stream: newHTTPClient(0),
		token:  newHTTPClient(30 * time.Second),
	}
}

func (a *Qwen) Provider() string            { return constant.OpenAIQwen }
func (a *Qwen) Protocol() constant.Protocol { return constant.ProtocolOpenAI }

// baseURL derives the API base from the credential's resource_url, falling
// back to the public endpoint.
func (a *Qwen) baseURL() string {
	resource := a.store.Get("resource_url")
	if resource == "" {
		return defaultQwenBaseURL
	}
	if !strings.HasPrefix(resource, "http") {
		resource = "https://" + resource
	}
	resource = strings.TrimRight(resource, "/")
	if !strings.HasSuffix(resource, "/v1") {
		resource += "/v1"
	}
	return resource
}

// RefreshToken exchanges the refresh token at the Qwen OAuth endpoint and
// persists the rotated credential.
func (a *Qwen) RefreshToken(ctx context.Context, force bool) error {
	return a.store.Refresh(force, func(current []byte) ([]byte, error) {
		refreshToken := gjson.GetBytes(current, "refresh_token").String()
		if refreshToken == "" {
			return nil, ErrAuthFailed
		}
		log.Info("refreshing Qwen access token")

		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
		form.Set("client_id", qwenOAuthClientID)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, qwenOAuthTokenEndpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := a.token.Do(req)
		if err != nil {
			return nil, fmt.Errorf("token refresh request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("token refresh failed: %s", string(body))
		}

		out, _ := sjson.SetBytes(current, "access_token", gjson.GetBytes(body, "access_token").String())
		if rt := gjson.GetBytes(body, "refresh_token").String(); rt != "" {
			out, _ = sjson.SetBytes(out, "refresh_token", rt)
		}
		if ru := gjson.GetBytes(body, "resource_url").String(); ru != "" {
			out, _ = sjson.SetBytes(out, "resource_url", ru)
		}
		if expiresIn := gjson.GetBytes(body, "expires_in").Int(); expiresIn > 0 {
			out, _ = sjson.SetBytes(out, "expiry_date", time.Now().Add(time.Duration(expiresIn)*time.Second).Unix())
		}
		return out, nil
	})
}

func (a *Qwen) post(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	if err := a.RefreshToken(ctx, false); err != nil {
		return nil, err
	}
	return a.policy.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL()+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.store.Get("access_token"))
		return client.Do(req)
	}, func(ctx context.Context) error {
		return a.RefreshToken(ctx, true)
	})
}

// GenerateContent performs one non-streaming chat completion.
func (a *Qwen) GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error) {
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.DeleteBytes(body, "stream")

	resp, err := a.post(ctx, a.client, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// StreamContent performs a streaming chat completion over SSE.
func (a *Qwen) StreamContent(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error) {
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.SetBytes(body, "stream", true)

	resp, err := a.post(ctx, a.stream, body)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				return
			}
			select {
			case out <- StreamChunk{Data: []byte(payload)}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			log.Debugf("qwen stream read error: %v", err)
			out <- StreamChunk{Err: &TransportError{Err: err}}
		}
	}()
	return out, nil
}

// ListModels returns the static Qwen model catalog in the OpenAI list
// shape.
func (a *Qwen) ListModels(ctx context.Context) ([]byte, error) {
	models := make([]any, 0, len(constant.QwenModels))
	for _, id := range constant.QwenModels {
		models = append(models, map[string]any{
			"id":       id,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "qwen",
		})
	}
	out := []byte(`{"object":"list"}`)
	out, _ = sjson.SetBytes(out, "data", models)
	return out, nil
}
