package adapter

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/aibridge-io/aibridge/internal/constant"
)

const (
	defaultClaudeBaseURL = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"
)

// Claude talks to the Anthropic messages API (or a compatible endpoint)
// using a static API key.
type Claude struct {
	apiKey  string
	baseURL string
	policy  retryPolicy
	client  *http.Client
	stream  *http.Client
}

// NewClaude builds the claude-custom adapter.
func NewClaude(apiKey, baseURL string, policy retryPolicy) *Claude {
	if baseURL == "" {
		baseURL = defaultClaudeBaseURL
	}
	return &Claude{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		policy:  policy,
		client:  newHTTPClient(300 * time.Second),
		stream:  newHTTPClient(0),
	}
}

func (a *Claude) Provider() string            { return constant.ClaudeCustom }
func (a *Claude) Protocol() constant.Protocol { return constant.ProtocolClaude }

// RefreshToken is a no-op for static-key providers.
func (a *Claude) RefreshToken(ctx context.Context, force bool) error { return nil }

func (a *Claude) post(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	return a.policy.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("Anthropic-Version", anthropicVersion)
		return client.Do(req)
	}, nil)
}

// GenerateContent performs one non-streaming messages call.
func (a *Claude) GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error) {
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.DeleteBytes(body, "stream")

	resp, err := a.post(ctx, a.client, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// StreamContent performs a streaming messages call. Anthropic frames each
// event as an "event:" line followed by a "data:" line; only the data
// payloads are forwarded.
func (a *Claude) StreamContent(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error) {
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
			select {
			case out <- StreamChunk{Data: []byte(payload)}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			log.Debugf("claude stream read error: %v", err)
			out <- StreamChunk{Err: &TransportError{Err: err}}
		}
	}()
	return out, nil
}

// ListModels returns the static Claude model catalog in the Claude list
// shape.
func (a *Claude) ListModels(ctx context.Context) ([]byte, error) {
	return claudeModelList(constant.ClaudeModels), nil
}

func claudeModelList(ids []string) []byte {
	models := make([]any, 0, len(ids))
	for _, id := range ids {
		models = append(models, map[string]any{
			"id":           id,
			"type":         "model",
			"display_name": id,
		})
	}
	out := []byte(`{"has_more":false}`)
	out, _ = sjson.SetBytes(out, "data", models)
	return out
}
