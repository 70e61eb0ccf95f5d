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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI talks to any OpenAI-compatible chat completions endpoint using a
// static API key.
type OpenAI struct {
	apiKey  string
	baseURL string
	policy  retryPolicy
	client  *http.Client
	stream  *http.Client
}

// NewOpenAI builds the openai-custom adapter. An empty baseURL selects the
// public OpenAI endpoint.
func NewOpenAI(apiKey, baseURL string, policy retryPolicy) *OpenAI {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		policy:  policy,
		client:  newHTTPClient(300 * time.Second),
		stream:  newHTTPClient(0),
	}
}

func (a *OpenAI) Provider() string            { return constant.OpenAICustom }
func (a *OpenAI) Protocol() constant.Protocol { return constant.ProtocolOpenAI }

// RefreshToken is a no-op for static-key providers.
func (a *OpenAI) RefreshToken(ctx context.Context, force bool) error { return nil }

func (a *OpenAI) post(ctx context.Context, client *http.Client, body []byte) (*http.Response, error) {
	return a.policy.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		return client.Do(req)
	}, nil)
}

// GenerateContent performs one non-streaming chat completion.
func (a *OpenAI) GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error) {
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.DeleteBytes(body, "stream")

	resp, err := a.post(ctx, a.client, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// StreamContent performs a streaming chat completion and forwards each SSE
// data payload. The upstream [DONE] sentinel terminates the stream and is
// not forwarded as a chunk.
func (a *OpenAI) StreamContent(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error) {
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
			log.Debugf("openai stream read error: %v", err)
			out <- StreamChunk{Err: &TransportError{Err: err}}
		}
	}()
	return out, nil
}

// ListModels fetches the upstream model catalog.
func (a *OpenAI) ListModels(ctx context.Context) ([]byte, error) {
	resp, err := a.policy.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		return a.client.Do(req)
	}, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}
