// Package adapter implements the provider backends of the gateway. Each
// adapter speaks its upstream's native protocol; payload conversion to and
// from the client's protocol happens in the API layer.
package adapter

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/aibridge-io/aibridge/internal/config"
	"github.com/aibridge-io/aibridge/internal/constant"
	"github.com/aibridge-io/aibridge/internal/credential"
)

// StreamChunk is one streaming payload, already in the adapter's native
// protocol. A non-nil Err terminates the stream.
type StreamChunk struct {
	Data []byte
	Err  error
}

// Adapter is the contract every provider backend implements.
type Adapter interface {
	// Provider returns the provider tag this adapter serves.
	Provider() string

	// Protocol returns the wire protocol the upstream natively speaks.
	Protocol() constant.Protocol

	// GenerateContent performs one non-streaming generation call.
	GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error)

	// StreamContent performs a streaming generation call. The returned
	// channel is closed after the final chunk or error.
	StreamContent(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error)

	// ListModels returns the model catalog in the native protocol shape.
	ListModels(ctx context.Context) ([]byte, error)

	// RefreshToken refreshes upstream credentials. Static-key adapters
	// treat this as a no-op.
	RefreshToken(ctx context.Context, force bool) error
}

// New constructs the adapter for a provider tag from the process
// configuration.
func New(tag string, cfg *config.Config) (Adapter, error) {
	policy := retryPolicyFromConfig(cfg)
	switch tag {
	case constant.OpenAICustom:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, policy), nil
	case constant.ClaudeCustom:
		return NewClaude(cfg.ClaudeAPIKey, cfg.ClaudeBaseURL, policy), nil
	case constant.GeminiCLIOAuth:
		store, err := credential.Load(cfg.GeminiOAuthCredsBase64, cfg.GeminiOAuthCredsFilePath, credential.DefaultGeminiPath())
		if err != nil {
			return nil, fmt.Errorf("gemini credentials: %w", err)
		}
		return NewGemini(store, cfg.ProjectID, policy), nil
	case constant.ClaudeKiro:
		store, err := credential.Load(cfg.KiroOAuthCredsBase64, cfg.KiroOAuthCredsFilePath, credential.DefaultKiroPath())
		if err != nil {
			return nil, fmt.Errorf("kiro credentials: %w", err)
		}
		return NewKiro(store, policy), nil
	case constant.OpenAIQwen:
		store, err := credential.Load("", cfg.QwenOAuthCredsFilePath, credential.DefaultQwenPath())
		if err != nil {
			return nil, fmt.Errorf("qwen credentials: %w", err)
		}
		return NewQwen(store, policy), nil
	}
	return nil, fmt.Errorf("unknown provider %q", tag)
}

// NewFromPoolEntry constructs an adapter for one pool entry. Credential
// fields present on the entry override the process configuration.
func NewFromPoolEntry(tag string, entry []byte, cfg *config.Config) (Adapter, error) {
	scoped := *cfg
	get := func(key string) gjson.Result { return gjson.GetBytes(entry, key) }

	if v := get("openai_api_key"); v.Exists() {
		scoped.OpenAIAPIKey = v.String()
	}
	if v := get("openai_base_url"); v.Exists() {
		scoped.OpenAIBaseURL = v.String()
	}
	if v := get("claude_api_key"); v.Exists() {
		scoped.ClaudeAPIKey = v.String()
	}
	if v := get("claude_base_url"); v.Exists() {
		scoped.ClaudeBaseURL = v.String()
	}
	if v := get("gemini_oauth_creds_base64"); v.Exists() {
		scoped.GeminiOAuthCredsBase64 = v.String()
	}
	if v := get("gemini_oauth_creds_file_path"); v.Exists() {
		scoped.GeminiOAuthCredsFilePath = v.String()
	}
	if v := get("project_id"); v.Exists() {
		scoped.ProjectID = v.String()
	}
	if v := get("kiro_oauth_creds_base64"); v.Exists() {
		scoped.KiroOAuthCredsBase64 = v.String()
	}
	if v := get("kiro_oauth_creds_file_path"); v.Exists() {
		scoped.KiroOAuthCredsFilePath = v.String()
	}
	if v := get("qwen_oauth_creds_file_path"); v.Exists() {
		scoped.QwenOAuthCredsFilePath = v.String()
	}
	return New(tag, &scoped)
}
