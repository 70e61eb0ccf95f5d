// Package config provides configuration management for the gateway. It
// handles loading and parsing JSON or YAML configuration files, applies
// defaults for every unset field, and provides structured access to
// application settings including listen address, client API key, provider
// credentials, system prompt handling, retry tuning and provider pools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// System prompt injection modes.
const (
	SystemPromptNone      = "none"
	SystemPromptOverwrite = "overwrite"
	SystemPromptAppend    = "append"
)

// Prompt logging modes.
const (
	PromptLogNone    = "none"
	PromptLogConsole = "console"
	PromptLogFile    = "file"
)

// Config represents the application's configuration, loaded from a JSON or
// YAML file. Every field is optional in the file; unset fields take the
// documented default.
type Config struct {
	// Host is the network interface on which the API server will listen.
	Host string `json:"host" yaml:"host"`

	// Port is the network port on which the API server will listen.
	Port int `json:"port" yaml:"port"`

	// RequiredAPIKey is the key clients must present to use this gateway.
	RequiredAPIKey string `json:"required_api_key" yaml:"required-api-key"`

	// ModelProvider selects the default backend adapter at boot.
	ModelProvider string `json:"model_provider" yaml:"model-provider"`

	// OpenAIAPIKey is the upstream key for the openai-custom provider.
	OpenAIAPIKey string `json:"openai_api_key" yaml:"openai-api-key"`

	// OpenAIBaseURL overrides the upstream base URL for openai-custom.
	OpenAIBaseURL string `json:"openai_base_url" yaml:"openai-base-url"`

	// ClaudeAPIKey is the upstream key for the claude-custom provider.
	ClaudeAPIKey string `json:"claude_api_key" yaml:"claude-api-key"`

	// ClaudeBaseURL overrides the upstream base URL for claude-custom.
	ClaudeBaseURL string `json:"claude_base_url" yaml:"claude-base-url"`

	// GeminiOAuthCredsBase64 holds the Gemini OAuth credential JSON,
	// base64 encoded. Takes precedence over the file path.
	GeminiOAuthCredsBase64 string `json:"gemini_oauth_creds_base64" yaml:"gemini-oauth-creds-base64"`

	// GeminiOAuthCredsFilePath points at the Gemini OAuth credential file.
	GeminiOAuthCredsFilePath string `json:"gemini_oauth_creds_file_path" yaml:"gemini-oauth-creds-file-path"`

	// ProjectID is the Google Cloud project used by the Gemini adapter.
	// Discovered automatically when empty.
	ProjectID string `json:"project_id" yaml:"project-id"`

	// KiroOAuthCredsBase64 holds the Kiro credential JSON, base64 encoded.
	KiroOAuthCredsBase64 string `json:"kiro_oauth_creds_base64" yaml:"kiro-oauth-creds-base64"`

	// KiroOAuthCredsFilePath points at the Kiro credential file.
	KiroOAuthCredsFilePath string `json:"kiro_oauth_creds_file_path" yaml:"kiro-oauth-creds-file-path"`

	// QwenOAuthCredsFilePath points at the Qwen credential file.
	QwenOAuthCredsFilePath string `json:"qwen_oauth_creds_file_path" yaml:"qwen-oauth-creds-file-path"`

	// SystemPromptFilePath names the file whose content is injected as the
	// system prompt. Watched for changes at runtime.
	SystemPromptFilePath string `json:"system_prompt_file_path" yaml:"system-prompt-file-path"`

	// SystemPromptMode is either "overwrite" or "append".
	SystemPromptMode string `json:"system_prompt_mode" yaml:"system-prompt-mode"`

	// PromptLogMode is one of "none", "console" or "file".
	PromptLogMode string `json:"prompt_log_mode" yaml:"prompt-log-mode"`

	// PromptLogBaseName is the file name stem for prompt log files.
	PromptLogBaseName string `json:"prompt_log_base_name" yaml:"prompt-log-base-name"`

	// RequestMaxRetries caps retry attempts on retryable upstream failures.
	RequestMaxRetries int `json:"request_max_retries" yaml:"request-max-retries"`

	// RequestBaseDelay is the base backoff delay in milliseconds.
	RequestBaseDelay int `json:"request_base_delay" yaml:"request-base-delay"`

	// CronNearMinutes is the period in minutes of the token refresh job.
	CronNearMinutes int `json:"cron_near_minutes" yaml:"cron-near-minutes"`

	// CronRefreshToken enables the scheduled pre-emptive token refresh.
	CronRefreshToken bool `json:"cron_refresh_token" yaml:"cron-refresh-token"`

	// ProviderPoolsFilePath points at a JSON file of provider pools.
	ProviderPoolsFilePath string `json:"provider_pools_file_path" yaml:"provider-pools-file-path"`

	// ProviderPools maps a provider tag to its inline pool entries.
	ProviderPools map[string][]map[string]any `json:"provider_pools" yaml:"provider-pools"`
}

// rawConfig mirrors Config but distinguishes unset fields from zero values
// so that explicit 0/false file values survive the defaulting pass.
type rawConfig struct {
	Host                     *string                     `json:"host" yaml:"host"`
	Port                     *int                        `json:"port" yaml:"port"`
	RequiredAPIKey           *string                     `json:"required_api_key" yaml:"required-api-key"`
	ModelProvider            *string                     `json:"model_provider" yaml:"model-provider"`
	OpenAIAPIKey             *string                     `json:"openai_api_key" yaml:"openai-api-key"`
	OpenAIBaseURL            *string                     `json:"openai_base_url" yaml:"openai-base-url"`
	ClaudeAPIKey             *string                     `json:"claude_api_key" yaml:"claude-api-key"`
	ClaudeBaseURL            *string                     `json:"claude_base_url" yaml:"claude-base-url"`
	GeminiOAuthCredsBase64   *string                     `json:"gemini_oauth_creds_base64" yaml:"gemini-oauth-creds-base64"`
	GeminiOAuthCredsFilePath *string                     `json:"gemini_oauth_creds_file_path" yaml:"gemini-oauth-creds-file-path"`
	ProjectID                *string                     `json:"project_id" yaml:"project-id"`
	KiroOAuthCredsBase64     *string                     `json:"kiro_oauth_creds_base64" yaml:"kiro-oauth-creds-base64"`
	KiroOAuthCredsFilePath   *string                     `json:"kiro_oauth_creds_file_path" yaml:"kiro-oauth-creds-file-path"`
	QwenOAuthCredsFilePath   *string                     `json:"qwen_oauth_creds_file_path" yaml:"qwen-oauth-creds-file-path"`
	SystemPromptFilePath     *string                     `json:"system_prompt_file_path" yaml:"system-prompt-file-path"`
	SystemPromptMode         *string                     `json:"system_prompt_mode" yaml:"system-prompt-mode"`
	PromptLogMode            *string                     `json:"prompt_log_mode" yaml:"prompt-log-mode"`
	PromptLogBaseName        *string                     `json:"prompt_log_base_name" yaml:"prompt-log-base-name"`
	RequestMaxRetries        *int                        `json:"request_max_retries" yaml:"request-max-retries"`
	RequestBaseDelay         *int                        `json:"request_base_delay" yaml:"request-base-delay"`
	CronNearMinutes          *int                        `json:"cron_near_minutes" yaml:"cron-near-minutes"`
	CronRefreshToken         *bool                       `json:"cron_refresh_token" yaml:"cron-refresh-token"`
	ProviderPoolsFilePath    *string                     `json:"provider_pools_file_path" yaml:"provider-pools-file-path"`
	ProviderPools            map[string][]map[string]any `json:"provider_pools" yaml:"provider-pools"`
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		Host:                 "localhost",
		Port:                 3000,
		RequiredAPIKey:       "123456",
		ModelProvider:        "gemini-cli-oauth",
		SystemPromptFilePath: "input_system_prompt.txt",
		SystemPromptMode:     SystemPromptOverwrite,
		PromptLogMode:        PromptLogNone,
		PromptLogBaseName:    "prompt_log",
		RequestMaxRetries:    3,
		RequestBaseDelay:     1000,
		CronNearMinutes:      15,
		CronRefreshToken:     true,
	}
}

// LoadConfig reads the configuration from the specified file path. The
// format is chosen by extension: .yaml/.yml parses as YAML, anything else
// as JSON. A missing file is not an error; defaults apply.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw rawConfig
	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err = json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	raw.apply(cfg)
	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *rawConfig) apply(cfg *Config) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&cfg.Host, r.Host)
	setInt(&cfg.Port, r.Port)
	setString(&cfg.RequiredAPIKey, r.RequiredAPIKey)
	setString(&cfg.ModelProvider, r.ModelProvider)
	setString(&cfg.OpenAIAPIKey, r.OpenAIAPIKey)
	setString(&cfg.OpenAIBaseURL, r.OpenAIBaseURL)
	setString(&cfg.ClaudeAPIKey, r.ClaudeAPIKey)
	setString(&cfg.ClaudeBaseURL, r.ClaudeBaseURL)
	setString(&cfg.GeminiOAuthCredsBase64, r.GeminiOAuthCredsBase64)
	setString(&cfg.GeminiOAuthCredsFilePath, r.GeminiOAuthCredsFilePath)
	setString(&cfg.ProjectID, r.ProjectID)
	setString(&cfg.KiroOAuthCredsBase64, r.KiroOAuthCredsBase64)
	setString(&cfg.KiroOAuthCredsFilePath, r.KiroOAuthCredsFilePath)
	setString(&cfg.QwenOAuthCredsFilePath, r.QwenOAuthCredsFilePath)
	setString(&cfg.SystemPromptFilePath, r.SystemPromptFilePath)
	setString(&cfg.SystemPromptMode, r.SystemPromptMode)
	setString(&cfg.PromptLogMode, r.PromptLogMode)
	setString(&cfg.PromptLogBaseName, r.PromptLogBaseName)
	setInt(&cfg.RequestMaxRetries, r.RequestMaxRetries)
	setInt(&cfg.RequestBaseDelay, r.RequestBaseDelay)
	setInt(&cfg.CronNearMinutes, r.CronNearMinutes)
	if r.CronRefreshToken != nil {
		cfg.CronRefreshToken = *r.CronRefreshToken
	}
	setString(&cfg.ProviderPoolsFilePath, r.ProviderPoolsFilePath)
	if r.ProviderPools != nil {
		cfg.ProviderPools = r.ProviderPools
	}
}

func (c *Config) validate() error {
	switch c.SystemPromptMode {
	case SystemPromptNone, SystemPromptOverwrite, SystemPromptAppend:
	default:
		return fmt.Errorf("invalid system_prompt_mode %q", c.SystemPromptMode)
	}
	switch c.PromptLogMode {
	case PromptLogNone, PromptLogConsole, PromptLogFile:
	default:
		return fmt.Errorf("invalid prompt_log_mode %q", c.PromptLogMode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
