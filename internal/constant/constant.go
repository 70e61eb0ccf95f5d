// Package constant defines the protocol and provider identifiers used
// throughout the gateway, the binding between the two, and the default
// model catalogs advertised by each provider.
package constant

// Protocol identifies one of the client-facing API dialects.
type Protocol string

const (
	// ProtocolOpenAI is the OpenAI chat completions dialect.
	ProtocolOpenAI Protocol = "openai"

	// ProtocolGemini is the Google Gemini generateContent dialect.
	ProtocolGemini Protocol = "gemini"

	// ProtocolClaude is the Anthropic Claude messages dialect.
	ProtocolClaude Protocol = "claude"
)

// Provider tags as they appear in configuration and in path overrides.
const (
	GeminiCLIOAuth = "gemini-cli-oauth"
	OpenAICustom   = "openai-custom"
	ClaudeCustom   = "claude-custom"
	ClaudeKiro     = "claude-kiro-oauth"
	OpenAIQwen     = "openai-qwen-oauth"
)

// Providers lists every recognised provider tag. Route registration and
// pool validation iterate this closed set.
var Providers = []string{
	GeminiCLIOAuth,
	OpenAICustom,
	ClaudeCustom,
	ClaudeKiro,
	OpenAIQwen,
}

// providerProtocols binds each provider tag to the protocol its upstream
// natively speaks.
var providerProtocols = map[string]Protocol{
	GeminiCLIOAuth: ProtocolGemini,
	OpenAICustom:   ProtocolOpenAI,
	ClaudeCustom:   ProtocolClaude,
	ClaudeKiro:     ProtocolClaude,
	OpenAIQwen:     ProtocolOpenAI,
}

// ProtocolForProvider returns the native protocol of a provider tag.
// The second return is false for an unknown tag.
func ProtocolForProvider(provider string) (Protocol, bool) {
	p, ok := providerProtocols[provider]
	return p, ok
}

// IsProvider reports whether the tag names a recognised provider.
func IsProvider(tag string) bool {
	_, ok := providerProtocols[tag]
	return ok
}

// Default model catalogs, returned by ListModels when the upstream
// does not expose a model listing of its own.
var (
	GeminiModels = []string{
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
		"gemini-2.5-pro",
	}

	QwenModels = []string{
		"qwen3-coder-plus",
		"qwen3-coder-flash",
	}

	ClaudeModels = []string{
		"claude-sonnet-4-20250514",
		"claude-3-7-sonnet-20250219",
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-opus-4-20250514",
	}
)
