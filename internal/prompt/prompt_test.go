package prompt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aibridge-io/aibridge/internal/config"
	"github.com/aibridge-io/aibridge/internal/constant"
)

func writePromptFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input_system_prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApplyOpenAIOverwrite(t *testing.T) {
	inj := NewInjector(writePromptFile(t, "You are a pirate."), config.SystemPromptOverwrite)

	body := []byte(`{"messages":[` +
		`{"role":"system","content":"old"},` +
		`{"role":"user","content":"hi"},` +
		`{"role":"system","content":"older"}]}`)
	out := inj.Apply(constant.ProtocolOpenAI, body)

	messages := gjson.GetBytes(out, "messages").Array()
	require.Len(t, messages, 2)
	require.Equal(t, "system", messages[0].Get("role").String())
	require.Equal(t, "You are a pirate.", messages[0].Get("content").String())
	require.Equal(t, "user", messages[1].Get("role").String())
}

func TestApplyOpenAIAppend(t *testing.T) {
	inj := NewInjector(writePromptFile(t, "Extra."), config.SystemPromptAppend)

	body := []byte(`{"messages":[{"role":"system","content":"base"},{"role":"user","content":"hi"}]}`)
	out := inj.Apply(constant.ProtocolOpenAI, body)
	require.Equal(t, "base\n\nExtra.", gjson.GetBytes(out, "messages.0.content").String())

	// Without an existing system message one is inserted at the front.
	body = []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	out = inj.Apply(constant.ProtocolOpenAI, body)
	messages := gjson.GetBytes(out, "messages").Array()
	require.Len(t, messages, 2)
	require.Equal(t, "system", messages[0].Get("role").String())
	require.Equal(t, "Extra.", messages[0].Get("content").String())
}

func TestApplyClaude(t *testing.T) {
	inj := NewInjector(writePromptFile(t, "P."), config.SystemPromptOverwrite)
	out := inj.Apply(constant.ProtocolClaude, []byte(`{"system":"old","messages":[]}`))
	require.Equal(t, "P.", gjson.GetBytes(out, "system").String())

	inj = NewInjector(writePromptFile(t, "P."), config.SystemPromptAppend)
	out = inj.Apply(constant.ProtocolClaude, []byte(`{"system":"old","messages":[]}`))
	require.Equal(t, "old\n\nP.", gjson.GetBytes(out, "system").String())

	out = inj.Apply(constant.ProtocolClaude, []byte(`{"messages":[]}`))
	require.Equal(t, "P.", gjson.GetBytes(out, "system").String())
}

func TestApplyGemini(t *testing.T) {
	inj := NewInjector(writePromptFile(t, "P."), config.SystemPromptOverwrite)
	out := inj.Apply(constant.ProtocolGemini, []byte(`{"contents":[]}`))
	require.Equal(t, "P.", gjson.GetBytes(out, "systemInstruction.parts.0.text").String())

	inj = NewInjector(writePromptFile(t, "P."), config.SystemPromptAppend)
	out = inj.Apply(constant.ProtocolGemini, []byte(`{"systemInstruction":{"parts":[{"text":"old"}]},"contents":[]}`))
	require.Equal(t, "old\n\nP.", gjson.GetBytes(out, "systemInstruction.parts.0.text").String())
}

func TestApplyNoContentPassesThrough(t *testing.T) {
	inj := NewInjector("", config.SystemPromptOverwrite)
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, body, inj.Apply(constant.ProtocolOpenAI, body))

	inj = NewInjector(writePromptFile(t, "P."), config.SystemPromptNone)
	require.Equal(t, body, inj.Apply(constant.ProtocolOpenAI, body))
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writePromptFile(t, "first")
	inj := NewInjector(path, config.SystemPromptOverwrite)
	require.Equal(t, "first", inj.Content())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, inj.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))
	require.Eventually(t, func() bool {
		return inj.Content() == "second"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSaveIncomingWritesFetchFile(t *testing.T) {
	path := writePromptFile(t, "P.")
	inj := NewInjector(path, config.SystemPromptOverwrite)

	inj.SaveIncoming("client system prompt")
	fetchPath := filepath.Join(filepath.Dir(path), "fetch_system_prompt.txt")
	data, err := os.ReadFile(fetchPath)
	require.NoError(t, err)
	require.Equal(t, "client system prompt", string(data))
}

func TestIncomingSystemText(t *testing.T) {
	openai := []byte(`{"messages":[{"role":"system","content":"a"},{"role":"user","content":"x"},{"role":"system","content":"b"}]}`)
	require.Equal(t, "a\nb", IncomingSystemText(constant.ProtocolOpenAI, openai))

	claude := []byte(`{"system":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`)
	require.Equal(t, "a\nb", IncomingSystemText(constant.ProtocolClaude, claude))

	gemini := []byte(`{"systemInstruction":{"parts":[{"text":"a"}]}}`)
	require.Equal(t, "a", IncomingSystemText(constant.ProtocolGemini, gemini))
}

func TestExtractPromptAndResponse(t *testing.T) {
	claudeReq := []byte(`{"system":"s","messages":[{"role":"user","content":[{"type":"text","text":"q1"},{"type":"text","text":"q2"}]}]}`)
	require.Equal(t, "system: s\nuser: q1 q2", ExtractPrompt(constant.ProtocolClaude, claudeReq))

	openaiResp := []byte(`{"choices":[{"message":{"role":"assistant","content":"ans"}}]}`)
	require.Equal(t, "ans", ExtractResponseText(constant.ProtocolOpenAI, openaiResp))

	geminiResp := []byte(`{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}]}`)
	require.Equal(t, "a b", ExtractResponseText(constant.ProtocolGemini, geminiResp))
}

func TestLoggerFileMode(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "prompt_log")
	l := NewLogger(config.PromptLogFile, base)

	l.LogInput("user: hi")
	l.LogOutput("assistant: hello")
	l.LogError("")

	matches, err := filepath.Glob(base + "-*.log")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "[INPUT]:\nuser: hi")
	require.Contains(t, string(data), "[OUTPUT]:\nassistant: hello")
	require.NotContains(t, string(data), "[ERROR]")
}

func TestLoggerNoneModeWritesNothing(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "prompt_log")
	l := NewLogger(config.PromptLogNone, base)
	l.LogInput("user: hi")

	matches, err := filepath.Glob(base + "-*.log")
	require.NoError(t, err)
	require.Empty(t, matches)
}
