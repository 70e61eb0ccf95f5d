package translator

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aibridge-io/aibridge/internal/constant"
)

var protocols = []constant.Protocol{
	constant.ProtocolOpenAI,
	constant.ProtocolGemini,
	constant.ProtocolClaude,
}

var classes = []Class{Request, Response, StreamChunk, ModelList}

func TestConvertIdentity(t *testing.T) {
	payload := []byte(`{"some":"payload","nested":{"x":1}}`)
	for _, class := range classes {
		for _, p := range protocols {
			out, err := Convert(payload, class, p, p, "m")
			require.NoError(t, err)
			require.Equal(t, payload, out)
		}
	}
}

func TestConvertUnknownProtocol(t *testing.T) {
	_, err := Convert([]byte(`{}`), Request, constant.Protocol("bogus"), constant.ProtocolOpenAI, "")
	require.Error(t, err)
	var uc *UnsupportedConversionError
	require.ErrorAs(t, err, &uc)
}

func TestOpenAIRequestToGeminiMultimodal(t *testing.T) {
	in := []byte(`{"messages":[{"role":"user","content":[
		{"type":"text","text":"what?"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AAA"}}
	]}]}`)
	out, err := Convert(in, Request, constant.ProtocolOpenAI, constant.ProtocolGemini, "")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "user", root.Get("contents.0.role").String())
	parts := root.Get("contents.0.parts")
	require.Equal(t, int64(2), parts.Get("#").Int())
	require.Equal(t, "what?", parts.Get("0.text").String())
	require.Equal(t, "image/png", parts.Get("1.inlineData.mimeType").String())
	require.Equal(t, "AAA", parts.Get("1.inlineData.data").String())
}

func TestOpenAIRequestToGeminiMergesConsecutiveRoles(t *testing.T) {
	in := []byte(`{"messages":[
		{"role":"system","content":"sys"},
		{"role":"user","content":"a"},
		{"role":"user","content":"b"},
		{"role":"assistant","content":"c"},
		{"role":"assistant","content":"d"},
		{"role":"user","content":"e"}
	]}`)
	out, err := Convert(in, Request, constant.ProtocolOpenAI, constant.ProtocolGemini, "")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "sys", root.Get("systemInstruction.parts.0.text").String())

	contents := root.Get("contents").Array()
	require.Len(t, contents, 3)
	lastRole := ""
	for _, c := range contents {
		require.NotEqual(t, lastRole, c.Get("role").String())
		lastRole = c.Get("role").String()
	}
	require.Equal(t, int64(2), contents[0].Get("parts.#").Int())
	require.Equal(t, "c", contents[1].Get("parts.0.text").String())
	require.Equal(t, "d", contents[1].Get("parts.1.text").String())
}

func TestOpenAIRequestToGeminiGenerationConfig(t *testing.T) {
	in := []byte(`{"messages":[{"role":"user","content":"hi"}],"temperature":0.5,"max_tokens":100,"top_p":0.9}`)
	out, err := Convert(in, Request, constant.ProtocolOpenAI, constant.ProtocolGemini, "")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, 0.5, root.Get("generationConfig.temperature").Float())
	require.Equal(t, int64(100), root.Get("generationConfig.maxOutputTokens").Int())
	require.Equal(t, 0.9, root.Get("generationConfig.topP").Float())

	// Absent knobs must not materialise a generationConfig at all.
	out, err = Convert([]byte(`{"messages":[{"role":"user","content":"hi"}]}`),
		Request, constant.ProtocolOpenAI, constant.ProtocolGemini, "")
	require.NoError(t, err)
	require.False(t, gjson.GetBytes(out, "generationConfig").Exists())
}

func TestOpenAIRequestToClaude(t *testing.T) {
	in := []byte(`{"model":"claude-3-5-sonnet-20241022","messages":[
		{"role":"system","content":"be brief"},
		{"role":"user","content":"hi"},
		{"role":"assistant","content":""},
		{"role":"tool","tool_call_id":"call_1","content":"42"}
	],"temperature":0.2}`)
	out, err := Convert(in, Request, constant.ProtocolOpenAI, constant.ProtocolClaude, "")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "be brief", root.Get("system").String())
	require.Equal(t, int64(defaultMaxTokens), root.Get("max_tokens").Int())
	require.Equal(t, 0.2, root.Get("temperature").Float())

	msgs := root.Get("messages").Array()
	// The empty assistant message is dropped.
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.NotEmpty(t, m.Get("content").Array())
	}
	require.Equal(t, "tool_result", msgs[1].Get("content.0.type").String())
	require.Equal(t, "call_1", msgs[1].Get("content.0.tool_use_id").String())
	require.Equal(t, "42", msgs[1].Get("content.0.content").String())
}

func TestClaudeRequestToGemini(t *testing.T) {
	in := []byte(`{"system":"helpful","max_tokens":50,"messages":[
		{"role":"user","content":[
			{"type":"text","text":"look"},
			{"type":"image","source":{"type":"base64","media_type":"image/png","data":"QUJD"}}
		]},
		{"role":"assistant","content":"ok"}
	]}`)
	out, err := Convert(in, Request, constant.ProtocolClaude, constant.ProtocolGemini, "")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "helpful", root.Get("systemInstruction.parts.0.text").String())
	require.Equal(t, "user", root.Get("contents.0.role").String())
	require.Equal(t, "image/png", root.Get("contents.0.parts.1.inlineData.mimeType").String())
	require.Equal(t, "model", root.Get("contents.1.role").String())
	require.Equal(t, int64(50), root.Get("generationConfig.maxOutputTokens").Int())
}

func TestClaudeResponseToOpenAI(t *testing.T) {
	in := []byte(`{"content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn",
		"usage":{"input_tokens":5,"output_tokens":7}}`)
	out, err := Convert(in, Response, constant.ProtocolClaude, constant.ProtocolOpenAI, "claude-3-5-sonnet-20241022")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "chat.completion", root.Get("object").String())
	require.Equal(t, "hello", root.Get("choices.0.message.content").String())
	require.Equal(t, "stop", root.Get("choices.0.finish_reason").String())
	require.Equal(t, int64(5), root.Get("usage.prompt_tokens").Int())
	require.Equal(t, int64(7), root.Get("usage.completion_tokens").Int())
	require.Equal(t, int64(12), root.Get("usage.total_tokens").Int())
	require.True(t, gjson.GetBytes(out, "id").String() != "")
}

func TestGeminiResponseToOpenAI(t *testing.T) {
	in := []byte(`{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}],"role":"model"}}],
		"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":4,"totalTokenCount":7}}`)
	out, err := Convert(in, Response, constant.ProtocolGemini, constant.ProtocolOpenAI, "gemini-2.5-flash")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "a b", root.Get("choices.0.message.content").String())
	require.Equal(t, "gemini-2.5-flash", root.Get("model").String())
	total := root.Get("usage.prompt_tokens").Int() + root.Get("usage.completion_tokens").Int()
	require.Equal(t, total, root.Get("usage.total_tokens").Int())
}

func TestGeminiResponseToClaude(t *testing.T) {
	in := []byte(`{"candidates":[{"content":{"parts":[{"text":"hey"}],"role":"model"}}],
		"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":3}}`)
	out, err := Convert(in, Response, constant.ProtocolGemini, constant.ProtocolClaude, "m")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	require.Equal(t, "message", root.Get("type").String())
	require.Equal(t, "assistant", root.Get("role").String())
	require.Equal(t, "hey", root.Get("content.0.text").String())
	require.Equal(t, "end_turn", root.Get("stop_reason").String())
	require.Equal(t, int64(2), root.Get("usage.input_tokens").Int())
	require.Equal(t, int64(3), root.Get("usage.output_tokens").Int())
}

func TestStreamChunkConversions(t *testing.T) {
	t.Run("claude delta to openai", func(t *testing.T) {
		in := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`)
		out, err := Convert(in, StreamChunk, constant.ProtocolClaude, constant.ProtocolOpenAI, "m")
		require.NoError(t, err)
		root := gjson.ParseBytes(out)
		require.Equal(t, "chat.completion.chunk", root.Get("object").String())
		require.Equal(t, "hi", root.Get("choices.0.delta.content").String())
	})

	t.Run("openai delta to claude", func(t *testing.T) {
		in := []byte(`{"choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}`)
		out, err := Convert(in, StreamChunk, constant.ProtocolOpenAI, constant.ProtocolClaude, "")
		require.NoError(t, err)
		root := gjson.ParseBytes(out)
		require.Equal(t, "content_block_delta", root.Get("type").String())
		require.Equal(t, "hi", root.Get("delta.text").String())
	})

	t.Run("openai finish to claude", func(t *testing.T) {
		in := []byte(`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`)
		out, err := Convert(in, StreamChunk, constant.ProtocolOpenAI, constant.ProtocolClaude, "")
		require.NoError(t, err)
		require.Equal(t, "message_delta", gjson.GetBytes(out, "type").String())
		require.Equal(t, "end_turn", gjson.GetBytes(out, "delta.stop_reason").String())
	})

	t.Run("gemini delta to openai", func(t *testing.T) {
		in := []byte(`{"candidates":[{"content":{"parts":[{"text":"chunk"}],"role":"model"}}]}`)
		out, err := Convert(in, StreamChunk, constant.ProtocolGemini, constant.ProtocolOpenAI, "m")
		require.NoError(t, err)
		root := gjson.ParseBytes(out)
		require.Equal(t, "chunk", root.Get("choices.0.delta.content").String())
		require.True(t, root.Get("choices.0.finish_reason").Type == gjson.Null)
	})
}

func TestModelListConversions(t *testing.T) {
	gemini := []byte(`{"models":[{"name":"models/gemini-2.5-flash"},{"name":"models/gemini-2.5-pro"}]}`)

	out, err := Convert(gemini, ModelList, constant.ProtocolGemini, constant.ProtocolOpenAI, "")
	require.NoError(t, err)
	root := gjson.ParseBytes(out)
	require.Equal(t, "list", root.Get("object").String())
	require.Equal(t, "gemini-2.5-flash", root.Get("data.0.id").String())
	require.Equal(t, "model", root.Get("data.0.object").String())

	openai := []byte(`{"object":"list","data":[{"id":"qwen3-coder-plus","object":"model"}]}`)
	out, err = Convert(openai, ModelList, constant.ProtocolOpenAI, constant.ProtocolGemini, "")
	require.NoError(t, err)
	require.Equal(t, "models/qwen3-coder-plus", gjson.GetBytes(out, "models.0.name").String())

	out, err = Convert(openai, ModelList, constant.ProtocolOpenAI, constant.ProtocolClaude, "")
	require.NoError(t, err)
	require.Equal(t, "qwen3-coder-plus", gjson.GetBytes(out, "data.0.id").String())
	require.Equal(t, "model", gjson.GetBytes(out, "data.0.type").String())
}

func TestGeminiRequestToOpenAIRoundTripShape(t *testing.T) {
	in := []byte(`{"systemInstruction":{"parts":[{"text":"sys"}]},"contents":[
		{"role":"user","parts":[{"text":"q"}]},
		{"role":"model","parts":[{"text":"a"}]}
	],"generationConfig":{"maxOutputTokens":64}}`)
	out, err := Convert(in, Request, constant.ProtocolGemini, constant.ProtocolOpenAI, "")
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	msgs := root.Get("messages").Array()
	require.Len(t, msgs, 3)
	require.Equal(t, "system", msgs[0].Get("role").String())
	require.Equal(t, "user", msgs[1].Get("role").String())
	require.Equal(t, "assistant", msgs[2].Get("role").String())
	require.Equal(t, "a", msgs[2].Get("content").String())
	require.Equal(t, int64(64), root.Get("max_tokens").Int())
}
