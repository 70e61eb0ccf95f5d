package translator

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aibridge-io/aibridge/internal/constant"
)

// RequestToClaude converts an OpenAI or Gemini request body into the Claude
// messages shape.
func RequestToClaude(data []byte, from constant.Protocol) ([]byte, error) {
	switch from {
	case constant.ProtocolOpenAI:
		return openaiRequestToClaude(data), nil
	case constant.ProtocolGemini:
		return geminiRequestToClaude(data), nil
	}
	return nil, &UnsupportedConversionError{Class: Request, From: from, To: constant.ProtocolClaude}
}

func openaiRequestToClaude(data []byte) []byte {
	root := gjson.ParseBytes(data)
	messages := []any{}
	var systemTexts []string

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		switch msg.Get("role").String() {
		case "system":
			if t := msg.Get("content"); t.Type == gjson.String {
				systemTexts = append(systemTexts, t.String())
			}
		case "tool":
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": msg.Get("tool_call_id").String(),
					"content":     msg.Get("content").String(),
				}},
			})
		case "assistant":
			if blocks := openaiContentToClaudeBlocks(msg.Get("content")); len(blocks) > 0 {
				messages = append(messages, map[string]any{"role": "assistant", "content": blocks})
			}
		default:
			if blocks := openaiContentToClaudeBlocks(msg.Get("content")); len(blocks) > 0 {
				messages = append(messages, map[string]any{"role": "user", "content": blocks})
			}
		}
		return true
	})

	out := []byte(`{}`)
	if len(systemTexts) > 0 {
		out, _ = sjson.SetBytes(out, "system", strings.Join(systemTexts, "\n"))
	}
	out, _ = sjson.SetBytes(out, "messages", messages)
	model := root.Get("model").String()
	if model == "" {
		model = "claude-3-opus"
	}
	out, _ = sjson.SetBytes(out, "model", model)
	if v := root.Get("max_tokens"); v.Exists() {
		out, _ = sjson.SetBytes(out, "max_tokens", v.Value())
	} else {
		out, _ = sjson.SetBytes(out, "max_tokens", defaultMaxTokens)
	}
	for _, key := range []string{"temperature", "top_p", "stream"} {
		if v := root.Get(key); v.Exists() {
			out, _ = sjson.SetBytes(out, key, v.Value())
		}
	}
	return out
}

func geminiRequestToClaude(data []byte) []byte {
	root := gjson.ParseBytes(data)
	messages := []any{}

	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
		role := "user"
		if content.Get("role").String() == "model" {
			role = "assistant"
		}
		if blocks := geminiPartsToClaudeBlocks(content.Get("parts")); len(blocks) > 0 {
			messages = append(messages, map[string]any{"role": role, "content": blocks})
		}
		return true
	})

	out := []byte(`{}`)
	var systemTexts []string
	root.Get("systemInstruction.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			systemTexts = append(systemTexts, t.String())
		}
		return true
	})
	if len(systemTexts) > 0 {
		out, _ = sjson.SetBytes(out, "system", strings.Join(systemTexts, "\n"))
	}
	out, _ = sjson.SetBytes(out, "messages", messages)
	if v := root.Get("model"); v.Exists() {
		out, _ = sjson.SetBytes(out, "model", v.String())
	}
	if v := root.Get("generationConfig.maxOutputTokens"); v.Exists() {
		out, _ = sjson.SetBytes(out, "max_tokens", v.Value())
	} else {
		out, _ = sjson.SetBytes(out, "max_tokens", defaultMaxTokens)
	}
	if v := root.Get("generationConfig.temperature"); v.Exists() {
		out, _ = sjson.SetBytes(out, "temperature", v.Value())
	}
	if v := root.Get("generationConfig.topP"); v.Exists() {
		out, _ = sjson.SetBytes(out, "top_p", v.Value())
	}
	return out
}

// ResponseToClaude converts a complete OpenAI or Gemini response into the
// Claude message shape.
func ResponseToClaude(data []byte, from constant.Protocol, model string) ([]byte, error) {
	root := gjson.ParseBytes(data)
	blocks := []any{}
	stopReason := "end_turn"
	var inputTokens, outputTokens int64

	switch from {
	case constant.ProtocolGemini:
		root.Get("candidates").ForEach(func(_, candidate gjson.Result) bool {
			candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
				if t := part.Get("text"); t.Exists() {
					blocks = append(blocks, map[string]any{"type": "text", "text": t.String()})
				}
				return true
			})
			return true
		})
		usage := root.Get("usageMetadata")
		inputTokens = usage.Get("promptTokenCount").Int()
		outputTokens = usage.Get("candidatesTokenCount").Int()
	case constant.ProtocolOpenAI:
		if content := root.Get("choices.0.message.content"); content.String() != "" {
			blocks = append(blocks, map[string]any{"type": "text", "text": content.String()})
		}
		if fr := root.Get("choices.0.finish_reason"); fr.Exists() && fr.String() != "stop" {
			stopReason = fr.String()
		}
		usage := root.Get("usage")
		inputTokens = usage.Get("prompt_tokens").Int()
		outputTokens = usage.Get("completion_tokens").Int()
	default:
		return nil, &UnsupportedConversionError{Class: Response, From: from, To: constant.ProtocolClaude}
	}

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "id", "msg_"+uuid.NewString())
	out, _ = sjson.SetBytes(out, "type", "message")
	out, _ = sjson.SetBytes(out, "role", "assistant")
	out, _ = sjson.SetBytes(out, "content", blocks)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "stop_reason", stopReason)
	out, _ = sjson.SetBytes(out, "usage", map[string]any{
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
	})
	return out, nil
}

// StreamChunkToClaude converts one OpenAI or Gemini streaming payload into a
// Claude streaming event. Delta-less payloads become empty
// content_block_delta events; a finished chunk becomes message_delta.
func StreamChunkToClaude(data []byte, from constant.Protocol) ([]byte, error) {
	root := gjson.ParseBytes(data)
	var text string
	done := false

	switch from {
	case constant.ProtocolOpenAI:
		text = root.Get("choices.0.delta.content").String()
		if fr := root.Get("choices.0.finish_reason"); fr.Exists() && fr.Type != gjson.Null {
			done = true
		}
	case constant.ProtocolGemini:
		var texts []string
		root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text"); t.Exists() {
				texts = append(texts, t.String())
			}
			return true
		})
		text = strings.Join(texts, "")
		done = root.Get("candidates.0.finishReason").Exists()
	default:
		return nil, &UnsupportedConversionError{Class: StreamChunk, From: from, To: constant.ProtocolClaude}
	}

	out := []byte(`{}`)
	if done && text == "" {
		out, _ = sjson.SetBytes(out, "type", "message_delta")
		out, _ = sjson.SetBytes(out, "delta", map[string]any{"stop_reason": "end_turn", "stop_sequence": nil})
		return out, nil
	}
	out, _ = sjson.SetBytes(out, "type", "content_block_delta")
	out, _ = sjson.SetBytes(out, "index", 0)
	out, _ = sjson.SetBytes(out, "delta", map[string]any{"type": "text_delta", "text": text})
	return out, nil
}

// ModelListToClaude converts an OpenAI or Gemini model listing into the
// Claude list shape.
func ModelListToClaude(data []byte, from constant.Protocol) ([]byte, error) {
	root := gjson.ParseBytes(data)
	now := time.Now().UTC().Format(time.RFC3339)
	models := []any{}

	appendModel := func(id string) {
		models = append(models, map[string]any{
			"id":           id,
			"type":         "model",
			"display_name": id,
			"created_at":   now,
		})
	}

	switch from {
	case constant.ProtocolOpenAI:
		root.Get("data").ForEach(func(_, m gjson.Result) bool {
			appendModel(m.Get("id").String())
			return true
		})
	case constant.ProtocolGemini:
		root.Get("models").ForEach(func(_, m gjson.Result) bool {
			appendModel(strings.TrimPrefix(m.Get("name").String(), "models/"))
			return true
		})
	default:
		return nil, &UnsupportedConversionError{Class: ModelList, From: from, To: constant.ProtocolClaude}
	}

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "data", models)
	out, _ = sjson.SetBytes(out, "has_more", false)
	return out, nil
}
