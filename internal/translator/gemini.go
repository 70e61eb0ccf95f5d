package translator

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aibridge-io/aibridge/internal/constant"
)

// RequestToGemini converts an OpenAI or Claude request body into the Gemini
// generateContent shape.
func RequestToGemini(data []byte, from constant.Protocol) ([]byte, error) {
	switch from {
	case constant.ProtocolOpenAI:
		return openaiRequestToGemini(data), nil
	case constant.ProtocolClaude:
		return claudeRequestToGemini(data), nil
	}
	return nil, &UnsupportedConversionError{Class: Request, From: from, To: constant.ProtocolGemini}
}

func openaiRequestToGemini(data []byte) []byte {
	root := gjson.ParseBytes(data)
	contents := []any{}
	var systemParts []any

	// Consecutive messages with the same Gemini role collapse into a
	// single contents entry.
	lastRole := ""
	var accumulated []any
	flush := func() {
		if len(accumulated) > 0 {
			contents = append(contents, map[string]any{"role": lastRole, "parts": accumulated})
			accumulated = nil
		}
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		if role == "" {
			role = "user"
		}
		switch role {
		case "system":
			if t := msg.Get("content"); t.Type == gjson.String {
				systemParts = append(systemParts, map[string]any{"text": t.String()})
			}
			return true
		case "tool":
			flush()
			name := msg.Get("name").String()
			if name == "" {
				name = "unknown"
			}
			contents = append(contents, map[string]any{
				"role": "function",
				"parts": []any{map[string]any{
					"functionResponse": map[string]any{
						"name":     name,
						"response": map[string]any{"content": msg.Get("content").Value()},
					},
				}},
			})
			lastRole = ""
			return true
		}

		geminiRole := role
		if role == "assistant" {
			geminiRole = "model"
		}
		parts := openaiContentToGeminiParts(msg.Get("content"))
		if geminiRole == lastRole {
			accumulated = append(accumulated, parts...)
		} else {
			flush()
			accumulated = parts
			lastRole = geminiRole
		}
		return true
	})
	flush()

	out := []byte(`{}`)
	if len(systemParts) > 0 {
		out, _ = sjson.SetBytes(out, "systemInstruction", map[string]any{"parts": systemParts})
	}
	out, _ = sjson.SetBytes(out, "contents", contents)
	out = setGenerationConfig(out, root.Get("temperature"), root.Get("max_tokens"), root.Get("top_p"))
	return out
}

func claudeRequestToGemini(data []byte) []byte {
	root := gjson.ParseBytes(data)
	contents := []any{}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		role := "user"
		if msg.Get("role").String() == "assistant" {
			role = "model"
		}
		parts := claudeContentToGeminiParts(msg.Get("content"))
		if len(parts) > 0 {
			contents = append(contents, map[string]any{"role": role, "parts": parts})
		}
		return true
	})

	out := []byte(`{}`)
	if system := root.Get("system"); system.Exists() {
		out, _ = sjson.SetBytes(out, "systemInstruction", map[string]any{
			"parts": []any{map[string]any{"text": system.Value()}},
		})
	}
	out, _ = sjson.SetBytes(out, "contents", contents)
	out = setGenerationConfig(out, root.Get("temperature"), root.Get("max_tokens"), root.Get("top_p"))
	return out
}

// setGenerationConfig writes generationConfig keys, only for source fields
// that are present.
func setGenerationConfig(out []byte, temperature, maxTokens, topP gjson.Result) []byte {
	if temperature.Exists() {
		out, _ = sjson.SetBytes(out, "generationConfig.temperature", temperature.Value())
	}
	if maxTokens.Exists() {
		out, _ = sjson.SetBytes(out, "generationConfig.maxOutputTokens", maxTokens.Value())
	}
	if topP.Exists() {
		out, _ = sjson.SetBytes(out, "generationConfig.topP", topP.Value())
	}
	return out
}

// ResponseToGemini converts a complete OpenAI or Claude response into the
// Gemini generateContent response shape.
func ResponseToGemini(data []byte, from constant.Protocol) ([]byte, error) {
	root := gjson.ParseBytes(data)
	var text string
	var promptTokens, completionTokens, totalTokens int64

	switch from {
	case constant.ProtocolOpenAI:
		text = root.Get("choices.0.message.content").String()
		usage := root.Get("usage")
		promptTokens = usage.Get("prompt_tokens").Int()
		completionTokens = usage.Get("completion_tokens").Int()
		totalTokens = usage.Get("total_tokens").Int()
	case constant.ProtocolClaude:
		var texts []string
		root.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				texts = append(texts, block.Get("text").String())
			}
			return true
		})
		text = strings.Join(texts, "\n")
		usage := root.Get("usage")
		promptTokens = usage.Get("input_tokens").Int()
		completionTokens = usage.Get("output_tokens").Int()
		totalTokens = promptTokens + completionTokens
	default:
		return nil, &UnsupportedConversionError{Class: Response, From: from, To: constant.ProtocolGemini}
	}

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "candidates", []any{map[string]any{
		"content": map[string]any{
			"parts": []any{map[string]any{"text": text}},
			"role":  "model",
		},
		"finishReason": "STOP",
		"index":        0,
	}})
	out, _ = sjson.SetBytes(out, "usageMetadata", map[string]any{
		"promptTokenCount":     promptTokens,
		"candidatesTokenCount": completionTokens,
		"totalTokenCount":      totalTokens,
	})
	return out, nil
}

// StreamChunkToGemini converts one OpenAI or Claude streaming payload into a
// Gemini streaming chunk.
func StreamChunkToGemini(data []byte, from constant.Protocol) ([]byte, error) {
	root := gjson.ParseBytes(data)
	var text string
	done := false

	switch from {
	case constant.ProtocolOpenAI:
		text = root.Get("choices.0.delta.content").String()
		if fr := root.Get("choices.0.finish_reason"); fr.Exists() && fr.Type != gjson.Null {
			done = true
		}
	case constant.ProtocolClaude:
		switch root.Get("type").String() {
		case "content_block_delta":
			text = root.Get("delta.text").String()
		case "message_delta", "message_stop":
			done = true
		}
	default:
		return nil, &UnsupportedConversionError{Class: StreamChunk, From: from, To: constant.ProtocolGemini}
	}

	candidate := map[string]any{
		"content": map[string]any{
			"parts": []any{map[string]any{"text": text}},
			"role":  "model",
		},
		"index": 0,
	}
	if done {
		candidate["finishReason"] = "STOP"
	}
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "candidates", []any{candidate})
	return out, nil
}

// ModelListToGemini converts an OpenAI or Claude model listing into the
// Gemini list shape with "models/" name prefixes.
func ModelListToGemini(data []byte, from constant.Protocol) ([]byte, error) {
	root := gjson.ParseBytes(data)
	models := []any{}

	appendModel := func(id string) {
		models = append(models, map[string]any{
			"name":        "models/" + id,
			"displayName": id,
		})
	}

	switch from {
	case constant.ProtocolOpenAI:
		root.Get("data").ForEach(func(_, m gjson.Result) bool {
			appendModel(m.Get("id").String())
			return true
		})
	case constant.ProtocolClaude:
		root.Get("data").ForEach(func(_, m gjson.Result) bool {
			appendModel(m.Get("id").String())
			return true
		})
	default:
		return nil, &UnsupportedConversionError{Class: ModelList, From: from, To: constant.ProtocolGemini}
	}

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "models", models)
	return out, nil
}
