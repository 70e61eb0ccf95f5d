package translator

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aibridge-io/aibridge/internal/constant"
)

// RequestToOpenAI converts a Gemini or Claude request body into the OpenAI
// chat completions shape.
func RequestToOpenAI(data []byte, from constant.Protocol) ([]byte, error) {
	switch from {
	case constant.ProtocolGemini:
		return geminiRequestToOpenAI(data), nil
	case constant.ProtocolClaude:
		return claudeRequestToOpenAI(data), nil
	}
	return nil, &UnsupportedConversionError{Class: Request, From: from, To: constant.ProtocolOpenAI}
}

func geminiRequestToOpenAI(data []byte) []byte {
	root := gjson.ParseBytes(data)
	messages := []any{}

	root.Get("systemInstruction.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			messages = append(messages, map[string]any{"role": "system", "content": t.String()})
		}
		return true
	})

	root.Get("contents").ForEach(func(_, content gjson.Result) bool {
		role := content.Get("role").String()
		if role == "function" {
			content.Get("parts").ForEach(func(_, part gjson.Result) bool {
				fr := part.Get("functionResponse")
				if fr.Exists() {
					messages = append(messages, map[string]any{
						"role":    "tool",
						"name":    fr.Get("name").String(),
						"content": fr.Get("response.content").Value(),
					})
				}
				return true
			})
			return true
		}
		openaiRole := "user"
		if role == "model" {
			openaiRole = "assistant"
		}
		messages = append(messages, map[string]any{
			"role":    openaiRole,
			"content": geminiPartsToOpenAIContent(content.Get("parts")),
		})
		return true
	})

	out := []byte(`{}`)
	if model := root.Get("model"); model.Exists() {
		out, _ = sjson.SetBytes(out, "model", model.String())
	}
	out, _ = sjson.SetBytes(out, "messages", messages)
	if v := root.Get("generationConfig.temperature"); v.Exists() {
		out, _ = sjson.SetBytes(out, "temperature", v.Value())
	}
	if v := root.Get("generationConfig.maxOutputTokens"); v.Exists() {
		out, _ = sjson.SetBytes(out, "max_tokens", v.Value())
	}
	if v := root.Get("generationConfig.topP"); v.Exists() {
		out, _ = sjson.SetBytes(out, "top_p", v.Value())
	}
	return out
}

func claudeRequestToOpenAI(data []byte) []byte {
	root := gjson.ParseBytes(data)
	messages := []any{}

	if system := root.Get("system"); system.Exists() {
		text := system.String()
		if system.IsArray() {
			var texts []string
			system.ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "text" {
					texts = append(texts, block.Get("text").String())
				}
				return true
			})
			text = strings.Join(texts, "\n")
		}
		messages = append(messages, map[string]any{"role": "system", "content": text})
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")

		// Claude folds tool results into user turns; unfold them.
		toolResults := false
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "tool_result" {
				toolResults = true
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": block.Get("tool_use_id").String(),
					"content":      block.Get("content").Value(),
				})
			}
			return true
		})
		if toolResults {
			return true
		}

		messages = append(messages, map[string]any{
			"role":    msg.Get("role").String(),
			"content": claudeContentToOpenAIParts(content),
		})
		return true
	})

	out := []byte(`{}`)
	if model := root.Get("model"); model.Exists() {
		out, _ = sjson.SetBytes(out, "model", model.String())
	}
	out, _ = sjson.SetBytes(out, "messages", messages)
	for _, key := range []string{"max_tokens", "temperature", "top_p", "stream"} {
		if v := root.Get(key); v.Exists() {
			out, _ = sjson.SetBytes(out, key, v.Value())
		}
	}
	return out
}

// ResponseToOpenAI converts a complete Gemini or Claude response into the
// OpenAI chat completion shape.
func ResponseToOpenAI(data []byte, from constant.Protocol, model string) ([]byte, error) {
	root := gjson.ParseBytes(data)
	var content string
	finishReason := "stop"
	var promptTokens, completionTokens, totalTokens int64

	switch from {
	case constant.ProtocolGemini:
		content = geminiResponseText(root)
		usage := root.Get("usageMetadata")
		promptTokens = usage.Get("promptTokenCount").Int()
		completionTokens = usage.Get("candidatesTokenCount").Int()
		totalTokens = usage.Get("totalTokenCount").Int()
	case constant.ProtocolClaude:
		var texts []string
		root.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				texts = append(texts, block.Get("text").String())
			}
			return true
		})
		content = strings.Join(texts, "\n")
		if sr := root.Get("stop_reason"); sr.Exists() && sr.String() != "end_turn" {
			finishReason = sr.String()
		}
		usage := root.Get("usage")
		promptTokens = usage.Get("input_tokens").Int()
		completionTokens = usage.Get("output_tokens").Int()
		totalTokens = promptTokens + completionTokens
	default:
		return nil, &UnsupportedConversionError{Class: Response, From: from, To: constant.ProtocolOpenAI}
	}

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "id", "chatcmpl-"+uuid.NewString())
	out, _ = sjson.SetBytes(out, "object", "chat.completion")
	out, _ = sjson.SetBytes(out, "created", time.Now().Unix())
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "choices", []any{map[string]any{
		"index":         0,
		"message":       map[string]any{"role": "assistant", "content": content},
		"finish_reason": finishReason,
	}})
	out, _ = sjson.SetBytes(out, "usage", map[string]any{
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"total_tokens":      totalTokens,
	})
	return out, nil
}

// StreamChunkToOpenAI converts one Gemini or Claude streaming payload into
// an OpenAI chat.completion.chunk.
func StreamChunkToOpenAI(data []byte, from constant.Protocol, model string) ([]byte, error) {
	root := gjson.ParseBytes(data)
	delta := map[string]any{}
	var finishReason any

	switch from {
	case constant.ProtocolGemini:
		var texts []string
		root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text"); t.Exists() {
				texts = append(texts, t.String())
			}
			return true
		})
		if len(texts) > 0 {
			delta["content"] = strings.Join(texts, "")
		}
		if root.Get("candidates.0.finishReason").Exists() {
			finishReason = "stop"
		}
	case constant.ProtocolClaude:
		switch root.Get("type").String() {
		case "message_start":
			delta["role"] = "assistant"
			delta["content"] = ""
		case "content_block_delta":
			if root.Get("delta.type").String() == "text_delta" {
				delta["content"] = root.Get("delta.text").String()
			}
		case "message_delta", "message_stop":
			finishReason = "stop"
		}
	default:
		return nil, &UnsupportedConversionError{Class: StreamChunk, From: from, To: constant.ProtocolOpenAI}
	}

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "id", "chatcmpl-"+uuid.NewString())
	out, _ = sjson.SetBytes(out, "object", "chat.completion.chunk")
	out, _ = sjson.SetBytes(out, "created", time.Now().Unix())
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "choices", []any{map[string]any{
		"index":         0,
		"delta":         delta,
		"finish_reason": finishReason,
	}})
	return out, nil
}

// ModelListToOpenAI converts a Gemini or Claude model listing into the
// OpenAI list shape.
func ModelListToOpenAI(data []byte, from constant.Protocol) ([]byte, error) {
	root := gjson.ParseBytes(data)
	now := time.Now().Unix()
	models := []any{}

	switch from {
	case constant.ProtocolGemini:
		root.Get("models").ForEach(func(_, m gjson.Result) bool {
			id := strings.TrimPrefix(m.Get("name").String(), "models/")
			models = append(models, map[string]any{
				"id":       id,
				"object":   "model",
				"created":  now,
				"owned_by": "google",
			})
			return true
		})
	case constant.ProtocolClaude:
		root.Get("data").ForEach(func(_, m gjson.Result) bool {
			models = append(models, map[string]any{
				"id":       m.Get("id").String(),
				"object":   "model",
				"created":  now,
				"owned_by": "anthropic",
			})
			return true
		})
	default:
		return nil, &UnsupportedConversionError{Class: ModelList, From: from, To: constant.ProtocolOpenAI}
	}

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "object", "list")
	out, _ = sjson.SetBytes(out, "data", models)
	return out, nil
}
