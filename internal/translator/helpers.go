package translator

import (
	"strings"

	"github.com/tidwall/gjson"
)

const defaultMaxTokens = 8192

// splitDataURI splits a "data:<mime>;base64,<data>" URI into its mime type
// and payload. The mime type falls back to image/jpeg when absent.
func splitDataURI(uri string) (mime, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	header, payload, found := strings.Cut(uri, ",")
	if !found {
		return "", "", false
	}
	mime = strings.TrimPrefix(header, "data:")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	return mime, payload, true
}

// imageURLString accepts both OpenAI image_url forms: a bare string and an
// object with a url field.
func imageURLString(imageURL gjson.Result) string {
	if imageURL.Type == gjson.String {
		return imageURL.String()
	}
	return imageURL.Get("url").String()
}

// openaiContentToGeminiParts maps OpenAI message content (string or parts
// array) to Gemini parts.
func openaiContentToGeminiParts(content gjson.Result) []any {
	var parts []any
	if content.Type == gjson.String {
		return append(parts, map[string]any{"text": content.String()})
	}
	if !content.IsArray() {
		return parts
	}
	content.ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "text":
			if t := item.Get("text"); t.Exists() {
				parts = append(parts, map[string]any{"text": t.Value()})
			}
		case "image_url":
			url := imageURLString(item.Get("image_url"))
			if mime, data, ok := splitDataURI(url); ok {
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{"mimeType": mime, "data": data},
				})
			} else if url != "" {
				parts = append(parts, map[string]any{
					"fileData": map[string]any{"mimeType": "image/jpeg", "fileUri": url},
				})
			}
		}
		return true
	})
	return parts
}

// openaiContentToClaudeBlocks maps OpenAI message content to Claude content
// blocks. Empty text is dropped so no Claude message carries empty content.
func openaiContentToClaudeBlocks(content gjson.Result) []any {
	var blocks []any
	if content.Type == gjson.String {
		if content.String() != "" {
			blocks = append(blocks, map[string]any{"type": "text", "text": content.String()})
		}
		return blocks
	}
	if !content.IsArray() {
		return blocks
	}
	content.ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "text":
			if t := item.Get("text").String(); t != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": t})
			}
		case "image_url":
			url := imageURLString(item.Get("image_url"))
			if mime, data, ok := splitDataURI(url); ok {
				blocks = append(blocks, map[string]any{
					"type": "image",
					"source": map[string]any{
						"type":       "base64",
						"media_type": mime,
						"data":       data,
					},
				})
			}
		}
		return true
	})
	return blocks
}

// claudeContentToGeminiParts maps Claude message content (string or block
// array) to Gemini parts.
func claudeContentToGeminiParts(content gjson.Result) []any {
	var parts []any
	if content.Type == gjson.String {
		return append(parts, map[string]any{"text": content.String()})
	}
	if !content.IsArray() {
		return parts
	}
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			if t := block.Get("text"); t.Exists() {
				parts = append(parts, map[string]any{"text": t.Value()})
			}
		case "image":
			source := block.Get("source")
			if source.Get("type").String() == "base64" {
				mime := source.Get("media_type").String()
				if mime == "" {
					mime = "image/jpeg"
				}
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{
						"mimeType": mime,
						"data":     source.Get("data").String(),
					},
				})
			}
		}
		return true
	})
	return parts
}

// claudeContentToOpenAIParts maps Claude content blocks to OpenAI content.
// A single text block collapses to a plain string.
func claudeContentToOpenAIParts(content gjson.Result) any {
	if content.Type == gjson.String {
		return content.String()
	}
	var parts []any
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"type": "text", "text": block.Get("text").String()})
		case "image":
			source := block.Get("source")
			if source.Get("type").String() == "base64" {
				mime := source.Get("media_type").String()
				if mime == "" {
					mime = "image/jpeg"
				}
				parts = append(parts, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": "data:" + mime + ";base64," + source.Get("data").String(),
					},
				})
			}
		}
		return true
	})
	if len(parts) == 1 {
		if m, ok := parts[0].(map[string]any); ok && m["type"] == "text" {
			return m["text"]
		}
	}
	return parts
}

// geminiPartsToOpenAIContent maps Gemini parts to OpenAI content. Text-only
// parts collapse to a plain string.
func geminiPartsToOpenAIContent(parts gjson.Result) any {
	var out []any
	textOnly := true
	parts.ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			out = append(out, map[string]any{"type": "text", "text": t.String()})
			return true
		}
		if inline := part.Get("inlineData"); inline.Exists() {
			textOnly = false
			out = append(out, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": "data:" + inline.Get("mimeType").String() + ";base64," + inline.Get("data").String(),
				},
			})
			return true
		}
		if file := part.Get("fileData"); file.Exists() {
			textOnly = false
			out = append(out, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": file.Get("fileUri").String()},
			})
		}
		return true
	})
	if textOnly {
		var texts []string
		for _, p := range out {
			texts = append(texts, p.(map[string]any)["text"].(string))
		}
		return strings.Join(texts, "")
	}
	return out
}

// geminiPartsToClaudeBlocks maps Gemini parts to Claude content blocks.
func geminiPartsToClaudeBlocks(parts gjson.Result) []any {
	var blocks []any
	parts.ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			blocks = append(blocks, map[string]any{"type": "text", "text": t.String()})
			return true
		}
		if inline := part.Get("inlineData"); inline.Exists() {
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": inline.Get("mimeType").String(),
					"data":       inline.Get("data").String(),
				},
			})
		}
		return true
	})
	return blocks
}

// geminiResponseText concatenates candidate text the way downstream clients
// expect: parts joined by a space, candidates joined by a newline.
func geminiResponseText(resp gjson.Result) string {
	var candidateTexts []string
	resp.Get("candidates").ForEach(func(_, candidate gjson.Result) bool {
		var texts []string
		candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text"); t.Exists() {
				texts = append(texts, t.String())
			}
			return true
		})
		candidateTexts = append(candidateTexts, strings.Join(texts, " "))
		return true
	})
	return strings.Join(candidateTexts, "\n")
}
