package adapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aibridge-io/aibridge/internal/constant"
	"github.com/aibridge-io/aibridge/internal/credential"
)

const (
	kiroGenerateURLTemplate = "https://codewhisperer.%s.amazonaws.com/generateAssistantResponse"
	kiroAmazonQURLTemplate  = "https://codewhisperer.%s.amazonaws.com/SendMessageStreaming"
	kiroSocialRefreshURL    = "https://prod.%s.auth.desktop.kiro.dev/refreshToken"
	kiroIDCRefreshURL       = "https://oidc.%s.amazonaws.com/token"

	kiroDefaultRegion = "us-east-1"
	kiroDefaultModel  = "claude-sonnet-4-20250514"
	kiroAuthSocial    = "social"
)

// kiroModelMap binds Claude model names to CodeWhisperer model ids.
var kiroModelMap = map[string]string{
	"claude-sonnet-4-20250514":           "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-sonnet-4-5-20250929":         "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-3-7-sonnet-20250219":         "CLAUDE_3_7_SONNET_20250219_V1_0",
	"amazonq-claude-sonnet-4-20250514":   "CLAUDE_SONNET_4_20250514_V1_0",
	"amazonq-claude-sonnet-4-5-20250929": "CLAUDE_SONNET_4_5_20250929_V1_0",
	"amazonq-claude-3-7-sonnet-20250219": "CLAUDE_3_7_SONNET_20250219_V1_0",
}

// Kiro consumes Claude-schema requests and serves them through AWS
// CodeWhisperer using Kiro IDE OAuth credentials. The upstream is not
// streaming; streamed responses are synthesised from the full reply.
type Kiro struct {
	store      *credential.Store
	policy     retryPolicy
	client     *http.Client
	machineTag string
}

// NewKiro builds the claude-kiro-oauth adapter.
func NewKiro(store *credential.Store, policy retryPolicy) *Kiro {
	host, _ := os.Hostname()
	sum := sha256.Sum256([]byte(host))
	return &Kiro{
		store:      store,
		policy:     policy,
		client:     newHTTPClient(300 * time.Second),
		machineTag: hex.EncodeToString(sum[:]),
	}
}

func (a *Kiro) Provider() string            { return constant.ClaudeKiro }
func (a *Kiro) Protocol() constant.Protocol { return constant.ProtocolClaude }

// region is taken from the 4th colon segment of the profileArn.
func (a *Kiro) region() string {
	arn := a.store.Get("profileArn")
	parts := strings.Split(arn, ":")
	if len(parts) > 3 && parts[3] != "" {
		return parts[3]
	}
	return kiroDefaultRegion
}

// RefreshToken exchanges the refresh token. Social logins refresh against
// the Kiro desktop endpoint, IdC logins against the OIDC token endpoint.
func (a *Kiro) RefreshToken(ctx context.Context, force bool) error {
	return a.store.Refresh(force, func(current []byte) ([]byte, error) {
		refreshToken := gjson.GetBytes(current, "refreshToken").String()
		if refreshToken == "" {
			return nil, ErrAuthFailed
		}
		region := a.region()

		var refreshURL string
		payload := []byte(`{}`)
		payload, _ = sjson.SetBytes(payload, "refreshToken", refreshToken)
		if gjson.GetBytes(current, "authMethod").String() == kiroAuthSocial {
			refreshURL = fmt.Sprintf(kiroSocialRefreshURL, region)
		} else {
			refreshURL = fmt.Sprintf(kiroIDCRefreshURL, region)
			payload, _ = sjson.SetBytes(payload, "grantType", "refresh_token")
			if id := gjson.GetBytes(current, "clientId").String(); id != "" {
				payload, _ = sjson.SetBytes(payload, "clientId", id)
			}
			if secret := gjson.GetBytes(current, "clientSecret").String(); secret != "" {
				payload, _ = sjson.SetBytes(payload, "clientSecret", secret)
			}
		}
		log.Info("refreshing Kiro access token")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("token refresh request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("token refresh failed: %s", string(body))
		}

		out, _ := sjson.SetBytes(current, "accessToken", gjson.GetBytes(body, "accessToken").String())
		if rt := gjson.GetBytes(body, "refreshToken").String(); rt != "" {
			out, _ = sjson.SetBytes(out, "refreshToken", rt)
		}
		if arn := gjson.GetBytes(body, "profileArn").String(); arn != "" {
			out, _ = sjson.SetBytes(out, "profileArn", arn)
		}
		if expiresIn := gjson.GetBytes(body, "expiresIn").Int(); expiresIn > 0 {
			expiry := time.Now().Add(time.Duration(expiresIn) * time.Second).UTC().Format(time.RFC3339)
			out, _ = sjson.SetBytes(out, "expiresAt", expiry)
		}
		return out, nil
	})
}

// GenerateContent translates the Claude request into a conversationState
// envelope, calls CodeWhisperer and rebuilds a Claude response.
func (a *Kiro) GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error) {
	raw, err := a.callUpstream(ctx, model, body)
	if err != nil {
		return nil, err
	}
	parsed := parseKiroEventStream(raw)
	return a.buildClaudeResponse(parsed, model), nil
}

// StreamContent synthesises a Claude SSE event sequence from the complete
// upstream response.
func (a *Kiro) StreamContent(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error) {
	raw, err := a.callUpstream(ctx, model, body)
	if err != nil {
		return nil, err
	}
	parsed := parseKiroEventStream(raw)
	events := a.buildClaudeStreamEvents(parsed, model)

	out := make(chan StreamChunk, len(events))
	for _, ev := range events {
		out <- StreamChunk{Data: ev}
	}
	close(out)
	return out, nil
}

// ListModels returns the mapped model catalog in the Claude list shape.
func (a *Kiro) ListModels(ctx context.Context) ([]byte, error) {
	ids := make([]string, 0, len(kiroModelMap))
	for id := range kiroModelMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return claudeModelList(ids), nil
}

func (a *Kiro) callUpstream(ctx context.Context, model string, body []byte) ([]byte, error) {
	if err := a.RefreshToken(ctx, false); err != nil {
		return nil, err
	}
	cwRequest, err := a.buildCodeWhispererRequest(model, body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf(kiroGenerateURLTemplate, a.region())
	if strings.HasPrefix(model, "amazonq") {
		url = fmt.Sprintf(kiroAmazonQURLTemplate, a.region())
	}

	resp, err := a.policy.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(cwRequest))
		if errReq != nil {
			return nil, errReq
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.store.Get("accessToken"))
		req.Header.Set("amz-sdk-invocation-id", uuid.NewString())
		req.Header.Set("amz-sdk-request", "attempt=1; max=1")
		req.Header.Set("x-amz-user-agent", "aws-sdk-js/1.0.7 KiroIDE-0.1.25-"+a.machineTag)
		req.Header.Set("User-Agent", "aws-sdk-js/1.0.7 ua/2.1 os/linux md/nodejs#20.16.0 api/codewhispererstreaming#1.0.7 m/E KiroIDE-0.1.25-"+a.machineTag)
		req.Header.Set("x-amzn-kiro-agent-mode", "vibe")
		return a.client.Do(req)
	}, func(ctx context.Context) error {
		return a.RefreshToken(ctx, true)
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// buildCodeWhispererRequest converts a Claude messages request into the
// conversationState envelope.
func (a *Kiro) buildCodeWhispererRequest(model string, body []byte) ([]byte, error) {
	root := gjson.ParseBytes(body)
	messages := root.Get("messages").Array()
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages in request")
	}

	cwModel, ok := kiroModelMap[model]
	if !ok {
		cwModel = kiroModelMap[kiroDefaultModel]
	}

	// Tool definitions travel in the current message context.
	var tools []any
	root.Get("tools").ForEach(func(_, tool gjson.Result) bool {
		tools = append(tools, map[string]any{
			"toolSpecification": map[string]any{
				"name":        tool.Get("name").String(),
				"description": tool.Get("description").String(),
				"inputSchema": map[string]any{"json": tool.Get("input_schema").Value()},
			},
		})
		return true
	})

	systemText := claudeSystemText(root.Get("system"))
	history := []any{}

	// Fold the system prompt into the first user message when possible;
	// otherwise it becomes a synthetic head-of-history user turn.
	systemFolded := false
	if systemText != "" && messages[0].Get("role").String() == "user" {
		systemFolded = true
	} else if systemText != "" {
		history = append(history, map[string]any{
			"userInputMessage": map[string]any{
				"content": systemText,
				"modelId": cwModel,
				"origin":  "AI_EDITOR",
			},
		})
	}

	buildMessage := func(idx int, msg gjson.Result) map[string]any {
		text := kiroContentText(msg.Get("content"))
		if systemFolded && idx == 0 {
			text = systemText + "\n\n" + text
		}
		if msg.Get("role").String() == "assistant" {
			entry := map[string]any{"content": text}
			if uses := kiroToolUses(msg.Get("content")); len(uses) > 0 {
				entry["toolUses"] = uses
			}
			return map[string]any{"assistantResponseMessage": entry}
		}
		entry := map[string]any{
			"content": text,
			"modelId": cwModel,
			"origin":  "AI_EDITOR",
		}
		if images := kiroImages(msg.Get("content")); len(images) > 0 {
			entry["images"] = images
		}
		msgContext := map[string]any{}
		if results := kiroToolResults(msg.Get("content")); len(results) > 0 {
			msgContext["toolResults"] = results
		}
		if len(msgContext) > 0 {
			entry["userInputMessageContext"] = msgContext
		}
		return map[string]any{"userInputMessage": entry}
	}

	for i := 0; i < len(messages)-1; i++ {
		history = append(history, buildMessage(i, messages[i]))
	}

	last := len(messages) - 1
	currentMessage := buildMessage(last, messages[last])
	if userMsg, ok := currentMessage["userInputMessage"].(map[string]any); ok {
		if userMsg["content"] == "" {
			userMsg["content"] = "Continue"
		}
		if len(tools) > 0 {
			msgContext, _ := userMsg["userInputMessageContext"].(map[string]any)
			if msgContext == nil {
				msgContext = map[string]any{}
			}
			msgContext["tools"] = tools
			userMsg["userInputMessageContext"] = msgContext
		}
	}

	out := []byte(`{}`)
	if arn := a.store.Get("profileArn"); arn != "" {
		out, _ = sjson.SetBytes(out, "profileArn", arn)
	}
	out, _ = sjson.SetBytes(out, "conversationState", map[string]any{
		"chatTriggerType": "MANUAL",
		"conversationId":  uuid.NewString(),
		"history":         history,
		"currentMessage":  currentMessage,
	})
	if systemText != "" {
		out, _ = sjson.SetBytes(out, "conversationStateMetadata", map[string]any{"systemPrompt": systemText})
	}
	return out, nil
}

// buildClaudeResponse assembles the Claude message: tool_use blocks first,
// then the text block.
func (a *Kiro) buildClaudeResponse(parsed kiroParsed, model string) []byte {
	content, stopReason, outputTokens := a.assembleBlocks(parsed)

	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "id", "msg_"+uuid.NewString())
	out, _ = sjson.SetBytes(out, "type", "message")
	out, _ = sjson.SetBytes(out, "role", "assistant")
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "content", content)
	out, _ = sjson.SetBytes(out, "stop_reason", stopReason)
	out, _ = sjson.SetBytes(out, "stop_sequence", nil)
	out, _ = sjson.SetBytes(out, "usage", map[string]any{
		"input_tokens":  0,
		"output_tokens": outputTokens,
	})
	return out
}

const kiroEmptyResponseText = "(upstream returned an empty response; please retry or rephrase the request)"

func (a *Kiro) assembleBlocks(parsed kiroParsed) ([]any, string, int) {
	if parsed.Content == "" && len(parsed.ToolCalls) == 0 {
		parsed.Content = kiroEmptyResponseText
	}

	content := []any{}
	outputTokens := 0
	for _, call := range parsed.ToolCalls {
		var input any
		if err := json.Unmarshal([]byte(call.Input), &input); err != nil {
			// Event-stream inputs stay strings when they do not parse.
			input = call.Input
		}
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    call.ID,
			"name":  call.Name,
			"input": input,
		})
		outputTokens += len(call.Input) / 4
	}
	if parsed.Content != "" {
		content = append(content, map[string]any{"type": "text", "text": parsed.Content})
		outputTokens += len(parsed.Content) / 4
	}

	stopReason := "end_turn"
	if len(parsed.ToolCalls) > 0 {
		stopReason = "tool_use"
	}
	return content, stopReason, outputTokens
}

// buildClaudeStreamEvents synthesises the Claude SSE event sequence:
// message_start, then start/delta/stop per block, then message_delta and
// message_stop.
func (a *Kiro) buildClaudeStreamEvents(parsed kiroParsed, model string) [][]byte {
	content, stopReason, outputTokens := a.assembleBlocks(parsed)
	messageID := "msg_" + uuid.NewString()
	var events [][]byte

	push := func(v map[string]any) {
		b, _ := json.Marshal(v)
		events = append(events, b)
	}

	push(map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      messageID,
			"type":    "message",
			"role":    "assistant",
			"model":   model,
			"content": []any{},
			"usage":   map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})

	for i, blockAny := range content {
		block := blockAny.(map[string]any)
		switch block["type"] {
		case "tool_use":
			push(map[string]any{
				"type":  "content_block_start",
				"index": i,
				"content_block": map[string]any{
					"type":  "tool_use",
					"id":    block["id"],
					"name":  block["name"],
					"input": map[string]any{},
				},
			})
			partial, _ := json.Marshal(block["input"])
			if s, ok := block["input"].(string); ok {
				partial = []byte(s)
			}
			push(map[string]any{
				"type":  "content_block_delta",
				"index": i,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": string(partial)},
			})
		default:
			push(map[string]any{
				"type":          "content_block_start",
				"index":         i,
				"content_block": map[string]any{"type": "text", "text": ""},
			})
			push(map[string]any{
				"type":  "content_block_delta",
				"index": i,
				"delta": map[string]any{"type": "text_delta", "text": block["text"]},
			})
		}
		push(map[string]any{"type": "content_block_stop", "index": i})
	}

	push(map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": outputTokens},
	})
	push(map[string]any{"type": "message_stop"})
	return events
}

// claudeSystemText flattens the Claude system field, which may be a plain
// string or a list of text blocks.
func claudeSystemText(system gjson.Result) string {
	if !system.Exists() {
		return ""
	}
	if system.Type == gjson.String {
		return system.String()
	}
	var texts []string
	system.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			texts = append(texts, block.Get("text").String())
		}
		return true
	})
	return strings.Join(texts, "\n")
}

// kiroContentText joins the text blocks of a Claude content value.
func kiroContentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	var texts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			texts = append(texts, block.Get("text").String())
		}
		return true
	})
	return strings.Join(texts, "")
}

// kiroImages converts Claude image blocks to the CodeWhisperer shape; the
// format is the media subtype.
func kiroImages(content gjson.Result) []any {
	var images []any
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "image" {
			return true
		}
		source := block.Get("source")
		format := source.Get("media_type").String()
		if i := strings.IndexByte(format, '/'); i >= 0 {
			format = format[i+1:]
		}
		images = append(images, map[string]any{
			"format": format,
			"source": map[string]any{"bytes": source.Get("data").String()},
		})
		return true
	})
	return images
}

// kiroToolResults converts tool_result blocks for the user message context.
func kiroToolResults(content gjson.Result) []any {
	var results []any
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "tool_result" {
			return true
		}
		results = append(results, map[string]any{
			"toolUseId": block.Get("tool_use_id").String(),
			"content":   []any{map[string]any{"text": block.Get("content").String()}},
			"status":    "success",
		})
		return true
	})
	return results
}

// kiroToolUses converts assistant tool_use blocks for history entries.
func kiroToolUses(content gjson.Result) []any {
	var uses []any
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() != "tool_use" {
			return true
		}
		uses = append(uses, map[string]any{
			"toolUseId": block.Get("id").String(),
			"name":      block.Get("name").String(),
			"input":     block.Get("input").Value(),
		})
		return true
	})
	return uses
}
