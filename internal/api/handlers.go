package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/aibridge-io/aibridge/internal/adapter"
	"github.com/aibridge-io/aibridge/internal/constant"
	"github.com/aibridge-io/aibridge/internal/prompt"
	"github.com/aibridge-io/aibridge/internal/translator"
)

// providerOverrideHeader lets a client pick a backend per request without
// a path override.
const providerOverrideHeader = "Model-Provider"

func respondError(c *gin.Context, err error) {
	status, message := errorResponse(err)
	c.JSON(status, gin.H{"error": gin.H{"message": message}})
}

func readRequestBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body", errBadRequest)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", errBadRequest)
	}
	return body, nil
}

// ChatCompletions serves POST /v1/chat/completions.
func (g *Gateway) ChatCompletions(pinned string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readRequestBody(c)
		if err != nil {
			respondError(c, err)
			return
		}
		model := gjson.GetBytes(body, "model").String()
		stream := gjson.GetBytes(body, "stream").Bool()
		g.generate(c, constant.ProtocolOpenAI, pinned, model, stream, body)
	}
}

// ClaudeMessages serves POST /v1/messages.
func (g *Gateway) ClaudeMessages(pinned string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readRequestBody(c)
		if err != nil {
			respondError(c, err)
			return
		}
		model := gjson.GetBytes(body, "model").String()
		stream := gjson.GetBytes(body, "stream").Bool()
		g.generate(c, constant.ProtocolClaude, pinned, model, stream, body)
	}
}

// GeminiGenerate serves POST /v1beta/models/{model}:{action}. Gin cannot
// split on the colon, so the combined segment arrives as one param.
func (g *Gateway) GeminiGenerate(pinned string) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelAction := c.Param("modelAction")
		model, action, found := strings.Cut(modelAction, ":")
		if !found {
			respondError(c, fmt.Errorf("%w: expected model:action, got %q", errBadRequest, modelAction))
			return
		}
		var stream bool
		switch action {
		case "generateContent":
		case "streamGenerateContent":
			stream = true
		default:
			respondError(c, fmt.Errorf("%w: unsupported action %q", errBadRequest, action))
			return
		}
		body, err := readRequestBody(c)
		if err != nil {
			respondError(c, err)
			return
		}
		g.generate(c, constant.ProtocolGemini, pinned, model, stream, body)
	}
}

// Models serves the model-list endpoints, translating the adapter's native
// catalog into the client protocol of the route.
func (g *Gateway) Models(clientProto constant.Protocol, pinned string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ad, release, err := g.resolve(pinned, c.GetHeader(providerOverrideHeader))
		if err != nil {
			respondError(c, err)
			return
		}
		native, err := ad.ListModels(c.Request.Context())
		release(err == nil)
		if err != nil {
			respondError(c, err)
			return
		}
		out, err := translator.Convert(native, translator.ModelList, ad.Protocol(), clientProto, "")
		if err != nil {
			respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", out)
	}
}

// generate runs the full pipeline for one request.
func (g *Gateway) generate(c *gin.Context, clientProto constant.Protocol, pinned, model string, stream bool, body []byte) {
	ad, release, err := g.resolve(pinned, c.GetHeader(providerOverrideHeader))
	if err != nil {
		respondError(c, err)
		return
	}

	upstreamBody, err := g.prepare(clientProto, ad, body, model)
	if err != nil {
		release(false)
		respondError(c, err)
		return
	}

	if stream {
		g.streamResponse(c, clientProto, ad, release, model, upstreamBody)
		return
	}

	native, err := ad.GenerateContent(c.Request.Context(), model, upstreamBody)
	release(err == nil)
	if err != nil {
		g.plog.LogError(err.Error())
		respondError(c, err)
		return
	}
	out, err := translator.Convert(native, translator.Response, ad.Protocol(), clientProto, model)
	if err != nil {
		respondError(c, err)
		return
	}
	g.plog.LogOutput(prompt.ExtractResponseText(clientProto, out))
	c.Data(http.StatusOK, "application/json", out)
}

// streamResponse relays an upstream stream as SSE in the client protocol.
// Claude clients get an event: line carrying the chunk type; OpenAI
// clients get the trailing [DONE] sentinel. Chunks flush immediately.
func (g *Gateway) streamResponse(c *gin.Context, clientProto constant.Protocol, ad adapter.Adapter, release releaseFunc, model string, body []byte) {
	chunks, err := ad.StreamContent(c.Request.Context(), model, body)
	if err != nil {
		release(false)
		g.plog.LogError(err.Error())
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	failed := false
	for chunk := range chunks {
		if chunk.Err != nil {
			// Mid-stream failure: the SSE response is already open, so
			// the stream just ends early.
			log.Errorf("stream aborted: %v", chunk.Err)
			g.plog.LogError(chunk.Err.Error())
			failed = true
			break
		}
		out, errConv := translator.Convert(chunk.Data, translator.StreamChunk, ad.Protocol(), clientProto, model)
		if errConv != nil {
			log.Errorf("stream chunk conversion failed: %v", errConv)
			continue
		}
		if clientProto == constant.ProtocolClaude {
			if eventType := gjson.GetBytes(out, "type").String(); eventType != "" {
				_, _ = fmt.Fprintf(c.Writer, "event: %s\n", eventType)
			}
		}
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", out)
		c.Writer.Flush()
	}
	release(!failed)

	if clientProto == constant.ProtocolOpenAI && !failed {
		_, _ = io.WriteString(c.Writer, "data: [DONE]\n\n")
		c.Writer.Flush()
	}
}
