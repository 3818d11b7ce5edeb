// Package handlers provides HTTP request handlers for the server.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/geminicli-proxy-go/internal/apierr"
	"github.com/poemonsense/geminicli-proxy-go/internal/catalog"
	"github.com/poemonsense/geminicli-proxy-go/internal/cloudcode"
	"github.com/poemonsense/geminicli-proxy-go/internal/format"
	"github.com/poemonsense/geminicli-proxy-go/internal/modules"
)

// OpenAIHandler serves the OpenAI-compatible surface
type OpenAIHandler struct {
	client *cloudcode.Client
	usage  *modules.UsageStats
}

// NewOpenAIHandler creates an OpenAIHandler
func NewOpenAIHandler(client *cloudcode.Client, usage *modules.UsageStats) *OpenAIHandler {
	return &OpenAIHandler{client: client, usage: usage}
}

// knownRequestFields are the chat-completions fields the proxy honours;
// anything else is ignored with a debug log.
var knownRequestFields = map[string]bool{
	"model": true, "messages": true, "stream": true, "temperature": true,
	"top_p": true, "top_k": true, "max_tokens": true, "stop": true,
	"frequency_penalty": true, "presence_penalty": true, "seed": true, "n": true,
	"response_format": true, "reasoning_effort": true, "safetySettings": true,
	"user": true,
}

// ChatCompletions handles POST /v1/chat/completions
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, apierr.InvalidRequest("failed to read request body"))
		return
	}

	var req format.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(c, apierr.InvalidRequest("invalid JSON in request body: "+err.Error()))
		return
	}

	env := cloudcode.NewEnvelope(req.Model, req.Stream)
	logUnknownFields(env, body)

	base, flags, err := catalog.Resolve(req.Model)
	if err != nil {
		respondError(c, apierr.InvalidRequest(err.Error()))
		return
	}

	geminiReq, err := format.ConvertRequest(&req, base, flags)
	if err != nil {
		respondError(c, apierr.InvalidRequest(err.Error()))
		return
	}

	payload, err := cloudcode.BuildFromOpenAI(geminiReq, base.Name)
	if err != nil {
		respondError(c, apierr.Internal(err.Error()))
		return
	}

	if req.Stream {
		h.streamCompletion(c, env, payload, req.Model)
		return
	}

	raw, err := h.client.Generate(c.Request.Context(), env, payload)
	if err != nil {
		h.finish(env, apierr.From(err).Code)
		respondError(c, apierr.From(err))
		return
	}

	var geminiResp format.GeminiResponse
	if err := json.Unmarshal(raw, &geminiResp); err != nil {
		h.finish(env, 500)
		respondError(c, apierr.Internal("failed to parse upstream response"))
		return
	}

	h.finish(env, http.StatusOK)
	c.JSON(http.StatusOK, format.ConvertResponse(&geminiResp, req.Model))
}

// streamCompletion bridges the upstream stream onto the client as OpenAI
// chunk events. Errors after the first byte are reported as an SSE error
// frame followed by [DONE]; the stream never rotates accounts mid-flight.
func (h *OpenAIHandler) streamCompletion(c *gin.Context, env *cloudcode.RequestEnvelope, payload *cloudcode.Payload, model string) {
	chunks, err := h.client.GenerateStream(c.Request.Context(), env, payload)
	if err != nil {
		h.finish(env, apierr.From(err).Code)
		respondError(c, apierr.From(err))
		return
	}

	writer, err := newSSEWriter(c)
	if err != nil {
		h.finish(env, 500)
		respondError(c, apierr.Internal(err.Error()))
		return
	}

	converter := format.NewStreamConverter(model)
	status := http.StatusOK

	for chunk := range chunks {
		if chunk.Err != nil {
			status = 502
			writer.WriteData(apierr.Unavailable("upstream stream failed: " + chunk.Err.Error()).Envelope())
			break
		}

		var geminiChunk format.GeminiResponse
		if err := json.Unmarshal(chunk.Data, &geminiChunk); err != nil {
			env.Log.Debug("skipping unparseable chunk: %v", err)
			continue
		}

		for _, out := range converter.Convert(&geminiChunk) {
			if err := writer.WriteData(out); err != nil {
				// Client went away; the bridge aborts via context
				h.finish(env, status)
				return
			}
		}
	}

	writer.Done()
	h.finish(env, status)
}

// ListModels handles GET /v1/models
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	models := catalog.List()
	data := make([]gin.H, 0, len(models))
	for _, m := range models {
		data = append(data, gin.H{
			"id":       m.Name,
			"object":   "model",
			"created":  1677610602,
			"owned_by": "google",
			"root":     m.Name,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func (h *OpenAIHandler) finish(env *cloudcode.RequestEnvelope, status int) {
	env.Log.Info("phase=done model=%s stream=%t status=%d latency_ms=%d",
		env.Model, env.Stream, status, env.LatencyMs())
	h.usage.Record(env.Model, env.Account, status, env.LatencyMs())
}

// logUnknownFields debug-logs inbound fields the proxy does not honour
func logUnknownFields(env *cloudcode.RequestEnvelope, body []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return
	}
	for key := range fields {
		if !knownRequestFields[key] {
			env.Log.Debug("ignoring unknown request field %q", key)
		}
	}
}
