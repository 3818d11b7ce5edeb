package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/geminicli-proxy-go/internal/apierr"
	"github.com/poemonsense/geminicli-proxy-go/internal/catalog"
	"github.com/poemonsense/geminicli-proxy-go/internal/cloudcode"
	"github.com/poemonsense/geminicli-proxy-go/internal/modules"
)

// GeminiHandler serves the native Gemini passthrough surface
type GeminiHandler struct {
	client *cloudcode.Client
	usage  *modules.UsageStats
}

// NewGeminiHandler creates a GeminiHandler
func NewGeminiHandler(client *cloudcode.Client, usage *modules.UsageStats) *GeminiHandler {
	return &GeminiHandler{client: client, usage: usage}
}

// ListModels handles GET /v1beta/models in the native shape
func (h *GeminiHandler) ListModels(c *gin.Context) {
	models := catalog.List()
	out := make([]catalog.Model, len(models))
	for i, m := range models {
		out[i] = m
		out[i].Name = "models/" + m.Name
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// Generate handles POST /v1beta/models/{model}:{action} for the
// generateContent and streamGenerateContent actions.
func (h *GeminiHandler) Generate(c *gin.Context) {
	model, action, ok := splitModelAction(c.Param("modelAction"))
	if !ok {
		respondError(c, apierr.InvalidRequest("expected /v1beta/models/{model}:{action}"))
		return
	}

	var stream bool
	switch action {
	case "generateContent":
	case "streamGenerateContent":
		stream = true
	default:
		respondError(c, apierr.InvalidRequest("unsupported action "+action))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, apierr.InvalidRequest("failed to read request body"))
		return
	}

	env := cloudcode.NewEnvelope(model, stream)

	payload, err := cloudcode.BuildFromNative(body, model)
	if err != nil {
		respondError(c, apierr.InvalidRequest(err.Error()))
		return
	}

	if stream {
		h.streamGenerate(c, env, payload)
		return
	}

	raw, err := h.client.Generate(c.Request.Context(), env, payload)
	if err != nil {
		h.finish(env, apierr.From(err).Code)
		respondError(c, apierr.From(err))
		return
	}

	h.finish(env, http.StatusOK)
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// streamGenerate forwards unwrapped native chunks as SSE data frames
func (h *GeminiHandler) streamGenerate(c *gin.Context, env *cloudcode.RequestEnvelope, payload *cloudcode.Payload) {
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

	status := http.StatusOK
	for chunk := range chunks {
		if chunk.Err != nil {
			status = 502
			writer.WriteData(apierr.Unavailable("upstream stream failed: " + chunk.Err.Error()).Envelope())
			break
		}
		if err := writer.WriteRaw(chunk.Data); err != nil {
			h.finish(env, status)
			return
		}
	}

	h.finish(env, status)
}

func (h *GeminiHandler) finish(env *cloudcode.RequestEnvelope, status int) {
	env.Log.Info("phase=done model=%s stream=%t status=%d latency_ms=%d",
		env.Model, env.Stream, status, env.LatencyMs())
	h.usage.Record(env.Model, env.Account, status, env.LatencyMs())
}

// splitModelAction parses the `{model}:{action}` tail of a native route
func splitModelAction(path string) (model, action string, ok bool) {
	path = strings.TrimPrefix(path, "/")
	model, action, found := strings.Cut(path, ":")
	if !found || model == "" || action == "" || strings.Contains(model, "/") {
		return "", "", false
	}
	return model, action, true
}
