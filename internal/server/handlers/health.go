package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/geminicli-proxy-go/internal/account"
	"github.com/poemonsense/geminicli-proxy-go/internal/apierr"
	"github.com/poemonsense/geminicli-proxy-go/internal/config"
	"github.com/poemonsense/geminicli-proxy-go/internal/modules"
)

// HealthHandler serves the unauthenticated service endpoints and the usage
// snapshot.
type HealthHandler struct {
	pool  *account.Pool
	usage *modules.UsageStats
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(pool *account.Pool, usage *modules.UsageStats) *HealthHandler {
	return &HealthHandler{pool: pool, usage: usage}
}

// Health handles GET /health. No authentication required.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "geminicli-proxy",
		"accounts": h.pool.Count(),
	})
}

// Root handles GET /. No authentication required.
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "geminicli-proxy",
		"description": "Gemini API proxy with OpenAI-compatible and native endpoints",
		"version":     config.Version,
		"accounts":    h.pool.Count(),
		"endpoints": gin.H{
			"openai_compatible": gin.H{
				"chat_completions": "/v1/chat/completions",
				"models":           "/v1/models",
			},
			"native_gemini": gin.H{
				"models":   "/v1beta/models",
				"generate": "/v1beta/models/{model}:generateContent",
				"stream":   "/v1beta/models/{model}:streamGenerateContent",
			},
			"health": "/health",
			"usage":  "/usage",
		},
		"authentication": "Required. Use Bearer token, Basic Auth, 'key' query param, or 'x-goog-api-key' header.",
	})
}

// Usage handles GET /usage with per-model aggregates
func (h *HealthHandler) Usage(c *gin.Context) {
	snapshot, err := h.usage.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, apierr.Internal(err.Error()))
		return
	}
	if snapshot == nil {
		snapshot = []modules.ModelUsage{}
	}
	c.JSON(http.StatusOK, gin.H{"models": snapshot})
}
