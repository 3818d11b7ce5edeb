// Package server provides the HTTP server implementation.
package server

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/geminicli-proxy-go/internal/apierr"
	"github.com/poemonsense/geminicli-proxy-go/internal/utils"
)

// CORSMiddleware allows any origin, method and header; preflight requests
// are answered with 204 without authentication.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "*")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuthMiddleware validates the inbound shared secret. Accepted carriers, in
// order: Authorization Bearer, Authorization Basic (any username), the `key`
// query parameter, and the x-goog-api-key header.
func AuthMiddleware(password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		candidates := extractSecrets(c)
		for _, provided := range candidates {
			if provided == password {
				c.Next()
				return
			}
		}

		if len(candidates) > 0 {
			utils.Warn("[API] Unauthorized request from %s, secret %s", c.ClientIP(), utils.MaskSecret(candidates[0]))
		} else {
			utils.Warn("[API] Unauthorized request from %s, no credentials", c.ClientIP())
		}

		err := apierr.Authentication("Invalid credentials. Use Bearer token, Basic Auth, 'key' query param, or 'x-goog-api-key' header.")
		c.AbortWithStatusJSON(err.Code, err.Envelope())
	}
}

// extractSecrets pulls every inbound credential present on the request, in
// the order they are checked: Bearer, Basic, `key` query, x-goog-api-key.
func extractSecrets(c *gin.Context) []string {
	var out []string

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		out = append(out, strings.TrimPrefix(authHeader, "Bearer "))
	}
	if strings.HasPrefix(authHeader, "Basic ") {
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authHeader, "Basic ")); err == nil {
			if _, password, found := strings.Cut(string(decoded), ":"); found {
				out = append(out, password)
			}
		}
	}
	if key := c.Query("key"); key != "" {
		out = append(out, key)
	}
	if key := c.GetHeader("x-goog-api-key"); key != "" {
		out = append(out, key)
	}
	return out
}

// RequestLoggingMiddleware logs every request with its latency
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start).Milliseconds()
		logMsg := "[%s] %s %d (%dms)"

		switch {
		case status >= 500:
			utils.Error(logMsg, c.Request.Method, c.Request.URL.Path, status, latency)
		case status >= 400:
			utils.Warn(logMsg, c.Request.Method, c.Request.URL.Path, status, latency)
		default:
			utils.Info(logMsg, c.Request.Method, c.Request.URL.Path, status, latency)
		}
	}
}
