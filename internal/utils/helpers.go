package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewRequestID returns a short opaque id (8 hex chars) for request tracing
func NewRequestID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// NewCompletionID returns an OpenAI-style chat completion id
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// MaskSecret masks a secret for logging, keeping only the last four
// characters visible.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
