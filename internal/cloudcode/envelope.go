// Package cloudcode implements the upstream request pipeline against the
// CodeAssist API: authenticated delivery, per-account fail-over, and the
// streaming bridge.
package cloudcode

import (
	"time"

	"github.com/poemonsense/geminicli-proxy-go/internal/utils"
)

// RequestEnvelope is the request-scoped identity carried through the
// pipeline: the short id, the model name as received, the stream flag, and
// a logger that prefixes every line with the id.
type RequestEnvelope struct {
	ID     string
	Model  string
	Stream bool
	Log    *utils.RequestLogger

	// Account is the name of the account that served the request,
	// populated by the pipeline once an upstream call succeeds.
	Account string

	start time.Time
}

// NewEnvelope creates the envelope at the HTTP boundary
func NewEnvelope(model string, stream bool) *RequestEnvelope {
	id := utils.NewRequestID()
	return &RequestEnvelope{
		ID:     id,
		Model:  model,
		Stream: stream,
		Log:    utils.NewRequestLogger(id),
		start:  time.Now(),
	}
}

// LatencyMs reports the time since the envelope was created
func (e *RequestEnvelope) LatencyMs() int64 {
	return time.Since(e.start).Milliseconds()
}
