// Package apierr provides the error types the proxy exposes to clients.
// Every error serialises to the OpenAI error envelope:
//
//	{"error": {"message": "...", "type": "...", "code": <http-status>}}
package apierr

import (
	"encoding/json"
	"fmt"
)

// Error type strings in the OpenAI envelope
const (
	TypeAuthentication = "authentication_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeAPI            = "api_error"
	TypeNoAccounts     = "no_accounts_configured"
	TypeUnavailable    = "upstream_unavailable"
	TypeRejected       = "upstream_rejected"
	TypeInternal       = "internal_error"
)

// APIError is a client-visible proxy error
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s, %d)", e.Message, e.Type, e.Code)
}

// Envelope returns the wire shape for JSON responses and SSE error frames
func (e *APIError) Envelope() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": e.Message,
			"type":    e.Type,
			"code":    e.Code,
		},
	}
}

// MarshalJSON implements json.Marshaler using the envelope shape
func (e *APIError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Envelope())
}

// New creates an APIError
func New(message, errType string, code int) *APIError {
	return &APIError{Message: message, Type: errType, Code: code}
}

// Authentication creates a 401 authentication error
func Authentication(message string) *APIError {
	return New(message, TypeAuthentication, 401)
}

// InvalidRequest creates a 400 invalid-request error
func InvalidRequest(message string) *APIError {
	return New(message, TypeInvalidRequest, 400)
}

// NoAccounts is returned when a lease is requested from an empty pool
func NoAccounts() *APIError {
	return New("no accounts configured", TypeNoAccounts, 503)
}

// Unavailable creates a 502 transport/timeout error
func Unavailable(message string) *APIError {
	return New(message, TypeUnavailable, 502)
}

// Rejected creates an error proxying an upstream 429/5xx status
func Rejected(message string, code int) *APIError {
	return New(message, TypeRejected, code)
}

// Exhausted is returned when every configured account rejected the request
func Exhausted(lastMessage string) *APIError {
	msg := "all configured accounts rejected this request"
	if lastMessage != "" {
		msg = msg + ": " + lastMessage
	}
	return New(msg, TypeRejected, 502)
}

// Internal creates a 500 internal error
func Internal(message string) *APIError {
	return New(message, TypeInternal, 500)
}

// From coerces any error into an APIError, defaulting to internal_error
func From(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return Internal(err.Error())
}
