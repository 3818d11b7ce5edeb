// Package config provides configuration constants and runtime configuration
// for the geminicli proxy.
package config

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Version information
const Version = "2.0.0"

// CLIVersion is the gemini-cli version string the proxy identifies as upstream
const CLIVersion = "0.1.5"

// CodeAssistEndpoint is the Cloud Code internal API endpoint
const CodeAssistEndpoint = "https://cloudcode-pa.googleapis.com"

// OAuth client used by gemini-cli installed-app flows
const (
	OAuthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	OAuthClientSecret = "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"
	OAuthTokenURL     = "https://oauth2.googleapis.com/token"
	OAuthAuthURL      = "https://accounts.google.com/o/oauth2/auth"
)

// OAuthScopes are the scopes requested at enrolment time
var OAuthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Timeouts for upstream HTTP calls (seconds)
const (
	ConnectTimeoutSec    = 30
	UnaryReadTimeoutSec  = 300
	StreamReadTimeoutSec = 600
	RefreshTimeoutSec    = 30
	OnboardTimeoutSec    = 120
	OnboardPollSec       = 2
)

// TokenRefreshLeewaySec is how close to expiry a token may be before a lease
// forces a refresh.
const TokenRefreshLeewaySec = 60

// MaxUpstreamAttempts caps the account fail-over loop per request
const MaxUpstreamAttempts = 3

// StreamChannelCapacity bounds the SSE bridge between the upstream reader and
// the client writer.
const StreamChannelCapacity = 64

// DefaultAuthPassword is the inbound shared secret when none is configured.
// Startup warns when it is still in use.
const DefaultAuthPassword = "123456"

// SafetySetting is one harm-category threshold entry
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// DefaultSafetySettings disables blocking for every harm category the
// CodeAssist API recognises. Callers may override per request.
var DefaultSafetySettings = []SafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_CIVIC_INTEGRITY", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_IMAGE_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_IMAGE_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_IMAGE_HATE", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_IMAGE_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_UNSPECIFIED", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_JAILBREAK", Threshold: "BLOCK_NONE"},
}

// UserAgent generates the User-Agent string matching the gemini-cli format
func UserAgent() string {
	return fmt.Sprintf("GeminiCLI/%s (%s; %s)", CLIVersion, platformName(), runtime.GOARCH)
}

func platformName() string {
	switch runtime.GOOS {
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	default:
		return runtime.GOOS
	}
}

// PlatformString returns the CodeAssist platform enum string for this host
func PlatformString() string {
	arm := runtime.GOARCH == "arm64"
	switch runtime.GOOS {
	case "darwin":
		if arm {
			return "DARWIN_ARM64"
		}
		return "DARWIN_AMD64"
	case "linux":
		if arm {
			return "LINUX_ARM64"
		}
		return "LINUX_AMD64"
	case "windows":
		if !arm {
			return "WINDOWS_AMD64"
		}
	}
	return "PLATFORM_UNSPECIFIED"
}

// ClientMetadata returns the metadata block sent to loadCodeAssist and
// onboardUser. projectID may be empty.
func ClientMetadata(projectID string) map[string]interface{} {
	md := map[string]interface{}{
		"ideType":    "IDE_UNSPECIFIED",
		"platform":   PlatformString(),
		"pluginType": "GEMINI",
	}
	if projectID != "" {
		md["duetProject"] = projectID
	}
	return md
}

// ClientMetadataJSON is ClientMetadata serialised for logging and headers
func ClientMetadataJSON(projectID string) string {
	data, _ := json.Marshal(ClientMetadata(projectID))
	return string(data)
}
