package cloudcode

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/poemonsense/geminicli-proxy-go/internal/account"
	"github.com/poemonsense/geminicli-proxy-go/internal/apierr"
	"github.com/poemonsense/geminicli-proxy-go/internal/config"
)

// Client issues authenticated generation calls against the CodeAssist API,
// rotating across pool accounts on authorisation failures.
type Client struct {
	pool *account.Pool

	unaryClient  *http.Client
	streamClient *http.Client

	// Endpoint is the CodeAssist base URL; overridable in tests
	Endpoint string
}

// NewClient creates a pipeline client on top of a credential pool
func NewClient(pool *account.Pool) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: config.ConnectTimeoutSec * time.Second}).DialContext,
	}
	return &Client{
		pool:         pool,
		unaryClient:  &http.Client{Transport: transport, Timeout: config.UnaryReadTimeoutSec * time.Second},
		streamClient: &http.Client{Transport: transport, Timeout: config.StreamReadTimeoutSec * time.Second},
		Endpoint:     config.CodeAssistEndpoint,
	}
}

// Generate performs a unary generation call and returns the unwrapped
// native response body.
func (c *Client) Generate(ctx context.Context, env *RequestEnvelope, payload *Payload) (json.RawMessage, error) {
	resp, lease, err := c.acquire(ctx, env, payload, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer c.pool.Release(lease, account.OutcomeSuccess)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Unavailable("reading upstream response: " + err.Error())
	}

	env.Log.Info("phase=upstream_ok status=%d latency_ms=%d", resp.StatusCode, env.LatencyMs())
	return unwrapResponse(body), nil
}

// GenerateStream performs a streaming generation call. Once the upstream
// answers 200 the bridge channel is returned; mid-stream failures are
// reported on the channel and never rotate accounts.
func (c *Client) GenerateStream(ctx context.Context, env *RequestEnvelope, payload *Payload) (<-chan StreamChunk, error) {
	resp, lease, err := c.acquire(ctx, env, payload, true)
	if err != nil {
		return nil, err
	}
	return c.bridge(ctx, env, resp, lease), nil
}

// acquire runs the account fail-over loop until an attempt yields 200
func (c *Client) acquire(ctx context.Context, env *RequestEnvelope, payload *Payload, stream bool) (*http.Response, *account.Lease, error) {
	poolSize := c.pool.Count()
	env.Log.Info("new request: model=%s, stream=%t, pool_size=%d", env.Model, env.Stream, poolSize)

	attempts := poolSize
	if attempts > config.MaxUpstreamAttempts {
		attempts = config.MaxUpstreamAttempts
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastRejected *apierr.APIError

	for attempt := 1; attempt <= attempts; attempt++ {
		lease, err := c.pool.Lease(ctx)
		if err != nil {
			return nil, nil, err
		}

		project, err := c.pool.EnsureOnboarded(ctx, lease.Account)
		if err != nil {
			env.Log.Warn("phase=onboarding account_index=%d failed: %v", lease.Index, err)
			c.pool.Release(lease, account.OutcomeUpstreamError)
			lastRejected = apierr.Exhausted(err.Error())
			continue
		}

		payload.Project = project
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, apierr.Internal("marshal upstream payload: " + err.Error())
		}

		env.Log.Info("phase=upstream_call account_index=%d attempt=%d", lease.Index, attempt)

		resp, err := c.post(ctx, lease.Token, body, stream)
		if err != nil {
			c.pool.Release(lease, account.OutcomeUpstreamError)
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, apierr.Unavailable("upstream request failed: " + err.Error())
		}

		if resp.StatusCode == http.StatusOK {
			env.Account = lease.Account.Name()
			return resp, lease, nil
		}

		msg := readErrorMessage(resp)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			env.Log.Warn("phase=upstream_call account_index=%d rejected with %d, rotating", lease.Index, resp.StatusCode)
			c.pool.Release(lease, account.OutcomeAuthFailure)
			lastRejected = apierr.Exhausted(msg)
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			// Another identity would face the same upstream condition
			c.pool.Release(lease, account.OutcomeUpstreamError)
			return nil, nil, apierr.Rejected(msg, resp.StatusCode)

		default:
			c.pool.Release(lease, account.OutcomeUpstreamError)
			return nil, nil, apierr.New(msg, apierr.TypeInvalidRequest, resp.StatusCode)
		}
	}

	if lastRejected == nil {
		lastRejected = apierr.Exhausted("")
	}
	return nil, nil, lastRejected
}

func (c *Client) post(ctx context.Context, token string, body []byte, stream bool) (*http.Response, error) {
	action := "generateContent"
	client := c.unaryClient
	if stream {
		action = "streamGenerateContent?alt=sse"
		client = c.streamClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/v1internal:"+action, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())

	return client.Do(req)
}

// unwrapResponse strips the CodeAssist `{"response": …}` envelope, tolerating
// a leading SSE data prefix on unary bodies.
func unwrapResponse(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("data: ")) {
		trimmed = bytes.TrimSpace(trimmed[len("data: "):])
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Response) > 0 {
		return envelope.Response
	}
	return trimmed
}

// readErrorMessage extracts the upstream error message for diagnostics
func readErrorMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return msg
}
