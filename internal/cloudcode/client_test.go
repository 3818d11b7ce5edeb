package cloudcode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poemonsense/geminicli-proxy-go/internal/account"
	"github.com/poemonsense/geminicli-proxy-go/internal/apierr"
	"github.com/poemonsense/geminicli-proxy-go/internal/config"
	"github.com/poemonsense/geminicli-proxy-go/internal/format"
)

// upstreamDouble fakes the CodeAssist generation endpoints. Behaviour is
// keyed on the Bearer token so multi-account fail-over can be scripted.
type upstreamDouble struct {
	t *testing.T

	generateCalls int32
	// statusByToken selects the response status per account token;
	// missing tokens answer 200.
	statusByToken map[string]int

	lastPayload atomic.Value // *Payload

	streamLines []string
	blockAfter  int // with streaming: block until client disconnect after N lines
}

func (d *upstreamDouble) serve() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1internal:loadCodeAssist", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"cloudaicompanionProject": "proj-1",
			"currentTier":             map[string]interface{}{"id": "free-tier"},
		})
	})

	generate := func(w http.ResponseWriter, r *http.Request, stream bool) {
		atomic.AddInt32(&d.generateCalls, 1)

		var payload Payload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			d.lastPayload.Store(&payload)
		}

		token := r.Header.Get("Authorization")
		if status, ok := d.statusByToken[token]; ok && status != 200 {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error":{"message":"denied for %s","code":%d}}`, token, status)
			return
		}

		if !stream {
			fmt.Fprint(w, `{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"pong"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2}}}`)
			return
		}

		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		for i, line := range d.streamLines {
			fmt.Fprintf(w, "data: %s\n", line)
			flusher.Flush()
			if d.blockAfter > 0 && i+1 == d.blockAfter {
				<-r.Context().Done()
				return
			}
		}
	}
	mux.HandleFunc("/v1internal:generateContent", func(w http.ResponseWriter, r *http.Request) {
		generate(w, r, false)
	})
	mux.HandleFunc("/v1internal:streamGenerateContent", func(w http.ResponseWriter, r *http.Request) {
		generate(w, r, true)
	})

	srv := httptest.NewServer(mux)
	d.t.Cleanup(srv.Close)
	return srv
}

func writeTestAccount(t *testing.T, dir, name, token string) {
	t.Helper()
	rec := map[string]interface{}{
		"client_id":     "cid",
		"client_secret": "csec",
		"token":         token,
		"refresh_token": "rt",
		"token_uri":     "http://unused",
		"expiry":        time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"project_id":    "proj-1",
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func newTestClient(t *testing.T, double *upstreamDouble, accountTokens ...string) *Client {
	t.Helper()
	dir := t.TempDir()
	for i, token := range accountTokens {
		writeTestAccount(t, dir, fmt.Sprintf("acc%d.json", i), token)
	}

	srv := double.serve()

	cfg := &config.Config{AccountsDir: dir, LegacyCredFile: filepath.Join(dir, "nope.json")}
	pool := account.LoadPool(cfg, nil)
	pool.Endpoint = srv.URL

	client := NewClient(pool)
	client.Endpoint = srv.URL
	return client
}

func simplePayload(t *testing.T, model string) *Payload {
	t.Helper()
	payload, err := BuildFromOpenAI(&format.GeminiRequest{
		Contents: []format.GeminiContent{{Role: "user", Parts: []format.GeminiPart{{Text: "ping"}}}},
	}, model)
	require.NoError(t, err)
	return payload
}

func TestGenerateHappyPath(t *testing.T) {
	double := &upstreamDouble{t: t}
	client := newTestClient(t, double, "tok-a")

	env := NewEnvelope("gemini-2.5-flash", false)
	raw, err := client.Generate(context.Background(), env, simplePayload(t, "gemini-2.5-flash"))
	require.NoError(t, err)

	var resp format.GeminiResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "pong", resp.Candidates[0].Content.Parts[0].Text)
	assert.Equal(t, "acc0.json", env.Account)

	sent := double.lastPayload.Load().(*Payload)
	assert.Equal(t, "gemini-2.5-flash", sent.Model)
	assert.Equal(t, "proj-1", sent.Project)
}

func TestFailoverOn403(t *testing.T) {
	double := &upstreamDouble{t: t, statusByToken: map[string]int{
		"Bearer tok-a": 403,
	}}
	client := newTestClient(t, double, "tok-a", "tok-b")

	env := NewEnvelope("gemini-2.5-flash", false)
	raw, err := client.Generate(context.Background(), env, simplePayload(t, "gemini-2.5-flash"))
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, int32(2), atomic.LoadInt32(&double.generateCalls), "second account tried after 403")
	assert.Equal(t, "acc1.json", env.Account)
}

func TestAllAccountsRejected(t *testing.T) {
	double := &upstreamDouble{t: t, statusByToken: map[string]int{
		"Bearer tok-a": 403,
		"Bearer tok-b": 403,
	}}
	client := newTestClient(t, double, "tok-a", "tok-b")

	env := NewEnvelope("gemini-2.5-flash", false)
	_, err := client.Generate(context.Background(), env, simplePayload(t, "gemini-2.5-flash"))
	require.Error(t, err)

	apiErr := apierr.From(err)
	assert.Equal(t, 502, apiErr.Code)
	assert.Equal(t, apierr.TypeRejected, apiErr.Type)
	assert.Contains(t, apiErr.Message, "all configured accounts rejected this request")
	assert.Equal(t, int32(2), atomic.LoadInt32(&double.generateCalls))
}

func TestRateLimitDoesNotRotate(t *testing.T) {
	double := &upstreamDouble{t: t, statusByToken: map[string]int{
		"Bearer tok-a": 429,
	}}
	client := newTestClient(t, double, "tok-a", "tok-b")

	env := NewEnvelope("gemini-2.5-flash", false)
	_, err := client.Generate(context.Background(), env, simplePayload(t, "gemini-2.5-flash"))
	require.Error(t, err)

	apiErr := apierr.From(err)
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, apierr.TypeRejected, apiErr.Type)
	assert.Equal(t, int32(1), atomic.LoadInt32(&double.generateCalls), "429 must not rotate accounts")
}

func TestServerErrorSurfacedWithoutRotation(t *testing.T) {
	double := &upstreamDouble{t: t, statusByToken: map[string]int{
		"Bearer tok-a": 503,
	}}
	client := newTestClient(t, double, "tok-a", "tok-b")

	env := NewEnvelope("gemini-2.5-flash", false)
	_, err := client.Generate(context.Background(), env, simplePayload(t, "gemini-2.5-flash"))
	require.Error(t, err)
	assert.Equal(t, 503, apierr.From(err).Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&double.generateCalls))
}

func TestTransportErrorSurfacesUnavailable(t *testing.T) {
	dir := t.TempDir()
	writeTestAccount(t, dir, "a.json", "tok-a")
	cfg := &config.Config{AccountsDir: dir, LegacyCredFile: filepath.Join(dir, "nope.json")}
	pool := account.LoadPool(cfg, nil)

	// Point at a closed listener
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	pool.Endpoint = url

	client := NewClient(pool)
	client.Endpoint = url

	env := NewEnvelope("gemini-2.5-flash", false)
	_, err := client.Generate(context.Background(), env, simplePayload(t, "gemini-2.5-flash"))
	require.Error(t, err)
	// Onboarding fails on the dead endpoint, so the loop exhausts
	assert.Equal(t, 502, apierr.From(err).Code)
}

func TestEmptyPoolFailsImmediately(t *testing.T) {
	cfg := &config.Config{AccountsDir: t.TempDir(), LegacyCredFile: "nope.json"}
	pool := account.LoadPool(cfg, nil)
	client := NewClient(pool)

	env := NewEnvelope("gemini-2.5-flash", false)
	_, err := client.Generate(context.Background(), env, simplePayload(t, "gemini-2.5-flash"))
	require.Error(t, err)
	assert.Equal(t, apierr.TypeNoAccounts, apierr.From(err).Type)
}

func TestGenerateStreamDeliversChunksInOrder(t *testing.T) {
	double := &upstreamDouble{t: t, streamLines: []string{
		`{"response":{"candidates":[{"content":{"parts":[{"text":"a"}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":"b"}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":"c"}]},"finishReason":"STOP"}]}}`,
	}}
	client := newTestClient(t, double, "tok-a")

	env := NewEnvelope("gemini-2.5-flash", true)
	chunks, err := client.GenerateStream(context.Background(), env, simplePayload(t, "gemini-2.5-flash"))
	require.NoError(t, err)

	var texts []string
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		var resp format.GeminiResponse
		require.NoError(t, json.Unmarshal(chunk.Data, &resp))
		texts = append(texts, resp.Candidates[0].Content.Parts[0].Text)
	}
	assert.Equal(t, []string{"a", "b", "c"}, texts)
}

func TestStreamCancellationAbortsUpstream(t *testing.T) {
	double := &upstreamDouble{t: t, blockAfter: 1, streamLines: []string{
		`{"response":{"candidates":[{"content":{"parts":[{"text":"first"}]}}]}}`,
		`{"response":{"candidates":[{"content":{"parts":[{"text":"never"}]}}]}}`,
	}}
	client := newTestClient(t, double, "tok-a")

	ctx, cancel := context.WithCancel(context.Background())
	env := NewEnvelope("gemini-2.5-flash", true)
	chunks, err := client.GenerateStream(ctx, env, simplePayload(t, "gemini-2.5-flash"))
	require.NoError(t, err)

	first, ok := <-chunks
	require.True(t, ok)
	require.NoError(t, first.Err)

	cancel()

	select {
	case _, open := <-chunks:
		if open {
			// One buffered chunk may still drain; the channel must then close
			_, open = <-chunks
			assert.False(t, open)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not shut down after cancellation")
	}
}

func TestStreamFailoverBeforeFirstByte(t *testing.T) {
	double := &upstreamDouble{
		t:             t,
		statusByToken: map[string]int{"Bearer tok-a": 401},
		streamLines: []string{
			`{"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}}`,
		},
	}
	client := newTestClient(t, double, "tok-a", "tok-b")

	env := NewEnvelope("gemini-2.5-flash", true)
	chunks, err := client.GenerateStream(context.Background(), env, simplePayload(t, "gemini-2.5-flash"))
	require.NoError(t, err)

	var n int
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		n++
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, "acc1.json", env.Account)
}
