package cloudcode

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/poemonsense/geminicli-proxy-go/internal/account"
	"github.com/poemonsense/geminicli-proxy-go/internal/config"
)

// StreamChunk is one bridged upstream chunk. Data carries the unwrapped
// native chunk JSON; Err reports a mid-stream failure, after which the
// channel closes.
type StreamChunk struct {
	Data json.RawMessage
	Err  error
}

// bridge decouples the upstream reader from the client writer through a
// bounded channel. The reader runs as its own goroutine; closing the request
// context (client disconnect) aborts the upstream read within one
// chunk-read interval.
func (c *Client) bridge(ctx context.Context, env *RequestEnvelope, resp *http.Response, lease *account.Lease) <-chan StreamChunk {
	out := make(chan StreamChunk, config.StreamChannelCapacity)

	go func() {
		defer close(out)
		defer resp.Body.Close()
		defer c.pool.Release(lease, account.OutcomeSuccess)

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			jsonText := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if jsonText == "" {
				continue
			}

			chunk := unwrapChunk([]byte(jsonText))
			if chunk == nil {
				env.Log.Debug("skipping malformed stream line: %.100s", jsonText)
				continue
			}

			select {
			case out <- StreamChunk{Data: chunk}:
			case <-ctx.Done():
				env.Log.Debug("client cancelled, aborting upstream read")
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			env.Log.Warn("upstream stream failed: %v", err)
			select {
			case out <- StreamChunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out
}

// unwrapChunk strips the `{"response": …}` envelope from one stream line.
// Returns nil for lines that do not parse as JSON.
func unwrapChunk(line []byte) json.RawMessage {
	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil
	}
	if len(envelope.Response) > 0 {
		return envelope.Response
	}
	return json.RawMessage(line)
}
