package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/poemonsense/geminicli-proxy-go/internal/utils"
)

// finishReasonToOpenAI maps the upstream finish reason to the OpenAI one
func finishReasonToOpenAI(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}

// collectParts concatenates a candidate's parts into content and reasoning
// text. Inline-data parts are re-encoded as markdown inline images.
func collectParts(content *GeminiContent) (text, reasoning string) {
	if content == nil {
		return "", ""
	}
	var sb, rb strings.Builder
	for _, part := range content.Parts {
		switch {
		case part.Thought:
			rb.WriteString(part.Text)
		case part.InlineData != nil:
			fmt.Fprintf(&sb, "![image](data:%s;base64,%s)", part.InlineData.MimeType, part.InlineData.Data)
		default:
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), rb.String()
}

func usageFrom(meta *UsageMetadata) *Usage {
	if meta == nil {
		return nil
	}
	total := meta.TotalTokenCount
	if total == 0 {
		total = meta.PromptTokenCount + meta.CandidatesTokenCount
	}
	return &Usage{
		PromptTokens:     meta.PromptTokenCount,
		CompletionTokens: meta.CandidatesTokenCount,
		TotalTokens:      total,
	}
}

// ConvertResponse converts a unary Gemini response into an OpenAI chat
// completion for the model name the client requested.
func ConvertResponse(resp *GeminiResponse, model string) *ChatCompletionResponse {
	out := &ChatCompletionResponse{
		ID:      utils.NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Usage:   usageFrom(resp.UsageMetadata),
	}

	finish := "stop"
	msg := &AssistantMessage{Role: "assistant"}
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		msg.Content, msg.ReasoningContent = collectParts(cand.Content)
		finish = finishReasonToOpenAI(cand.FinishReason)
	}

	out.Choices = []Choice{{Index: 0, Message: msg, FinishReason: &finish}}
	return out
}

// StreamConverter converts upstream stream chunks into OpenAI chunk deltas.
// The first emitted chunk includes the assistant role; a chunk carrying a
// finish reason yields a trailing chunk with an empty delta.
type StreamConverter struct {
	id      string
	model   string
	created int64
	started bool
}

// NewStreamConverter creates a converter for one streaming response
func NewStreamConverter(model string) *StreamConverter {
	return &StreamConverter{
		id:      utils.NewCompletionID(),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (s *StreamConverter) chunk(delta *Delta, finish *string) *ChatCompletionResponse {
	return &ChatCompletionResponse{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []Choice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

// Convert maps one upstream chunk to zero or more OpenAI chunks, preserving
// arrival order.
func (s *StreamConverter) Convert(resp *GeminiResponse) []*ChatCompletionResponse {
	if len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	content, reasoning := collectParts(cand.Content)

	var out []*ChatCompletionResponse
	if content != "" || reasoning != "" || !s.started {
		delta := &Delta{Content: content, ReasoningContent: reasoning}
		if !s.started {
			delta.Role = "assistant"
			s.started = true
		}
		out = append(out, s.chunk(delta, nil))
	}

	if cand.FinishReason != "" {
		finish := finishReasonToOpenAI(cand.FinishReason)
		out = append(out, s.chunk(&Delta{}, &finish))
	}

	return out
}
