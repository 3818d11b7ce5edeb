// Package format provides conversion between the OpenAI chat-completions
// format and the Google Generative AI format used by the CodeAssist API.
//
// Request conversion:
//   - ConvertRequest: OpenAI chat request to a Gemini request body, including
//     system-instruction placement, multimodal content, generation config,
//     thinking configuration and search grounding.
//
// Response conversion:
//   - ConvertResponse: Gemini candidates to an OpenAI chat completion.
//   - StreamConverter: Gemini stream chunks to OpenAI chunk deltas.
package format

import (
	"encoding/json"

	"github.com/poemonsense/geminicli-proxy-go/internal/config"
)

// ChatMessage is one inbound OpenAI message. Content is either a string or
// an array of typed parts; DecodeContent normalises it.
type ChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ResponseFormat selects JSON-mode output on the OpenAI surface
type ResponseFormat struct {
	Type       string `json:"type"`
	JSONSchema *struct {
		Name   string          `json:"name,omitempty"`
		Schema json.RawMessage `json:"schema,omitempty"`
	} `json:"json_schema,omitempty"`
}

// ChatCompletionRequest is the inbound OpenAI chat-completions payload.
// Unknown fields are ignored at decode time.
type ChatCompletionRequest struct {
	Model            string                 `json:"model"`
	Messages         []ChatMessage          `json:"messages"`
	Stream           bool                   `json:"stream,omitempty"`
	Temperature      *float64               `json:"temperature,omitempty"`
	TopP             *float64               `json:"top_p,omitempty"`
	TopK             *int                   `json:"top_k,omitempty"`
	MaxTokens        *int                   `json:"max_tokens,omitempty"`
	Stop             interface{}            `json:"stop,omitempty"`
	FrequencyPenalty *float64               `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64               `json:"presence_penalty,omitempty"`
	Seed             *int64                 `json:"seed,omitempty"`
	ResponseFormat   *ResponseFormat        `json:"response_format,omitempty"`
	ReasoningEffort  string                 `json:"reasoning_effort,omitempty"`
	SafetySettings   []config.SafetySetting `json:"safetySettings,omitempty"`
}

// InlineData carries base64-encoded bytes with their mime type
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GeminiPart is one part of a Gemini content block
type GeminiPart struct {
	Text       string      `json:"text,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// GeminiContent is a role-tagged list of parts
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// ThinkingConfig is the upstream reasoning-budget hint. Budget values of 0
// and -1 are meaningful, so neither field is omitempty.
type ThinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

// GenerationConfig carries the enumerated generation options
type GenerationConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"topP,omitempty"`
	TopK             *int            `json:"topK,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	StopSequences    []string        `json:"stopSequences,omitempty"`
	FrequencyPenalty *float64        `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64        `json:"presencePenalty,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	CandidateCount   int             `json:"candidateCount,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
	ThinkingConfig   *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// GeminiRequest is the request body in the native Gemini shape
type GeminiRequest struct {
	Contents          []GeminiContent          `json:"contents"`
	SystemInstruction *GeminiContent           `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig        `json:"generationConfig,omitempty"`
	SafetySettings    []config.SafetySetting   `json:"safetySettings,omitempty"`
	Tools             []map[string]interface{} `json:"tools,omitempty"`
}

// UsageMetadata is the upstream token accounting block
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// GeminiCandidate is one generated candidate
type GeminiCandidate struct {
	Content      *GeminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

// GeminiResponse is a generation response (full or one stream chunk)
type GeminiResponse struct {
	Candidates    []GeminiCandidate `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata    `json:"usageMetadata,omitempty"`
}

// AssistantMessage is the message/delta shape on the OpenAI surface
type AssistantMessage struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// Delta is the chunk delta; content is omitted when empty so the final
// chunk carries an empty object.
type Delta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// Choice is one completion choice
type Choice struct {
	Index        int               `json:"index"`
	Message      *AssistantMessage `json:"message,omitempty"`
	Delta        *Delta            `json:"delta,omitempty"`
	FinishReason *string           `json:"finish_reason"`
}

// Usage is the OpenAI token accounting block
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the OpenAI response envelope, used for both
// `chat.completion` and `chat.completion.chunk` objects.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}
