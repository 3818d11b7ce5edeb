package format

import (
	"fmt"

	"github.com/poemonsense/geminicli-proxy-go/internal/catalog"
	"github.com/poemonsense/geminicli-proxy-go/internal/config"
)

// roleToGemini maps OpenAI roles to Gemini roles. Tool results have no
// native slot on this surface and fall back to user.
func roleToGemini(role string) string {
	switch role {
	case "assistant":
		return "model"
	default:
		return "user"
	}
}

// ConvertRequest converts an inbound OpenAI chat request into the Gemini
// request body for the resolved base model. System messages are collected
// in order and placed into systemInstruction; thinkingConfig is attached
// only when the base model supports thinking, and the googleSearch tool
// only for the -search variant.
func ConvertRequest(req *ChatCompletionRequest, base catalog.Model, flags catalog.Flags) (*GeminiRequest, error) {
	var systemTexts []string
	var contents []GeminiContent

	for i, msg := range req.Messages {
		parts, err := DecodeContent(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}

		if msg.Role == "system" {
			systemTexts = append(systemTexts, textOnly(parts))
			continue
		}

		geminiParts := toGeminiParts(parts)
		if len(geminiParts) == 0 {
			continue
		}
		contents = append(contents, GeminiContent{
			Role:  roleToGemini(msg.Role),
			Parts: geminiParts,
		})
	}

	out := &GeminiRequest{
		Contents:       contents,
		SafetySettings: safetySettings(req),
	}

	if len(systemTexts) > 0 {
		out.SystemInstruction = &GeminiContent{
			// The upstream expects the user role here
			Role:  "user",
			Parts: []GeminiPart{{Text: joinParagraphs(systemTexts)}},
		}
	}

	gc, err := generationConfig(req, base)
	if err != nil {
		return nil, err
	}
	if base.SupportsThinking {
		thinking, err := catalog.ThinkingFor(req.Model, req.ReasoningEffort)
		if err != nil {
			return nil, err
		}
		if thinking != nil {
			gc.ThinkingConfig = &ThinkingConfig{
				ThinkingBudget:  thinking.Budget,
				IncludeThoughts: thinking.IncludeThoughts,
			}
		}
	}
	out.GenerationConfig = gc

	if flags.Search {
		out.Tools = []map[string]interface{}{{"googleSearch": map[string]interface{}{}}}
	}

	return out, nil
}

func joinParagraphs(texts []string) string {
	joined := ""
	for i, t := range texts {
		if i > 0 {
			joined += "\n\n"
		}
		joined += t
	}
	return joined
}

func safetySettings(req *ChatCompletionRequest) []config.SafetySetting {
	if len(req.SafetySettings) > 0 {
		return req.SafetySettings
	}
	return config.DefaultSafetySettings
}

func generationConfig(req *ChatCompletionRequest, base catalog.Model) (*GenerationConfig, error) {
	gc := &GenerationConfig{
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Seed:             req.Seed,
		CandidateCount:   1,
		MaxOutputTokens:  base.OutputTokenLimit,
	}
	if req.MaxTokens != nil {
		gc.MaxOutputTokens = *req.MaxTokens
	}

	stops, err := stopSequences(req.Stop)
	if err != nil {
		return nil, err
	}
	gc.StopSequences = stops

	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_object":
			gc.ResponseMimeType = "application/json"
		case "json_schema":
			gc.ResponseMimeType = "application/json"
			if rf.JSONSchema != nil && len(rf.JSONSchema.Schema) > 0 {
				gc.ResponseSchema = rf.JSONSchema.Schema
			}
		}
	}

	return gc, nil
}

func stopSequences(stop interface{}) ([]string, error) {
	switch v := stop.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, s := range v {
			str, ok := s.(string)
			if !ok {
				return nil, fmt.Errorf("stop sequences must be strings")
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported stop type %T", stop)
	}
}
