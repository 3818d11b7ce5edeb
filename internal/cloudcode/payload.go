package cloudcode

import (
	"encoding/json"
	"fmt"

	"github.com/poemonsense/geminicli-proxy-go/internal/catalog"
	"github.com/poemonsense/geminicli-proxy-go/internal/config"
	"github.com/poemonsense/geminicli-proxy-go/internal/format"
)

// Payload is the CodeAssist request envelope. Project is injected by the
// pipeline per leased account.
type Payload struct {
	Model   string          `json:"model"`
	Project string          `json:"project"`
	Request json.RawMessage `json:"request"`
}

// BuildFromOpenAI wraps a converted Gemini request body for the resolved
// base model.
func BuildFromOpenAI(req *format.GeminiRequest, baseModel string) (*Payload, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &Payload{Model: baseModel, Request: raw}, nil
}

// BuildFromNative wraps a native Gemini request body, applying the defaults
// the passthrough route guarantees: permissive safety settings, a thinking
// configuration for thinking-capable models, and the googleSearch tool for
// -search variants. Caller-supplied values win over the defaults.
func BuildFromNative(body []byte, modelName string) (*Payload, error) {
	base, flags, err := catalog.Resolve(modelName)
	if err != nil {
		return nil, err
	}

	request := map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &request); err != nil {
			return nil, fmt.Errorf("invalid JSON in request body: %w", err)
		}
	}

	if _, ok := request["safetySettings"]; !ok {
		request["safetySettings"] = config.DefaultSafetySettings
	}

	if base.SupportsThinking {
		gc, _ := request["generationConfig"].(map[string]interface{})
		if gc == nil {
			gc = map[string]interface{}{}
		}
		tc, _ := gc["thinkingConfig"].(map[string]interface{})
		if tc == nil {
			tc = map[string]interface{}{}
		}
		thinking, err := catalog.ThinkingFor(modelName, "")
		if err != nil {
			return nil, err
		}
		if _, ok := tc["thinkingBudget"]; !ok {
			tc["thinkingBudget"] = thinking.Budget
		}
		tc["includeThoughts"] = thinking.IncludeThoughts
		gc["thinkingConfig"] = tc
		request["generationConfig"] = gc
	}

	if flags.Search {
		tools, _ := request["tools"].([]interface{})
		if !hasGoogleSearch(tools) {
			tools = append(tools, map[string]interface{}{"googleSearch": map[string]interface{}{}})
		}
		request["tools"] = tools
	}

	raw, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return &Payload{Model: base.Name, Request: raw}, nil
}

func hasGoogleSearch(tools []interface{}) bool {
	for _, t := range tools {
		if m, ok := t.(map[string]interface{}); ok {
			if _, ok := m["googleSearch"]; ok {
				return true
			}
		}
	}
	return false
}
