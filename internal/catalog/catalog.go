// Package catalog enumerates the models the proxy serves and resolves the
// suffix-based variants (-search, -nothinking, -maxthinking) synthesised on
// top of the base set.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Model describes one catalogue entry in the native Gemini shape
type Model struct {
	Name                       string   `json:"name"`
	Version                    string   `json:"version"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description"`
	InputTokenLimit            int      `json:"inputTokenLimit"`
	OutputTokenLimit           int      `json:"outputTokenLimit"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	Temperature                float64  `json:"temperature"`
	MaxTemperature             float64  `json:"maxTemperature"`
	TopP                       float64  `json:"topP"`
	TopK                       int      `json:"topK"`

	SupportsThinking bool `json:"-"`
	SupportsSearch   bool `json:"-"`
}

// Flags carries the variant information resolved from a model name
type Flags struct {
	Search      bool
	NoThinking  bool
	MaxThinking bool
}

// Thinking is the upstream thinkingConfig derived for a request
type Thinking struct {
	Budget          int
	IncludeThoughts bool
}

// Reasoning effort levels accepted on the OpenAI surface
const (
	EffortMinimal = "minimal"
	EffortLow     = "low"
	EffortMedium  = "medium"
	EffortHigh    = "high"
)

var generationMethods = []string{"generateContent", "streamGenerateContent"}

func baseModel(name, displayName, description string, outputLimit int, thinking bool) Model {
	return Model{
		Name:                       name,
		Version:                    "001",
		DisplayName:                displayName,
		Description:                description,
		InputTokenLimit:            1048576,
		OutputTokenLimit:           outputLimit,
		SupportedGenerationMethods: generationMethods,
		Temperature:                1.0,
		MaxTemperature:             2.0,
		TopP:                       0.95,
		TopK:                       64,
		SupportsThinking:           thinking,
		SupportsSearch:             true,
	}
}

// baseModels is the hard-coded base set verified against the CodeAssist
// endpoint. Ordering here is not significant; List sorts by name.
var baseModels = []Model{
	baseModel("gemini-2.0-flash", "Gemini 2.0 Flash",
		"Fast multimodal model from Gemini 2.0 generation", 8192, false),
	baseModel("gemini-2.5-flash", "Gemini 2.5 Flash",
		"Fast and efficient multimodal model with latest improvements", 65535, true),
	baseModel("gemini-2.5-flash-lite", "Gemini 2.5 Flash Lite",
		"Lightweight version of Gemini 2.5 Flash, fast and cost-efficient", 65535, false),
	baseModel("gemini-2.5-pro", "Gemini 2.5 Pro",
		"Advanced multimodal model with enhanced capabilities", 65535, true),
	baseModel("gemini-3-flash-preview", "Gemini 3.0 Flash Preview",
		"Preview version of Gemini 3.0 Flash, latest generation", 65535, true),
	baseModel("gemini-3-pro-preview", "Gemini 3.0 Pro Preview",
		"Preview version of Gemini 3.0 Pro, most capable model", 65535, true),
}

// variantSuffixes ordered by length descending so resolution strips the
// longest matching suffix first (keeps gemini-2.5-flash-lite intact).
var variantSuffixes = []string{"-maxthinking", "-nothinking", "-search"}

var (
	byName   map[string]Model
	fullList []Model
)

func init() {
	byName = make(map[string]Model, len(baseModels))
	for _, m := range baseModels {
		byName[m.Name] = m
	}

	fullList = make([]Model, 0, len(baseModels)*4)
	fullList = append(fullList, baseModels...)
	for _, m := range baseModels {
		if m.SupportsSearch {
			v := m
			v.Name = m.Name + "-search"
			v.DisplayName = m.DisplayName + " with Google Search"
			v.Description = m.Description + " (includes Google Search grounding)"
			fullList = append(fullList, v)
		}
		if m.SupportsThinking {
			nt := m
			nt.Name = m.Name + "-nothinking"
			nt.DisplayName = m.DisplayName + " (No Thinking)"
			nt.Description = m.Description + " (thinking disabled)"
			fullList = append(fullList, nt)

			mt := m
			mt.Name = m.Name + "-maxthinking"
			mt.DisplayName = m.DisplayName + " (Max Thinking)"
			mt.Description = m.Description + " (maximum thinking budget)"
			fullList = append(fullList, mt)
		}
	}
	sort.Slice(fullList, func(i, j int) bool { return fullList[i].Name < fullList[j].Name })
}

// List returns the published catalogue: base entries plus synthesised
// variants, sorted by name.
func List() []Model {
	out := make([]Model, len(fullList))
	copy(out, fullList)
	return out
}

// Resolve maps a model name, possibly carrying a variant suffix, to its base
// descriptor and variant flags. Unknown base names fail.
func Resolve(name string) (Model, Flags, error) {
	var flags Flags
	base := name
	for _, suffix := range variantSuffixes {
		if strings.HasSuffix(name, suffix) {
			base = strings.TrimSuffix(name, suffix)
			switch suffix {
			case "-search":
				flags.Search = true
			case "-nothinking":
				flags.NoThinking = true
			case "-maxthinking":
				flags.MaxThinking = true
			}
			break
		}
	}

	m, ok := byName[base]
	if !ok {
		return Model{}, Flags{}, fmt.Errorf("unknown model %q", name)
	}
	return m, flags, nil
}

// isProFamily reports whether the base model belongs to the pro family,
// which keeps a 128-token floor when thinking is disabled.
func isProFamily(base string) bool {
	return strings.Contains(base, "-pro")
}

// maxBudget returns the fixed maximum thinking budget for a base model
func maxBudget(base string) int {
	switch {
	case strings.Contains(base, "gemini-3-pro"):
		return 45000
	case strings.Contains(base, "gemini-2.5-pro"):
		return 32768
	default:
		return 24576
	}
}

// disabledBudget returns the budget that disables thinking for a base model
func disabledBudget(base string) int {
	if isProFamily(base) {
		return 128
	}
	return 0
}

// ThinkingFor derives the thinkingConfig for a model name and an optional
// OpenAI reasoning_effort. Returns nil when the base model does not support
// thinking; the config must then be omitted from the upstream payload. A
// variant suffix always wins over reasoning_effort.
func ThinkingFor(name, reasoningEffort string) (*Thinking, error) {
	m, flags, err := Resolve(name)
	if err != nil {
		return nil, err
	}
	if !m.SupportsThinking {
		return nil, nil
	}

	switch {
	case flags.NoThinking:
		return &Thinking{Budget: disabledBudget(m.Name), IncludeThoughts: false}, nil
	case flags.MaxThinking:
		return &Thinking{Budget: maxBudget(m.Name), IncludeThoughts: true}, nil
	}

	switch reasoningEffort {
	case EffortMinimal:
		return &Thinking{Budget: disabledBudget(m.Name), IncludeThoughts: false}, nil
	case EffortLow:
		return &Thinking{Budget: 1000, IncludeThoughts: true}, nil
	case EffortHigh:
		return &Thinking{Budget: maxBudget(m.Name), IncludeThoughts: true}, nil
	case EffortMedium, "":
		return &Thinking{Budget: -1, IncludeThoughts: true}, nil
	default:
		return &Thinking{Budget: -1, IncludeThoughts: true}, nil
	}
}

// IsSearch reports whether the name selects the Google-Search variant
func IsSearch(name string) bool {
	_, flags, err := Resolve(name)
	return err == nil && flags.Search
}
