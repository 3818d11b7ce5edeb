package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListContainsBaseAndVariants(t *testing.T) {
	models := List()
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		seen[m.Name] = true
	}

	for _, name := range []string{
		"gemini-2.0-flash",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
		"gemini-2.5-pro",
		"gemini-3-flash-preview",
		"gemini-3-pro-preview",
		"gemini-2.5-flash-search",
		"gemini-2.5-pro-maxthinking",
		"gemini-3-pro-preview-nothinking",
	} {
		assert.True(t, seen[name], "expected %q in catalogue", name)
	}
}

func TestNoThinkingVariantsForNonThinkingModels(t *testing.T) {
	for _, m := range List() {
		if strings.HasSuffix(m.Name, "-nothinking") || strings.HasSuffix(m.Name, "-maxthinking") {
			base, _, err := Resolve(m.Name)
			require.NoError(t, err)
			assert.True(t, base.SupportsThinking, "thinking variant %q exists for non-thinking base", m.Name)
		}
	}

	seen := make(map[string]bool)
	for _, m := range List() {
		seen[m.Name] = true
	}
	assert.False(t, seen["gemini-2.0-flash-nothinking"])
	assert.False(t, seen["gemini-2.5-flash-lite-maxthinking"])
}

func TestListIsSorted(t *testing.T) {
	models := List()
	for i := 1; i < len(models); i++ {
		assert.LessOrEqual(t, models[i-1].Name, models[i].Name)
	}
}

func TestEveryListedNameResolves(t *testing.T) {
	for _, m := range List() {
		base, _, err := Resolve(m.Name)
		require.NoError(t, err, "listed model %q must resolve", m.Name)
		assert.NotEmpty(t, base.Name)
	}
}

func TestResolveVariants(t *testing.T) {
	tests := []struct {
		name     string
		wantBase string
		want     Flags
	}{
		{"gemini-2.5-flash", "gemini-2.5-flash", Flags{}},
		{"gemini-2.5-flash-search", "gemini-2.5-flash", Flags{Search: true}},
		{"gemini-2.5-pro-maxthinking", "gemini-2.5-pro", Flags{MaxThinking: true}},
		{"gemini-2.5-flash-nothinking", "gemini-2.5-flash", Flags{NoThinking: true}},
		// The lite base must not be chopped into the flash base
		{"gemini-2.5-flash-lite", "gemini-2.5-flash-lite", Flags{}},
		{"gemini-2.5-flash-lite-search", "gemini-2.5-flash-lite", Flags{Search: true}},
	}

	for _, tt := range tests {
		base, flags, err := Resolve(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.wantBase, base.Name, tt.name)
		assert.Equal(t, tt.want, flags, tt.name)
	}
}

func TestResolveUnknownModelFails(t *testing.T) {
	_, _, err := Resolve("gpt-4o")
	assert.Error(t, err)

	_, _, err = Resolve("gemini-9.9-ultra-search")
	assert.Error(t, err)
}

func TestThinkingBudgets(t *testing.T) {
	tests := []struct {
		name        string
		effort      string
		wantBudget  int
		wantInclude bool
	}{
		{"gemini-2.5-flash-nothinking", "", 0, false},
		{"gemini-2.5-pro-nothinking", "", 128, false},
		{"gemini-2.5-flash-maxthinking", "", 24576, true},
		{"gemini-2.5-pro-maxthinking", "", 32768, true},
		{"gemini-3-pro-preview-maxthinking", "", 45000, true},
		{"gemini-3-flash-preview-maxthinking", "", 24576, true},
		{"gemini-2.5-flash", "", -1, true},
		{"gemini-2.5-flash", "minimal", 0, false},
		{"gemini-2.5-pro", "minimal", 128, false},
		{"gemini-2.5-flash", "low", 1000, true},
		{"gemini-2.5-flash", "medium", -1, true},
		{"gemini-2.5-pro", "high", 32768, true},
		// Variant suffix wins over reasoning_effort
		{"gemini-2.5-pro-maxthinking", "minimal", 32768, true},
		{"gemini-2.5-flash-nothinking", "high", 0, false},
	}

	for _, tt := range tests {
		th, err := ThinkingFor(tt.name, tt.effort)
		require.NoError(t, err, tt.name)
		require.NotNil(t, th, tt.name)
		assert.Equal(t, tt.wantBudget, th.Budget, "%s effort=%s", tt.name, tt.effort)
		assert.Equal(t, tt.wantInclude, th.IncludeThoughts, "%s effort=%s", tt.name, tt.effort)
	}
}

func TestThinkingForNonThinkingModel(t *testing.T) {
	th, err := ThinkingFor("gemini-2.0-flash", "")
	require.NoError(t, err)
	assert.Nil(t, th, "non-thinking models must not get a thinkingConfig")

	th, err = ThinkingFor("gemini-2.5-flash-lite", "high")
	require.NoError(t, err)
	assert.Nil(t, th)
}

func TestIsSearch(t *testing.T) {
	assert.True(t, IsSearch("gemini-2.5-flash-search"))
	assert.False(t, IsSearch("gemini-2.5-flash"))
	assert.False(t, IsSearch("unknown-model-search"))
}

func TestOutputLimits(t *testing.T) {
	oldest, _, err := Resolve("gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, 8192, oldest.OutputTokenLimit)
	assert.Equal(t, 1048576, oldest.InputTokenLimit)

	pro, _, err := Resolve("gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, 65535, pro.OutputTokenLimit)
}
