package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droid-pilot/internal/config"
)

func TestDetectProvider(t *testing.T) {
	tests := map[string]string{
		"AIzaSyExample":     "gemini",
		"sk-or-v1-abc":      "openrouter",
		"sk-proj-abc":       "openai",
		"abc123.def456":     "zai",
		"":                  "",
		"plainkeywithnodot": "",
		"  AIzaPadded  ":    "gemini",
	}
	for key, want := range tests {
		assert.Equal(t, want, DetectProvider(key), "key %q", key)
	}
}

func TestResolveProvider(t *testing.T) {
	name, err := ResolveProvider(config.LLMConfig{APIKey: "sk-abc", Provider: "deepseek"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek", name)

	name, err = ResolveProvider(config.LLMConfig{APIKey: "sk-or-abc"})
	require.NoError(t, err)
	assert.Equal(t, "openrouter", name)

	_, err = ResolveProvider(config.LLMConfig{APIKey: "opaque"})
	assert.Error(t, err)

	_, err = ResolveProvider(config.LLMConfig{APIKey: "sk-abc", Provider: "claude"})
	assert.ErrorContains(t, err, "unsupported")
}

func TestCandidateModels(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, CandidateModels("openai", []string{" a ", "", "b"}))
	assert.Equal(t, defaultModels["gemini"], CandidateModels("gemini", nil))

	got := CandidateModels("gemini", nil)
	got[0] = "mutated"
	assert.NotEqual(t, "mutated", defaultModels["gemini"][0])
}

func TestNewClientFromConfig(t *testing.T) {
	client, provider, err := NewClientFromConfig(config.LLMConfig{APIKey: "sk-or-abc"})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "openrouter", provider)
	assert.True(t, client.SupportsImages())

	client, provider, err = NewClientFromConfig(config.LLMConfig{APIKey: "sk-abc", Provider: "deepseek"})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "deepseek", provider)
	assert.False(t, client.SupportsImages())
}
