package llm

import (
	"fmt"
	"strings"

	"droid-pilot/internal/config"
)

var providerRegistry = map[string]Provider{
	"gemini":     NewGeminiProvider(),
	"openai":     NewOpenAIProvider("openai"),
	"openrouter": NewOpenAIProvider("openrouter"),
	"zai":        NewOpenAIProvider("zai"),
	"deepseek":   NewDeepSeekProvider(),
}

var defaultBaseURLs = map[string]string{
	"openrouter": "https://openrouter.ai/api/v1",
	"zai":        "https://api.z.ai/api/paas/v4",
	"deepseek":   "https://api.deepseek.com/v1",
}

// defaultModels are tried in order until one answers with a usable decision.
var defaultModels = map[string][]string{
	"gemini":     {"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"},
	"openai":     {"gpt-4o-mini", "gpt-4o"},
	"openrouter": {"google/gemini-2.0-flash-001", "openai/gpt-4o-mini", "qwen/qwen2.5-vl-72b-instruct"},
	"zai":        {"glm-4.5v", "glm-4.1v-thinking-flash"},
	"deepseek":   {"deepseek-chat"},
}

// DetectProvider guesses the provider from the credential's shape. DeepSeek
// keys look like OpenAI ones and must be configured explicitly.
func DetectProvider(apiKey string) string {
	key := strings.TrimSpace(apiKey)
	switch {
	case key == "":
		return ""
	case strings.HasPrefix(key, "AIza"):
		return "gemini"
	case strings.HasPrefix(key, "sk-or-"):
		return "openrouter"
	case strings.HasPrefix(key, "sk-"):
		return "openai"
	case strings.Contains(key, "."):
		return "zai"
	}
	return ""
}

// ResolveProvider picks the configured provider, falling back to detection.
func ResolveProvider(cfg config.LLMConfig) (string, error) {
	name := cfg.Provider
	if name == "" {
		name = DetectProvider(cfg.APIKey)
	}
	if name == "" {
		return "", fmt.Errorf("cannot infer LLM provider from API key; set llm.provider")
	}
	if _, ok := providerRegistry[name]; !ok {
		return "", fmt.Errorf("unsupported LLM provider: %s", name)
	}
	return name, nil
}

// CandidateModels returns the configured models, or the provider defaults.
func CandidateModels(provider string, configured []string) []string {
	var models []string
	for _, m := range configured {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) > 0 {
		return models
	}
	return append([]string(nil), defaultModels[provider]...)
}

// NewClientFromConfig builds the provider client described by cfg.
func NewClientFromConfig(cfg config.LLMConfig) (Client, string, error) {
	if cfg.APIKey == "" {
		return nil, "", fmt.Errorf("LLM API key is required")
	}
	name, err := ResolveProvider(cfg)
	if err != nil {
		return nil, "", err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[name]
	}

	client, err := providerRegistry[name].CreateClient(ProviderConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    baseURL,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		MaxSize:    50 << 20,
		Debug:      cfg.Debug,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, name, nil
}
