package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// CreateClient creates a new LLM client with the given configuration
	CreateClient(config ProviderConfig) (Client, error)
}

// Client defines the interface for LLM clients
type Client interface {
	// Close closes the client and cleans up resources
	Close() error

	// CreateChatCompletion creates a non-streaming chat completion
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// EstimateTokensFromMessages estimates the number of tokens in the messages
	EstimateTokensFromMessages(messages []Message) TokenEstimate

	// SupportsImages reports whether image parts are sent to the model
	SupportsImages() bool
}

// ProviderConfig holds the configuration for LLM providers
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	ModelID    string
	Timeout    time.Duration
	MaxRetries int
	MaxSize    int64
	Debug      bool
	HTTPClient *http.Client
}

// Message represents a chat message. Image is only honoured on user messages.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Image     []byte `json:"-"`
	ImageMIME string `json:"-"`
}

// ChatCompletionRequest represents a chat completion request
type ChatCompletionRequest struct {
	Model           string    `json:"model"`
	Temperature     float64   `json:"temperature,omitempty"`
	PresencePenalty float64   `json:"presence_penalty,omitempty"`
	MaxTokens       int       `json:"max_tokens,omitempty"`
	Messages        []Message `json:"messages"`
	JSONMode        bool      `json:"json_mode,omitempty"`
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChatCompletionResponse represents a chat completion response
type ChatCompletionResponse struct {
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Content returns the text of the first non-empty choice.
func (r *ChatCompletionResponse) Content() string {
	if r == nil {
		return ""
	}
	for _, c := range r.Choices {
		if c.Message.Content != "" {
			return c.Message.Content
		}
	}
	return ""
}

// TokenEstimate represents a token estimation result
type TokenEstimate struct {
	EstimatedTokens int `json:"estimated_tokens"`
}

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// APIError is a provider failure annotated with the HTTP status, when known.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the same model is worth asking again. Rate limits,
// server errors and transport failures are; auth and request errors are not.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch {
	case apiErr.StatusCode == 0:
		return true
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return true
	case apiErr.StatusCode >= 500:
		return true
	}
	return false
}

func estimateTokens(messages []Message) TokenEstimate {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
		if len(msg.Image) > 0 {
			// flat per-image allowance; providers bill tiles differently
			totalChars += 4 * 1100
		}
	}

	estimatedTokens := totalChars / 4
	if estimatedTokens < 1 {
		estimatedTokens = 1
	}
	return TokenEstimate{EstimatedTokens: estimatedTokens}
}
