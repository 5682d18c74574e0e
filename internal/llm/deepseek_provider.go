package llm

import (
	"context"
	"errors"
	"net/http"

	deepseek "github.com/trustsight-io/deepseek-go"
)

// DeepSeekProvider implements the Provider interface for DeepSeek. The chat
// API is text-only, so decisions made through it rely on the element listing.
type DeepSeekProvider struct{}

func NewDeepSeekProvider() *DeepSeekProvider {
	return &DeepSeekProvider{}
}

func (p *DeepSeekProvider) Name() string {
	return "deepseek"
}

func (p *DeepSeekProvider) CreateClient(config ProviderConfig) (Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("deepseek: API key is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs["deepseek"]
	}
	maxSize := config.MaxSize
	if maxSize <= 0 {
		maxSize = 50 << 20
	}

	client, err := deepseek.NewClient(
		config.APIKey,
		deepseek.WithBaseURL(baseURL),
		deepseek.WithHTTPClient(httpClient),
		deepseek.WithMaxRetries(config.MaxRetries),
		deepseek.WithMaxRequestSize(maxSize),
		deepseek.WithDebug(config.Debug),
	)
	if err != nil {
		return nil, err
	}
	return &DeepSeekClient{client: client}, nil
}

// DeepSeekClient implements the Client interface for DeepSeek
type DeepSeekClient struct {
	client *deepseek.Client
}

func (c *DeepSeekClient) Close() error {
	return c.client.Close()
}

func (c *DeepSeekClient) SupportsImages() bool {
	return false
}

func (c *DeepSeekClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	dsMessages := convertMessagesToDeepSeek(req.Messages)
	dsReq := &deepseek.ChatCompletionRequest{
		Model:           req.Model,
		Temperature:     req.Temperature,
		PresencePenalty: req.PresencePenalty,
		MaxTokens:       req.MaxTokens,
		Messages:        dsMessages,
		JSONMode:        req.JSONMode,
	}

	resp, err := c.client.CreateChatCompletion(ctx, dsReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &APIError{Provider: "deepseek", Err: err}
	}

	result := &ChatCompletionResponse{Model: req.Model}
	for _, choice := range resp.Choices {
		result.Choices = append(result.Choices, Choice{
			Message: Message{Role: RoleAssistant, Content: choice.Message.Content},
		})
	}
	// the SDK estimate is all we get for usage accounting here
	result.Usage.PromptTokens = c.client.EstimateTokensFromMessages(dsMessages).EstimatedTokens
	result.Usage.CompletionTokens = len(result.Content()) / 4
	return result, nil
}

func (c *DeepSeekClient) EstimateTokensFromMessages(messages []Message) TokenEstimate {
	estimate := c.client.EstimateTokensFromMessages(convertMessagesToDeepSeek(messages))
	return TokenEstimate{EstimatedTokens: estimate.EstimatedTokens}
}

func convertMessagesToDeepSeek(messages []Message) []deepseek.Message {
	dsMessages := make([]deepseek.Message, len(messages))
	for i, msg := range messages {
		role := deepseek.RoleUser
		switch msg.Role {
		case RoleSystem:
			role = deepseek.RoleSystem
		case RoleAssistant:
			role = deepseek.RoleAssistant
		}
		dsMessages[i] = deepseek.Message{
			Role:    role,
			Content: msg.Content,
		}
	}
	return dsMessages
}
