package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// thinkingTransport disables z.ai's reasoning mode by rewriting chat
// completion request bodies.
type thinkingTransport struct {
	transport http.RoundTripper
}

func (t *thinkingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/chat/completions") || req.Body == nil {
		return t.transport.RoundTrip(req)
	}

	bodyBytes, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()

	var requestBody map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &requestBody); err != nil {
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		return t.transport.RoundTrip(req)
	}

	requestBody["thinking"] = map[string]interface{}{"type": "disabled"}

	modifiedBody, err := json.Marshal(requestBody)
	if err != nil {
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		return t.transport.RoundTrip(req)
	}

	req.Body = io.NopCloser(bytes.NewReader(modifiedBody))
	req.ContentLength = int64(len(modifiedBody))
	return t.transport.RoundTrip(req)
}

// OpenAIProvider serves every OpenAI-compatible endpoint: OpenAI itself,
// OpenRouter and z.ai.
type OpenAIProvider struct {
	name string
}

func NewOpenAIProvider(name string) *OpenAIProvider {
	return &OpenAIProvider{name: name}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) CreateClient(config ProviderConfig) (Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", p.name)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	if p.name == "zai" {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		wrapped := *httpClient
		wrapped.Transport = &thinkingTransport{transport: base}
		httpClient = &wrapped
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
		// retries are driven by the decision client
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if p.name == "openrouter" {
		opts = append(opts, option.WithHeader("X-Title", "droid-pilot"))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		name:   p.name,
	}, nil
}

// OpenAIClient implements Client on top of openai-go.
type OpenAIClient struct {
	client openai.Client
	name   string
}

func (c *OpenAIClient) Close() error {
	return nil
}

func (c *OpenAIClient) SupportsImages() bool {
	return true
}

func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:       req.Model,
		Messages:    convertMessagesToOpenAI(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(req.PresencePenalty)
	}
	// z.ai rejects response_format; the system prompt already demands JSON
	if req.JSONMode && c.name != "zai" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, c.wrapError(err)
	}
	if resp == nil {
		return nil, &APIError{Provider: c.name, Err: errors.New("empty response")}
	}

	result := &ChatCompletionResponse{
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, choice := range resp.Choices {
		result.Choices = append(result.Choices, Choice{
			Message:      Message{Role: RoleAssistant, Content: choice.Message.Content},
			FinishReason: string(choice.FinishReason),
		})
	}
	return result, nil
}

func (c *OpenAIClient) EstimateTokensFromMessages(messages []Message) TokenEstimate {
	return estimateTokens(messages)
}

func (c *OpenAIClient) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{Provider: c.name, StatusCode: apiErr.StatusCode, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &APIError{Provider: c.name, Err: err}
}

func convertMessagesToOpenAI(messages []Message) []openai.ChatCompletionMessageParamUnion {
	oaiMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			oaiMessages = append(oaiMessages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			oaiMessages = append(oaiMessages, openai.AssistantMessage(msg.Content))
		default:
			if len(msg.Image) == 0 {
				oaiMessages = append(oaiMessages, openai.UserMessage(msg.Content))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL(msg.ImageMIME, msg.Image),
				}),
				openai.TextContentPart(msg.Content),
			}
			oaiMessages = append(oaiMessages, openai.UserMessage(parts))
		}
	}
	return oaiMessages
}

func dataURL(mime string, data []byte) string {
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
