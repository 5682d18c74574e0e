package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

type GeminiProvider struct{}

func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) CreateClient(config ProviderConfig) (Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	cc := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// GeminiClient implements Client with the Google Gen AI SDK.
type GeminiClient struct {
	client *genai.Client
}

func (c *GeminiClient) Close() error {
	return nil
}

func (c *GeminiClient) SupportsImages() bool {
	return true
}

func (c *GeminiClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	gcfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.JSONMode {
		gcfg.ResponseMIMEType = "application/json"
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			gcfg.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			var parts []*genai.Part
			if len(msg.Image) > 0 {
				mime := msg.ImageMIME
				if mime == "" {
					mime = "image/jpeg"
				}
				parts = append(parts, genai.NewPartFromBytes(msg.Image, mime))
			}
			parts = append(parts, genai.NewPartFromText(msg.Content))
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, gcfg)
	if err != nil {
		return nil, wrapGeminiError(err)
	}

	result := &ChatCompletionResponse{Model: req.Model}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	finish := ""
	if len(resp.Candidates) > 0 {
		finish = string(resp.Candidates[0].FinishReason)
	}
	result.Choices = []Choice{{
		Message:      Message{Role: RoleAssistant, Content: resp.Text()},
		FinishReason: finish,
	}}
	return result, nil
}

func (c *GeminiClient) EstimateTokensFromMessages(messages []Message) TokenEstimate {
	return estimateTokens(messages)
}

func wrapGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &APIError{Provider: "gemini", StatusCode: apiErrPtr.Code, Err: err}
	}
	return &APIError{Provider: "gemini", Err: err}
}
