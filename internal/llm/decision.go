package llm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"droid-pilot/internal/config"
	imagepkg "droid-pilot/internal/image"
)

const (
	// maxImageSide bounds the longest screenshot side sent to the model.
	maxImageSide = 1280
	jpegQuality  = 80
)

// ErrDecisionFailed is wrapped by every error Decide returns for a backend
// failure, as opposed to cancellation.
var ErrDecisionFailed = errors.New("decision backend failed")

// DecisionError lists why each candidate model was rejected.
type DecisionError struct {
	Provider string
	Attempts []string
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("all %s models failed: %s", e.Provider, strings.Join(e.Attempts, "; "))
}

func (e *DecisionError) Unwrap() error { return ErrDecisionFailed }

// DecisionInput is everything the model sees for one step.
type DecisionInput struct {
	Screenshot   image.Image
	Task         string
	History      []string
	Hints        []string
	Elements     string
	ScreenWidth  int
	ScreenHeight int
	Step         int
	MaxSteps     int
}

// UsageRecorder receives token usage for every successful model call.
type UsageRecorder interface {
	Record(model string, promptTokens, completionTokens int)
}

type DecisionOptions struct {
	Temperature       float64
	MaxTokens         int
	MaxRetries        int
	RequestsPerMinute int
	HistorySize       int
	// RetryInterval seeds the exponential backoff between retries of one model.
	RetryInterval time.Duration
}

// DecisionClient asks the configured model for the next action.
type DecisionClient struct {
	client   Client
	provider string
	models   []string
	opts     DecisionOptions
	limiter  *rate.Limiter
	usage    UsageRecorder
	logger   *zap.Logger
}

// NewDecisionClient builds a client from configuration. usage may be nil.
func NewDecisionClient(cfg config.LLMConfig, historySize int, usage UsageRecorder, logger *zap.Logger) (*DecisionClient, error) {
	client, provider, err := NewClientFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts := DecisionOptions{
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerMinute: cfg.RequestsPerMinute,
		HistorySize:       historySize,
		RetryInterval:     time.Second,
	}
	return NewDecisionClientWithBackend(client, provider, CandidateModels(provider, cfg.Models), opts, usage, logger), nil
}

// NewDecisionClientWithBackend wires an already constructed Client.
func NewDecisionClientWithBackend(client Client, provider string, models []string, opts DecisionOptions, usage UsageRecorder, logger *zap.Logger) *DecisionClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}
	return &DecisionClient{
		client:   client,
		provider: provider,
		models:   models,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		usage:    usage,
		logger:   logger.Named("decision"),
	}
}

// Provider returns the resolved provider name.
func (d *DecisionClient) Provider() string { return d.provider }

// Models returns the candidate models in the order they are tried.
func (d *DecisionClient) Models() []string { return append([]string(nil), d.models...) }

func (d *DecisionClient) Close() error { return d.client.Close() }

// Decide produces one decision. Candidate models are tried in order; the first
// reply that parses wins. Context cancellation is returned as is, every other
// failure as a *DecisionError.
func (d *DecisionClient) Decide(ctx context.Context, in DecisionInput) (Decision, error) {
	messages, err := d.buildMessages(in)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrDecisionFailed, err)
	}

	derr := &DecisionError{Provider: d.provider}
	if len(d.models) == 0 {
		derr.Attempts = append(derr.Attempts, "no candidate models configured")
		return Decision{}, derr
	}

	for _, model := range d.models {
		decision, err := d.ask(ctx, model, messages)
		if err == nil {
			d.logger.Info("Model decided",
				zap.String("model", model),
				zap.String("kind", string(decision.Intent.Kind)),
				zap.Float64("confidence", decision.Intent.Confidence),
				zap.Int("parse_tier", decision.Tier))
			return decision, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, ctxErr
		}
		d.logger.Warn("Model attempt failed, trying next candidate", zap.String("model", model), zap.Error(err))
		derr.Attempts = append(derr.Attempts, fmt.Sprintf("%s: %v", model, err))
	}
	return Decision{}, derr
}

// ask queries one model with bounded retries for transient errors.
func (d *DecisionClient) ask(ctx context.Context, model string, messages []Message) (Decision, error) {
	var decision Decision

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.RetryInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute

	operation := func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := d.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
			Model:       model,
			Temperature: d.opts.Temperature,
			MaxTokens:   d.opts.MaxTokens,
			Messages:    messages,
			JSONMode:    true,
		})
		if err != nil {
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			d.logger.Warn("Transient LLM error, retrying...", zap.String("model", model), zap.Error(err))
			return err
		}

		if d.usage != nil {
			d.usage.Record(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		content := resp.Content()
		d.logger.Debug("LLM reply",
			zap.String("model", model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.String("content", content))

		parsed, err := ParseDecision(content)
		if err != nil {
			return backoff.Permanent(err)
		}
		decision = parsed
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(d.opts.MaxRetries, 0))), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func (d *DecisionClient) buildMessages(in DecisionInput) ([]Message, error) {
	user := Message{Role: RoleUser}

	hasImage := in.Screenshot != nil && d.client.SupportsImages()
	if hasImage {
		scaled := imagepkg.Downscale(in.Screenshot, maxImageSide)
		data, err := imagepkg.EncodeToJPEG(scaled, jpegQuality)
		if err != nil {
			return nil, err
		}
		user.Image = data
		user.ImageMIME = "image/jpeg"
	}
	user.Content = buildUserPrompt(in, d.opts.HistorySize, hasImage)

	return []Message{
		{Role: RoleSystem, Content: systemPrompt},
		user,
	}, nil
}
