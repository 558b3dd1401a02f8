package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/bindery/internal/layout"
)

const (
	OpenAIProviderName = "openai"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIConfig holds configuration for an OpenAI-compatible layout provider.
type OpenAIConfig struct {
	Name       string // registry name, defaults to "openai"
	APIKey     string
	Model      string
	BaseURL    string // any OpenAI-compatible endpoint
	RateLimit  int    // requests per minute
	Timeout    time.Duration
	Pricing    Pricing
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAIProvider analyzes pages through the chat completions API.
type OpenAIProvider struct {
	name      string
	apiKey    string
	model     string
	baseURL   string
	rateLimit int
	timeout   time.Duration
	pricing   Pricing
	client    openai.Client
	limiter   *RateLimiter
	logger    *slog.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible provider. SDK retries are
// disabled; the analysis controller owns retry policy.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = OpenAIProviderName
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		name:      cfg.Name,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		baseURL:   cfg.BaseURL,
		rateLimit: cfg.RateLimit,
		timeout:   cfg.Timeout,
		pricing:   cfg.Pricing,
		client:    openai.NewClient(opts...),
		limiter:   NewRateLimiter(cfg.RateLimit),
		logger:    cfg.Logger.With("provider", cfg.Name),
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Model returns the configured model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Analyze sends the page as an image data URL with a JSON-object response format.
func (p *OpenAIProvider) Analyze(ctx context.Context, page layout.PageInput) (*layout.PageAnalysis, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport(p.name, err)
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(pagePrompt(page)),
	}
	if len(page.Image) > 0 {
		url := "data:" + imageMIME(page) + ";base64," + base64.StdEncoding.EncodeToString(page.Image)
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		Temperature: openai.Float(0.1),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return nil, p.mapError(err)
	}

	usage := p.pricing.Usage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.name, Kind: Transient, Usage: usage, Err: fmt.Errorf("response has no choices")}
	}

	result, err := decodePageAnalysis(resp.Choices[0].Message.Content, page.PageNumber, p.logger)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Kind: Transient, Usage: usage, Err: err}
	}
	result.Usage = usage

	p.logger.Debug("page analyzed",
		"page", page.PageNumber,
		"model", p.model,
		"duration", time.Since(start),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens)
	return result, nil
}

// mapError converts an openai-go error into a classified ProviderError.
func (p *OpenAIProvider) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			p.limiter.Record429()
		}
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &ProviderError{
			Provider:   p.name,
			Kind:       KindForStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Err:        fmt.Errorf("%s", msg),
		}
	}
	return classifyTransport(p.name, err)
}

var _ Provider = (*OpenAIProvider)(nil)
