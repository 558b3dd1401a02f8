package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/jackzampolin/bindery/internal/layout"
)

const (
	GeminiProviderName = "gemini"
	geminiDefaultModel = "gemini-2.5-flash"
)

// GeminiConfig holds configuration for the Gemini layout provider.
type GeminiConfig struct {
	Name       string // registry name, defaults to "gemini"
	APIKey     string
	Model      string
	BaseURL    string // override for tests and proxies
	RateLimit  int    // requests per minute
	Timeout    time.Duration
	Pricing    Pricing
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GeminiProvider analyzes pages with a multimodal Gemini model.
type GeminiProvider struct {
	name      string
	apiKey    string
	model     string
	baseURL   string
	rateLimit int
	timeout   time.Duration
	pricing   Pricing
	client    *genai.Client
	limiter   *RateLimiter
	logger    *slog.Logger
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = GeminiProviderName
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
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

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiProvider{
		name:      cfg.Name,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		baseURL:   cfg.BaseURL,
		rateLimit: cfg.RateLimit,
		timeout:   cfg.Timeout,
		pricing:   cfg.Pricing,
		client:    client,
		limiter:   NewRateLimiter(cfg.RateLimit),
		logger:    cfg.Logger.With("provider", cfg.Name),
	}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return p.name
}

// Model returns the configured model.
func (p *GeminiProvider) Model() string {
	return p.model
}

// Analyze sends the page image and text layer to Gemini in JSON mode.
func (p *GeminiProvider) Analyze(ctx context.Context, page layout.PageInput) (*layout.PageAnalysis, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, classifyTransport(p.name, err)
	}

	parts := []*genai.Part{genai.NewPartFromText(pagePrompt(page))}
	if len(page.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(page.Image, imageMIME(page)))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: schemaDocument(),
		Temperature:        genai.Ptr[float32](0.1),
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	res, err := p.client.Models.GenerateContent(callCtx, p.model, contents, config)
	if err != nil {
		return nil, p.mapError(err)
	}

	usage := p.usage(res)
	result, err := decodePageAnalysis(res.Text(), page.PageNumber, p.logger)
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

func (p *GeminiProvider) usage(res *genai.GenerateContentResponse) layout.Usage {
	if res == nil || res.UsageMetadata == nil {
		return p.pricing.Usage(0, 0)
	}
	return p.pricing.Usage(
		int64(res.UsageMetadata.PromptTokenCount),
		int64(res.UsageMetadata.CandidatesTokenCount),
	)
}

// mapError converts a genai error into a classified ProviderError.
func (p *GeminiProvider) mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			p.limiter.Record429()
		}
		return &ProviderError{
			Provider:   p.name,
			Kind:       KindForStatus(apiErr.Code),
			StatusCode: apiErr.Code,
			Err:        fmt.Errorf("%s", apiErr.Message),
		}
	}
	return classifyTransport(p.name, err)
}

var _ Provider = (*GeminiProvider)(nil)
