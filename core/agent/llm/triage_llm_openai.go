package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultMaxTokens      = 512
	DefaultTemperature    = 0.2
)

// ClassifierConfig configures a provider classifier.
type ClassifierConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	BaseURL     string       // optional override, for proxies and tests
	HTTPClient  *http.Client // nil uses the SDK default
}

func (c ClassifierConfig) withDefaults(model string) ClassifierConfig {
	if c.Model == "" {
		c.Model = model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	return c
}

// OpenAIClassifier classifies emails with the chat completions API in JSON mode.
type OpenAIClassifier struct {
	client *openai.Client
	cfg    ClassifierConfig
}

func NewOpenAIClassifier(cfg ClassifierConfig) *OpenAIClassifier {
	cfg = cfg.withDefaults(DefaultOpenAIModel)
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

func (c *OpenAIClassifier) Name() string { return ProviderOpenAI }

func (c *OpenAIClassifier) Classify(ctx context.Context, email *domain.Email, cc out.ClassifyContext) (*domain.Classification, error) {
	if !email.HasContent() {
		return nil, noContentError(ProviderOpenAI)
	}

	system, user := BuildPrompt(email, cc)
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: float32(c.cfg.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	latency := time.Since(start)
	if err != nil {
		return nil, callError(ctx, ProviderOpenAI, openAIStatus(err), latency, err)
	}
	if len(resp.Choices) == 0 {
		return nil, parseError(ProviderOpenAI, latency, errEmptyResponse)
	}

	result, err := ParseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, parseError(ProviderOpenAI, latency, err)
	}
	return result, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

var _ out.Classifier = (*OpenAIClassifier)(nil)
