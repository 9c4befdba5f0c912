package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// AnthropicClassifier classifies emails with the Messages API.
type AnthropicClassifier struct {
	client anthropic.Client
	cfg    ClassifierConfig
}

func NewAnthropicClassifier(cfg ClassifierConfig) *AnthropicClassifier {
	cfg = cfg.withDefaults(DefaultAnthropicModel)
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &AnthropicClassifier{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}
}

func (c *AnthropicClassifier) Name() string { return ProviderAnthropic }

func (c *AnthropicClassifier) Classify(ctx context.Context, email *domain.Email, cc out.ClassifyContext) (*domain.Classification, error) {
	if !email.HasContent() {
		return nil, noContentError(ProviderAnthropic)
	}

	system, user := BuildPrompt(email, cc)
	start := time.Now()
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   int64(c.cfg.MaxTokens),
		Temperature: anthropic.Float(c.cfg.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: system, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	latency := time.Since(start)
	if err != nil {
		return nil, callError(ctx, ProviderAnthropic, anthropicStatus(err), latency, err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result, err := ParseClassification(extractJSONObject(text.String()))
	if err != nil {
		return nil, parseError(ProviderAnthropic, latency, err)
	}
	return result, nil
}

// extractJSONObject trims any prose the model put around the object.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

var _ out.Classifier = (*AnthropicClassifier)(nil)
