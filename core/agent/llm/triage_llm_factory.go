package llm

import (
	"fmt"

	"triage_server/core/port/out"
)

// NewClassifier returns the provider classifier named by provider.
func NewClassifier(provider string, cfg ClassifierConfig) (out.Classifier, error) {
	switch provider {
	case "", ProviderOpenAI:
		return NewOpenAIClassifier(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicClassifier(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
