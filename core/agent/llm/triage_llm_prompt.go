package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

const (
	maxBodyChars    = 4000
	maxSnippetChars = 500
)

const classifySystemPrompt = `You are an email triage AI. Analyze the email and respond with JSON only.

## Fields
- urgency: integer 1-5 (1 = can wait weeks, 5 = needs a reply today)
- importance: integer 1-5 (1 = noise, 5 = critical to the recipient)
- action_required: true when the recipient must reply, decide or do something
- category: one of work, personal, financial, opportunity, newsletter, spam, other
- confidence: number 0.0-1.0, how sure you are of this judgment
- reasoning: one short sentence

Respond with this exact JSON format:
{
  "urgency": 1-5,
  "importance": 1-5,
  "action_required": true|false,
  "category": "category_name",
  "confidence": 0.0-1.0,
  "reasoning": "..."
}`

// BuildPrompt returns the system and user prompts for one email.
func BuildPrompt(email *domain.Email, cc out.ClassifyContext) (string, string) {
	system := classifySystemPrompt
	if len(cc.PriorityCategories) > 0 {
		names := make([]string, 0, len(cc.PriorityCategories))
		for _, c := range cc.PriorityCategories {
			names = append(names, string(c))
		}
		system += "\n\nThe user treats these categories as priority: " + strings.Join(names, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", email.Sender.String())
	fmt.Fprintf(&b, "Subject: %s\n", email.SubjectOrEmpty())
	fmt.Fprintf(&b, "Date: %s\n", email.Date.Format("2006-01-02 15:04 MST"))
	if len(email.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(email.Labels, ", "))
	}
	b.WriteString("\nBody:\n")
	b.WriteString(emailBody(email))
	return system, b.String()
}

func emailBody(email *domain.Email) string {
	switch {
	case email.BodyText != nil && strings.TrimSpace(*email.BodyText) != "":
		return truncateBody(*email.BodyText, maxBodyChars)
	case email.BodyHTML != nil && strings.TrimSpace(*email.BodyHTML) != "":
		return truncateBody(*email.BodyHTML, maxBodyChars)
	}
	return truncateBody(email.Snippet, maxSnippetChars)
}

func truncateBody(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	// keep the cut on a rune boundary
	cut := maxLen
	for cut > 0 && !isRuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// classificationResponse mirrors the JSON the model returns. Pointers
// separate a missing field from a zero value.
type classificationResponse struct {
	Urgency        *int     `json:"urgency"`
	Importance     *int     `json:"importance"`
	ActionRequired *bool    `json:"action_required"`
	Category       *string  `json:"category"`
	Confidence     *float64 `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
}

var errEmptyResponse = errors.New("empty model response")

// ParseClassification decodes and validates a model response. Out of range
// values are rejected.
func ParseClassification(raw string) (*domain.Classification, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errEmptyResponse
	}

	var resp classificationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}

	switch {
	case resp.Urgency == nil:
		return nil, missingField("urgency")
	case resp.Importance == nil:
		return nil, missingField("importance")
	case resp.ActionRequired == nil:
		return nil, missingField("action_required")
	case resp.Category == nil:
		return nil, missingField("category")
	case resp.Confidence == nil:
		return nil, missingField("confidence")
	}

	c := &domain.Classification{
		Urgency:        *resp.Urgency,
		Importance:     *resp.Importance,
		ActionRequired: *resp.ActionRequired,
		Category:       domain.Category(strings.ToLower(strings.TrimSpace(*resp.Category))),
		Confidence:     *resp.Confidence,
		Reasoning:      strings.TrimSpace(resp.Reasoning),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func missingField(name string) error {
	return fmt.Errorf("classification response missing %q", name)
}
