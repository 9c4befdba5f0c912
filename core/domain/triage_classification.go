package domain

import (
	"fmt"
	"math"
)

// Category is the AI-assigned email category.
type Category string

const (
	CategoryWork        Category = "work"
	CategoryPersonal    Category = "personal"
	CategoryFinancial   Category = "financial"
	CategoryOpportunity Category = "opportunity"
	CategoryNewsletter  Category = "newsletter"
	CategorySpam        Category = "spam"
	CategoryOther       Category = "other"
)

// ValidCategories contains every accepted category.
var ValidCategories = map[Category]bool{
	CategoryWork:        true,
	CategoryPersonal:    true,
	CategoryFinancial:   true,
	CategoryOpportunity: true,
	CategoryNewsletter:  true,
	CategorySpam:        true,
	CategoryOther:       true,
}

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	return ValidCategories[c]
}

// Classification bounds.
const (
	MinLevel      = 1
	MaxLevel      = 5
	MinConfidence = 0.0
	MaxConfidence = 1.0
)

// Classification is the structured judgment for one email.
type Classification struct {
	Urgency        int      `json:"urgency"`
	Importance     int      `json:"importance"`
	ActionRequired bool     `json:"action_required"`
	Category       Category `json:"category"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning,omitempty"`
}

// ValidationError describes the first out-of-bounds field.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid classification %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Validate checks every bounded field. Values are never clamped.
func (c *Classification) Validate() error {
	if c.Urgency < MinLevel || c.Urgency > MaxLevel {
		return &ValidationError{Field: "urgency", Value: c.Urgency, Reason: "must be within [1,5]"}
	}
	if c.Importance < MinLevel || c.Importance > MaxLevel {
		return &ValidationError{Field: "importance", Value: c.Importance, Reason: "must be within [1,5]"}
	}
	if math.IsNaN(c.Confidence) || c.Confidence < MinConfidence || c.Confidence > MaxConfidence {
		return &ValidationError{Field: "confidence", Value: c.Confidence, Reason: "must be within [0,1]"}
	}
	if !c.Category.IsValid() {
		return &ValidationError{Field: "category", Value: c.Category, Reason: "unknown category"}
	}
	return nil
}
