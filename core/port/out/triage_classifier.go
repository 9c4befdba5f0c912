package out

import (
	"context"
	"errors"
	"fmt"
	"time"

	"triage_server/core/domain"
)

// ClassificationErrorKind tells callers why a classification failed.
type ClassificationErrorKind string

const (
	KindNoContent   ClassificationErrorKind = "no_content"
	KindAPIError    ClassificationErrorKind = "api_error"
	KindParseError  ClassificationErrorKind = "parse_error"
	KindIntegration ClassificationErrorKind = "integration_error"
	KindTimeout     ClassificationErrorKind = "timeout"
)

// ClassificationError is the typed failure of one Classify call.
type ClassificationError struct {
	Kind       ClassificationErrorKind
	Provider   string
	StatusCode int // provider HTTP status when known
	Latency    time.Duration
	Err        error
}

func (e *ClassificationError) Error() string {
	msg := fmt.Sprintf("classification %s", e.Kind)
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *ClassificationError) Retryable() bool {
	return e.Kind == KindAPIError || e.Kind == KindTimeout
}

// AsClassificationError extracts a ClassificationError from err.
func AsClassificationError(err error) (*ClassificationError, bool) {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ClassifyContext carries per-call context for the prompt.
type ClassifyContext struct {
	UserID             string
	PriorityCategories []domain.Category
}

// Classifier calls the external model once per email.
type Classifier interface {
	Classify(ctx context.Context, email *domain.Email, cc ClassifyContext) (*domain.Classification, error)
	Name() string
}
