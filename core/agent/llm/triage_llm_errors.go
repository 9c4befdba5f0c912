package llm

import (
	"context"
	"errors"
	"time"

	"triage_server/core/port/out"
)

func noContentError(provider string) *out.ClassificationError {
	return &out.ClassificationError{
		Kind:     out.KindNoContent,
		Provider: provider,
		Err:      errors.New("email has no subject, body or snippet"),
	}
}

func parseError(provider string, latency time.Duration, err error) *out.ClassificationError {
	return &out.ClassificationError{Kind: out.KindParseError, Provider: provider, Latency: latency, Err: err}
}

// callError types a failed provider call. status is the HTTP status when the
// SDK exposed one.
func callError(ctx context.Context, provider string, status int, latency time.Duration, err error) *out.ClassificationError {
	kind := out.KindAPIError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = out.KindTimeout
	}
	return &out.ClassificationError{Kind: kind, Provider: provider, StatusCode: status, Latency: latency, Err: err}
}
