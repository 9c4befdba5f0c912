package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/metrics"
	"triage_server/pkg/ratelimit"
	"triage_server/pkg/resilience"
)

// GuardConfig bounds outbound classification traffic.
type GuardConfig struct {
	Limits  ratelimit.Config
	Breaker resilience.BreakerConfig
}

// GuardedClassifier applies the process-wide ceiling to a provider:
// concurrency slot, then rate token, then circuit breaker.
type GuardedClassifier struct {
	inner   out.Classifier
	gate    *ratelimit.Gate
	breaker *resilience.Breaker
	latency *metrics.LatencyRegistry
	log     zerolog.Logger
}

func NewGuardedClassifier(inner out.Classifier, cfg GuardConfig, latency *metrics.LatencyRegistry, log zerolog.Logger) *GuardedClassifier {
	bc := cfg.Breaker
	if bc.Name == "" {
		bc.Name = "llm-" + inner.Name()
	}
	bc.IsSuccessful = countsAsSuccess
	if latency == nil {
		latency = metrics.GlobalRegistry()
	}

	return &GuardedClassifier{
		inner:   inner,
		gate:    ratelimit.NewGate(cfg.Limits),
		breaker: resilience.NewBreaker(bc, log),
		latency: latency,
		log:     log,
	}
}

// countsAsSuccess keeps content problems from tripping the breaker. Only
// provider and transport failures count.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	ce, ok := out.AsClassificationError(err)
	if !ok {
		return false
	}
	return ce.Kind == out.KindParseError || ce.Kind == out.KindNoContent
}

func (g *GuardedClassifier) Name() string { return g.inner.Name() }

func (g *GuardedClassifier) Classify(ctx context.Context, email *domain.Email, cc out.ClassifyContext) (*domain.Classification, error) {
	if !email.HasContent() {
		return nil, noContentError(g.inner.Name())
	}

	if err := ctx.Err(); err != nil {
		return nil, callError(ctx, g.inner.Name(), 0, 0, err)
	}

	waitStart := time.Now()
	release, err := g.gate.Acquire(ctx)
	if err != nil {
		return nil, callError(ctx, g.inner.Name(), 0, time.Since(waitStart), fmt.Errorf("waiting for llm slot: %w", err))
	}
	defer release()

	var result *domain.Classification
	start := time.Now()
	err = g.breaker.Execute(func() error {
		var callErr error
		result, callErr = g.inner.Classify(ctx, email, cc)
		return callErr
	})
	elapsed := time.Since(start)
	g.latency.Record("llm."+g.inner.Name(), elapsed)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		g.log.Warn().Str("provider", g.inner.Name()).Msg("classification rejected by open circuit")
		return nil, &out.ClassificationError{Kind: out.KindAPIError, Provider: g.inner.Name(), Err: err}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// InFlight returns the number of calls holding a concurrency slot.
func (g *GuardedClassifier) InFlight() int {
	return g.gate.InFlight()
}

// BreakerState returns the breaker state for health output.
func (g *GuardedClassifier) BreakerState() string {
	return g.breaker.State()
}

var _ out.Classifier = (*GuardedClassifier)(nil)
