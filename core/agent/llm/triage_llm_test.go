package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/metrics"
	"triage_server/pkg/ratelimit"
	"triage_server/pkg/resilience"
)

func testEmail() *domain.Email {
	return &domain.Email{
		ID:       "m1",
		Subject:  domain.StringPtr("Contract review"),
		Sender:   domain.Address{Email: "boss@example.com", Name: "Boss"},
		Date:     time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
		BodyText: domain.StringPtr("Please review the contract by Friday."),
		Labels:   []string{"INBOX", "IMPORTANT"},
	}
}

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		maxLen   int
		expected string
	}{
		{"short body", "Hello world", 100, "Hello world"},
		{"exact length", "Hello", 5, "Hello"},
		{"truncated", "Hello world, this is a long message", 10, "Hello worl..."},
		{"empty body", "", 100, ""},
		{"multibyte boundary", "héllo", 2, "h..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateBody(tt.body, tt.maxLen); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *domain.Classification
		wantErr bool
	}{
		{
			name: "valid",
			raw:  `{"urgency":4,"importance":5,"action_required":true,"category":"work","confidence":0.9,"reasoning":"deadline"}`,
			want: &domain.Classification{Urgency: 4, Importance: 5, ActionRequired: true, Category: domain.CategoryWork, Confidence: 0.9, Reasoning: "deadline"},
		},
		{
			name: "fenced and mixed case category",
			raw:  "```json\n{\"urgency\":1,\"importance\":2,\"action_required\":false,\"category\":\" Newsletter \",\"confidence\":0.5}\n```",
			want: &domain.Classification{Urgency: 1, Importance: 2, Category: domain.CategoryNewsletter, Confidence: 0.5},
		},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "not json", raw: "I think this is work", wantErr: true},
		{name: "missing urgency", raw: `{"importance":2,"action_required":false,"category":"work","confidence":0.5}`, wantErr: true},
		{name: "missing confidence", raw: `{"urgency":2,"importance":2,"action_required":false,"category":"work"}`, wantErr: true},
		{name: "urgency out of range", raw: `{"urgency":6,"importance":2,"action_required":false,"category":"work","confidence":0.5}`, wantErr: true},
		{name: "importance zero", raw: `{"urgency":2,"importance":0,"action_required":false,"category":"work","confidence":0.5}`, wantErr: true},
		{name: "confidence above one", raw: `{"urgency":2,"importance":2,"action_required":false,"category":"work","confidence":1.5}`, wantErr: true},
		{name: "unknown category", raw: `{"urgency":2,"importance":2,"action_required":false,"category":"urgent","confidence":0.5}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassification(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != *tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	system, user := BuildPrompt(testEmail(), out.ClassifyContext{
		PriorityCategories: []domain.Category{domain.CategoryWork, domain.CategoryFinancial},
	})

	if !strings.Contains(system, "priority: work, financial") {
		t.Errorf("system prompt missing priority categories: %q", system)
	}
	for _, want := range []string{"From: Boss <boss@example.com>", "Subject: Contract review", "Labels: INBOX, IMPORTANT", "review the contract"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestBuildPrompt_FallsBackToSnippet(t *testing.T) {
	email := &domain.Email{ID: "m2", Date: time.Now(), Snippet: "short preview"}
	_, user := BuildPrompt(email, out.ClassifyContext{})
	if !strings.HasSuffix(user, "short preview") {
		t.Errorf("expected snippet as body, got %q", user)
	}
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   DefaultOpenAIModel,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestOpenAIClassifier(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		wantKind out.ClassificationErrorKind
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   chatCompletion(`{"urgency":3,"importance":4,"action_required":true,"category":"work","confidence":0.8}`),
		},
		{
			name:     "invalid json content",
			status:   http.StatusOK,
			body:     chatCompletion("sorry, I cannot help"),
			wantKind: out.KindParseError,
		},
		{
			name:     "provider error",
			status:   http.StatusInternalServerError,
			body:     map[string]any{"error": map[string]any{"message": "boom", "type": "server_error"}},
			wantKind: out.KindAPIError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			c := NewOpenAIClassifier(ClassifierConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})
			got, err := c.Classify(context.Background(), testEmail(), out.ClassifyContext{})

			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Urgency != 3 || got.Category != domain.CategoryWork {
					t.Errorf("unexpected classification %+v", got)
				}
				return
			}
			ce, ok := out.AsClassificationError(err)
			if !ok {
				t.Fatalf("expected ClassificationError, got %v", err)
			}
			if ce.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, ce.Kind)
			}
			if tt.status >= 400 && ce.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, ce.StatusCode)
			}
		})
	}
}

func TestOpenAIClassifier_NoContent(t *testing.T) {
	c := NewOpenAIClassifier(ClassifierConfig{APIKey: "test", BaseURL: "http://127.0.0.1:0"})
	_, err := c.Classify(context.Background(), &domain.Email{ID: "m3", Date: time.Now()}, out.ClassifyContext{})

	ce, ok := out.AsClassificationError(err)
	if !ok || ce.Kind != out.KindNoContent {
		t.Fatalf("expected no_content error, got %v", err)
	}
}

func TestCallError_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	ce := callError(ctx, ProviderOpenAI, 0, time.Second, fmt.Errorf("post: %w", ctx.Err()))
	if ce.Kind != out.KindTimeout || !ce.Retryable() {
		t.Errorf("expected retryable timeout, got %s", ce.Kind)
	}
}

func TestExtractJSONObject(t *testing.T) {
	got := extractJSONObject("Here you go: {\"a\":1} hope it helps")
	if got != `{"a":1}` {
		t.Errorf("got %q", got)
	}
}

type scriptedClassifier struct {
	calls atomic.Int32
	err   error
}

func (s *scriptedClassifier) Name() string { return "scripted" }

func (s *scriptedClassifier) Classify(context.Context, *domain.Email, out.ClassifyContext) (*domain.Classification, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Classification{Urgency: 1, Importance: 1, Category: domain.CategoryOther, Confidence: 0.1}, nil
}

func newGuard(inner out.Classifier) *GuardedClassifier {
	return NewGuardedClassifier(inner, GuardConfig{
		Limits:  ratelimit.Config{MaxConcurrent: 2, RequestsPerSecond: 1000},
		Breaker: resilience.BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute},
	}, metrics.NewLatencyRegistry(10), zerolog.Nop())
}

func TestGuardedClassifier_TripsOnProviderErrors(t *testing.T) {
	inner := &scriptedClassifier{err: &out.ClassificationError{Kind: out.KindAPIError, StatusCode: 503}}
	g := newGuard(inner)

	for i := 0; i < 4; i++ {
		_, err := g.Classify(context.Background(), testEmail(), out.ClassifyContext{})
		if _, ok := out.AsClassificationError(err); !ok {
			t.Fatalf("call %d: expected ClassificationError, got %v", i, err)
		}
	}
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("expected breaker to stop calls after 2 failures, inner saw %d", got)
	}

	_, err := g.Classify(context.Background(), testEmail(), out.ClassifyContext{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen in chain, got %v", err)
	}
	if g.BreakerState() != "open" {
		t.Errorf("expected open breaker, got %s", g.BreakerState())
	}
}

func TestGuardedClassifier_ParseErrorsDoNotTrip(t *testing.T) {
	inner := &scriptedClassifier{err: &out.ClassificationError{Kind: out.KindParseError}}
	g := newGuard(inner)

	for i := 0; i < 5; i++ {
		_, _ = g.Classify(context.Background(), testEmail(), out.ClassifyContext{})
	}
	if got := inner.calls.Load(); got != 5 {
		t.Errorf("expected 5 inner calls, got %d", got)
	}
	if g.BreakerState() != "closed" {
		t.Errorf("expected closed breaker, got %s", g.BreakerState())
	}
}

func TestGuardedClassifier_RecordsLatency(t *testing.T) {
	reg := metrics.NewLatencyRegistry(10)
	g := NewGuardedClassifier(&scriptedClassifier{}, GuardConfig{}, reg, zerolog.Nop())

	if _, err := g.Classify(context.Background(), testEmail(), out.ClassifyContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats, ok := reg.AllStats()["llm.scripted"]; !ok || stats.Count != 1 {
		t.Errorf("expected one latency sample, got %+v", reg.AllStats())
	}
	if g.InFlight() != 0 {
		t.Errorf("expected slot released, in flight %d", g.InFlight())
	}
}

func TestGuardedClassifier_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newGuard(&scriptedClassifier{}).Classify(ctx, testEmail(), out.ClassifyContext{})
	ce, ok := out.AsClassificationError(err)
	if !ok || ce.Kind != out.KindAPIError || !errors.Is(err, context.Canceled) {
		t.Errorf("expected api_error wrapping context.Canceled, got %v", err)
	}
}

func TestNewClassifier(t *testing.T) {
	for _, p := range []string{"", ProviderOpenAI, ProviderAnthropic} {
		c, err := NewClassifier(p, ClassifierConfig{APIKey: "k"})
		if err != nil || c == nil {
			t.Errorf("provider %q: unexpected error %v", p, err)
		}
	}
	if _, err := NewClassifier("gemini", ClassifierConfig{}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
