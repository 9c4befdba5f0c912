package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errUpstream = errors.New("upstream failed")

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:                "test",
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Hour,
	}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d error = %v, want upstream error", i, err)
		}
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if b.State() != "open" {
		t.Errorf("State() = %s, want open", b.State())
	}
}

func TestBreaker_IsSuccessfulIgnoresErrors(t *testing.T) {
	errClient := errors.New("bad input")
	b := NewBreaker(BreakerConfig{
		Name:                "test",
		ConsecutiveFailures: 2,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errClient)
		},
	}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_ = b.Execute(func() error { return errClient })
	}
	if b.State() != "closed" {
		t.Errorf("State() = %s, want closed", b.State())
	}
}
