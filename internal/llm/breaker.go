package llm

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker stops hammering a dead inference server. While open, calls fail fast
// with ErrUnavailable and the wake loop goes straight back to listening.
type Breaker struct {
	next Completer
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Completer, failures uint32, cooldown time.Duration) *Breaker {
	if failures == 0 {
		failures = 3
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Complete(ctx context.Context, prompt, model string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Complete(ctx, prompt, model)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
