package llm

import (
	"context"

	"github.com/sony/gobreaker"
)

// BreakerClient wraps a Client in a circuit breaker so a provider that is
// failing repeatedly stops absorbing retry latency and trips straight to
// the next client in a FallbackClient chain. Grounded on the teacher's
// hand-rolled CircuitBreaker in internal/validation/retry.go, reimplemented
// over the ecosystem sony/gobreaker rather than a bespoke state machine.
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps inner with a circuit breaker named after the
// client, tripping once more than 5 consecutive failures (the 6th) have
// been counted and resetting after the
// gobreaker default timeout.
func NewBreakerClient(inner Client) *BreakerClient {
	settings := gobreaker.Settings{
		Name: inner.Name(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &BreakerClient{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerClient) Name() string { return b.inner.Name() }

func (b *BreakerClient) Generate(ctx context.Context, systemPrompt, userPrompt string, history []Message) (string, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Generate(ctx, systemPrompt, userPrompt, history)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (b *BreakerClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.GenerateEmbedding(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}
