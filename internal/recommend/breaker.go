package recommend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/Veraticus/affinity/internal/metrics"
	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/service"
)

const breakerName = "popularity"

// popularityBreaker guards the popularity query so a failing event store is
// not hammered by every cold-start request.
type popularityBreaker struct {
	source service.PopularitySource
	cb     *gobreaker.CircuitBreaker[[]model.PopularProduct]
}

func newPopularityBreaker(source service.PopularitySource, timeout time.Duration) *popularityBreaker {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]model.PopularProduct](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellations say nothing about the store's health
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state transition", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &popularityBreaker{source: source, cb: cb}
}

func (b *popularityBreaker) PopularProducts(ctx context.Context, eventTypes []model.EventType, limit int) ([]model.PopularProduct, error) {
	return b.cb.Execute(func() ([]model.PopularProduct, error) {
		return b.source.PopularProducts(ctx, eventTypes, limit)
	})
}

func (b *popularityBreaker) State() gobreaker.State {
	return b.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
