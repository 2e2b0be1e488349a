package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/sony/gobreaker/v2"
)

// BreakerHost fails uploads fast while the wrapped host keeps failing.
// Deletes bypass the breaker so compensation always gets attempted.
type BreakerHost struct {
	inner   ImageHost
	breaker *gobreaker.CircuitBreaker[*Object]
}

func NewBreakerHost(inner ImageHost, maxFailures uint32, openFor time.Duration) *BreakerHost {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[*Object](gobreaker.Settings{
		Name:        "image-host:" + inner.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// a canceled request says nothing about the host
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerHost{inner: inner, breaker: cb}
}

func (h *BreakerHost) Name() string { return h.inner.Name() }

// State reports the breaker state for health checks.
func (h *BreakerHost) State() string { return h.breaker.State().String() }

func (h *BreakerHost) Upload(ctx context.Context, key string, data []byte, contentType string) (*Object, error) {
	obj, err := h.breaker.Execute(func() (*Object, error) {
		return h.inner.Upload(ctx, key, data, contentType)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("image host %q unavailable: %w", h.inner.Name(), err)
	}
	return obj, err
}

func (h *BreakerHost) Delete(ctx context.Context, key string) error {
	return h.inner.Delete(ctx, key)
}
