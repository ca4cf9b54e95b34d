package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/report-tracking-server/internal/domain"
)

// ResilienceConfig tunes the ResilientMailer
type ResilienceConfig struct {
	RateLimit       float64 // messages per second, 0 disables limiting
	Burst           int
	BreakerFailures uint32 // consecutive failures that open the breaker
	BreakerTimeout  time.Duration
}

// ResilientMailer rate limits outbound mail and stops calling a relay that
// keeps failing until the breaker timeout has passed
type ResilientMailer struct {
	next    domain.Mailer
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewResilientMailer wraps next
func NewResilientMailer(next domain.Mailer, cfg ResilienceConfig, logger *logrus.Logger) *ResilientMailer {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	m := &ResilientMailer{next: next, logger: logger}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mailer",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return m
}

// Send waits for the rate limiter, then sends through the breaker. While the
// breaker is open Send fails fast with gobreaker.ErrOpenState.
func (m *ResilientMailer) Send(ctx context.Context, msg domain.Message) (domain.DeliveryResult, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return domain.DeliveryResult{}, fmt.Errorf("waiting for mail rate limit: %w", err)
		}
	}

	result, err := m.breaker.Execute(func() (interface{}, error) {
		res, err := m.next.Send(ctx, msg)
		return res, err
	})
	if err != nil {
		return domain.DeliveryResult{}, err
	}
	return result.(domain.DeliveryResult), nil
}

// State reports the breaker state
func (m *ResilientMailer) State() gobreaker.State {
	return m.breaker.State()
}
