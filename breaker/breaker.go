// Package breaker guards calls to external collaborators with a circuit
// breaker and retries rate-limit and server errors with exponential backoff.
package breaker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/bassamadnan/mailpilot/logger"
)

// ErrOpen is returned without calling the operation while the breaker is open.
var ErrOpen = gobreaker.ErrOpenState

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Options tunes a Breaker. Zero values take the defaults.
type Options struct {
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Breaker wraps a gobreaker.CircuitBreaker with retry.
type Breaker struct {
	cb          *gobreaker.CircuitBreaker
	attempts    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	log         *zap.Logger
	sleep       func(context.Context, time.Duration) error
}

// New creates a breaker named after the collaborator it protects.
func New(name string, opts Options, log *zap.Logger) *Breaker {
	log = logger.OrDefault(log).With(zap.String("breaker", name))
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 8 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			var ce *clientError
			return err == nil || errors.As(err, &ce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Breaker{
		cb:          gobreaker.NewCircuitBreaker(settings),
		attempts:    opts.Attempts,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		log:         log,
		sleep:       Sleep,
	}
}

// Do runs fn through the breaker, retrying retryable failures. The error of
// the last attempt is returned unchanged.
func (b *Breaker) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := b.baseBackoff
	var err error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		err = b.execute(ctx, fn)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt == b.attempts {
			break
		}
		b.log.Debug("retrying call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if serr := b.sleep(ctx, backoff); serr != nil {
			return err
		}
		backoff *= 2
		if backoff > b.maxBackoff {
			backoff = b.maxBackoff
		}
	}
	return err
}

// DoOnce runs fn through the breaker without retrying, for calls that are
// not safe to repeat.
func (b *Breaker) DoOnce(ctx context.Context, op string, fn func(context.Context) error) error {
	err := b.execute(ctx, fn)
	if err != nil {
		b.log.Debug("call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

// State reports the breaker state, for logging.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		if err := fn(ctx); err != nil {
			if code := statusOf(err); code >= 400 && code < 500 && code != http.StatusTooManyRequests {
				return nil, &clientError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var ce *clientError
	if errors.As(err, &ce) {
		return ce.err
	}
	return err
}

// Retryable reports whether err is a rate limit or a server-side failure.
func Retryable(err error) bool {
	switch code := statusOf(err); {
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

func statusOf(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// clientError keeps 4xx responses from counting against the breaker.
type clientError struct {
	err error
}

func (e *clientError) Error() string {
	return e.err.Error()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
