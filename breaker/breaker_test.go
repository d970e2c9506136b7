package breaker

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nalgeon/be"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

type statusErr int

func (e statusErr) Error() string   { return http.StatusText(int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func newTestBreaker() (*Breaker, *[]time.Duration) {
	b := New("test", Options{Attempts: 3, BaseBackoff: time.Second, MaxBackoff: 3 * time.Second}, zap.NewNop())
	var slept []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return b, &slept
}

func TestDoRetriesServerErrors(t *testing.T) {
	b, slept := newTestBreaker()

	calls := 0
	err := b.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &googleapi.Error{Code: http.StatusServiceUnavailable}
		}
		return nil
	})

	be.Err(t, err, nil)
	be.Equal(t, calls, 3)
	be.Equal(t, *slept, []time.Duration{time.Second, 2 * time.Second})
}

func TestDoRetriesRateLimitFromStatusCoder(t *testing.T) {
	b, _ := newTestBreaker()

	calls := 0
	err := b.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return statusErr(http.StatusTooManyRequests)
	})

	be.True(t, err != nil)
	be.Equal(t, calls, 3)
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	b, slept := newTestBreaker()

	calls := 0
	notFound := &googleapi.Error{Code: http.StatusNotFound}
	err := b.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return notFound
	})

	be.True(t, errors.Is(err, notFound))
	be.Equal(t, calls, 1)
	be.Equal(t, len(*slept), 0)
}

func TestDoStopsWhenSleepIsCancelled(t *testing.T) {
	b, _ := newTestBreaker()
	b.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	calls := 0
	err := b.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return statusErr(http.StatusBadGateway)
	})

	be.True(t, err != nil)
	be.Equal(t, calls, 1)
}

func TestClientErrorsDoNotOpenBreaker(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 10; i++ {
		_ = b.Do(context.Background(), "op", func(context.Context) error {
			return &googleapi.Error{Code: http.StatusBadRequest}
		})
	}
	be.Equal(t, b.State(), "closed")
}

func TestRetryable(t *testing.T) {
	be.True(t, Retryable(&googleapi.Error{Code: 500}))
	be.True(t, Retryable(statusErr(429)))
	be.True(t, !Retryable(statusErr(401)))
	be.True(t, !Retryable(errors.New("plain")))
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	be.Err(t, Sleep(ctx, time.Hour), context.Canceled)
}
