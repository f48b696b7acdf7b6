package portal

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	appLog "uesbot/internal/log"
	"uesbot/internal/model"
)

// RetryPolicy bounds the retries of a single portal call.
type RetryPolicy struct {
	Attempts uint
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy tries each call three times, backing off 1.2s then 2.4s.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Initial:  1200 * time.Millisecond,
	Max:      10 * time.Second,
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	return b
}

// Retrying wraps s so that every call is retried with exponential backoff.
// Callers only observe the final result; exhausted retries surface the last
// error as a *FetchError.
func Retrying(s Session, p RetryPolicy) Session {
	if p.Attempts == 0 {
		p = DefaultRetryPolicy
	}
	return &retrying{next: s, policy: p}
}

type retrying struct {
	next   Session
	policy RetryPolicy
}

func retryCall[T any](ctx context.Context, p RetryPolicy, op, url string, fn func() (T, error)) (T, error) {
	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if errors.Is(err, ErrCredentials) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.Attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			appLog.Warn("portal call failed, retrying", "op", op, "url", url, "attempt", attempt, "wait", wait, "err", err)
		}),
	)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) || errors.Is(err, ErrCredentials) {
			return v, err
		}
		return v, &FetchError{Op: op, URL: url, Err: err}
	}
	return v, nil
}

func (r *retrying) Events(ctx context.Context) ([]model.Event, error) {
	return retryCall(ctx, r.policy, "dashboard", "", func() ([]model.Event, error) {
		return r.next.Events(ctx)
	})
}

func (r *retrying) Detail(ctx context.Context, url string) (Detail, error) {
	return retryCall(ctx, r.policy, "event", url, func() (Detail, error) {
		return r.next.Detail(ctx, url)
	})
}

func (r *retrying) Submission(ctx context.Context, url string) (Status, error) {
	return retryCall(ctx, r.policy, "assignment", url, func() (Status, error) {
		return r.next.Submission(ctx, url)
	})
}

func (r *retrying) Close() error {
	return r.next.Close()
}
