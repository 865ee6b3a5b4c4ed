package http

import (
	"context"
	"errors"
	"time"
)

type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Sleep is swapped out in tests. Nil means time.Sleep.
	Sleep func(time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1000 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     10000 * time.Millisecond,
	}
}

// IsRetryable classifies an attempt error. Transport failures and 5xx/429
// responses are retryable; challenge responses and all other 4xx are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var challenge *ChallengeError
	if errors.As(err, &challenge) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 {
			return true
		}
		return httpErr.StatusCode == 429
	}
	// Connection, timeout, or request-construction failure.
	return true
}

// Do runs fn until it succeeds, a terminal error occurs, or the retry budget
// is exhausted. The last error is returned after exhaustion.
func (p RetryPolicy) Do(ctx context.Context, fn func() (*APIResponse, error)) (*APIResponse, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == p.MaxRetries {
			break
		}

		sleep(delay)
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return nil, lastErr
}
