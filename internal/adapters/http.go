package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ClassifyHTTPStatus converts a non-2xx HTTP response into a classified
// adapter error. Both REST adapters share this policy.
func ClassifyHTTPStatus(op string, code int, body []byte) error {
	msg := TruncateBody(body)
	switch {
	case code == http.StatusNotFound:
		return Errorf(KindNotFound, op, "status %d: %s", code, msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Errorf(KindForbidden, op, "status %d: %s", code, msg)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return Errorf(KindMalformed, op, "status %d: %s", code, msg)
	case code >= 500 || code == http.StatusTooManyRequests:
		return Errorf(KindTransient, op, "status %d: %s", code, msg)
	default:
		return Errorf(KindTransient, op, "unexpected status %d: %s", code, msg)
	}
}

// RetryTransient runs fn, retrying transient failures with exponential
// backoff. Non-transient errors abort immediately; the context cancels
// in-flight waits.
func RetryTransient(ctx context.Context, maxTries uint64, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(newRetryBackOff(), maxTries-1), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// TruncateBody keeps error payloads log-sized.
func TruncateBody(body []byte) string {
	const max = 300
	if len(body) <= max {
		return string(body)
	}
	return fmt.Sprintf("%s... (%d bytes)", body[:max], len(body))
}
