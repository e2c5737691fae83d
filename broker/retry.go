package broker

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

const maxRetryBackoff = 300 * time.Second

// RetryPolicy bounds how often a gateway call is attempted.
type RetryPolicy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Min <= 0 {
		p.Min = 2 * time.Second
	}
	if p.Max <= 0 || p.Max > maxRetryBackoff {
		p.Max = maxRetryBackoff
	}
	return p
}

// withRetry runs fn until it succeeds, returns a permanent error, or the
// attempts are exhausted. Waits grow exponentially between attempts.
func withRetry(ctx context.Context, log logrus.FieldLogger, op string, policy RetryPolicy, fn func() error) error {
	policy = policy.normalized()
	b := &backoff.Backoff{Min: policy.Min, Max: policy.Max, Factor: 2}

	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if IsPermanent(err) || attempt == policy.Attempts {
			break
		}

		wait := b.Duration()
		log.WithError(err).Warnf("⚠️  [Kite] %s attempt %d/%d failed, backing off %s", op, attempt, policy.Attempts, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
