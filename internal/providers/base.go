package providers

import (
	"context"
	"errors"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/backoff"
)

// retrier holds shared retry configuration for processors.
type retrier struct {
	maxRetries int
	policy     backoff.Policy
}

func newRetrier(maxRetries int, retryDelay time.Duration) retrier {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return retrier{maxRetries: maxRetries, policy: backoff.FromBase(retryDelay)}
}

// do runs op with exponential backoff while the failure is retryable.
func (r retrier) do(ctx context.Context, op func() error) error {
	return backoff.Retry(ctx, r.policy, r.maxRetries, isRetryable, func(int) error {
		return op()
	})
}

func isRetryable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Reason.IsRetryable()
}
