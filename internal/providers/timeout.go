package providers

import (
	"context"
	"time"
)

type timeoutProcessor struct {
	Processor
	timeout time.Duration
}

// WithTimeout bounds every Process call of p. A non-positive timeout returns p.
func WithTimeout(p Processor, timeout time.Duration) Processor {
	if p == nil || timeout <= 0 {
		return p
	}
	return &timeoutProcessor{Processor: p, timeout: timeout}
}

func (t *timeoutProcessor) Process(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.Processor.Process(ctx, req)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return "", &ProviderError{
			Reason:   FailureTimeout,
			Provider: t.Processor.Name(),
			Message:  "processor timed out after " + t.timeout.String(),
			Cause:    err,
		}
	}
	return out, err
}
