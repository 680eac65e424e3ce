package llm

import (
	"context"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/retry"
)

// WithRetry wraps m so transient failures (rate limits, timeouts, 5xx,
// dropped connections) are retried under policy.
func WithRetry(m Model, policy retry.Policy) Model {
	return ModelFunc(func(ctx context.Context, req Request) (*Response, error) {
		res := retry.Do(ctx, policy, func(ctx context.Context) (*Response, error) {
			return m.Invoke(ctx, req)
		})
		return res.Value, res.Err
	})
}
