package checkpoint

import (
	"context"
	"errors"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/retry"
)

// retryingStore retries transient backend failures of another Store.
type retryingStore struct {
	Store
	policy retry.Policy
}

// WithRetry wraps store so transient failures are retried under policy.
// Validation failures (out-of-order, parent mismatch, closed store) are
// never retried.
func WithRetry(store Store, policy retry.Policy) Store {
	if policy.Retryable == nil {
		policy.Retryable = retryableStoreError
	}
	return &retryingStore{Store: store, policy: policy}
}

func retryableStoreError(err error) bool {
	switch {
	case errors.Is(err, ErrStoreClosed),
		errors.Is(err, ErrInvalidCheckpoint),
		errors.Is(err, ErrOutOfOrder),
		errors.Is(err, ErrParentMismatch),
		errors.Is(err, ErrVersionMismatch):
		return false
	}
	return retry.IsRetryable(err)
}

func (r *retryingStore) Put(ctx context.Context, threadID, ns string, cp Checkpoint) (Checkpoint, error) {
	res := retry.Do(ctx, r.policy, func(ctx context.Context) (Checkpoint, error) {
		return r.Store.Put(ctx, threadID, ns, cp)
	})
	return res.Value, res.Err
}

func (r *retryingStore) Get(ctx context.Context, threadID, ns, checkpointID string) (*Checkpoint, error) {
	res := retry.Do(ctx, r.policy, func(ctx context.Context) (*Checkpoint, error) {
		return r.Store.Get(ctx, threadID, ns, checkpointID)
	})
	return res.Value, res.Err
}

func (r *retryingStore) List(ctx context.Context, threadID, ns string, opts ListOptions) ([]Checkpoint, error) {
	res := retry.Do(ctx, r.policy, func(ctx context.Context) ([]Checkpoint, error) {
		return r.Store.List(ctx, threadID, ns, opts)
	})
	return res.Value, res.Err
}

func (r *retryingStore) PutWrites(ctx context.Context, threadID, ns, checkpointID, taskID string, writes []PendingWrite) error {
	return retry.DoErr(ctx, r.policy, func(ctx context.Context) error {
		return r.Store.PutWrites(ctx, threadID, ns, checkpointID, taskID, writes)
	})
}

func (r *retryingStore) Writes(ctx context.Context, threadID, ns, checkpointID string) ([]PendingWrite, error) {
	res := retry.Do(ctx, r.policy, func(ctx context.Context) ([]PendingWrite, error) {
		return r.Store.Writes(ctx, threadID, ns, checkpointID)
	})
	return res.Value, res.Err
}
