package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = retry.NewPolicy(
	retry.WithMaxAttempts(3),
	retry.WithInitialBackoff(time.Millisecond),
	retry.WithMaxBackoff(2*time.Millisecond),
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Category
	}{
		{"nil", nil, retry.CategoryPermanent},
		{"plain", errors.New("x"), retry.CategoryPermanent},
		{"marked transient", retry.Transient(errors.New("x"), "op"), retry.CategoryTransient},
		{"wrapped transient", fmt.Errorf("outer: %w", retry.Transient(errors.New("x"), "")), retry.CategoryTransient},
		{"rate limited", &retry.HTTPError{StatusCode: 429}, retry.CategoryTransient},
		{"server error", &retry.HTTPError{StatusCode: 502}, retry.CategoryTransient},
		{"unauthorized", &retry.HTTPError{StatusCode: 401}, retry.CategoryPermanent},
		{"deadline", context.DeadlineExceeded, retry.CategoryTransient},
		{"canceled", context.Canceled, retry.CategoryPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retry.Categorize(tt.err))
		})
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	res := retry.Do(context.Background(), fast, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", retry.Transient(errors.New("flaky"), "")
		}
		return "ok", nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 3, res.Attempts)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	res := retry.Do(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	res := retry.Do(context.Background(), fast, func(context.Context) (int, error) {
		return 0, retry.Transient(errors.New("still down"), "")
	})

	var catErr *retry.CategorizedError
	require.ErrorAs(t, res.Err, &catErr)
	assert.Equal(t, 3, catErr.Attempts)
	assert.Equal(t, 3, res.Attempts)
}

func TestDo_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.DoErr(ctx, fast, func(context.Context) error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
