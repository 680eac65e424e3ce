package checkpoint_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/randalmurphal/stepgraph/pkg/stepgraph/checkpoint"
	"github.com/stretchr/testify/require"
)

// Requires a Redis server; set STEPGRAPH_TEST_REDIS_URL to run.
func TestRedisStore_Contract(t *testing.T) {
	url := os.Getenv("STEPGRAPH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("STEPGRAPH_TEST_REDIS_URL not set")
	}

	storeContractTest(t, "RedisStore", func(t *testing.T) checkpoint.Store {
		opts, err := redis.ParseURL(url)
		require.NoError(t, err)
		opts.Protocol = 2

		// A unique prefix per subtest keeps runs independent.
		prefix := "stepgraph-test:" + uuid.NewString() + ":"
		store, err := checkpoint.NewRedisStore(context.Background(), redis.NewClient(opts), checkpoint.RedisOptions{Prefix: prefix})
		require.NoError(t, err)

		t.Cleanup(func() {
			c := redis.NewClient(opts)
			defer c.Close()
			iter := c.Scan(context.Background(), 0, prefix+"*", 512).Iterator()
			for iter.Next(context.Background()) {
				c.Del(context.Background(), iter.Val())
			}
		})
		return store
	})
}
