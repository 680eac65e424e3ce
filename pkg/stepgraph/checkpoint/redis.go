package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/serde"
)

// DefaultRedisPrefix is the key prefix used when RedisOptions.Prefix is empty.
const DefaultRedisPrefix = "stepgraph:cp:"

// maxPutAttempts bounds optimistic-lock retries of a Put.
const maxPutAttempts = 8

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Prefix namespaces every key written by the store.
	Prefix string
	// TTL expires a thread's keys after the last write. Zero keeps them.
	TTL time.Duration
}

// RedisStore persists checkpoints to Redis.
//
// Layout, per (thread, namespace), where T and N are the thread and
// namespace written as "<len>:<value>" so no two pairs share a key:
//
//	<prefix>doc:<T><N><id>      hash  checkpoint, metadata, parent, created_at
//	<prefix>idx:<T><N>          zset  checkpoint IDs, ordered lexicographically
//	<prefix>wr:<T><N><id>       hash  "<task>:<seq>" -> pending write
//	<prefix>wo:<T><N><id>       zset  pending write order
//	<prefix>wid:<T><N>          set   checkpoint IDs that have pending writes
//	<prefix>ns:<T>              set   namespaces seen for the thread
type RedisStore struct {
	client redis.UniversalClient
	opts   RedisOptions

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore creates a store on an existing client. The store owns the
// client and closes it in Close.
func NewRedisStore(ctx context.Context, client redis.UniversalClient, opts RedisOptions) (*RedisStore, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, opts: opts}, nil
}

// NewRedisStoreFromURL parses a redis:// URL and creates a store.
func NewRedisStoreFromURL(ctx context.Context, url string, opts RedisOptions) (*RedisStore, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(ctx, redis.NewClient(o), opts)
}

// segment length-prefixes a key component.
func segment(v string) string {
	return strconv.Itoa(len(v)) + ":" + v
}

func (s *RedisStore) docKey(threadID, ns, id string) string {
	return s.opts.Prefix + "doc:" + segment(threadID) + segment(ns) + id
}

func (s *RedisStore) indexKey(threadID, ns string) string {
	return s.opts.Prefix + "idx:" + segment(threadID) + segment(ns)
}

func (s *RedisStore) writesKey(threadID, ns, id string) string {
	return s.opts.Prefix + "wr:" + segment(threadID) + segment(ns) + id
}

func (s *RedisStore) orderKey(threadID, ns, id string) string {
	return s.opts.Prefix + "wo:" + segment(threadID) + segment(ns) + id
}

func (s *RedisStore) writeIDsKey(threadID, ns string) string {
	return s.opts.Prefix + "wid:" + segment(threadID) + segment(ns)
}

func (s *RedisStore) namespacesKey(threadID string) string {
	return s.opts.Prefix + "ns:" + segment(threadID)
}

func (s *RedisStore) open() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Put implements Store. Concurrent Puts on the same chain are serialized
// with WATCH on the chain index.
func (s *RedisStore) Put(ctx context.Context, threadID, ns string, cp Checkpoint) (Checkpoint, error) {
	if err := s.open(); err != nil {
		return Checkpoint{}, err
	}

	idx := s.indexKey(threadID, ns)
	var out Checkpoint

	txf := func(tx *redis.Tx) error {
		if cp.ID != "" {
			existing, err := s.load(ctx, tx, threadID, ns, cp.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				out = *existing
				return nil
			}
		}

		var latest *Checkpoint
		ids, err := tx.ZRevRangeByLex(ctx, idx, &redis.ZRangeBy{Max: "+", Min: "-", Count: 1}).Result()
		if err != nil {
			return fmt.Errorf("read latest checkpoint: %w", err)
		}
		if len(ids) > 0 {
			latest = &Checkpoint{ID: ids[0]}
		}

		prepared, err := prepare(threadID, ns, cp, latest)
		if err != nil {
			return err
		}
		body, meta, err := encode(prepared)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			doc := s.docKey(threadID, ns, prepared.ID)
			pipe.HSet(ctx, doc,
				"checkpoint", body,
				"metadata", meta,
				"parent", prepared.ParentID,
				"created_at", prepared.CreatedAt.UTC().Format(time.RFC3339Nano),
			)
			pipe.ZAdd(ctx, idx, redis.Z{Score: 0, Member: prepared.ID})
			pipe.SAdd(ctx, s.namespacesKey(threadID), ns)
			if prepared.ParentID != "" {
				pipe.Del(ctx,
					s.writesKey(threadID, ns, prepared.ParentID),
					s.orderKey(threadID, ns, prepared.ParentID),
				)
				pipe.SRem(ctx, s.writeIDsKey(threadID, ns), prepared.ParentID)
			}
			if s.opts.TTL > 0 {
				pipe.PExpire(ctx, doc, s.opts.TTL)
				pipe.PExpire(ctx, idx, s.opts.TTL)
				pipe.PExpire(ctx, s.namespacesKey(threadID), s.opts.TTL)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("commit checkpoint: %w", err)
		}
		out = prepared
		return nil
	}

	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, idx)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Checkpoint{}, err
		}
		return out, nil
	}
	return Checkpoint{}, fmt.Errorf("commit checkpoint: %w", redis.TxFailedErr)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, threadID, ns, checkpointID string) (*Checkpoint, error) {
	if err := s.open(); err != nil {
		return nil, err
	}

	if checkpointID == "" {
		ids, err := s.client.ZRevRangeByLex(ctx, s.indexKey(threadID, ns), &redis.ZRangeBy{Max: "+", Min: "-", Count: 1}).Result()
		if err != nil {
			return nil, fmt.Errorf("read latest checkpoint: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		checkpointID = ids[0]
	}
	return s.load(ctx, s.client, threadID, ns, checkpointID)
}

// hashReader is satisfied by clients and by a watched transaction.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *RedisStore) load(ctx context.Context, c hashReader, threadID, ns, id string) (*Checkpoint, error) {
	fields, err := c.HGetAll(ctx, s.docKey(threadID, ns, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	cp := &Checkpoint{
		ThreadID:  threadID,
		Namespace: ns,
		ID:        id,
		ParentID:  fields["parent"],
	}
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	if err := decode(cp, []byte(fields["checkpoint"]), []byte(fields["metadata"])); err != nil {
		return nil, err
	}
	return cp, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, threadID, ns string, opts ListOptions) ([]Checkpoint, error) {
	if err := s.open(); err != nil {
		return nil, err
	}

	by := &redis.ZRangeBy{Max: "+", Min: "-"}
	if opts.Before != "" {
		by.Max = "(" + opts.Before
	}
	if opts.Limit > 0 {
		by.Count = int64(opts.Limit)
	}

	ids, err := s.client.ZRevRangeByLex(ctx, s.indexKey(threadID, ns), by).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	out := make([]Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.load(ctx, s.client, threadID, ns, id)
		if err != nil {
			return nil, err
		}
		// Expired documents may outlive their index entry.
		if cp != nil {
			out = append(out, *cp)
		}
	}
	return out, nil
}

// PutWrites implements Store.
func (s *RedisStore) PutWrites(ctx context.Context, threadID, ns, checkpointID, taskID string, writes []PendingWrite) error {
	if !writesComplete(threadID, checkpointID) || len(writes) == 0 {
		return nil
	}
	if err := s.open(); err != nil {
		return err
	}

	wk := s.writesKey(threadID, ns, checkpointID)
	ok := s.orderKey(threadID, ns, checkpointID)
	base := time.Now().UnixNano()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, w := range writes {
			w.TaskID = taskID
			raw, err := serde.Marshal(w)
			if err != nil {
				return fmt.Errorf("encode pending write: %w", err)
			}
			field := taskID + ":" + strconv.Itoa(w.Sequence)
			pipe.HSet(ctx, wk, field, raw)
			pipe.ZAddNX(ctx, ok, redis.Z{Score: float64(base + int64(i)), Member: field})
		}
		pipe.SAdd(ctx, s.writeIDsKey(threadID, ns), checkpointID)
		pipe.SAdd(ctx, s.namespacesKey(threadID), ns)
		if s.opts.TTL > 0 {
			pipe.PExpire(ctx, wk, s.opts.TTL)
			pipe.PExpire(ctx, ok, s.opts.TTL)
			pipe.PExpire(ctx, s.writeIDsKey(threadID, ns), s.opts.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put pending writes: %w", err)
	}
	return nil
}

// Writes implements Store.
func (s *RedisStore) Writes(ctx context.Context, threadID, ns, checkpointID string) ([]PendingWrite, error) {
	if err := s.open(); err != nil {
		return nil, err
	}

	fields, err := s.client.ZRange(ctx, s.orderKey(threadID, ns, checkpointID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending writes: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, s.writesKey(threadID, ns, checkpointID), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending writes: %w", err)
	}

	out := make([]PendingWrite, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var w PendingWrite
		if err := serde.Unmarshal([]byte(str), &w); err != nil {
			return nil, fmt.Errorf("decode pending write: %w", err)
		}
		out = append(out, w)
	}
	return out, nil
}

// DeleteThread implements Store. Keys are found through the thread's own
// indexes, never by pattern, so no other thread is touched.
func (s *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.open(); err != nil {
		return err
	}

	nsKey := s.namespacesKey(threadID)
	namespaces, err := s.client.SMembers(ctx, nsKey).Result()
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}

	for _, ns := range namespaces {
		idx, wids := s.indexKey(threadID, ns), s.writeIDsKey(threadID, ns)
		ids, err := s.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("list checkpoint ids: %w", err)
		}
		withWrites, err := s.client.SMembers(ctx, wids).Result()
		if err != nil {
			return fmt.Errorf("list pending write ids: %w", err)
		}

		keys := []string{idx, wids}
		for _, id := range ids {
			keys = append(keys, s.docKey(threadID, ns, id), s.writesKey(threadID, ns, id), s.orderKey(threadID, ns, id))
		}
		for _, id := range withWrites {
			keys = append(keys, s.writesKey(threadID, ns, id), s.orderKey(threadID, ns, id))
		}
		if err := s.deleteKeys(ctx, keys); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, nsKey).Err()
}

func (s *RedisStore) deleteKeys(ctx context.Context, keys []string) error {
	const batch = 256
	for len(keys) > 0 {
		n := min(batch, len(keys))
		if err := s.client.Del(ctx, keys[:n]...).Err(); err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
		keys = keys[n:]
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
