package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	stash "github.com/dan-strohschein/stash"
	"github.com/dan-strohschein/stash/resultset"
)

// maxL2Retries bounds the retry attempts for a transient Redis failure.
const maxL2Retries = 2

// generationRefreshInterval is how long the mirrored generation counter
// is trusted before it is re-read from Redis. It bounds how long this
// process can keep serving entries after another process ran
// InvalidateAll.
const generationRefreshInterval = time.Second

// PTTL sentinels as go-redis surfaces them: -2 for a missing key, -1
// for a key without an expiry.
const (
	pttlMissing  = time.Duration(-2)
	pttlNoExpiry = time.Duration(-1)
)

// redisClient is the slice of the go-redis API the hybrid store uses.
// *redis.Client satisfies it; tests substitute a fake.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Persist(ctx context.Context, key string) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// HybridOptions configures the hybrid store.
type HybridOptions struct {
	// Redis is the external tier. Required.
	Redis *redis.Client

	// Prefix namespaces every Redis key this store writes.
	// Default: "stash:".
	Prefix string

	// Local configures the in-process L1 tier.
	Local LocalOptions
}

// hybridDocument is the L2 wire form: the encoded result set together
// with the tags it was admitted under, so a rehydrated L1 copy stays
// reachable by tag invalidation.
type hybridDocument struct {
	Tags    []string        `json:"tags,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Hybrid is the two-tier store variant: the local store in front of an
// external Redis tier. Entries are serialized with the result-set codec;
// Redis holds a set per tag for tag invalidation, and bulk invalidation
// is the generation-counter trick with keys written under a versioned
// "v<gen>:" prefix, since Redis offers no safe global flush for a shared
// database. Sliding windows apply to the L1 tier only.
type Hybrid struct {
	l1     *Local
	rdb    redisClient
	prefix string
	logger stash.Logger

	genMu      sync.Mutex
	genLoaded  atomic.Bool
	genFetched atomic.Int64
	gen        atomic.Int64
}

var _ Store = (*Hybrid)(nil)

// NewHybrid creates a hybrid store.
func NewHybrid(opts HybridOptions) *Hybrid {
	if opts.Prefix == "" {
		opts.Prefix = "stash:"
	}

	logger := opts.Local.Logger
	if logger == nil {
		logger = stash.NewNoopLogger()
	}

	return &Hybrid{
		l1:     NewLocal(opts.Local),
		rdb:    opts.Redis,
		prefix: opts.Prefix,
		logger: logger.WithFields(stash.String("component", "hybrid_store")),
	}
}

// Get consults the L1 tier first and falls back to Redis, rehydrating
// the L1 tier on an L2 hit. Corrupt L2 payloads are deleted and treated
// as a miss.
func (h *Hybrid) Get(ctx context.Context, key string) (*resultset.ResultSet, error) {
	if err := h.ensureGeneration(ctx); err != nil {
		return nil, stash.ErrStoreRead(key, err)
	}

	rs, err := h.l1.Get(ctx, key)
	if err == nil {
		return rs, nil
	}
	if !errors.Is(err, stash.ErrNotFound) {
		return nil, err
	}

	full := h.versionedKey(key)

	var payload []byte
	err = h.retry(ctx, func() error {
		b, err := h.rdb.Get(ctx, full).Bytes()
		if err != nil {
			return err
		}
		payload = b
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, stash.ErrNotFound
	}
	if err != nil {
		return nil, stash.ErrStoreRead(key, err)
	}

	var doc hybridDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, h.dropCorrupt(ctx, key, full, err)
	}
	rs, err = resultset.Deserialize(doc.Payload)
	if err != nil {
		return nil, h.dropCorrupt(ctx, key, full, err)
	}

	// Rehydrate L1 with whatever lifetime the L2 entry has left,
	// carrying the tags so tag invalidation still reaches the copy.
	if remaining, err := h.rdb.PTTL(ctx, full).Result(); err == nil && remaining > 0 {
		_ = h.l1.Set(ctx, key, rs, remaining, 0, doc.Tags)
	}

	return rs, nil
}

// dropCorrupt deletes a payload this process cannot read and reports
// the lookup as a miss.
func (h *Hybrid) dropCorrupt(ctx context.Context, key, full string, cause error) error {
	h.logger.Warn("corrupt payload dropped", stash.String("key", key), stash.Err("error", cause))
	_ = h.rdb.Del(ctx, full).Err()
	return stash.ErrNotFound
}

// Set serializes the result set into the L2 tier under the current
// generation's key prefix, registers the key in each tag's set and
// mirrors the entry into the L1 tier.
func (h *Hybrid) Set(ctx context.Context, key string, rs *resultset.ResultSet, absolute, sliding time.Duration, tags []string) error {
	if err := h.ensureGeneration(ctx); err != nil {
		return stash.ErrStoreWrite(key, err)
	}

	payload, err := resultset.Serialize(rs)
	if err != nil {
		return stash.ErrStoreWrite(key, err)
	}

	body, err := json.Marshal(hybridDocument{Tags: tags, Payload: payload})
	if err != nil {
		return stash.ErrStoreWrite(key, err)
	}

	full := h.versionedKey(key)

	err = h.retry(ctx, func() error {
		if err := h.rdb.Set(ctx, full, body, absolute).Err(); err != nil {
			return err
		}
		for _, tag := range tags {
			if err := h.registerTag(ctx, tag, full, absolute); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stash.ErrStoreWrite(key, err)
	}

	return h.l1.Set(ctx, key, rs, absolute, sliding, tags)
}

// registerTag adds the versioned key to the tag's set and adjusts the
// set's expiry so it lives at least as long as its longest-lived member.
// The TTL is only ever lengthened; a short-lived member must not cut the
// set's life below an earlier long-lived one.
func (h *Hybrid) registerTag(ctx context.Context, tag, member string, absolute time.Duration) error {
	tagKey := h.tagKey(tag)

	current, err := h.rdb.PTTL(ctx, tagKey).Result()
	if err != nil {
		return err
	}
	if err := h.rdb.SAdd(ctx, tagKey, member).Err(); err != nil {
		return err
	}

	switch {
	case absolute <= 0:
		// A non-expiring member pins the whole set.
		if current >= 0 {
			return h.rdb.Persist(ctx, tagKey).Err()
		}
	case current == pttlMissing:
		// The SAdd above created the set; adopt the member's lifetime.
		return h.rdb.Expire(ctx, tagKey, absolute).Err()
	case current == pttlNoExpiry:
		// Pinned by a non-expiring member; leave it.
	case absolute > current:
		return h.rdb.Expire(ctx, tagKey, absolute).Err()
	}
	return nil
}

// InvalidateByTags removes every member of each tag's set from Redis and
// invalidates the same tags in the L1 tier.
func (h *Hybrid) InvalidateByTags(ctx context.Context, tags []string) error {
	if err := h.l1.InvalidateByTags(ctx, tags); err != nil {
		return err
	}

	err := h.retry(ctx, func() error {
		for _, tag := range tags {
			tagKey := h.tagKey(tag)

			members, err := h.rdb.SMembers(ctx, tagKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			if len(members) > 0 {
				if err := h.rdb.Del(ctx, members...).Err(); err != nil {
					return err
				}
			}
			if err := h.rdb.Del(ctx, tagKey).Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stash.ErrStoreInvalidate(err, tags)
	}

	return nil
}

// InvalidateKey removes a single entry from both tiers.
func (h *Hybrid) InvalidateKey(ctx context.Context, key string) error {
	if err := h.l1.InvalidateKey(ctx, key); err != nil {
		return err
	}

	if err := h.ensureGeneration(ctx); err != nil {
		return stash.ErrStoreInvalidate(err, nil)
	}

	err := h.retry(ctx, func() error {
		return h.rdb.Del(ctx, h.versionedKey(key)).Err()
	})
	if err != nil {
		return stash.ErrStoreInvalidate(err, nil)
	}

	return nil
}

// InvalidateAll advances the shared generation counter in Redis and the
// L1 generation. Keys written under prior generations become logically
// absent and expire out of Redis on their own TTLs.
func (h *Hybrid) InvalidateAll(ctx context.Context) error {
	if err := h.l1.InvalidateAll(ctx); err != nil {
		return err
	}

	var next int64
	err := h.retry(ctx, func() error {
		n, err := h.rdb.Incr(ctx, h.generationKey()).Result()
		if err != nil {
			return err
		}
		next = n
		return nil
	})
	if err != nil {
		return stash.ErrStoreInvalidate(err, nil)
	}

	h.gen.Store(next)
	h.genLoaded.Store(true)
	h.genFetched.Store(h.l1.clk.Now().UnixNano())

	h.logger.Info("all entries invalidated", stash.Int64("generation", next))
	return nil
}

// ensureGeneration keeps the process's mirror of the shared generation
// counter fresh. The counter is re-read at most once per
// generationRefreshInterval; when another process has advanced it, the
// local tier is flushed so stale L1 entries cannot be served.
func (h *Hybrid) ensureGeneration(ctx context.Context) error {
	if h.genLoaded.Load() && h.sinceGenFetch() < generationRefreshInterval {
		return nil
	}

	h.genMu.Lock()
	defer h.genMu.Unlock()

	if h.genLoaded.Load() && h.sinceGenFetch() < generationRefreshInterval {
		return nil
	}

	var current int64
	val, err := h.rdb.Get(ctx, h.generationKey()).Result()
	switch {
	case errors.Is(err, redis.Nil):
		current = 0
	case err != nil:
		return err
	default:
		current, err = strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("store: generation counter is not numeric: %w", err)
		}
	}

	if h.genLoaded.Load() && current != h.gen.Load() {
		// Another process invalidated everything since the last read.
		if err := h.l1.InvalidateAll(ctx); err != nil {
			return err
		}
		h.logger.Info("remote generation advance observed",
			stash.Int64("generation", current))
	}

	h.gen.Store(current)
	h.genLoaded.Store(true)
	h.genFetched.Store(h.l1.clk.Now().UnixNano())
	return nil
}

func (h *Hybrid) sinceGenFetch() time.Duration {
	return time.Duration(h.l1.clk.Now().UnixNano() - h.genFetched.Load())
}

// retry runs op with bounded exponential backoff. Misses and context
// cancellations are permanent.
func (h *Hybrid) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxL2Retries), ctx)
	return backoff.Retry(wrapped, policy)
}

func (h *Hybrid) versionedKey(key string) string {
	return h.prefix + "v" + strconv.FormatInt(h.gen.Load(), 10) + ":" + key
}

func (h *Hybrid) tagKey(tag string) string {
	return h.prefix + "tag:" + tag
}

func (h *Hybrid) generationKey() string {
	return h.prefix + "gen"
}
