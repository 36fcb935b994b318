package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stash "github.com/dan-strohschein/stash"
)

// fakeRedis is an in-memory stand-in for the external tier. It implements
// the command slice the hybrid store uses and can inject transient
// failures to exercise the retry policy.
type fakeRedis struct {
	mu      sync.Mutex
	strings map[string]string
	ttls    map[string]time.Duration
	sets    map[string]map[string]struct{}

	// getFailures makes the next N Get calls fail with a transient error.
	getFailures int
	getCalls    int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: map[string]string{},
		ttls:    map[string]time.Duration{},
		sets:    map[string]map[string]struct{}{},
	}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++
	if f.getFailures > 0 {
		f.getFailures--
		return redis.NewStringResult("", errors.New("connection reset"))
	}

	v, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch v := value.(type) {
	case []byte:
		f.strings[key] = string(v)
	case string:
		f.strings[key] = v
	default:
		f.strings[key] = fmt.Sprint(v)
	}
	if expiration > 0 {
		f.ttls[key] = expiration
	} else {
		delete(f.ttls, key)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed int64
	for _, key := range keys {
		if _, ok := f.strings[key]; ok {
			delete(f.strings, key)
			delete(f.ttls, key)
			removed++
		}
		if _, ok := f.sets[key]; ok {
			delete(f.sets, key)
			delete(f.ttls, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.sets[key]
	if !ok {
		set = map[string]struct{}{}
		f.sets[key] = set
	}
	for _, m := range members {
		set[fmt.Sprint(m)] = struct{}{}
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	var members []string
	for m := range f.sets[key] {
		members = append(members, m)
	}
	return redis.NewStringSliceResult(members, nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, _ := strconv.ParseInt(f.strings[key], 10, 64)
	n++
	f.strings[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Persist(ctx context.Context, key string) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, had := f.ttls[key]
	delete(f.ttls, key)
	return redis.NewBoolResult(had, nil)
}

func (f *fakeRedis) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ttl, ok := f.ttls[key]; ok {
		return redis.NewDurationResult(ttl, nil)
	}
	_, hasString := f.strings[key]
	_, hasSet := f.sets[key]
	if hasString || hasSet {
		return redis.NewDurationResult(pttlNoExpiry, nil)
	}
	return redis.NewDurationResult(pttlMissing, nil)
}

var _ redisClient = (*fakeRedis)(nil)

// newTestHybrid builds a hybrid store over the fake external tier. The
// mock clock keeps the generation refresh window from lapsing mid-test.
func newTestHybrid(f *fakeRedis) *Hybrid {
	return newTestHybridAt(f, clock.NewMock())
}

func newTestHybridAt(f *fakeRedis, clk clock.Clock) *Hybrid {
	h := NewHybrid(HybridOptions{Local: LocalOptions{Clock: clk}})
	h.rdb = f
	return h
}

func TestHybridSetGet(t *testing.T) {
	fake := newFakeRedis()
	h := newTestHybrid(fake)
	ctx := context.Background()

	rs := sampleResult(100, int64(1))
	require.NoError(t, h.Set(ctx, "k1", rs, 5*time.Minute, 0, []string{"products"}))

	// Versioned key and tag set landed in the external tier.
	assert.Contains(t, fake.strings, "stash:v0:k1")
	assert.Contains(t, fake.sets, "stash:tag:products")

	before := fake.getCalls
	got, err := h.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Same(t, rs, got) // L1 serves the original

	// L1 answered; the external tier saw no payload fetch.
	assert.Equal(t, before, fake.getCalls)
}

func TestHybridL2HitRehydratesL1(t *testing.T) {
	fake := newFakeRedis()
	writer := newTestHybrid(fake)
	reader := newTestHybrid(fake)
	ctx := context.Background()

	rs := sampleResult(100, int64(1), int64(2))
	require.NoError(t, writer.Set(ctx, "k1", rs, 5*time.Minute, 0, []string{"products"}))

	// A second process has a cold L1 and hits the external tier.
	got, err := reader.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RowCount())
	assert.Equal(t, int64(1), got.Rows[0][0])

	// The entry was rehydrated into the reader's L1.
	assert.Equal(t, 1, reader.l1.Len())
}

func TestHybridTagInvalidationReachesRehydratedEntries(t *testing.T) {
	fake := newFakeRedis()
	writer := newTestHybrid(fake)
	reader := newTestHybrid(fake)
	ctx := context.Background()

	require.NoError(t, writer.Set(ctx, "k1", sampleResult(10, int64(1)), 5*time.Minute, 0, []string{"products"}))

	// The reader pulls the entry out of L2 into its own L1.
	_, err := reader.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, 1, reader.l1.Len())

	// Tag invalidation must remove the rehydrated L1 copy too, not just
	// the L2 copy.
	require.NoError(t, reader.InvalidateByTags(ctx, []string{"products"}))

	_, err = reader.Get(ctx, "k1")
	assert.True(t, errors.Is(err, stash.ErrNotFound))
	assert.Equal(t, 0, reader.l1.Len())
}

func TestHybridMiss(t *testing.T) {
	h := newTestHybrid(newFakeRedis())

	_, err := h.Get(context.Background(), "absent")
	assert.True(t, errors.Is(err, stash.ErrNotFound))
}

func TestHybridCorruptPayloadIsAMiss(t *testing.T) {
	fake := newFakeRedis()
	h := newTestHybrid(fake)
	ctx := context.Background()

	fake.strings["stash:v0:k1"] = `{"payload":{"columns":[{"name":"X","ordinal":0,"type":"object"}],"rows":[]}}`

	_, err := h.Get(ctx, "k1")
	assert.True(t, errors.Is(err, stash.ErrNotFound))

	// The unreadable payload was dropped.
	assert.NotContains(t, fake.strings, "stash:v0:k1")
}

func TestHybridInvalidateByTags(t *testing.T) {
	fake := newFakeRedis()
	h := newTestHybrid(fake)
	ctx := context.Background()

	require.NoError(t, h.Set(ctx, "k1", sampleResult(10), 5*time.Minute, 0, []string{"products"}))
	require.NoError(t, h.Set(ctx, "k2", sampleResult(10), 5*time.Minute, 0, []string{"orders"}))

	require.NoError(t, h.InvalidateByTags(ctx, []string{"products"}))

	_, err := h.Get(ctx, "k1")
	assert.True(t, errors.Is(err, stash.ErrNotFound))
	assert.NotContains(t, fake.sets, "stash:tag:products")

	_, err = h.Get(ctx, "k2")
	assert.NoError(t, err)
}

func TestHybridTagSetOutlivesLongestMember(t *testing.T) {
	fake := newFakeRedis()
	h := newTestHybrid(fake)
	ctx := context.Background()

	require.NoError(t, h.Set(ctx, "long", sampleResult(10), time.Hour, 0, []string{"products"}))

	// A short-lived member must not shrink the tag set's lifetime below
	// the long-lived member's.
	require.NoError(t, h.Set(ctx, "short", sampleResult(10), time.Second, 0, []string{"products"}))
	assert.Equal(t, time.Hour, fake.ttls["stash:tag:products"])

	// A longer-lived member extends it.
	require.NoError(t, h.Set(ctx, "longer", sampleResult(10), 2*time.Hour, 0, []string{"products"}))
	assert.Equal(t, 2*time.Hour, fake.ttls["stash:tag:products"])

	// Tag invalidation still reaches the long-lived member.
	require.NoError(t, h.InvalidateByTags(ctx, []string{"products"}))
	cold := newTestHybrid(fake)
	_, err := cold.Get(ctx, "long")
	assert.True(t, errors.Is(err, stash.ErrNotFound))
}

func TestHybridNonExpiringMemberPinsTagSet(t *testing.T) {
	fake := newFakeRedis()
	h := newTestHybrid(fake)
	ctx := context.Background()

	require.NoError(t, h.Set(ctx, "k1", sampleResult(10), time.Minute, 0, []string{"products"}))
	require.NoError(t, h.Set(ctx, "k2", sampleResult(10), 0, 0, []string{"products"}))

	// The non-expiring member removed the set's TTL.
	_, hasTTL := fake.ttls["stash:tag:products"]
	assert.False(t, hasTTL)

	// A later expiring member must not reintroduce one.
	require.NoError(t, h.Set(ctx, "k3", sampleResult(10), time.Second, 0, []string{"products"}))
	_, hasTTL = fake.ttls["stash:tag:products"]
	assert.False(t, hasTTL)
}

func TestHybridInvalidateKey(t *testing.T) {
	fake := newFakeRedis()
	h := newTestHybrid(fake)
	ctx := context.Background()

	require.NoError(t, h.Set(ctx, "k1", sampleResult(10), 5*time.Minute, 0, nil))
	require.NoError(t, h.InvalidateKey(ctx, "k1"))

	_, err := h.Get(ctx, "k1")
	assert.True(t, errors.Is(err, stash.ErrNotFound))
	assert.NotContains(t, fake.strings, "stash:v0:k1")
}

func TestHybridInvalidateAllAdvancesSharedGeneration(t *testing.T) {
	fake := newFakeRedis()
	first := newTestHybrid(fake)
	ctx := context.Background()

	require.NoError(t, first.Set(ctx, "k1", sampleResult(10), 5*time.Minute, 0, nil))
	require.NoError(t, first.InvalidateAll(ctx))

	// The old versioned key still exists physically but is invisible.
	assert.Contains(t, fake.strings, "stash:v0:k1")
	_, err := first.Get(ctx, "k1")
	assert.True(t, errors.Is(err, stash.ErrNotFound))

	// A second process picks up the advanced generation on first use.
	second := newTestHybrid(fake)
	_, err = second.Get(ctx, "k1")
	assert.True(t, errors.Is(err, stash.ErrNotFound))

	// Writes land under the new generation and are visible to both.
	require.NoError(t, second.Set(ctx, "k2", sampleResult(10), 5*time.Minute, 0, nil))
	assert.Contains(t, fake.strings, "stash:v1:k2")
}

func TestHybridObservesRemoteInvalidateAll(t *testing.T) {
	fake := newFakeRedis()
	mock := clock.NewMock()
	flusher := newTestHybrid(fake)
	observer := newTestHybridAt(fake, mock)
	ctx := context.Background()

	require.NoError(t, flusher.Set(ctx, "k1", sampleResult(10, int64(1)), time.Hour, 0, nil))

	// The observer warms up: generation mirrored, entry rehydrated into
	// its L1.
	_, err := observer.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, 1, observer.l1.Len())

	require.NoError(t, flusher.InvalidateAll(ctx))

	// Once the refresh window lapses, the observer re-reads the shared
	// counter, drops its local tier and reports the entry gone.
	mock.Add(2 * generationRefreshInterval)
	_, err = observer.Get(ctx, "k1")
	assert.True(t, errors.Is(err, stash.ErrNotFound))
	assert.Equal(t, 0, observer.l1.Len())
}

func TestHybridRetriesTransientFailures(t *testing.T) {
	fake := newFakeRedis()
	writer := newTestHybrid(fake)
	reader := newTestHybrid(fake)
	ctx := context.Background()

	require.NoError(t, writer.Set(ctx, "k1", sampleResult(10), 5*time.Minute, 0, nil))

	// Warm the reader's generation mirror, then make the payload fetch
	// fail once and succeed on retry.
	_, err := reader.Get(ctx, "warmup-miss")
	require.True(t, errors.Is(err, stash.ErrNotFound))

	fake.getFailures = 1
	got, err := reader.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.RowCount())
}

func TestHybridGivesUpAfterRetryBudget(t *testing.T) {
	fake := newFakeRedis()
	h := newTestHybrid(fake)
	ctx := context.Background()

	require.NoError(t, h.Set(ctx, "k1", sampleResult(10), 5*time.Minute, 0, nil))

	// More consecutive failures than the retry budget allows.
	fake.getFailures = 10

	// Use a second instance so L1 cannot answer.
	cold := newTestHybrid(fake)
	_, err := cold.Get(ctx, "k1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, stash.ErrNotFound))
}
