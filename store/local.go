package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	gocache "github.com/patrickmn/go-cache"

	stash "github.com/dan-strohschein/stash"
	"github.com/dan-strohschein/stash/resultset"
)

// localEntry is the value stored in the memory map. lastAccess backs the
// sliding window and is touched atomically on every hit.
type localEntry struct {
	rs         *resultset.ResultSet
	generation int64
	sliding    time.Duration
	size       int64
	lastAccess atomic.Int64 // unix nanoseconds
}

// LocalOptions configures the local store.
type LocalOptions struct {
	// CleanupInterval is how often expired entries are swept from the
	// memory map. Default: 1 minute.
	CleanupInterval time.Duration

	// Logger is the logger implementation to use. If nil, a no-op
	// logger is used.
	Logger stash.Logger

	// Stats, if non-nil, receives byte-gauge deltas on admit and evict.
	Stats *stash.Stats

	// Clock supplies wall-clock time for sliding windows.
	Clock clock.Clock
}

// Local is the in-process store variant: a key -> entry memory map with
// per-entry expirations, a bidirectional tag index and a generation
// counter for bulk invalidation.
type Local struct {
	mem        *gocache.Cache
	index      *tagIndex
	generation atomic.Int64
	clk        clock.Clock
	logger     stash.Logger
	stats      *stash.Stats

	// mu is the critical section coordinating both directions of the
	// tag index with the memory map. The eviction callback never takes
	// it: eviction can fire in the middle of an insertion.
	mu sync.Mutex
}

var _ Store = (*Local)(nil)

// NewLocal creates a local store.
func NewLocal(opts LocalOptions) *Local {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = stash.NewNoopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	l := &Local{
		mem:    gocache.New(gocache.NoExpiration, opts.CleanupInterval),
		index:  newTagIndex(),
		clk:    opts.Clock,
		logger: opts.Logger.WithFields(stash.String("component", "local_store")),
		stats:  opts.Stats,
	}

	l.mem.OnEvicted(l.onEvicted)
	return l
}

// onEvicted cleans dangling tag-index rows when the memory map drops an
// entry for TTL or explicit deletion. Lock-free by construction.
func (l *Local) onEvicted(key string, value interface{}) {
	l.index.removeKey(key)

	if entry, ok := value.(*localEntry); ok && l.stats != nil {
		l.stats.RecordBytesEvicted(entry.size)
	}
}

// Get returns the cached result set for key. Entries written under a
// prior generation, or whose sliding window has lapsed, are removed and
// reported as absent.
func (l *Local) Get(ctx context.Context, key string) (*resultset.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value, found := l.mem.Get(key)
	if !found {
		return nil, stash.ErrNotFound
	}

	entry := value.(*localEntry)

	if entry.generation < l.generation.Load() {
		l.mem.Delete(key)
		return nil, stash.ErrNotFound
	}

	if entry.sliding > 0 {
		now := l.clk.Now().UnixNano()
		if now-entry.lastAccess.Load() > int64(entry.sliding) {
			l.mem.Delete(key)
			return nil, stash.ErrNotFound
		}
		entry.lastAccess.Store(now)
	}

	return entry.rs, nil
}

// Set caches a result set under key. Under a single critical section it
// replaces the key's tag-index rows, installs the new tag associations
// and inserts the entry into the memory map with the given expirations.
func (l *Local) Set(ctx context.Context, key string, rs *resultset.ResultSet, absolute, sliding time.Duration, tags []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := &localEntry{
		rs:         rs,
		generation: l.generation.Load(),
		sliding:    sliding,
		size:       rs.SizeBytes,
	}
	entry.lastAccess.Store(l.clk.Now().UnixNano())

	l.mu.Lock()
	defer l.mu.Unlock()

	// Deleting the prior entry first keeps the byte gauge balanced: the
	// eviction callback accounts for it.
	if _, found := l.mem.Get(key); found {
		l.mem.Delete(key)
	}

	l.index.put(key, tags)

	ttl := absolute
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	l.mem.Set(key, entry, ttl)

	if l.stats != nil {
		l.stats.RecordBytesAdmitted(entry.size)
	}

	l.logger.Debug("entry admitted",
		stash.String("key", key),
		stash.Int64("size_bytes", entry.size),
		stash.Int("rows", rs.RowCount()),
		stash.Duration("ttl", absolute),
		stash.Strings("tags", tags))

	return nil
}

// InvalidateByTags removes the tags from the index, collects the union
// of keys they referenced and drops those entries from the memory map.
func (l *Local) InvalidateByTags(ctx context.Context, tags []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	keys := l.index.collect(tags)
	for _, key := range keys {
		l.mem.Delete(key)
	}
	l.mu.Unlock()

	l.logger.Debug("entries invalidated by tags",
		stash.Strings("tags", tags),
		stash.Int("keys", len(keys)))

	return nil
}

// InvalidateKey removes a single entry. The eviction callback cleans its
// tag-index rows.
func (l *Local) InvalidateKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mem.Delete(key)
	return nil
}

// InvalidateAll bumps the generation counter and clears the tag index.
// Entries written under prior generations are discovered stale on their
// next Get; no per-key sweep runs.
func (l *Local) InvalidateAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.generation.Add(1)
	l.index.clear()

	l.logger.Info("all entries invalidated",
		stash.Int64("generation", l.generation.Load()))

	return nil
}

// Generation returns the current store generation.
func (l *Local) Generation() int64 {
	return l.generation.Load()
}

// Len returns the number of physical entries in the memory map,
// including entries stale under the current generation.
func (l *Local) Len() int {
	return l.mem.ItemCount()
}
