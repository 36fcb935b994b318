package stash

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Profile is a named preset of expiration settings that queries can select
// with a "Stash:Profile=<name>" directive.
type Profile struct {
	// Absolute is the absolute time-to-live for entries cached under this
	// profile. Zero means "use the global default".
	Absolute time.Duration

	// Sliding is the sliding window for entries cached under this profile.
	// Zero means "use the global default".
	Sliding time.Duration
}

// Options configures the cache behavior.
type Options struct {
	// DefaultTTL is the absolute expiration applied to entries whose
	// directive or profile does not set one.
	// Default: 30 minutes
	DefaultTTL time.Duration

	// DefaultSliding is the sliding expiration applied to entries whose
	// directive or profile does not set one. Zero disables the default
	// sliding window.
	// Default: 0 (disabled)
	DefaultSliding time.Duration

	// KeyPrefix is prepended to every cache key. Useful when several
	// applications share one external cache.
	// Default: "stash:"
	KeyPrefix string

	// CacheAllQueries makes every SELECT/WITH query eligible for caching
	// without an explicit directive. Queries touching ExcludedTables are
	// still skipped.
	// Default: false
	CacheAllQueries bool

	// ExcludedTables lists table names that are never cached under
	// CacheAllQueries. Comparison is case-insensitive.
	ExcludedTables []string

	// MaxRowsPerQuery is the upper bound on the number of rows admitted
	// into a single cache entry. Queries producing more rows are executed
	// normally but never cached.
	// Default: 10000
	MaxRowsPerQuery int

	// MaxEntrySizeBytes is the upper bound on the estimated byte size of a
	// single cache entry. Zero disables the limit.
	// Default: 0 (disabled)
	MaxEntrySizeBytes int64

	// FallbackToDatabase controls error propagation for cache store
	// failures. When true, store errors are logged and emitted as events
	// and the query proceeds against the database. When false, store
	// errors propagate to the caller.
	// Default: true
	FallbackToDatabase bool

	// Profiles maps profile names to expiration presets.
	Profiles map[string]Profile

	// OnEvent, if non-nil, receives a CacheEvent for every observable
	// cache outcome (hit, miss, admit, skip, invalidation, error).
	OnEvent func(CacheEvent)

	// MinimumHitRatePercent is the hit-rate threshold below which the
	// health probe reports a degraded status.
	// Default: 0 (any hit rate is healthy)
	MinimumHitRatePercent float64

	// Logger is the logger implementation to use.
	// If nil, a no-op logger is used.
	Logger Logger

	// Clock supplies wall-clock time. Tests substitute a mock clock to
	// exercise expiration behavior.
	// If nil, the real clock is used.
	Clock clock.Clock
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		DefaultTTL:         30 * time.Minute,
		DefaultSliding:     0,
		KeyPrefix:          "stash:",
		CacheAllQueries:    false,
		MaxRowsPerQuery:    10000,
		MaxEntrySizeBytes:  0,
		FallbackToDatabase: true,
		Profiles:           map[string]Profile{},
	}
}

// Normalize fills zero-valued collaborators with their defaults and
// returns the receiver for chaining.
func (o *Options) Normalize() *Options {
	if o.Logger == nil {
		o.Logger = NewNoopLogger()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Profiles == nil {
		o.Profiles = map[string]Profile{}
	}
	return o
}

// Emit delivers an event to the configured sink, if any.
func (o *Options) Emit(ev CacheEvent) {
	if o.OnEvent != nil {
		o.OnEvent(ev)
	}
}
