// Package store provides the cache stores that hold materialized query
// results: a local in-process variant and a hybrid variant that layers
// the local store over an external Redis tier.
package store

import (
	"context"
	"time"

	"github.com/dan-strohschein/stash/resultset"
)

// Store is the contract shared by both store variants. All methods are
// safe for concurrent use.
type Store interface {
	// Get returns the result set cached under key, or stash.ErrNotFound.
	Get(ctx context.Context, key string) (*resultset.ResultSet, error)

	// Set caches a result set under key with an absolute expiration, an
	// optional sliding window (zero disables it) and the set of table
	// tags the entry depends on. An existing entry for the key is
	// replaced atomically.
	Set(ctx context.Context, key string, rs *resultset.ResultSet, absolute, sliding time.Duration, tags []string) error

	// InvalidateByTags removes every entry that carries any of the tags.
	InvalidateByTags(ctx context.Context, tags []string) error

	// InvalidateKey removes a single entry.
	InvalidateKey(ctx context.Context, key string) error

	// InvalidateAll logically removes every entry by bumping the store
	// generation. Stale entries are discarded lazily on their next Get.
	InvalidateAll(ctx context.Context) error
}
