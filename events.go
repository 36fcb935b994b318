package stash

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies an observable cache outcome.
type EventKind string

const (
	EventCacheHit             EventKind = "CacheHit"
	EventCacheMiss            EventKind = "CacheMiss"
	EventQueryResultCached    EventKind = "QueryResultCached"
	EventCacheInvalidated     EventKind = "CacheInvalidated"
	EventCacheError           EventKind = "CacheError"
	EventSkippedTooManyRows   EventKind = "SkippedTooManyRows"
	EventSkippedTooLarge      EventKind = "SkippedTooLarge"
	EventSkippedExcludedTable EventKind = "SkippedExcludedTable"
	EventCacheFallbackToDb    EventKind = "CacheFallbackToDb"
)

// CacheEvent is the payload delivered to the configured event sink.
// Only the fields relevant to the event kind are populated.
type CacheEvent struct {
	Kind      EventKind
	TraceID   string
	Key       string
	Tables    []string
	RowCount  int
	SizeBytes int64
	TTL       time.Duration
	Duration  time.Duration
	Err       error
}

// NewEvent creates a CacheEvent of the given kind with a fresh trace ID.
func NewEvent(kind EventKind) CacheEvent {
	return CacheEvent{
		Kind:    kind,
		TraceID: uuid.NewString(),
	}
}

// Stats tracks cache performance counters. All counters are safe for
// concurrent use and monotonic except across an explicit Reset.
type Stats struct {
	hits          atomic.Int64
	misses        atomic.Int64
	errors        atomic.Int64
	skips         atomic.Int64
	invalidations atomic.Int64
	bytesCached   atomic.Int64

	perTable sync.Map // map[string]*atomic.Int64, invalidations per table
}

// RecordHit increments the hit counter.
func (s *Stats) RecordHit() { s.hits.Add(1) }

// RecordMiss increments the miss counter.
func (s *Stats) RecordMiss() { s.misses.Add(1) }

// RecordError increments the error counter.
func (s *Stats) RecordError() { s.errors.Add(1) }

// RecordSkip increments the skip counter.
func (s *Stats) RecordSkip() { s.skips.Add(1) }

// RecordInvalidation increments the invalidation counter, and the
// per-table counters for each named table.
func (s *Stats) RecordInvalidation(tables []string) {
	s.invalidations.Add(1)

	for _, table := range tables {
		counter, _ := s.perTable.LoadOrStore(table, &atomic.Int64{})
		counter.(*atomic.Int64).Add(1)
	}
}

// RecordBytesAdmitted adds to the cached-byte gauge when an entry is
// admitted.
func (s *Stats) RecordBytesAdmitted(n int64) { s.bytesCached.Add(n) }

// RecordBytesEvicted subtracts from the cached-byte gauge when an entry
// is evicted or invalidated.
func (s *Stats) RecordBytesEvicted(n int64) { s.bytesCached.Add(-n) }

// Hits returns the hit count.
func (s *Stats) Hits() int64 { return s.hits.Load() }

// Misses returns the miss count.
func (s *Stats) Misses() int64 { return s.misses.Load() }

// Errors returns the error count.
func (s *Stats) Errors() int64 { return s.errors.Load() }

// Skips returns the skip count.
func (s *Stats) Skips() int64 { return s.skips.Load() }

// Invalidations returns the total invalidation count.
func (s *Stats) Invalidations() int64 { return s.invalidations.Load() }

// BytesCached returns the current cached-byte gauge.
func (s *Stats) BytesCached() int64 { return s.bytesCached.Load() }

// Requests returns the total number of cache lookups observed.
func (s *Stats) Requests() int64 { return s.hits.Load() + s.misses.Load() }

// HitRatePercent returns the hit rate as a percentage, or 0 when no
// requests have been observed.
func (s *Stats) HitRatePercent() float64 {
	total := s.Requests()
	if total == 0 {
		return 0
	}
	return float64(s.hits.Load()) / float64(total) * 100
}

// TableInvalidations returns the invalidation count for a single table.
func (s *Stats) TableInvalidations(table string) int64 {
	counter, ok := s.perTable.Load(table)
	if !ok {
		return 0
	}
	return counter.(*atomic.Int64).Load()
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.errors.Store(0)
	s.skips.Store(0)
	s.invalidations.Store(0)
	s.bytesCached.Store(0)

	s.perTable.Range(func(key, _ interface{}) bool {
		s.perTable.Delete(key)
		return true
	})
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Hits           int64
	Misses         int64
	Errors         int64
	Skips          int64
	Invalidations  int64
	BytesCached    int64
	HitRatePercent float64
	PerTable       map[string]int64
}

// Snapshot returns a copy of the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Hits:           s.hits.Load(),
		Misses:         s.misses.Load(),
		Errors:         s.errors.Load(),
		Skips:          s.skips.Load(),
		Invalidations:  s.invalidations.Load(),
		BytesCached:    s.bytesCached.Load(),
		HitRatePercent: s.HitRatePercent(),
		PerTable:       map[string]int64{},
	}

	s.perTable.Range(func(key, value interface{}) bool {
		snap.PerTable[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	return snap
}
