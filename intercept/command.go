// Package intercept contains the interceptors that sit between the ORM
// and the database driver: the command interceptor serving and admitting
// query results, the save interceptor invalidating written tables, and
// the manual invalidation API.
package intercept

import (
	"context"
	"errors"
	"strings"
	"time"

	stash "github.com/dan-strohschein/stash"
	"github.com/dan-strohschein/stash/resultset"
	"github.com/dan-strohschein/stash/store"
)

// CommandInterceptor decides, per read command, whether to serve the
// result from the cache, capture and admit a fresh result, or stay out
// of the way. One interceptor instance serves any number of concurrent
// commands.
type CommandInterceptor struct {
	opts     *stash.Options
	store    store.Store
	keys     *stash.KeyGenerator
	tables   *stash.TableExtractor
	carry    *keyCarry
	stats    *stash.Stats
	logger   stash.Logger
	excluded map[string]bool
}

// NewCommandInterceptor creates a command interceptor over the given
// store. The options are normalized in place.
func NewCommandInterceptor(opts *stash.Options, st store.Store, stats *stash.Stats) *CommandInterceptor {
	opts.Normalize()

	excluded := make(map[string]bool, len(opts.ExcludedTables))
	for _, table := range opts.ExcludedTables {
		excluded[strings.ToLower(table)] = true
	}

	return &CommandInterceptor{
		opts:     opts,
		store:    st,
		keys:     stash.NewKeyGenerator(opts.KeyPrefix),
		tables:   stash.NewTableExtractor(),
		carry:    newKeyCarry(),
		stats:    stats,
		logger:   opts.Logger.WithFields(stash.String("component", "command_interceptor")),
		excluded: excluded,
	}
}

// ReaderExecuting runs before a reader command hits the driver. A
// non-nil reader means the cache served the command and the driver call
// must be suppressed; the same reader must then be handed to
// ReaderExecuted. hasResult reports whether an earlier interceptor
// already supplied a result.
func (i *CommandInterceptor) ReaderExecuting(ctx context.Context, cmd *stash.Command, hasResult bool) (*resultset.Reader, error) {
	if !i.shouldCache(cmd.Text, hasResult) {
		return nil, nil
	}

	key := i.keys.Fingerprint(cmd)
	start := i.opts.Clock.Now()

	rs, err := i.store.Get(ctx, key)
	switch {
	case err == nil:
		i.stats.RecordHit()
		i.emit(stash.EventCacheHit, func(ev *stash.CacheEvent) {
			ev.Key = key
			ev.RowCount = rs.RowCount()
			ev.Duration = i.opts.Clock.Now().Sub(start)
		})
		return resultset.NewReader(rs), nil

	case errors.Is(err, stash.ErrNotFound):
		i.stats.RecordMiss()
		i.carry.Put(cmd, key)
		i.emit(stash.EventCacheMiss, func(ev *stash.CacheEvent) {
			ev.Key = key
		})
		return nil, nil

	default:
		return nil, i.storeFailure(key, err)
	}
}

// ReaderExecuted runs after the driver produced a reader (or after a
// cache hit suppressed it). On a hit the cached reader passes through
// untouched. On a miss the live reader is drained, the rows are admitted
// when they fit the limits, and a replay reader is returned so the ORM
// always sees the same streaming contract.
func (i *CommandInterceptor) ReaderExecuted(ctx context.Context, cmd *stash.Command, reader resultset.RowReader) (resultset.RowReader, error) {
	if cached, ok := reader.(*resultset.Reader); ok {
		i.carry.Discard(cmd)
		return cached, nil
	}

	key, ok := i.carry.Take(cmd)
	if !ok {
		return reader, nil
	}

	rs, err := resultset.Capture(ctx, reader, i.opts.MaxRowsPerQuery, i.opts.Clock)
	if err != nil {
		var limitErr *resultset.RowLimitError
		if errors.As(err, &limitErr) {
			i.stats.RecordSkip()
			i.emit(stash.EventSkippedTooManyRows, func(ev *stash.CacheEvent) {
				ev.Key = key
				ev.RowCount = limitErr.Drained.RowCount()
			})
			return resultset.NewReader(limitErr.Drained), nil
		}
		i.carry.Discard(cmd)
		return nil, err
	}

	if i.opts.MaxEntrySizeBytes > 0 && rs.SizeBytes > i.opts.MaxEntrySizeBytes {
		i.stats.RecordSkip()
		i.emit(stash.EventSkippedTooLarge, func(ev *stash.CacheEvent) {
			ev.Key = key
			ev.SizeBytes = rs.SizeBytes
		})
		return resultset.NewReader(rs), nil
	}

	absolute, sliding := i.resolveTTL(stash.ParseDirectives(cmd.Text))
	tags := i.tables.Tables(cmd.Text)

	if err := i.store.Set(ctx, key, rs, absolute, sliding, tags); err != nil {
		if !i.opts.FallbackToDatabase {
			return nil, err
		}
		i.stats.RecordError()
		i.logger.Error("cache write failed, serving live result",
			stash.String("key", key), stash.Err("error", err))
		i.emit(stash.EventCacheError, func(ev *stash.CacheEvent) {
			ev.Key = key
			ev.Err = err
		})
		i.emit(stash.EventCacheFallbackToDb, func(ev *stash.CacheEvent) {
			ev.Key = key
		})
		return resultset.NewReader(rs), nil
	}

	i.emit(stash.EventQueryResultCached, func(ev *stash.CacheEvent) {
		ev.Key = key
		ev.Tables = tags
		ev.RowCount = rs.RowCount()
		ev.SizeBytes = rs.SizeBytes
		ev.TTL = absolute
	})

	return resultset.NewReader(rs), nil
}

// ScalarExecuting is the executing phase for single-value commands. A
// true second return means the cache served the value and the driver
// call must be suppressed.
func (i *CommandInterceptor) ScalarExecuting(ctx context.Context, cmd *stash.Command, hasResult bool) (interface{}, bool, error) {
	if !i.shouldCache(cmd.Text, hasResult) {
		return nil, false, nil
	}

	key := i.keys.Fingerprint(cmd)

	rs, err := i.store.Get(ctx, key)
	switch {
	case err == nil:
		i.stats.RecordHit()
		i.emit(stash.EventCacheHit, func(ev *stash.CacheEvent) {
			ev.Key = key
			ev.RowCount = rs.RowCount()
		})
		if rs.RowCount() == 0 {
			return nil, true, nil
		}
		return rs.Rows[0][0], true, nil

	case errors.Is(err, stash.ErrNotFound):
		i.stats.RecordMiss()
		i.carry.Put(cmd, key)
		i.emit(stash.EventCacheMiss, func(ev *stash.CacheEvent) {
			ev.Key = key
		})
		return nil, false, nil

	default:
		return nil, false, i.storeFailure(key, err)
	}
}

// ScalarExecuted admits a freshly produced scalar as a one-row,
// one-column result set and returns the value unchanged.
func (i *CommandInterceptor) ScalarExecuted(ctx context.Context, cmd *stash.Command, value interface{}) (interface{}, error) {
	key, ok := i.carry.Take(cmd)
	if !ok {
		return value, nil
	}

	rs := scalarResultSet(value, i.opts.Clock.Now().UTC())

	if i.opts.MaxEntrySizeBytes > 0 && rs.SizeBytes > i.opts.MaxEntrySizeBytes {
		i.stats.RecordSkip()
		i.emit(stash.EventSkippedTooLarge, func(ev *stash.CacheEvent) {
			ev.Key = key
			ev.SizeBytes = rs.SizeBytes
		})
		return value, nil
	}

	absolute, sliding := i.resolveTTL(stash.ParseDirectives(cmd.Text))
	tags := i.tables.Tables(cmd.Text)

	if err := i.store.Set(ctx, key, rs, absolute, sliding, tags); err != nil {
		if !i.opts.FallbackToDatabase {
			return nil, err
		}
		i.stats.RecordError()
		i.emit(stash.EventCacheError, func(ev *stash.CacheEvent) {
			ev.Key = key
			ev.Err = err
		})
		i.emit(stash.EventCacheFallbackToDb, func(ev *stash.CacheEvent) {
			ev.Key = key
		})
		return value, nil
	}

	i.emit(stash.EventQueryResultCached, func(ev *stash.CacheEvent) {
		ev.Key = key
		ev.Tables = tags
		ev.RowCount = 1
		ev.SizeBytes = rs.SizeBytes
		ev.TTL = absolute
	})

	return value, nil
}

// CommandFailed drops any pending fingerprint for a command whose
// execution failed between the two phases.
func (i *CommandInterceptor) CommandFailed(cmd *stash.Command) {
	i.carry.Discard(cmd)
}

// shouldCache is the eligibility predicate. Order matters: an upstream
// result or an opt-out always wins, only SELECT/WITH statements qualify,
// an explicit opt-in beats the cache-all mode, and cache-all mode skips
// queries touching excluded tables.
func (i *CommandInterceptor) shouldCache(sql string, hasResult bool) bool {
	if hasResult {
		return false
	}

	directive := stash.ParseDirectives(sql)
	if directive.OptOut {
		return false
	}

	if !stash.IsCacheableStatement(sql) {
		return false
	}

	if directive.OptIn {
		return true
	}

	if !i.opts.CacheAllQueries {
		return false
	}

	for _, table := range i.tables.Tables(sql) {
		if i.excluded[table] {
			i.stats.RecordSkip()
			i.emit(stash.EventSkippedExcludedTable, func(ev *stash.CacheEvent) {
				ev.Tables = []string{table}
			})
			return false
		}
	}

	return true
}

// resolveTTL maps a parsed directive to concrete expirations. A
// registered profile takes precedence over inline values; global
// defaults fill whatever remains unset.
func (i *CommandInterceptor) resolveTTL(d stash.Directive) (absolute, sliding time.Duration) {
	if d.Profile != "" {
		if profile, ok := i.opts.Profiles[d.Profile]; ok {
			absolute = profile.Absolute
			sliding = profile.Sliding
			if absolute <= 0 {
				absolute = i.opts.DefaultTTL
			}
			if sliding <= 0 {
				sliding = i.opts.DefaultSliding
			}
			return absolute, sliding
		}
	}

	absolute = d.Absolute
	if absolute <= 0 {
		absolute = i.opts.DefaultTTL
	}

	sliding = d.Sliding
	if sliding <= 0 {
		sliding = i.opts.DefaultSliding
	}

	return absolute, sliding
}

// storeFailure converts a store error per the fallback policy: swallowed
// and reported when falling back, propagated verbatim otherwise.
func (i *CommandInterceptor) storeFailure(key string, err error) error {
	if !i.opts.FallbackToDatabase {
		return err
	}

	i.stats.RecordError()
	i.logger.Error("cache read failed, falling back to database",
		stash.String("key", key), stash.Err("error", err))
	i.emit(stash.EventCacheError, func(ev *stash.CacheEvent) {
		ev.Key = key
		ev.Err = err
	})
	i.emit(stash.EventCacheFallbackToDb, func(ev *stash.CacheEvent) {
		ev.Key = key
	})

	return nil
}

// emit builds and delivers an event when a sink is configured.
func (i *CommandInterceptor) emit(kind stash.EventKind, fill func(*stash.CacheEvent)) {
	if i.opts.OnEvent == nil {
		return
	}

	ev := stash.NewEvent(kind)
	fill(&ev)
	i.opts.Emit(ev)
}

// scalarResultSet wraps a single value as a one-row, one-column result
// set so scalars ride the same caching pipeline as row sets.
func scalarResultSet(value interface{}, capturedAt time.Time) *resultset.ResultSet {
	columns := []resultset.Column{{
		Name:     "value",
		Ordinal:  0,
		Type:     resultset.TypeString,
		Nullable: true,
	}}

	normalized := resultset.Normalize(value)
	rows := [][]interface{}{{normalized}}

	rs := &resultset.ResultSet{
		Columns:         columns,
		Rows:            rows,
		RecordsAffected: -1,
		SizeBytes:       resultset.EstimateSize(columns, rows),
		CapturedAt:      capturedAt,
	}

	if normalized != nil {
		if t, ok := resultset.TypeOf(normalized); ok {
			rs.Columns[0].Type = t
		}
	}

	return rs
}
