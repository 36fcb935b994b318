package intercept

import (
	"context"
	"sync"

	stash "github.com/dan-strohschein/stash"
	"github.com/dan-strohschein/stash/store"
)

// SaveInterceptor invalidates cached queries when the ORM commits
// writes. The affected tables must be captured before the save runs,
// because the tracker's state transitions after a successful commit
// (Added becomes Unchanged) erase the information; the invalidation must
// run after the save, so concurrent readers cannot re-admit results that
// the pending write is about to make stale.
type SaveInterceptor struct {
	opts   *stash.Options
	store  store.Store
	stats  *stash.Stats
	logger stash.Logger

	slots sync.Map // Session -> []string tables
}

// NewSaveInterceptor creates a save interceptor over the given store.
func NewSaveInterceptor(opts *stash.Options, st store.Store, stats *stash.Stats) *SaveInterceptor {
	opts.Normalize()

	return &SaveInterceptor{
		opts:   opts,
		store:  st,
		stats:  stats,
		logger: opts.Logger.WithFields(stash.String("component", "save_interceptor")),
	}
}

// SavingChanges captures the table set the pending save will modify and
// parks it in the session's slot. Called before the save executes.
func (i *SaveInterceptor) SavingChanges(session Session) {
	tables := modifiedTables(session)
	if len(tables) == 0 {
		return
	}

	i.slots.Store(session, tables)

	i.logger.Debug("pending invalidation captured",
		stash.Strings("tables", tables))
}

// SavedChanges consumes the session's slot and invalidates the captured
// tables. Called after the save committed successfully.
func (i *SaveInterceptor) SavedChanges(ctx context.Context, session Session) error {
	value, ok := i.slots.LoadAndDelete(session)
	if !ok {
		return nil
	}

	tables := value.([]string)

	if err := i.store.InvalidateByTags(ctx, tables); err != nil {
		i.stats.RecordError()
		i.logger.Error("post-save invalidation failed",
			stash.Strings("tables", tables), stash.Err("error", err))
		if !i.opts.FallbackToDatabase {
			return err
		}
		i.emit(stash.EventCacheError, tables, err)
		return nil
	}

	i.stats.RecordInvalidation(tables)
	i.emit(stash.EventCacheInvalidated, tables, nil)

	return nil
}

// SaveFailed discards the session's slot without touching the cache.
// Called when the save aborts; no event fires.
func (i *SaveInterceptor) SaveFailed(session Session) {
	i.slots.LoadAndDelete(session)
}

func (i *SaveInterceptor) emit(kind stash.EventKind, tables []string, err error) {
	if i.opts.OnEvent == nil {
		return
	}

	ev := stash.NewEvent(kind)
	ev.Tables = tables
	ev.Err = err
	i.opts.Emit(ev)
}
