package intercept

import (
	"context"
	"fmt"
	"strings"

	stash "github.com/dan-strohschein/stash"
	"github.com/dan-strohschein/stash/store"
)

// Invalidator is the manual invalidation surface for application code:
// by table, by entity type, by key, or everything.
type Invalidator struct {
	opts   *stash.Options
	store  store.Store
	stats  *stash.Stats
	logger stash.Logger
}

// NewInvalidator creates an invalidator over the given store.
func NewInvalidator(opts *stash.Options, st store.Store, stats *stash.Stats) *Invalidator {
	opts.Normalize()

	return &Invalidator{
		opts:   opts,
		store:  st,
		stats:  stats,
		logger: opts.Logger.WithFields(stash.String("component", "invalidator")),
	}
}

// InvalidateTables removes every entry depending on any of the named
// tables. Names are matched case-insensitively.
func (v *Invalidator) InvalidateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}

	lowered := make([]string, len(tables))
	for i, table := range tables {
		lowered[i] = strings.ToLower(table)
	}

	if err := v.store.InvalidateByTags(ctx, lowered); err != nil {
		v.stats.RecordError()
		return err
	}

	v.stats.RecordInvalidation(lowered)
	v.emit(stash.EventCacheInvalidated, func(ev *stash.CacheEvent) {
		ev.Tables = lowered
	})

	return nil
}

// InvalidateEntities resolves each entity to its table through the ORM
// model and invalidates those tables.
func (v *Invalidator) InvalidateEntities(ctx context.Context, model EntityModel, entities ...interface{}) error {
	seen := make(map[string]bool)
	var tables []string

	for _, entity := range entities {
		entityType, ok := model.FindEntityType(entity)
		if !ok {
			return fmt.Errorf("intercept: entity %T is not part of the model", entity)
		}

		name := strings.ToLower(entityType.TableName)
		if name != "" && !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}

	if len(tables) == 0 {
		return nil
	}

	return v.InvalidateTables(ctx, tables...)
}

// InvalidateKey removes the single entry cached under a fingerprint.
func (v *Invalidator) InvalidateKey(ctx context.Context, key string) error {
	if err := v.store.InvalidateKey(ctx, key); err != nil {
		v.stats.RecordError()
		return err
	}

	v.stats.RecordInvalidation(nil)
	v.emit(stash.EventCacheInvalidated, func(ev *stash.CacheEvent) {
		ev.Key = key
	})

	return nil
}

// InvalidateAll logically removes every cached entry.
func (v *Invalidator) InvalidateAll(ctx context.Context) error {
	if err := v.store.InvalidateAll(ctx); err != nil {
		v.stats.RecordError()
		return err
	}

	v.stats.RecordInvalidation(nil)
	v.emit(stash.EventCacheInvalidated, func(ev *stash.CacheEvent) {})

	v.logger.Info("cache flushed")
	return nil
}

func (v *Invalidator) emit(kind stash.EventKind, fill func(*stash.CacheEvent)) {
	if v.opts.OnEvent == nil {
		return
	}

	ev := stash.NewEvent(kind)
	fill(&ev)
	v.opts.Emit(ev)
}
