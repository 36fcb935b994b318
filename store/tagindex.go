package store

import "sync"

// tagIndex is the bidirectional association between tags and cache keys:
// tag -> set of keys, and key -> set of tags. Both directions use
// lock-free maps so the post-eviction callback can clean dangling rows
// without taking the store's critical section; only that critical
// section may mutate both directions for the same key at once.
type tagIndex struct {
	tags sync.Map // string tag -> *sync.Map (string key -> struct{})
	keys sync.Map // string key -> []string tags
}

func newTagIndex() *tagIndex {
	return &tagIndex{}
}

// put installs key -> tags and adds key to every tag's set, replacing
// any prior rows for the key. Callers serialize put/collect through the
// store's critical section.
func (x *tagIndex) put(key string, tags []string) {
	x.removeKey(key)

	if len(tags) == 0 {
		return
	}

	stored := make([]string, len(tags))
	copy(stored, tags)
	x.keys.Store(key, stored)

	for _, tag := range tags {
		set, _ := x.tags.LoadOrStore(tag, &sync.Map{})
		set.(*sync.Map).Store(key, struct{}{})
	}
}

// removeKey deletes every row referencing key, in both directions. It
// uses only lock-free operations and is safe to call from the memory
// primitive's eviction callback.
func (x *tagIndex) removeKey(key string) {
	tags, ok := x.keys.LoadAndDelete(key)
	if !ok {
		return
	}

	for _, tag := range tags.([]string) {
		if set, ok := x.tags.Load(tag); ok {
			set.(*sync.Map).Delete(key)
		}
	}
}

// collect removes the given tags from the index and returns the union of
// keys they referenced. Cross-references of the collected keys in other
// tags' sets are cleaned as well.
func (x *tagIndex) collect(tags []string) []string {
	seen := make(map[string]bool)
	var keys []string

	for _, tag := range tags {
		set, ok := x.tags.LoadAndDelete(tag)
		if !ok {
			continue
		}

		set.(*sync.Map).Range(func(k, _ interface{}) bool {
			key := k.(string)
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
			return true
		})
	}

	for _, key := range keys {
		x.removeKey(key)
	}

	return keys
}

// tagsForKey returns a copy of the tags recorded for key.
func (x *tagIndex) tagsForKey(key string) []string {
	tags, ok := x.keys.Load(key)
	if !ok {
		return nil
	}

	stored := tags.([]string)
	out := make([]string, len(stored))
	copy(out, stored)
	return out
}

// clear drops every row in both directions.
func (x *tagIndex) clear() {
	x.tags.Range(func(k, _ interface{}) bool {
		x.tags.Delete(k)
		return true
	})
	x.keys.Range(func(k, _ interface{}) bool {
		x.keys.Delete(k)
		return true
	})
}
