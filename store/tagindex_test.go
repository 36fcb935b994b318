package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagIndexPutAndCollect(t *testing.T) {
	x := newTagIndex()

	x.put("k1", []string{"products", "orders"})
	x.put("k2", []string{"products"})
	x.put("k3", []string{"users"})

	keys := x.collect([]string{"products"})
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

	// k1 was referenced by "orders" too; the cross-reference is cleaned.
	assert.Empty(t, x.collect([]string{"orders"}))

	assert.ElementsMatch(t, []string{"k3"}, x.collect([]string{"users"}))
}

func TestTagIndexPutReplacesPriorRows(t *testing.T) {
	x := newTagIndex()

	x.put("k1", []string{"products"})
	x.put("k1", []string{"orders"})

	assert.Empty(t, x.collect([]string{"products"}))
	assert.ElementsMatch(t, []string{"k1"}, x.collect([]string{"orders"}))
}

func TestTagIndexRemoveKey(t *testing.T) {
	x := newTagIndex()

	x.put("k1", []string{"products", "orders"})
	x.put("k2", []string{"products"})

	x.removeKey("k1")

	assert.Nil(t, x.tagsForKey("k1"))
	assert.ElementsMatch(t, []string{"k2"}, x.collect([]string{"products", "orders"}))

	// Removing an unknown key is a no-op.
	x.removeKey("missing")
}

func TestTagIndexTagsForKey(t *testing.T) {
	x := newTagIndex()

	x.put("k1", []string{"products", "orders"})

	tags := x.tagsForKey("k1")
	assert.ElementsMatch(t, []string{"products", "orders"}, tags)

	// The returned slice is a copy.
	tags[0] = "mutated"
	assert.ElementsMatch(t, []string{"products", "orders"}, x.tagsForKey("k1"))
}

func TestTagIndexClear(t *testing.T) {
	x := newTagIndex()

	x.put("k1", []string{"products"})
	x.put("k2", []string{"orders"})

	x.clear()

	assert.Nil(t, x.tagsForKey("k1"))
	assert.Empty(t, x.collect([]string{"products", "orders"}))
}

func TestTagIndexCollectUnknownTags(t *testing.T) {
	x := newTagIndex()
	assert.Empty(t, x.collect([]string{"nothing"}))
}
