package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIndex_PutGet(t *testing.T) {
	ix := newKeyIndex()
	ix.Put("b", &location{offset: 1})
	ix.Put("a", &location{offset: 2})

	loc, ok := ix.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(2), loc.offset)
	assert.Equal(t, 2, ix.Len())
}

func TestKeyIndex_PutOverwritesExistingKey(t *testing.T) {
	ix := newKeyIndex()
	ix.Put("k", &location{offset: 1})
	ix.Put("k", &location{offset: 2})

	loc, ok := ix.Get("k")
	require.True(t, ok)
	assert.Equal(t, int64(2), loc.offset)
	assert.Equal(t, 1, ix.Len(), "overwrite must not grow the index")
}

func TestKeyIndex_GetMissing(t *testing.T) {
	ix := newKeyIndex()
	_, ok := ix.Get("missing")
	assert.False(t, ok)
}

func TestKeyIndex_Delete(t *testing.T) {
	ix := newKeyIndex()
	ix.Put("k", &location{offset: 1})
	assert.True(t, ix.Delete("k"))
	assert.False(t, ix.Delete("k"), "deleting an absent key must report false")
	_, ok := ix.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, ix.Len())
}

func TestKeyIndex_RangeVisitsInAscendingOrder(t *testing.T) {
	ix := newKeyIndex()
	for _, k := range []string{"c", "a", "d", "b"} {
		ix.Put(k, &location{})
	}

	var seen []string
	ix.Range(func(key string, loc *location) bool {
		seen = append(seen, key)
		return true
	})
	assert.Equal(t, []string{"a", "b", "c", "d"}, seen)
}

func TestKeyIndex_RangeStopsEarly(t *testing.T) {
	ix := newKeyIndex()
	for _, k := range []string{"a", "b", "c"} {
		ix.Put(k, &location{})
	}

	var seen []string
	ix.Range(func(key string, loc *location) bool {
		seen = append(seen, key)
		return key != "b"
	})
	assert.Equal(t, []string{"a", "b"}, seen)
}
