package revision

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_PublishAndCurrent(t *testing.T) {
	m := New(4)
	assert.Equal(t, uint64(0), m.Current(2))

	m.Publish(2, 5)
	assert.Equal(t, uint64(5), m.Current(2))
	assert.Equal(t, uint64(0), m.Current(0), "publishing one vbucket must not affect another")
}

func TestMap_Increment(t *testing.T) {
	m := New(1)
	assert.Equal(t, uint64(1), m.Increment(0))
	assert.Equal(t, uint64(2), m.Increment(0))
}

func TestMap_Len(t *testing.T) {
	m := New(1024)
	assert.Equal(t, 1024, m.Len())
}

func TestMap_SharedAcrossRWAndRO(t *testing.T) {
	// A read-write and read-only CouchKVStore pair share the same *Map, so
	// a publish from one side must be immediately visible on the other.
	rw := New(1)
	ro := rw
	rw.Publish(0, 3)
	assert.Equal(t, uint64(3), ro.Current(0))
}

func TestMap_ConcurrentIncrement(t *testing.T) {
	m := New(1)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Increment(0)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), m.Current(0))
}
