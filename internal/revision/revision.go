// Package revision implements the process-wide map from vBucketId to the
// current on-disk file revision. The RW store owns the backing slice; a RO
// sibling holds a reference to the same slice so both observe a compaction's
// published revision on their very next open.
package revision

import "sync/atomic"

// Map is a per-vBucket vector of file revisions, one atomic cell per
// vbucket id. The zero value is unusable; use New.
type Map struct {
	cells []atomic.Uint64
}

// New allocates a Map sized for numVbuckets vbuckets, ids 0..numVbuckets-1.
func New(numVbuckets uint16) *Map {
	return &Map{cells: make([]atomic.Uint64, numVbuckets)}
}

// Current loads the current revision for vbid with acquire semantics: a
// reader that observes a new revision also observes every write compaction
// made durable before publishing it.
func (m *Map) Current(vbid uint16) uint64 {
	return m.cells[vbid].Load()
}

// Publish atomically sets vbid's current revision. Called once compaction
// has durably committed the new file; never called speculatively.
func (m *Map) Publish(vbid uint16, rev uint64) {
	m.cells[vbid].Store(rev)
}

// Increment bumps vbid's revision by one and returns the new value. Used by
// the store's IncrementRevision, matching incrementRevision in the KVStore
// contract.
func (m *Map) Increment(vbid uint16) uint64 {
	return m.cells[vbid].Add(1)
}

// Len reports how many vbuckets this Map was sized for.
func (m *Map) Len() int {
	return len(m.cells)
}
