package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/vbkv/kvstore/internal/errors"
	"github.com/vbkv/kvstore/internal/item"
)

// seedRollbackStore commits three batches closing headers at highSeqno 2,
// 4 and 6.
func seedRollbackStore(t *testing.T, cs *CouchKVStore, vb uint16) {
	t.Helper()
	commitBatch(t, cs, vb, userItem(vb, "a", "1", 1), userItem(vb, "b", "2", 2))
	commitBatch(t, cs, vb, userItem(vb, "c", "3", 3), userItem(vb, "d", "4", 4))
	commitBatch(t, cs, vb, userItem(vb, "e", "5", 5), userItem(vb, "c", "3b", 6))
}

func TestRollback_RewindsToPriorHeader(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)
	seedRollbackStore(t, cs, vb)

	priors := map[string]*item.Item{}
	res, err := cs.Rollback(vb, 4, func(prior *item.Item) error {
		priors[prior.Key] = prior
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Seqno)
	require.Len(t, priors, 2)

	// e never existed before the rewind point; c reverts to its earlier
	// value, which the callback receives in full.
	require.Contains(t, priors, "e")
	assert.Equal(t, item.Deletion, priors["e"].Op)
	require.Contains(t, priors, "c")
	assert.Equal(t, item.Mutation, priors["c"].Op)
	assert.Equal(t, []byte("3"), priors["c"].Value)
	assert.Equal(t, uint64(3), priors["c"].BySeqno)

	_, err = cs.Get(vb, "e")
	require.Error(t, err)
	got, err := cs.Get(vb, "c")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got.Value)
	assert.Equal(t, uint64(3), got.BySeqno)
}

func TestRollback_NoOpWhenTargetAtOrAboveHigh(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)
	seedRollbackStore(t, cs, vb)

	res, err := cs.Rollback(vb, 6, func(*item.Item) error {
		t.Fatal("no key should be reverted")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), res.Seqno)
}

func TestRollback_FailsWhenNoHeaderSurvives(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)
	seedRollbackStore(t, cs, vb)

	// No header has highSeqno <= 1; the caller must resync from scratch.
	_, err := cs.Rollback(vb, 1, func(*item.Item) error { return nil })
	require.Error(t, err)
	assert.Equal(t, kverrors.CodeTempFail, kverrors.GetCode(err))
}

func TestRollback_PublishesBumpedRevision(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)
	seedRollbackStore(t, cs, vb)
	require.Equal(t, uint64(0), cs.RevMap().Current(vb))

	_, err := cs.Rollback(vb, 4, func(*item.Item) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cs.RevMap().Current(vb))
}

func TestRollback_ReportsDeletionMarkerForAbsentKeys(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)
	commitBatch(t, cs, vb, userItem(vb, "base", "v", 1))
	commitBatch(t, cs, vb, userItem(vb, "later", "w", 2))

	var priors []*item.Item
	_, err := cs.Rollback(vb, 1, func(prior *item.Item) error {
		priors = append(priors, prior)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, priors, 1)
	assert.Equal(t, "later", priors[0].Key)
	assert.Equal(t, item.Deletion, priors[0].Op,
		"a key absent at the rewind point is reported as a deletion marker")
}

// seedRollbackStoreWithState is seedRollbackStore with a vbucket_state
// persisted after the first batch, so it survives a rewind to seqno 4.
func seedRollbackStoreWithState(t *testing.T, cs *CouchKVStore, vb uint16) {
	t.Helper()
	commitBatch(t, cs, vb, userItem(vb, "a", "1", 1), userItem(vb, "b", "2", 2))
	require.NoError(t, cs.SnapshotVBucket(context.Background(), vb,
		&VBucketState{State: "active", HighSeqno: 2}, SnapshotModePersistWithCommit))
	commitBatch(t, cs, vb, userItem(vb, "c", "3", 3), userItem(vb, "d", "4", 4))
	commitBatch(t, cs, vb, userItem(vb, "e", "5", 5), userItem(vb, "c", "3b", 6))
}

func TestRollback_RecordsFailoverEntry(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)
	seedRollbackStoreWithState(t, cs, vb)

	res, err := cs.Rollback(vb, 4, func(*item.Item) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.FailoverEntry.Seqno)
	assert.NotZero(t, res.FailoverEntry.ID)

	vs, err := cs.GetVBucketState(vb)
	require.NoError(t, err)
	require.NotEmpty(t, vs.FailoverTable)
	assert.Equal(t, res.FailoverEntry, vs.FailoverTable[0])
	assert.Equal(t, uint64(4), vs.HighSeqno)
}

func TestRollback_FailoverTableSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cs := newTestStoreAt(t, dir, nil)
	const vb = uint16(0)
	seedRollbackStoreWithState(t, cs, vb)

	res, err := cs.Rollback(vb, 4, func(*item.Item) error { return nil })
	require.NoError(t, err)
	require.NoError(t, cs.Close())

	reopened := newTestStoreAt(t, dir, nil)
	vs, err := reopened.GetVBucketState(vb)
	require.NoError(t, err)
	require.NotEmpty(t, vs.FailoverTable)
	assert.Equal(t, res.FailoverEntry, vs.FailoverTable[0])
}

func TestRollback_StateSurvivesFurtherCommits(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)
	seedRollbackStore(t, cs, vb)

	_, err := cs.Rollback(vb, 4, func(*item.Item) error { return nil })
	require.NoError(t, err)

	commitBatch(t, cs, vb, userItem(vb, "f", "fresh", 5))
	got, err := cs.Get(vb, "f")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got.Value)

	info, err := cs.GetDbFileInfo(vb)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), uint64(info.ItemCount), "a b c d plus the fresh write")
}
