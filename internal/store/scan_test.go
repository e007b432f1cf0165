package store

import (
	"context"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbkv/kvstore/internal/item"
)

func TestScan_SeqnoOrderAndRange(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)

	commitBatch(t, cs, vb,
		userItem(vb, "zebra", "1", 1),
		userItem(vb, "apple", "2", 2),
		userItem(vb, "mango", "3", 3),
	)

	sc, err := cs.InitScanContext(vb, 0, DocFilterAll, ValueFilterCompressed, nil)
	require.NoError(t, err)
	defer cs.DestroyScanContext(sc)

	var seqnos []uint64
	status, err := cs.Scan(sc, func(it *item.Item) error {
		seqnos = append(seqnos, it.BySeqno)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ScanSuccess, status)
	assert.Equal(t, []uint64{1, 2, 3}, seqnos, "scan order is seqno order, not key order")
}

func TestScan_StartSeqnoIsExclusive(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)

	commitBatch(t, cs, vb,
		userItem(vb, "a", "1", 1),
		userItem(vb, "b", "2", 2),
	)

	sc, err := cs.InitScanContext(vb, 1, DocFilterAll, ValueFilterKeyOnly, nil)
	require.NoError(t, err)
	defer cs.DestroyScanContext(sc)

	var keys []string
	_, err = cs.Scan(sc, func(it *item.Item) error {
		keys = append(keys, it.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestScan_EndSeqnoFixedAtOpen(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)

	commitBatch(t, cs, vb, userItem(vb, "a", "1", 1))

	sc, err := cs.InitScanContext(vb, 0, DocFilterAll, ValueFilterKeyOnly, nil)
	require.NoError(t, err)
	defer cs.DestroyScanContext(sc)

	// Lands after the context opened; must not be visible to this scan.
	commitBatch(t, cs, vb, userItem(vb, "b", "2", 2))

	var keys []string
	_, err = cs.Scan(sc, func(it *item.Item) error {
		keys = append(keys, it.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestScan_DocFilters(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)

	commitBatch(t, cs, vb, userItem(vb, "live", "v", 1))
	require.NoError(t, cs.Begin(vb))
	tomb := userItem(vb, "dead", "", 2)
	tomb.Value = nil
	require.NoError(t, cs.Delete(tomb, nil))
	require.NoError(t, cs.Commit(context.Background(), vb, nil))

	collect := func(df DocFilter) []string {
		sc, err := cs.InitScanContext(vb, 0, df, ValueFilterKeyOnly, nil)
		require.NoError(t, err)
		defer cs.DestroyScanContext(sc)
		var keys []string
		_, err = cs.Scan(sc, func(it *item.Item) error {
			keys = append(keys, it.Key)
			return nil
		})
		require.NoError(t, err)
		return keys
	}

	assert.ElementsMatch(t, []string{"live", "dead"}, collect(DocFilterAll))
	assert.Equal(t, []string{"live"}, collect(DocFilterNoDeletes))
	assert.Equal(t, []string{"dead"}, collect(DocFilterDeletesOnly))
}

func TestScan_YieldAndResume(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)

	commitBatch(t, cs, vb,
		userItem(vb, "a", "1", 1),
		userItem(vb, "b", "2", 2),
		userItem(vb, "c", "3", 3),
	)

	sc, err := cs.InitScanContext(vb, 0, DocFilterAll, ValueFilterKeyOnly, nil)
	require.NoError(t, err)
	defer cs.DestroyScanContext(sc)

	var keys []string
	status, err := cs.Scan(sc, func(it *item.Item) error {
		keys = append(keys, it.Key)
		if len(keys) == 2 {
			return ErrScanYield
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ScanAgain, status)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, uint64(2), sc.LastReadSeqno)

	status, err = cs.Scan(sc, func(it *item.Item) error {
		keys = append(keys, it.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ScanSuccess, status)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestScan_CacheLookupSkipsDiskRead(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)

	commitBatch(t, cs, vb, userItem(vb, "a", "payload", 1))

	var looked []string
	cache := func(key string, bySeqno uint64, vbid uint16) bool {
		looked = append(looked, key)
		return true
	}

	sc, err := cs.InitScanContext(vb, 0, DocFilterAll, ValueFilterCompressed, cache)
	require.NoError(t, err)
	defer cs.DestroyScanContext(sc)

	status, err := cs.Scan(sc, func(it *item.Item) error {
		assert.Nil(t, it.Value, "cache hit skips the disk read; no body is attached")
		assert.Equal(t, uint64(1), it.BySeqno)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ScanSuccess, status)
	assert.Equal(t, []string{"a"}, looked)
}

func TestScan_DecompressesSnappyValues(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)

	compressed := snappy.Encode(nil, []byte("hello, collections"))
	it := userItem(vb, "a", "", 1)
	it.Value = compressed
	it.Datatype = item.DatatypeSnappy
	commitBatch(t, cs, vb, it)

	sc, err := cs.InitScanContext(vb, 0, DocFilterAll, ValueFilterDecompressed, nil)
	require.NoError(t, err)
	defer cs.DestroyScanContext(sc)

	_, err = cs.Scan(sc, func(got *item.Item) error {
		assert.Equal(t, []byte("hello, collections"), got.Value)
		assert.Zero(t, got.Datatype&item.DatatypeSnappy)
		return nil
	})
	require.NoError(t, err)

	// A compressed-values scan hands the payload back verbatim.
	sc2, err := cs.InitScanContext(vb, 0, DocFilterAll, ValueFilterCompressed, nil)
	require.NoError(t, err)
	defer cs.DestroyScanContext(sc2)

	_, err = cs.Scan(sc2, func(got *item.Item) error {
		assert.Equal(t, compressed, got.Value)
		return nil
	})
	require.NoError(t, err)
}

func TestScan_UnknownContextFails(t *testing.T) {
	cs := newTestStore(t)
	sc := &ScanContext{ScanID: 424242, VBucketID: 0}
	status, err := cs.Scan(sc, func(*item.Item) error { return nil })
	require.Error(t, err)
	assert.Equal(t, ScanFailed, status)
}

func TestDestroyScanContextIsIdempotent(t *testing.T) {
	cs := newTestStore(t)
	const vb = uint16(0)
	commitBatch(t, cs, vb, userItem(vb, "a", "1", 1))

	sc, err := cs.InitScanContext(vb, 0, DocFilterAll, ValueFilterKeyOnly, nil)
	require.NoError(t, err)
	cs.DestroyScanContext(sc)
	cs.DestroyScanContext(sc)

	_, err = cs.Scan(sc, func(*item.Item) error { return nil })
	assert.Error(t, err, "a destroyed context is no longer scannable")
}
