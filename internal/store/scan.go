package store

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/golang/snappy"

	"github.com/vbkv/kvstore/internal/errors"
	"github.com/vbkv/kvstore/internal/item"
	"github.com/vbkv/kvstore/internal/kvmeta"
)

// GetAllKeys walks the live keys of vbid in ascending order, starting at or
// after startKey, visiting at most count keys.
func (cs *CouchKVStore) GetAllKeys(vbid uint16, startKey string, count int, cb func(key string) error) error {
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		return err
	}

	rf.mu.RLock()
	defer rf.mu.RUnlock()

	visited := 0
	var cbErr error
	rf.index.Range(func(key string, loc *location) bool {
		if key < startKey {
			return true
		}
		if loc.deleted {
			return true
		}
		if count > 0 && visited >= count {
			return false
		}
		if err := cb(key); err != nil {
			cbErr = err
			return false
		}
		visited++
		return true
	})
	return cbErr
}

// scanIDCounter is the monotonic source for ScanContext.ScanID across every
// CouchKVStore instance in the process, so scan ids are unique
// process-wide, not per store.
var scanIDCounter uint64

// InitScanContext registers a new scan over (startSeqno, highSeqno] where
// highSeqno is vbid's high seqno at open time, so a scan never chases
// writes that land after it began.
func (cs *CouchKVStore) InitScanContext(vbid uint16, startSeqno uint64, df DocFilter, vf ValueFilter, cache CacheLookup) (*ScanContext, error) {
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		return nil, err
	}

	sc := &ScanContext{
		ScanID:        atomic.AddUint64(&scanIDCounter, 1),
		VBucketID:     vbid,
		StartSeqno:    startSeqno,
		EndSeqno:      rf.HighSeqno(),
		DocFilter:     df,
		ValueFilter:   vf,
		CacheLookup:   cache,
		LastReadSeqno: startSeqno,
	}

	cs.scanMu.Lock()
	cs.scans[sc.ScanID] = sc
	cs.scanMu.Unlock()
	return sc, nil
}

func (cs *CouchKVStore) DestroyScanContext(sc *ScanContext) {
	cs.scanMu.Lock()
	delete(cs.scans, sc.ScanID)
	cs.scanMu.Unlock()
}

// Scan visits every document in sc's vBucket whose bySeqno falls in
// (LastReadSeqno, EndSeqno], in ascending seqno order, applying
// DocFilter/ValueFilter and the cache-lookup shortcut. A callback
// returning ErrScanYield suspends the scan: the last consumed seqno is
// saved and the next Scan call on the same context picks up after it.
func (cs *CouchKVStore) Scan(sc *ScanContext, cb ScanCallback) (ScanStatus, error) {
	cs.scanMu.Lock()
	_, ok := cs.scans[sc.ScanID]
	cs.scanMu.Unlock()
	if !ok {
		return ScanFailed, errors.SystemError(fmt.Sprintf("unknown scan id %d", sc.ScanID), nil)
	}

	rf, err := cs.openCurrent(sc.VBucketID)
	if err != nil {
		return ScanFailed, err
	}

	// Collect candidates under the read lock, then sort by seqno: the key
	// index iterates in key order, but a scan's contract (and its yield /
	// resume bookkeeping) is seqno order. Any key whose current location
	// falls in range was by definition the most recent write of that key,
	// so this walk sees exactly the live seqno range.
	type candidate struct {
		key string
		loc *location
	}
	var candidates []candidate
	rf.mu.RLock()
	rf.index.Range(func(key string, loc *location) bool {
		if loc.bySeqno <= sc.LastReadSeqno || loc.bySeqno > sc.EndSeqno {
			return true
		}
		switch sc.DocFilter {
		case DocFilterNoDeletes:
			if loc.deleted {
				return true
			}
		case DocFilterDeletesOnly:
			if !loc.deleted {
				return true
			}
		}
		candidates = append(candidates, candidate{key: key, loc: loc})
		return true
	})
	rf.mu.RUnlock()
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].loc.bySeqno < candidates[j].loc.bySeqno
	})

	for _, c := range candidates {
		it := &item.Item{
			VBucket:   sc.VBucketID,
			Key:       c.key,
			Namespace: item.DocNamespace(c.loc.namespace),
			CAS:       c.loc.cas,
			BySeqno:   c.loc.bySeqno,
		}
		if c.loc.deleted {
			it.Op = item.Deletion
		}

		cached := sc.CacheLookup != nil && sc.CacheLookup(c.key, c.loc.bySeqno, sc.VBucketID)
		if !cached && sc.ValueFilter != ValueFilterKeyOnly && !c.loc.deleted {
			rec, err := rf.readRecordAt(c.loc)
			if err != nil {
				return ScanFailed, errors.SystemError(fmt.Sprintf("read record for key %q", c.key), err)
			}
			meta, err := kvmeta.Decode(rec.meta)
			if err != nil {
				return ScanFailed, errors.TempFail(fmt.Sprintf("decode metadata for key %q", c.key), err)
			}
			it.Value = rec.value
			it.Expiry = meta.Expiry
			it.Flags = meta.Flags
			it.Datatype = meta.Datatype

			if sc.ValueFilter == ValueFilterDecompressed && it.Datatype&item.DatatypeSnappy != 0 {
				decoded, err := snappy.Decode(nil, it.Value)
				if err != nil {
					return ScanFailed, errors.TempFail(fmt.Sprintf("decompress value for key %q", c.key), err)
				}
				it.Value = decoded
				it.Datatype &^= item.DatatypeSnappy
			}
		}

		if err := cb(it); err != nil {
			if err == ErrScanYield {
				sc.LastReadSeqno = c.loc.bySeqno
				return ScanAgain, nil
			}
			return ScanFailed, err
		}
		sc.LastReadSeqno = c.loc.bySeqno
	}
	return ScanSuccess, nil
}
