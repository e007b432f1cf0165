package store

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/vbkv/kvstore/internal/errors"
	"github.com/vbkv/kvstore/internal/item"
)

// errNoRollbackPoint reports that no commit header at or below the target
// seqno survives in the file; the caller cannot rewind and must resync
// from scratch.
var errNoRollbackPoint = fmt.Errorf("store: no commit header at or below target seqno")

// rollbackTo walks the file from the start, looking for the newest commit
// header whose highSeqno does not exceed target. Every document written
// after that header is reported to the caller as reverted, the file is
// truncated at the header's end, and the in-memory index/bloom filter are
// rebuilt from scratch by a fresh replay of the truncated file — simpler
// and just as correct as patching the structures in place, since rollback
// is already a rare, O(file size) operation. Returns the highSeqno of the
// header the file was rewound to.
func (rf *revFile) rollbackTo(target uint64) ([]string, uint64, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if _, err := rf.file.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	r := bufio.NewReader(rf.file)

	var offset int64
	var keepOffset int64 = -1
	var keepSeqno uint64
	reverted := make(map[string]struct{})
	var pendingKeys []string

	for {
		kindByte, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("store: rollback scan: %w", err)
		}

		switch recordKind(kindByte) {
		case recordDocument:
			rec, n, err := readDocumentRecord(r)
			if err != nil {
				return nil, 0, fmt.Errorf("store: rollback scan: %w", err)
			}
			pendingKeys = append(pendingKeys, rec.key)
			offset += n

		case recordLocalDoc:
			_, n, err := readLocalDocRecord(r)
			if err != nil {
				return nil, 0, fmt.Errorf("store: rollback scan: %w", err)
			}
			offset += n

		case recordCommitHeader:
			hdr, n, err := readCommitHeaderRecord(r)
			if err != nil {
				return nil, 0, fmt.Errorf("store: rollback scan: %w", err)
			}
			offset += n

			if hdr.highSeqno <= target {
				keepOffset = offset
				keepSeqno = hdr.highSeqno
				pendingKeys = nil
			} else {
				for _, k := range pendingKeys {
					reverted[k] = struct{}{}
				}
				pendingKeys = nil
			}

		default:
			return nil, 0, fmt.Errorf("store: rollback scan: unknown record kind %d at offset %d", kindByte, offset)
		}
	}

	if keepOffset < 0 {
		return nil, 0, errNoRollbackPoint
	}

	if err := rf.file.Truncate(keepOffset); err != nil {
		return nil, 0, fmt.Errorf("store: truncate on rollback: %w", err)
	}

	rf.index = newKeyIndex()
	rf.bloom = newBloomFilter(rf.index.Len()+1, 0.01)
	rf.highSeqno = 0
	rf.lastHeaderOff = -1
	rf.headerEndOff = 0
	rf.vbstate = nil
	rf.manifest = nil
	rf.deleteCount = 0
	if err := rf.replay(); err != nil {
		return nil, 0, err
	}

	keys := make([]string, 0, len(reverted))
	for k := range reverted {
		keys = append(keys, k)
	}
	return keys, keepSeqno, nil
}

// Rollback implements the KVStore contract: rewind vbid to the newest
// commit header whose highSeqno is <= seqno, invoking cb with each reverted
// key's prior state at the rewind point (the live item, or a deletion
// marker when the key does not exist there). A successful rewind records a
// fresh failover entry and publishes a bumped file revision, so readers
// re-open the rolled-back file under a fresh name. Failure to find any
// eligible header means the target predates everything the file retains;
// the caller must resync.
func (cs *CouchKVStore) Rollback(vbid uint16, seqno uint64, cb RollbackCallback) (RollbackResult, error) {
	cs.mustRW("Rollback")
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		return RollbackResult{}, err
	}

	if high := rf.HighSeqno(); high <= seqno {
		return RollbackResult{Seqno: high, FailoverEntry: newestFailoverEntry(rf)}, nil
	}

	reverted, rewindSeqno, err := rf.rollbackTo(seqno)
	if err != nil {
		if err == errNoRollbackPoint {
			return RollbackResult{}, errors.TempFail(
				fmt.Sprintf("rollback vbid %d to seqno %d: db no longer valid, full resync required", vbid, seqno), err)
		}
		return RollbackResult{}, errors.TempFail(fmt.Sprintf("rollback vbid %d to seqno %d", vbid, seqno), err)
	}

	for _, key := range reverted {
		prior, err := cs.priorAtRewind(rf, vbid, key)
		if err != nil {
			return RollbackResult{}, err
		}
		if err := cb(prior); err != nil {
			return RollbackResult{}, err
		}
	}

	entry := FailoverEntry{ID: rand.Uint64(), Seqno: rewindSeqno}
	cs.persistFailoverEntry(rf, vbid, entry, rewindSeqno)

	newRev := cs.revMap.Current(vbid) + 1
	if err := rf.rename(cs.fileName(vbid, newRev)); err != nil {
		return RollbackResult{}, errors.SystemError(fmt.Sprintf("rename rolled-back file for vbid %d", vbid), err)
	}
	cs.revMap.Publish(vbid, newRev)
	cs.logger.Info("rollback rewound vbucket",
		zap.Uint16("vbucket_id", vbid), zap.Uint64("seqno", rewindSeqno), zap.Uint64("file_revision", newRev),
		zap.Int("reverted_keys", len(reverted)))

	return RollbackResult{Seqno: rewindSeqno, FailoverEntry: entry}, nil
}

// priorAtRewind materializes key's state at the rewind point for the
// rollback callback: the full live item, or a deletion marker if the key is
// absent or tombstoned there.
func (cs *CouchKVStore) priorAtRewind(rf *revFile, vbid uint16, key string) (*item.Item, error) {
	loc, found := rf.Get(key)
	if !found {
		return &item.Item{VBucket: vbid, Key: key, Op: item.Deletion}, nil
	}
	return itemFromLocation(rf, vbid, key, loc, !loc.deleted)
}

// persistFailoverEntry prepends entry to the rewound vbucket_state's
// failover table and writes the updated state back. A vBucket that never
// persisted a state has no table to extend; the minted entry still goes
// back to the caller.
func (cs *CouchKVStore) persistFailoverEntry(rf *revFile, vbid uint16, entry FailoverEntry, rewindSeqno uint64) {
	raw := rf.VBState()
	if raw == nil {
		return
	}
	vs, err := DecodeVBucketState(raw)
	if err != nil {
		cs.logger.Warn("rewound vbucket_state unreadable, failover entry not persisted",
			zap.Uint16("vbucket_id", vbid), zap.Error(err))
		return
	}
	vs.FailoverTable = append([]FailoverEntry{entry}, vs.FailoverTable...)
	vs.HighSeqno = rewindSeqno
	encoded, err := EncodeVBucketState(vs)
	if err != nil {
		cs.logger.Warn("encode vbucket_state after rollback failed",
			zap.Uint16("vbucket_id", vbid), zap.Error(err))
		return
	}
	b := &batch{local: []*localDocRecord{{name: vbstateLocalName, value: encoded}}}
	if err := rf.append(b, rewindSeqno, time.Now().Unix(), true); err != nil {
		cs.logger.Warn("persisting failover entry after rollback failed",
			zap.Uint16("vbucket_id", vbid), zap.Error(err))
	}
}

// newestFailoverEntry reads the current head of the failover table, used
// when a rollback turns out to be a no-op.
func newestFailoverEntry(rf *revFile) FailoverEntry {
	raw := rf.VBState()
	if raw == nil {
		return FailoverEntry{}
	}
	vs, err := DecodeVBucketState(raw)
	if err != nil || len(vs.FailoverTable) == 0 {
		return FailoverEntry{}
	}
	return vs.FailoverTable[0]
}
