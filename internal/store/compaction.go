package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vbkv/kvstore/internal/errors"
	"github.com/vbkv/kvstore/internal/item"
	"github.com/vbkv/kvstore/internal/kvmeta"
	"github.com/vbkv/kvstore/internal/util/workerpool"
)

// compactSuffix names the in-progress compaction target; the file is
// renamed to the bare revision name only after its contents are durable,
// so a crash mid-compaction leaves at worst a stale .compact file and the
// old revision untouched.
const compactSuffix = ".compact"

// CompactDB rewrites vbid's current revision file into revision+1: open
// the current file, stream its documents in key order through the purge
// policy and hooks in cctx, write survivors to a .compact target, durably
// finalize it, rename it to the final revision name, publish the new
// revision, and queue the old file's deletion once every open reader has
// released it. There is no merge step: a vBucket has exactly one input
// file to compact, so the rewrite is a straight filtered copy.
func (cs *CouchKVStore) CompactDB(ctx context.Context, vbid uint16, cctx *CompactionContext) error {
	cs.mustRW("CompactDB")
	if cctx == nil {
		cctx = &CompactionContext{}
	}

	src, err := cs.openCurrent(vbid)
	if err != nil {
		cs.stats.CompactionFailures.Add(1)
		return err
	}

	oldRev := cs.revMap.Current(vbid)
	newRev := oldRev + 1
	finalPath := cs.fileName(vbid, newRev)
	tmpPath := finalPath + compactSuffix

	dst, err := createRevFile(tmpPath, cs.cfg.ExpectedItemsHint, cs.cfg.BloomFPRate, cs.stats, true, cs.logger)
	if err != nil {
		cs.stats.CompactionFailures.Add(1)
		return errors.SystemError(fmt.Sprintf("create compaction target for vbid %d", vbid), err)
	}
	abort := func(cause error, msg string) error {
		dst.Close()
		removeFile(tmpPath)
		cs.stats.CompactionFailures.Add(1)
		return errors.CompactionFailed(fmt.Sprintf("%s for vbid %d", msg, vbid), cause)
	}

	now := time.Now().Unix()
	b := &batch{}
	var highSeqno uint64
	var walkErr error
	var dropped int

	src.mu.RLock()
	src.index.Range(func(key string, loc *location) bool {
		rec, err := src.readRecordAt(loc)
		if err != nil {
			walkErr = err
			return false
		}
		meta, err := kvmeta.Decode(rec.meta)
		if err != nil {
			walkErr = err
			return false
		}

		deleted := loc.deleted
		value := rec.value

		if !deleted && cctx.ExpiryCallback != nil {
			it := &item.Item{
				VBucket:   vbid,
				Key:       key,
				Namespace: item.DocNamespace(loc.namespace),
				CAS:       loc.cas,
				Expiry:    meta.Expiry,
				Flags:     meta.Flags,
				Datatype:  meta.Datatype,
				BySeqno:   loc.bySeqno,
			}
			if cctx.ExpiryCallback(it, now) {
				deleted = true
				value = nil
			}
		}

		if deleted && loc.bySeqno < cctx.PurgeBeforeSeq {
			// A tombstone's delete time rides in the expiry field, the way
			// the engine above records it.
			if cctx.DropDeletes || uint64(meta.Expiry) <= cctx.PurgeBeforeTs {
				dropped++
				return true
			}
		}

		if cctx.BloomCallback != nil {
			cctx.BloomCallback(key)
		}
		b.docs = append(b.docs, &documentRecord{
			namespace: loc.namespace,
			deleted:   deleted,
			key:       key,
			meta:      rec.meta,
			bySeqno:   loc.bySeqno,
			cas:       loc.cas,
			value:     value,
		})
		if loc.bySeqno > highSeqno {
			highSeqno = loc.bySeqno
		}
		return true
	})
	vbstate := src.vbstate
	manifest := src.manifest
	if highSeqno < src.highSeqno {
		highSeqno = src.highSeqno
	}
	src.mu.RUnlock()

	if walkErr != nil {
		return abort(walkErr, "read document during compaction")
	}

	// _local documents survive compaction verbatim.
	if vbstate != nil {
		b.local = append(b.local, &localDocRecord{name: vbstateLocalName, value: vbstate})
	}
	if manifest != nil {
		b.local = append(b.local, &localDocRecord{name: manifestLocalName, value: manifest})
	}

	if len(b.docs) > 0 || len(b.local) > 0 {
		if err := dst.append(b, highSeqno, now, true); err != nil {
			return abort(err, "finalize compaction")
		}
	}
	if err := dst.rename(finalPath); err != nil {
		return abort(err, "rename compaction target")
	}

	// dst is now the live revision: later commits against it count as
	// normal I/O, the same as after a reopen.
	dst.mu.Lock()
	dst.compaction = false
	dst.file.written = writeCounter(cs.stats, false)
	dst.mu.Unlock()

	cs.mu.Lock()
	cs.files[vbid] = dst
	cs.mu.Unlock()
	cs.revMap.Publish(vbid, newRev)

	cs.logger.Info("compaction published new revision",
		zap.Uint16("vbucket_id", vbid), zap.Uint64("file_revision", newRev), zap.Int("dropped", dropped))

	cs.scheduleDeletion(vbid, oldRev, src)
	return nil
}

// scheduleDeletion queues the old revision file for removal on the
// deletion worker pool rather than deleting it inline: any scan or get in
// flight against it holds its own reference and will finish against the
// old file's consistent snapshot before the pool gets to it.
func (cs *CouchKVStore) scheduleDeletion(vbid uint16, rev uint64, rf *revFile) {
	if cs.deletionPool == nil {
		rf.Close()
		return
	}
	path := cs.fileName(vbid, rev)
	submitted := cs.deletionPool.TrySubmit(workerpool.Task{
		ID: fmt.Sprintf("delete-%d-%d", vbid, rev),
		Fn: func(_ context.Context) error {
			if err := rf.Close(); err != nil {
				cs.logger.Warn("closing stale revision file before unlink", zap.String("path", path), zap.Error(err))
			}
			return removeFile(path)
		},
	})
	if !submitted {
		cs.logger.Warn("deletion pool full, closing and removing stale revision file inline",
			zap.String("path", path))
		rf.Close()
		removeFile(path)
	}
}
