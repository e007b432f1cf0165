package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vbkv/kvstore/internal/errors"
	"github.com/vbkv/kvstore/internal/item"
	"github.com/vbkv/kvstore/internal/kvmeta"
	"github.com/vbkv/kvstore/internal/revision"
	"github.com/vbkv/kvstore/internal/storage/diskmanager"
	"github.com/vbkv/kvstore/internal/systemevent"
	"github.com/vbkv/kvstore/internal/util/workerpool"
	"github.com/vbkv/kvstore/internal/validation"
)

// openAttempts bounds the retry on a transient I/O failure during openDB;
// every other failure path (corruption, programmer error) never retries.
// Decided value: 2 attempts total, the second against revision+1 in case
// the failure was a stale revision pointer racing a concurrent compaction.
const openAttempts = 2

// FaultHooks are the testable fault points. Every hook is nil in
// production; a test installs one to inject a failure at a precise spot
// without reaching into the filesystem.
type FaultHooks struct {
	// PreOpen runs before each attempt to stat/open a revision file.
	// Returning an error makes the attempt fail as if the open itself had.
	PreOpen func(path string) error
}

// Config configures a CouchKVStore instance. See internal/config for the
// YAML-backed config.Config this is derived from.
type Config struct {
	DataDir           string
	NumVBuckets       uint16
	BloomFPRate       float64
	ExpectedItemsHint int
	DeletionWorkers   int
	DeletionQueueSize int
	ReadOnly          bool
	Logger            *zap.Logger

	// DiskGuard, when non-nil, is consulted before every Commit; a commit
	// whose estimated footprint the guard rejects never reaches append().
	// Built from internal/storage/diskmanager, shared at the process level
	// since disk pressure is a property of the data directory's
	// filesystem, not of any one vBucket.
	DiskGuard *diskmanager.DiskManager

	// Hooks is the fault-injection surface; nil outside tests.
	Hooks *FaultHooks
}

var _ KVStore = (*CouchKVStore)(nil)

// CouchKVStore is the persistence core for one bucket's shard of
// vBuckets. A read-write instance and any number of read-only instances
// share the same *revision.Map, so a read-only reader always resolves a
// vbid to whatever revision the writer most recently published.
type CouchKVStore struct {
	cfg       Config
	revMap    *revision.Map
	logger    *zap.Logger
	stats     *Stats
	validator *validation.Validator

	mu    sync.RWMutex
	files map[uint16]*revFile

	txnMu sync.Mutex
	txns  map[uint16]*batch

	scanMu sync.Mutex
	scans  map[uint64]*ScanContext

	deletionPool *workerpool.WorkerPool
}

// New constructs the read-write CouchKVStore, owning revMap. A read-only
// twin is built with NewReadOnly against the same revMap so both halves of
// the duality see the same published revisions.
func New(cfg Config) (*CouchKVStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	revMap := revision.New(cfg.NumVBuckets)
	return newCouchKVStore(cfg, revMap)
}

// NewReadOnly constructs a read-only CouchKVStore sharing revMap with an
// existing read-write instance.
func NewReadOnly(cfg Config, revMap *revision.Map) (*CouchKVStore, error) {
	cfg.ReadOnly = true
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return newCouchKVStore(cfg, revMap)
}

// MakeReadOnlyStore returns the read-only sibling of this store: same data
// directory, same revision map, no right to mutate.
func (cs *CouchKVStore) MakeReadOnlyStore() (*CouchKVStore, error) {
	cfg := cs.cfg
	cfg.ReadOnly = true
	cfg.Hooks = nil
	return newCouchKVStore(cfg, cs.revMap)
}

func newCouchKVStore(cfg Config, revMap *revision.Map) (*CouchKVStore, error) {
	cs := &CouchKVStore{
		cfg:       cfg,
		revMap:    revMap,
		logger:    cfg.Logger,
		stats:     &Stats{},
		validator: validation.NewValidator(),
		files:     make(map[uint16]*revFile),
		txns:      make(map[uint16]*batch),
		scans:     make(map[uint64]*ScanContext),
	}
	if !cfg.ReadOnly {
		cs.deletionPool = workerpool.NewWorkerPool(&workerpool.Config{
			Name:       "revfile-deletion",
			MaxWorkers: maxInt(cfg.DeletionWorkers, 1),
			QueueSize:  maxInt(cfg.DeletionQueueSize, 16),
			Logger:     cfg.Logger,
		})
	}
	return cs, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// mustRW panics when a mutating operation is invoked on a read-only
// instance: a logic error in the caller, not a runtime condition to
// recover from.
func (cs *CouchKVStore) mustRW(op string) {
	if cs.cfg.ReadOnly {
		panic(fmt.Sprintf("store: %s called on a read-only CouchKVStore", op))
	}
}

// removeFile unlinks path, treating an already-missing file as success:
// a concurrent DelVBucket or a second deletion-pool retry can legitimately
// race this call.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RevMap exposes the shared file-revision map so a read-only twin can be
// constructed against the same store.
func (cs *CouchKVStore) RevMap() *revision.Map { return cs.revMap }

// Stats exposes the per-store counter surface.
func (cs *CouchKVStore) Stats() *Stats { return cs.stats }

func (cs *CouchKVStore) fileName(vbid uint16, rev uint64) string {
	return filepath.Join(cs.cfg.DataDir, fmt.Sprintf("%d.couch.%d", vbid, rev))
}

// openCurrent returns the revFile for vbid's currently published revision,
// opening it (with replay) on first access and caching the handle. A
// transient failure on the first attempt retries once against revision+1,
// per openAttempts: the stale-revision case where a concurrent compaction
// unlinked the file between the revision-map load and the open.
func (cs *CouchKVStore) openCurrent(vbid uint16) (*revFile, error) {
	cs.mu.RLock()
	if rf, ok := cs.files[vbid]; ok {
		cs.mu.RUnlock()
		return rf, nil
	}
	cs.mu.RUnlock()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if rf, ok := cs.files[vbid]; ok {
		return rf, nil
	}

	base := cs.revMap.Current(vbid)
	// A fresh process starts with an empty revision map; the authoritative
	// revision is whatever the data directory holds. Superseded files whose
	// deferred deletion never ran are skipped by taking the maximum.
	if disc, ok := cs.discoverRevision(vbid); ok && disc > base {
		base = disc
	}
	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		rev := base + uint64(attempt)
		path := cs.fileName(vbid, rev)

		if cs.cfg.Hooks != nil && cs.cfg.Hooks.PreOpen != nil {
			if err := cs.cfg.Hooks.PreOpen(path); err != nil {
				lastErr = err
				cs.logger.Info("open failed, retrying at next revision",
					zap.Uint16("vbucket_id", vbid), zap.Uint64("file_revision", rev), zap.Error(err))
				continue
			}
		}

		_, statErr := os.Stat(path)
		switch {
		case statErr == nil:
			rf, err := openRevFile(path, cs.cfg.ExpectedItemsHint, cs.cfg.BloomFPRate, cs.stats, cs.logger)
			if err != nil {
				lastErr = err
				cs.logger.Warn("transient failure opening revision file, retrying",
					zap.Uint16("vbucket_id", vbid), zap.Uint64("file_revision", rev), zap.Error(err))
				continue
			}
			cs.files[vbid] = rf
			cs.revMap.Publish(vbid, rev)
			return rf, nil

		case os.IsNotExist(statErr):
			// A missing file at a non-zero published revision can mean we
			// raced a compaction that already unlinked it; if the successor
			// revision's file exists, loop around and open that instead of
			// creating anything.
			if attempt+1 < openAttempts {
				if _, nextErr := os.Stat(cs.fileName(vbid, rev+1)); nextErr == nil {
					lastErr = statErr
					cs.logger.Info("published revision file missing, retrying at next revision",
						zap.Uint16("vbucket_id", vbid), zap.Uint64("file_revision", rev))
					continue
				}
			}
			rf, err := createRevFile(path, cs.cfg.ExpectedItemsHint, cs.cfg.BloomFPRate, cs.stats, false, cs.logger)
			if err != nil {
				lastErr = err
				continue
			}
			cs.files[vbid] = rf
			cs.revMap.Publish(vbid, rev)
			return rf, nil

		default:
			lastErr = statErr
			cs.logger.Warn("transient failure locating revision file, retrying",
				zap.Uint16("vbucket_id", vbid), zap.Uint64("file_revision", rev), zap.Error(statErr))
		}
	}
	return nil, errors.TempFail(fmt.Sprintf("open revision file for vbid %d", vbid), lastErr)
}

// discoverRevision scans the data directory for vbid's revision files and
// returns the highest revision present, ignoring in-progress .compact
// targets.
func (cs *CouchKVStore) discoverRevision(vbid uint16) (uint64, bool) {
	matches, err := filepath.Glob(filepath.Join(cs.cfg.DataDir, fmt.Sprintf("%d.couch.*", vbid)))
	if err != nil || len(matches) == 0 {
		return 0, false
	}
	var best uint64
	found := false
	prefix := fmt.Sprintf("%d.couch.", vbid)
	for _, m := range matches {
		name := filepath.Base(m)
		var rev uint64
		if _, err := fmt.Sscanf(name[len(prefix):], "%d", &rev); err != nil {
			continue
		}
		if strings.HasSuffix(name, compactSuffix) {
			continue
		}
		if !found || rev > best {
			best = rev
			found = true
		}
	}
	return best, found
}

// Begin opens a transaction for vbid. Double-begin is a caller bug.
func (cs *CouchKVStore) Begin(vbid uint16) error {
	cs.mustRW("Begin")
	cs.txnMu.Lock()
	defer cs.txnMu.Unlock()
	if _, ok := cs.txns[vbid]; ok {
		panic(fmt.Sprintf("store: Begin called with a transaction already open for vbid %d", vbid))
	}
	cs.txns[vbid] = &batch{}
	return nil
}

func (cs *CouchKVStore) Set(it *item.Item, cb MutationCallback) error {
	cs.mustRW("Set")
	return cs.queue(it, it.IsDeleted(), cb)
}

func (cs *CouchKVStore) Delete(it *item.Item, cb MutationCallback) error {
	cs.mustRW("Delete")
	return cs.queue(it, true, cb)
}

// RollbackTxn discards the current batch without touching disk, the
// transaction-abort half of the contract (distinct from Rollback, the
// seqno rewind).
func (cs *CouchKVStore) RollbackTxn(vbid uint16) error {
	cs.mustRW("RollbackTxn")
	cs.txnMu.Lock()
	defer cs.txnMu.Unlock()
	if _, ok := cs.txns[vbid]; !ok {
		panic(fmt.Sprintf("store: RollbackTxn called without an open transaction for vbid %d", vbid))
	}
	delete(cs.txns, vbid)
	return nil
}

// queue appends one item to the open batch for its vBucket. SystemEvent
// items are routed through the flush policy: every one of them contributes
// its manifest to the batch, but only those whose disposition says so emit
// a marker document alongside the regular mutations.
func (cs *CouchKVStore) queue(it *item.Item, deleted bool, cb MutationCallback) error {
	cs.txnMu.Lock()
	defer cs.txnMu.Unlock()
	b, ok := cs.txns[it.VBucketID()]
	if !ok {
		panic(fmt.Sprintf("store: Set/Delete called without an open transaction for vbid %d", it.VBucketID()))
	}

	if err := cs.validator.ValidateWrite(it.Key, it.Value); err != nil {
		return err
	}

	if it.Op == item.SystemEventOp {
		return cs.queueSystemEvent(b, it, cb)
	}

	if it.Namespace == item.Collections {
		if err := cs.checkCollectionOpen(it.VBucketID(), it.Key, b); err != nil {
			return err
		}
	}

	meta := kvmeta.Encode(it.Meta())
	b.docs = append(b.docs, &documentRecord{
		namespace: uint8(it.Namespace),
		deleted:   deleted,
		key:       it.Key,
		meta:      meta,
		bySeqno:   it.BySeqno,
		cas:       it.CAS,
		value:     it.Value,
	})
	b.callbacks = append(b.callbacks, cb)
	return nil
}

// queueSystemEvent applies the flush-policy table to one SystemEvent item:
// record its manifest for the end-of-batch selection, and emit its marker
// document unless the policy suppresses it (BeginDeleteCollection drives
// the manifest only and is never visible as a document).
func (cs *CouchKVStore) queueSystemEvent(b *batch, it *item.Item, cb MutationCallback) error {
	code := systemevent.Code(it.Flags)
	disp := systemevent.DispositionFor(code)

	if disp.UpdateManifest {
		b.events = append(b.events, systemevent.BatchEvent{Code: code, BySeqno: it.BySeqno, ManifestJSON: it.Value})
	}
	if systemevent.Process(code) == systemevent.Skip {
		if cb != nil {
			cb(it.Key, MutationInserted, nil)
		}
		return nil
	}

	meta := kvmeta.Encode(it.Meta())
	b.docs = append(b.docs, &documentRecord{
		namespace: uint8(item.System),
		deleted:   !disp.IsUpsert,
		key:       it.Key,
		meta:      meta,
		bySeqno:   it.BySeqno,
		cas:       it.CAS,
		value:     it.Value,
	})
	b.callbacks = append(b.callbacks, cb)
	return nil
}

// checkCollectionOpen validates a Collections-namespace key against the
// manifest in force for the write: the newest one queued in this batch if
// any SystemEvent preceded it, otherwise the persisted one. The substring
// up to the first separator must name an open collection.
func (cs *CouchKVStore) checkCollectionOpen(vbid uint16, key string, b *batch) error {
	m, err := cs.effectiveManifest(vbid, b)
	if err != nil {
		return err
	}
	if m == nil {
		return errors.UnknownCollection(key)
	}
	name, ok := m.CollectionOf(key)
	if !ok || !m.IsOpen(name) {
		return errors.UnknownCollection(name)
	}
	return nil
}

func (cs *CouchKVStore) effectiveManifest(vbid uint16, b *batch) (*Manifest, error) {
	if b != nil && len(b.events) > 0 {
		latest := b.events[len(b.events)-1]
		return DecodeManifest(latest.ManifestJSON)
	}
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		return nil, err
	}
	raw := rf.Manifest()
	if raw == nil {
		return nil, nil
	}
	return DecodeManifest(raw)
}

// Commit flushes the pending batch for vbid, plus vbstate if non-nil and
// the manifest update derived from the batch's SystemEvents, as one durably
// fsynced unit. Write order within the commit: documents, then
// _local/collections_manifest, then _local/vbstate, then the single commit
// marker; callbacks fire only after the marker is durable.
func (cs *CouchKVStore) Commit(ctx context.Context, vbid uint16, vbstate *VBucketState) error {
	cs.mustRW("Commit")
	cs.txnMu.Lock()
	b, ok := cs.txns[vbid]
	if !ok {
		cs.txnMu.Unlock()
		panic(fmt.Sprintf("store: Commit called without an open transaction for vbid %d", vbid))
	}
	delete(cs.txns, vbid)
	cs.txnMu.Unlock()

	rf, err := cs.openCurrent(vbid)
	if err != nil {
		failBatch(b, err)
		return err
	}

	if winner := systemevent.SelectManifestUpdate(b.events); winner != nil {
		next, err := DecodeManifest(winner.ManifestJSON)
		if err != nil {
			err2 := errors.TempFail("decode queued collections manifest", err)
			failBatch(b, err2)
			return err2
		}
		var current *Manifest
		if raw := rf.Manifest(); raw != nil {
			if current, err = DecodeManifest(raw); err != nil {
				cs.logger.Warn("persisted collections manifest unreadable, overwriting",
					zap.Uint16("vbucket_id", vbid), zap.Error(err))
				current = nil
			}
		}
		if err := ValidateSuccessor(current, next); err != nil {
			err2 := errors.InvalidArgument(err.Error())
			failBatch(b, err2)
			return err2
		}
		for _, name := range next.Collections {
			if name == defaultCollectionName {
				continue
			}
			if err := cs.validator.ValidateCollectionName(name); err != nil {
				failBatch(b, err)
				return err
			}
		}
		b.local = append(b.local, &localDocRecord{name: manifestLocalName, value: winner.ManifestJSON})
	}

	highSeqno := rf.HighSeqno()
	for _, d := range b.docs {
		if d.bySeqno > highSeqno {
			highSeqno = d.bySeqno
		}
	}

	if vbstate != nil {
		vs := *vbstate
		if vs.HighSeqno < highSeqno {
			vs.HighSeqno = highSeqno
		}
		encoded, err := EncodeVBucketState(&vs)
		if err != nil {
			err2 := errors.SystemError("encode vbucket_state", err)
			failBatch(b, err2)
			return err2
		}
		b.local = append(b.local, &localDocRecord{name: vbstateLocalName, value: encoded})
	}

	if len(b.docs) == 0 && len(b.local) == 0 {
		return nil
	}

	if cs.cfg.DiskGuard != nil {
		var estimated uint64
		for _, d := range b.docs {
			estimated += validation.EstimateWriteSize(d.key, d.value)
		}
		if err := cs.cfg.DiskGuard.CheckBeforeWrite(estimated); err != nil {
			err2 := errors.TempFail(fmt.Sprintf("disk guard rejected commit for vbid %d", vbid), err)
			failBatch(b, err2)
			return err2
		}
	}

	// Capture insert-vs-update before the index absorbs the batch.
	statuses := make([]MutationStatus, len(b.docs))
	for i, d := range b.docs {
		if loc, found := rf.Get(d.key); found && !loc.deleted {
			statuses[i] = MutationUpdated
		} else {
			statuses[i] = MutationInserted
		}
	}

	if err := rf.append(b, highSeqno, time.Now().Unix(), true); err != nil {
		err2 := errors.TempFail(fmt.Sprintf("commit vbid %d", vbid), err)
		failBatch(b, err2)
		return err2
	}

	for i, cb := range b.callbacks {
		if cb != nil {
			cb(b.docs[i].key, statuses[i], nil)
		}
	}
	return nil
}

// failBatch delivers the translated failure to every queued callback; the
// batch is already detached from the store and will not be retried.
func failBatch(b *batch, err error) {
	for i, cb := range b.callbacks {
		if cb != nil {
			cb(b.docs[i].key, MutationFailed, err)
		}
	}
}

func (cs *CouchKVStore) Get(vbid uint16, key string) (*item.Item, error) {
	return cs.get(vbid, key, true, false)
}

// GetDeleted is Get with fetchDeleted semantics: a tombstone comes back as
// a Deletion item rather than a not-found error.
func (cs *CouchKVStore) GetDeleted(vbid uint16, key string) (*item.Item, error) {
	return cs.get(vbid, key, true, true)
}

func (cs *CouchKVStore) GetWithHeader(vbid uint16, key string, fetchValue bool) (*item.Item, error) {
	return cs.get(vbid, key, fetchValue, false)
}

func (cs *CouchKVStore) get(vbid uint16, key string, fetchValue, fetchDeleted bool) (*item.Item, error) {
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		cs.stats.GetFailures.Add(1)
		return nil, err
	}
	loc, ok := rf.Get(key)
	if !ok || (loc.deleted && !fetchDeleted) {
		cs.stats.GetFailures.Add(1)
		return nil, errors.KeyNotFound(vbid, key)
	}
	if item.DocNamespace(loc.namespace) == item.Collections {
		if err := cs.checkCollectionOpenPersisted(rf, key); err != nil {
			cs.stats.GetFailures.Add(1)
			return nil, err
		}
	}
	it, err := itemFromLocation(rf, vbid, key, loc, fetchValue)
	if err != nil {
		cs.stats.GetFailures.Add(1)
	}
	return it, err
}

// checkCollectionOpenPersisted gates a read of a Collections-namespace key
// against the persisted manifest: a key whose collection has since been
// dropped reads as UnknownCollection even while its document still sits in
// the file awaiting compaction.
func (cs *CouchKVStore) checkCollectionOpenPersisted(rf *revFile, key string) error {
	raw := rf.Manifest()
	if raw == nil {
		return errors.UnknownCollection(key)
	}
	m, err := DecodeManifest(raw)
	if err != nil {
		return errors.TempFail("decode persisted collections manifest", err)
	}
	name, ok := m.CollectionOf(key)
	if !ok || !m.IsOpen(name) {
		return errors.UnknownCollection(name)
	}
	return nil
}

func (cs *CouchKVStore) GetMulti(vbid uint16, keys []string) (map[string]*item.Item, error) {
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		cs.stats.GetFailures.Add(1)
		return nil, err
	}
	result := make(map[string]*item.Item, len(keys))
	for _, key := range keys {
		loc, ok := rf.Get(key)
		if !ok || loc.deleted {
			cs.stats.GetFailures.Add(1)
			continue
		}
		if item.DocNamespace(loc.namespace) == item.Collections {
			if err := cs.checkCollectionOpenPersisted(rf, key); err != nil {
				cs.stats.GetFailures.Add(1)
				continue
			}
		}
		it, err := itemFromLocation(rf, vbid, key, loc, true)
		if err != nil {
			cs.stats.GetFailures.Add(1)
			return nil, err
		}
		result[key] = it
	}
	return result, nil
}

// itemFromLocation re-reads a document's meta/value from rf and projects it
// into the Item shape the engine above the core expects.
func itemFromLocation(rf *revFile, vbid uint16, key string, loc *location, fetchValue bool) (*item.Item, error) {
	it := &item.Item{
		VBucket:   vbid,
		Key:       key,
		Namespace: item.DocNamespace(loc.namespace),
		CAS:       loc.cas,
		BySeqno:   loc.bySeqno,
	}
	if loc.deleted {
		it.Op = item.Deletion
	}
	if !fetchValue {
		return it, nil
	}
	rec, err := rf.readRecordAt(loc)
	if err != nil {
		return nil, errors.SystemError(fmt.Sprintf("read record for key %q", key), err)
	}
	meta, err := kvmeta.Decode(rec.meta)
	if err != nil {
		return nil, errors.TempFail(fmt.Sprintf("decode metadata for key %q", key), err)
	}
	it.Value = rec.value
	it.Expiry = meta.Expiry
	it.Flags = meta.Flags
	it.Datatype = meta.Datatype
	return it, nil
}

// IncrementRevision bumps vbid's published revision without producing a
// file; the next open creates the bumped revision fresh. Used when the
// engine recreates a vBucket from scratch.
func (cs *CouchKVStore) IncrementRevision(vbid uint16) uint64 {
	cs.mustRW("IncrementRevision")
	cs.mu.Lock()
	if rf, ok := cs.files[vbid]; ok {
		if err := rf.Close(); err != nil {
			cs.logger.Warn("closing revision file on increment", zap.Uint16("vbucket_id", vbid), zap.Error(err))
		}
		delete(cs.files, vbid)
	}
	cs.mu.Unlock()
	return cs.revMap.Increment(vbid)
}

// PrepareToDelete closes vbid's cached handle and reports the revision a
// later DelVBucket will unlink.
func (cs *CouchKVStore) PrepareToDelete(vbid uint16) uint64 {
	cs.mustRW("PrepareToDelete")
	cs.mu.Lock()
	if rf, ok := cs.files[vbid]; ok {
		if err := rf.Close(); err != nil {
			cs.logger.Warn("closing revision file on prepareToDelete", zap.Uint16("vbucket_id", vbid), zap.Error(err))
		}
		delete(cs.files, vbid)
	}
	cs.mu.Unlock()
	return cs.revMap.Current(vbid)
}

func (cs *CouchKVStore) DelVBucket(vbid uint16) error {
	cs.mustRW("DelVBucket")
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if rf, ok := cs.files[vbid]; ok {
		if err := rf.Close(); err != nil {
			cs.logger.Warn("closing revision file on delVBucket", zap.Uint16("vbucket_id", vbid), zap.Error(err))
		}
		delete(cs.files, vbid)
	}

	matches, _ := filepath.Glob(filepath.Join(cs.cfg.DataDir, fmt.Sprintf("%d.couch.*", vbid)))
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			cs.logger.Warn("failed removing vbucket file", zap.String("path", m), zap.Error(err))
		}
	}
	cs.revMap.Publish(vbid, 0)
	return nil
}

func (cs *CouchKVStore) ListPersistedVBuckets() []uint16 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	ids := make([]uint16, 0, len(cs.files))
	for vbid := range cs.files {
		ids = append(ids, vbid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SnapshotVBucket persists vbstate per mode. NotPersist touches only the
// in-memory cache; PersistWithoutCommit writes without the fsync (the next
// synced commit makes it durable); PersistWithCommit is a full one-item
// commit.
func (cs *CouchKVStore) SnapshotVBucket(ctx context.Context, vbid uint16, vbstate *VBucketState, mode SnapshotMode) error {
	cs.mustRW("SnapshotVBucket")
	encoded, err := EncodeVBucketState(vbstate)
	if err != nil {
		return errors.SystemError("encode vbucket_state", err)
	}
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		return err
	}

	switch mode {
	case SnapshotModeNotPersist:
		rf.SetVBStateCache(encoded)
		return nil
	case SnapshotModePersistWithoutCommit, SnapshotModePersistWithCommit:
		b := &batch{local: []*localDocRecord{{name: vbstateLocalName, value: encoded}}}
		sync := mode == SnapshotModePersistWithCommit
		if err := rf.append(b, rf.HighSeqno(), time.Now().Unix(), sync); err != nil {
			return errors.TempFail(fmt.Sprintf("snapshot vbucket_state for vbid %d", vbid), err)
		}
		return nil
	default:
		panic(fmt.Sprintf("store: unknown snapshot mode %d", mode))
	}
}

func (cs *CouchKVStore) GetVBucketState(vbid uint16) (*VBucketState, error) {
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		return nil, err
	}
	raw := rf.VBState()
	if raw == nil {
		return nil, errors.KeyNotFound(vbid, vbstateLocalName)
	}
	return DecodeVBucketState(raw)
}

func (cs *CouchKVStore) GetCollectionsManifest(vbid uint16) (*Manifest, error) {
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		return nil, err
	}
	raw := rf.Manifest()
	if raw == nil {
		return nil, errors.KeyNotFound(vbid, manifestLocalName)
	}
	return DecodeManifest(raw)
}

func (cs *CouchKVStore) GetDbFileInfo(vbid uint16) (DbFileInfo, error) {
	rf, err := cs.openCurrent(vbid)
	if err != nil {
		return DbFileInfo{}, err
	}
	return DbFileInfo{
		FileSize:    rf.BytesWritten(),
		SpaceUsed:   rf.BytesWritten(),
		DeleteCount: rf.DeleteCount(),
		ItemCount:   uint64(rf.NumItems()),
	}, nil
}

func (cs *CouchKVStore) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var firstErr error
	for vbid, rf := range cs.files {
		if err := rf.Close(); err != nil {
			cs.logger.Warn("closing revision file on shutdown", zap.Uint16("vbucket_id", vbid), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(cs.files, vbid)
	}
	if cs.deletionPool != nil {
		cs.deletionPool.Stop(5 * time.Second)
	}
	return firstErr
}
