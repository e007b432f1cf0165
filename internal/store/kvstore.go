// Package store implements the persistence core: CouchKVStore's RW/RO
// duality over a per-vBucket, per-revision append-only file, the
// Collections manifest and vbucket_state overlays, compaction, rollback
// and the range-scan engine. Each vBucket owns a single mutable append-only
// file per revision rather than a family of immutable tables; compaction
// and rollback are the only operations that replace the file wholesale.
package store

import (
	"context"

	"github.com/vbkv/kvstore/internal/item"
)

// MutationStatus is the result delivered to a Set/Delete callback once the
// batch's commit marker is durable.
type MutationStatus int

const (
	// MutationInserted means the key did not exist (or existed only as a
	// tombstone) before this commit.
	MutationInserted MutationStatus = iota
	// MutationUpdated means a live version of the key was overwritten.
	MutationUpdated
	// MutationFailed means the batch aborted; the translated error is
	// passed alongside.
	MutationFailed
)

// MutationCallback is stored with each queued Set/Delete and invoked during
// Commit, after the single fsync point, with the final result. A nil
// callback is allowed and skipped.
type MutationCallback func(key string, status MutationStatus, err error)

// SnapshotMode selects how far SnapshotVBucket pushes a vbucket_state.
type SnapshotMode int

const (
	// SnapshotModeNotPersist updates the in-memory vbucket_state only;
	// a later Commit writes only the vbstate passed to it, not this cached
	// one.
	SnapshotModeNotPersist SnapshotMode = iota
	// SnapshotModePersistWithoutCommit writes the state and a header but
	// does not fsync; durability rides on the next synced commit.
	SnapshotModePersistWithoutCommit
	// SnapshotModePersistWithCommit writes the state and fsyncs.
	SnapshotModePersistWithCommit
)

// DocFilter selects which documents a scan should visit.
type DocFilter int

const (
	DocFilterAll DocFilter = iota
	DocFilterNoDeletes
	DocFilterDeletesOnly
)

// ValueFilter controls how much of a document a scan returns.
type ValueFilter int

const (
	ValueFilterKeyOnly ValueFilter = iota
	ValueFilterCompressed
	ValueFilterDecompressed
)

// CacheLookup is consulted once per scan candidate before the document body
// is read from disk; returning true means the caller already holds this
// (key, seqno) in its cache and the disk read is skipped.
type CacheLookup func(key string, bySeqno uint64, vbid uint16) bool

// ScanStatus is the outcome of one Scan call.
type ScanStatus int

const (
	ScanSuccess ScanStatus = iota
	// ScanAgain means the callback yielded; the context remembers the last
	// consumed seqno and a subsequent Scan resumes after it.
	ScanAgain
	ScanFailed
)

// ErrScanYield is returned by a ScanCallback to suspend the scan; Scan
// saves the last consumed seqno in the context and reports ScanAgain.
var ErrScanYield = errScanYield{}

type errScanYield struct{}

func (errScanYield) Error() string { return "store: scan yield requested" }

// ScanCallback is invoked once per document a Scan call visits. Returning
// ErrScanYield suspends the scan; any other non-nil error fails it.
type ScanCallback func(it *item.Item) error

// ScanContext is the handle returned by InitScanContext and consumed by
// Scan; the scanID is registered under a lock for the lifetime of the scan
// so DestroyScanContext can be matched to the right in-flight scan.
type ScanContext struct {
	ScanID      uint64
	VBucketID   uint16
	StartSeqno  uint64
	EndSeqno    uint64
	DocFilter   DocFilter
	ValueFilter ValueFilter

	// CacheLookup may be nil, in which case every candidate is read from
	// disk.
	CacheLookup CacheLookup

	// LastReadSeqno is the highest seqno delivered to the callback so far;
	// after a ScanAgain it is where the next Scan call resumes.
	LastReadSeqno uint64
}

// CompactionContext carries the purge policy and hooks for one CompactDB
// run.
type CompactionContext struct {
	// PurgeBeforeSeq: tombstones with bySeqno below this are candidates
	// for dropping.
	PurgeBeforeSeq uint64
	// PurgeBeforeTs: tombstones whose delete time (carried in the expiry
	// field, as the engine above records it) is at or below this are
	// candidates for dropping, subject to PurgeBeforeSeq.
	PurgeBeforeTs uint64
	// DropDeletes drops every tombstone below PurgeBeforeSeq regardless of
	// its delete time.
	DropDeletes bool

	// ExpiryCallback is consulted for every live document; returning true
	// converts it to a tombstone in the new revision.
	ExpiryCallback func(it *item.Item, now int64) bool
	// BloomCallback is fed every key retained in the new revision.
	BloomCallback func(key string)
}

// RollbackResult reports where a Rollback landed.
type RollbackResult struct {
	// Seqno is the highSeqno of the header the file was rewound to.
	Seqno uint64
	// FailoverEntry is the failover-table row minted for the new branch of
	// history the rewind began; on a no-op rollback it is the vBucket's
	// current newest entry.
	FailoverEntry FailoverEntry
}

// RollbackCallback is invoked once per key reverted by Rollback, carrying
// the key's prior state at the rewind point: a live item with its value and
// metadata, or a Deletion item when the key does not exist there.
type RollbackCallback func(prior *item.Item) error

// DbFileInfo reports size accounting for one vBucket's current revision
// file: getDbFileInfo/getAggrDbFileInfo.
type DbFileInfo struct {
	FileSize    int64
	SpaceUsed   int64
	DeleteCount uint64
	ItemCount   uint64
}

// KVStore is the persistence-core contract a vBucket's data manager drives,
// matching CouchKVStore's public surface. A concrete store is either the
// read-write instance (the only one permitted to mutate) or a read-only
// instance sharing the same file-revision map (see internal/revision).
// Calling any mutating method on a read-only instance panics: that is a
// caller bug, not a runtime condition.
type KVStore interface {
	// Begin opens a transaction for vbid. Set/Delete calls until the
	// matching Commit queue mutations in memory; nothing is durable until
	// Commit returns.
	Begin(vbid uint16) error

	// Set queues a mutation of it within the open transaction for
	// it.VBucketID. cb, if non-nil, fires during Commit with the final
	// mutation result. Buffers referenced by it must outlive the commit.
	Set(it *item.Item, cb MutationCallback) error

	// Delete queues a tombstone for it within the open transaction.
	Delete(it *item.Item, cb MutationCallback) error

	// Commit durably persists every Set/Delete queued since Begin, plus an
	// optional vbucket_state and the Collections manifest update derived
	// from any SystemEvent items in the batch, as a single fsynced unit.
	Commit(ctx context.Context, vbid uint16, vbstate *VBucketState) error

	// RollbackTxn discards the current batch without touching disk.
	RollbackTxn(vbid uint16) error

	// Get returns the current live value of key in vbid, or a not-found
	// error. Tombstoned keys report not-found; use GetDeleted to fetch
	// them.
	Get(vbid uint16, key string) (*item.Item, error)

	// GetDeleted is Get with fetchDeleted semantics: a tombstone is
	// returned as a Deletion item instead of a not-found error.
	GetDeleted(vbid uint16, key string) (*item.Item, error)

	// GetWithHeader is Get with a choice of whether to read the record.
	// With fetchValue true it returns the value, expiry, flags and
	// datatype as Get does; with fetchValue false it answers from the key
	// index alone, returning CAS and bySeqno but no value, expiry, flags or
	// datatype.
	GetWithHeader(vbid uint16, key string, fetchValue bool) (*item.Item, error)

	// GetMulti batches several Get calls against one vBucket.
	GetMulti(vbid uint16, keys []string) (map[string]*item.Item, error)

	// DelVBucket removes every revision file for vbid and its entry from
	// the file-revision map, rather than appending a tombstone for it.
	DelVBucket(vbid uint16) error

	// IncrementRevision bumps vbid's file revision without producing a
	// file; the next open creates the bumped revision fresh.
	IncrementRevision(vbid uint16) uint64

	// PrepareToDelete closes vbid's cached handle and returns the revision
	// whose file a later DelVBucket will unlink.
	PrepareToDelete(vbid uint16) uint64

	// ListPersistedVBuckets returns every vBucket id whose current revision
	// file this instance has open. Files on disk that no call on this
	// instance has opened yet are not listed.
	ListPersistedVBuckets() []uint16

	// SnapshotVBucket persists vbstate per mode without requiring a data
	// mutation in the same commit.
	SnapshotVBucket(ctx context.Context, vbid uint16, vbstate *VBucketState, mode SnapshotMode) error

	// GetVBucketState returns the last persisted vbucket_state for vbid.
	GetVBucketState(vbid uint16) (*VBucketState, error)

	// GetCollectionsManifest returns the last persisted Collections
	// manifest for vbid.
	GetCollectionsManifest(vbid uint16) (*Manifest, error)

	// GetDbFileInfo reports size/item accounting for vbid's current
	// revision file.
	GetDbFileInfo(vbid uint16) (DbFileInfo, error)

	// CompactDB rewrites vbid's current revision file into a fresh
	// revision per cctx's purge policy, then publishes the new revision
	// and queues the old file for deletion once open readers release it.
	CompactDB(ctx context.Context, vbid uint16, cctx *CompactionContext) error

	// Rollback scans vbid's commit headers from the start of the file for
	// the newest header with highSeqno <= seqno, truncates the file at that
	// header, invokes cb with each reverted key's prior state at the rewind
	// point, records a fresh failover entry, and publishes a bumped
	// revision. Fails when no such header survives; the caller must resync
	// from scratch.
	Rollback(vbid uint16, seqno uint64, cb RollbackCallback) (RollbackResult, error)

	// GetAllKeys walks every live key in vbid in ascending order starting
	// at (or after) startKey, stopping after count keys or when cb returns
	// an error.
	GetAllKeys(vbid uint16, startKey string, count int, cb func(key string) error) error

	// InitScanContext registers a new range scan over (startSeqno,
	// highSeqno-at-open] and returns a handle identifying it.
	InitScanContext(vbid uint16, startSeqno uint64, df DocFilter, vf ValueFilter, cache CacheLookup) (*ScanContext, error)

	// Scan drives sc until completion or a yield, invoking cb once per
	// selected document.
	Scan(sc *ScanContext, cb ScanCallback) (ScanStatus, error)

	// DestroyScanContext releases sc's registration. Must be called on all
	// paths, including after a failed Scan.
	DestroyScanContext(sc *ScanContext)

	// Stats exposes the per-store counter surface.
	Stats() *Stats

	// Close releases every open revision file handle.
	Close() error
}
