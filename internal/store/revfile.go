package store

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vbkv/kvstore/internal/systemevent"
)

// vbstateLocalName and manifestLocalName are the _local document names
// under which vbucket_state and the Collections manifest are stored,
// mirroring _local/vbstate and _local/collections_manifest.
const (
	vbstateLocalName  = "vbstate"
	manifestLocalName = "collections_manifest"
)

// revFile is one <vbid>.couch.<revision> file: a single mutable,
// append-only log shared by every commit made against this revision, not
// an immutable write-once table. Its key index and bloom filter live only
// in memory and are rebuilt by Replay every time the file is opened; its
// commit headers are the durable points rollback() scans for.
//
// Append order is bySeqno order, since bySeqno strictly increases within a
// vBucket. A seqno-range scan does not walk the file in that order: it
// collects in-range entries from the key index and sorts them by seqno.
type revFile struct {
	mu sync.RWMutex

	path string
	file *fileOps

	index *keyIndex
	bloom *bloomFilter

	highSeqno     uint64
	lastHeaderOff int64 // offset of the most recent commit header, -1 if none
	headerEndOff  int64 // offset one past the most recent commit header
	vbstate       []byte
	manifest      []byte
	bytesWritten  int64
	deleteCount   uint64

	// stats is counted only for normal (non-compaction) files; a
	// compaction target's writes land in CompactionWriteBytes via its
	// fileOps and never in NumWrites/WriteBytes.
	stats      *Stats
	compaction bool

	logger *zap.Logger
}

// createRevFile creates a brand new, empty revision file at path. When
// compaction is true its writes are counted as compaction I/O.
func createRevFile(path string, expectedItems int, bloomFPRate float64, stats *Stats, compaction bool, logger *zap.Logger) (*revFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: create revision file %s: %w", path, err)
	}
	return &revFile{
		path:          path,
		file:          newFileOps(f, writeCounter(stats, compaction)),
		index:         newKeyIndex(),
		bloom:         newBloomFilter(expectedItems, bloomFPRate),
		lastHeaderOff: -1,
		stats:         stats,
		compaction:    compaction,
		logger:        logger,
	}, nil
}

// openRevFile opens an existing revision file and replays it to rebuild the
// key index, bloom filter, commit-header chain and cached _local documents.
func openRevFile(path string, expectedItems int, bloomFPRate float64, stats *Stats, logger *zap.Logger) (*revFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open revision file %s: %w", path, err)
	}
	rf := &revFile{
		path:          path,
		file:          newFileOps(f, writeCounter(stats, false)),
		index:         newKeyIndex(),
		bloom:         newBloomFilter(expectedItems, bloomFPRate),
		lastHeaderOff: -1,
		stats:         stats,
		logger:        logger,
	}
	if err := rf.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return rf, nil
}

func writeCounter(stats *Stats, compaction bool) *atomic.Uint64 {
	if stats == nil {
		return nil
	}
	if compaction {
		return &stats.CompactionWriteBytes
	}
	return &stats.TotalWriteBytes
}

// replay walks the file from offset 0, reconstructing every piece of state
// this process normally keeps only in memory. A truncated final record (a
// partial write left by a crash mid-commit) is tolerated: replay stops at
// the last complete commit header it found and logs the truncation rather
// than failing the open.
func (rf *revFile) replay() error {
	if _, err := rf.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(rf.file)

	var offset int64

	type pendingDoc struct {
		rec    *documentRecord
		offset int64
		size   int64
	}
	var pendingDocs []pendingDoc
	var pendingLocal []*localDocRecord

	for {
		recordStart := offset
		kindByte, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("store: replay %s: %w", rf.path, err)
		}
		offset++

		switch recordKind(kindByte) {
		case recordDocument:
			rec, n, err := readDocumentRecord(r)
			if err != nil {
				rf.logTruncation(offset, err)
				return rf.finishReplay(rf.afterLastHeader())
			}
			pendingDocs = append(pendingDocs, pendingDoc{rec: rec, offset: recordStart, size: n})
			offset = recordStart + n

		case recordLocalDoc:
			rec, n, err := readLocalDocRecord(r)
			if err != nil {
				rf.logTruncation(offset, err)
				return rf.finishReplay(rf.afterLastHeader())
			}
			pendingLocal = append(pendingLocal, rec)
			offset = recordStart + n

		case recordCommitHeader:
			hdr, n, err := readCommitHeaderRecord(r)
			if err != nil {
				rf.logTruncation(offset, err)
				return rf.finishReplay(rf.afterLastHeader())
			}
			offset = recordStart + n

			for _, d := range pendingDocs {
				rf.applyDocument(d.rec, d.offset, d.size)
			}
			for _, l := range pendingLocal {
				rf.applyLocalDoc(l)
			}
			pendingDocs = nil
			pendingLocal = nil

			rf.highSeqno = hdr.highSeqno
			rf.lastHeaderOff = recordStart
			rf.headerEndOff = offset

		default:
			return fmt.Errorf("store: replay %s: unknown record kind %d at offset %d", rf.path, kindByte, recordStart)
		}
	}

	// pendingDocs/pendingLocal left over here means the file ends mid-batch
	// with no closing commit header: a crash between writing records and
	// fsyncing the header. Those records never became durable and are
	// discarded, matching the "the batch lands in full, with exactly one
	// fsync, or not at all" guarantee.
	if len(pendingDocs) > 0 || len(pendingLocal) > 0 {
		rf.logger.Warn("discarding incomplete trailing batch on replay",
			zap.String("path", rf.path), zap.Int("docs", len(pendingDocs)), zap.Int("local_docs", len(pendingLocal)))
		return rf.finishReplay(rf.afterLastHeader())
	}

	return rf.finishReplay(offset)
}

// afterLastHeader returns the file offset one past the most recent commit
// header seen so far, or 0 if no header was ever completed.
func (rf *revFile) afterLastHeader() int64 {
	if rf.lastHeaderOff < 0 {
		return 0
	}
	return rf.headerEndOff
}

func (rf *revFile) logTruncation(offset int64, err error) {
	rf.logger.Warn("truncated record during replay, stopping at last commit header",
		zap.String("path", rf.path), zap.Int64("offset", offset), zap.Error(err))
}

func (rf *revFile) finishReplay(offset int64) error {
	rf.bytesWritten = offset
	if _, err := rf.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return rf.file.Truncate(offset)
}

func (rf *revFile) applyDocument(rec *documentRecord, offset, size int64) {
	loc := &location{
		offset:    offset,
		size:      size,
		deleted:   rec.deleted,
		bySeqno:   rec.bySeqno,
		cas:       rec.cas,
		namespace: rec.namespace,
	}
	if rec.deleted {
		rf.deleteCount++
	}
	rf.index.Put(rec.key, loc)
	rf.bloom.Add(rec.key)
}

func (rf *revFile) applyLocalDoc(rec *localDocRecord) {
	switch rec.name {
	case vbstateLocalName:
		rf.vbstate = rec.value
	case manifestLocalName:
		rf.manifest = rec.value
	}
}

// batch is a set of pending writes accumulated between Begin and Commit.
// callbacks runs parallel to docs: callbacks[i] is invoked with docs[i]'s
// mutation result once the commit marker is durable, or with the failure
// that aborted the batch. Entries may be nil.
type batch struct {
	docs      []*documentRecord
	callbacks []MutationCallback
	events    []systemevent.BatchEvent
	local     []*localDocRecord
}

// append durably writes everything queued in b as a single unit: every
// record is written, then one commitHeaderRecord closes the batch, then the
// whole thing is fsynced once (when sync is true). A process crash before
// the fsync returns leaves the batch invisible to the next replay; a crash
// after leaves it fully visible. There is no partial-batch state.
func (rf *revFile) append(b *batch, highSeqno uint64, timestamp int64, sync bool) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if _, err := rf.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	w := bufio.NewWriter(rf.file)

	var written int64
	docOffsets := make([]int64, len(b.docs))
	docSizes := make([]int64, len(b.docs))
	for i, d := range b.docs {
		docOffsets[i] = rf.bytesWritten + written
		n, err := d.writeTo(w)
		if err != nil {
			return fmt.Errorf("store: write document record: %w", err)
		}
		docSizes[i] = n
		written += n
	}
	for _, l := range b.local {
		n, err := l.writeTo(w)
		if err != nil {
			return fmt.Errorf("store: write local doc record: %w", err)
		}
		written += n
	}

	headerOffset := rf.bytesWritten + written
	hdr := &commitHeaderRecord{highSeqno: highSeqno, timestamp: timestamp, prevHeader: rf.lastHeaderOff}
	n, err := hdr.writeTo(w)
	if err != nil {
		return fmt.Errorf("store: write commit header: %w", err)
	}
	written += n

	if err := w.Flush(); err != nil {
		return fmt.Errorf("store: flush commit batch: %w", err)
	}
	if sync {
		if err := rf.file.Sync(); err != nil {
			return fmt.Errorf("store: fsync commit batch: %w", err)
		}
	}

	for i, d := range b.docs {
		rf.applyDocument(d, docOffsets[i], docSizes[i])
	}
	for _, l := range b.local {
		rf.applyLocalDoc(l)
	}
	rf.highSeqno = highSeqno
	rf.lastHeaderOff = headerOffset
	rf.headerEndOff = headerOffset + n
	rf.bytesWritten += written

	if rf.stats != nil && !rf.compaction {
		for _, d := range b.docs {
			rf.stats.NumWrites.Add(1)
			rf.stats.WriteBytes.Add(uint64(len(d.key) + len(d.meta) + len(d.value)))
		}
	}

	return nil
}

// readRecordAt re-reads the full documentRecord (meta + value included) at
// loc's offset. The key index keeps only enough of a document to answer
// lookups and scans (offset, size, CAS, bySeqno, deleted, namespace); the
// value and encoded metadata are re-read from disk on demand rather than
// duplicated in memory, since a revision file can grow far larger than
// would be reasonable to hold twice.
func (rf *revFile) readRecordAt(loc *location) (*documentRecord, error) {
	buf := make([]byte, loc.size)
	if _, err := rf.file.ReadAt(buf, loc.offset); err != nil {
		return nil, fmt.Errorf("store: read record at offset %d: %w", loc.offset, err)
	}
	br := bufio.NewReader(bytes.NewReader(buf))
	kindByte, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	if recordKind(kindByte) != recordDocument {
		return nil, fmt.Errorf("store: record at offset %d is not a document record", loc.offset)
	}
	rec, _, err := readDocumentRecord(br)
	return rec, err
}

// Get returns the most recent location for key, live or tombstoned, and
// whether it was found at all. Callers distinguish "not found" from "found
// but deleted" via loc.deleted.
func (rf *revFile) Get(key string) (*location, bool) {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	if !rf.bloom.MayContain(key) {
		return nil, false
	}
	return rf.index.Get(key)
}

func (rf *revFile) HighSeqno() uint64 {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.highSeqno
}

func (rf *revFile) VBState() []byte {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.vbstate
}

// SetVBStateCache replaces the in-memory vbucket_state without touching
// disk: the SnapshotModeNotPersist path. The cached value is what
// GetVBucketState returns until the next commit overwrites it, durable or
// not.
func (rf *revFile) SetVBStateCache(encoded []byte) {
	rf.mu.Lock()
	rf.vbstate = encoded
	rf.mu.Unlock()
}

func (rf *revFile) Manifest() []byte {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.manifest
}

func (rf *revFile) BytesWritten() int64 {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.bytesWritten
}

func (rf *revFile) NumItems() int {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.index.Len()
}

func (rf *revFile) DeleteCount() uint64 {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.deleteCount
}

// rename moves the underlying file to newPath. The open descriptor is
// unaffected; only the name future opens resolve changes.
func (rf *revFile) rename(newPath string) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if err := os.Rename(rf.path, newPath); err != nil {
		return err
	}
	rf.path = newPath
	return nil
}

func (rf *revFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.file.Close()
}
