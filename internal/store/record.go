package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vbkv/kvstore/internal/util"
)

// recordKind tags every record appended to a revision file so Replay can
// parse a mixed stream of document writes, _local documents and commit
// headers without a separate index describing where each one lives.
type recordKind byte

const (
	recordDocument     recordKind = 1
	recordLocalDoc     recordKind = 2
	recordCommitHeader recordKind = 3
)

// documentRecord is one mutation or deletion of a regular (non-_local) key,
// the on-disk form of an Item plus its MetaData.
type documentRecord struct {
	namespace uint8
	deleted   bool
	key       string
	meta      []byte // kvmeta.Encode output (18 bytes) for queued writes; compaction copies the stored bytes as they are
	bySeqno   uint64
	cas       uint64
	value     []byte
}

// writeTo appends the record's wire form to w and returns the number of
// bytes written, for byte-accounting in the stats surface.
func (r *documentRecord) writeTo(w io.Writer) (int64, error) {
	buf := newBuf()
	buf.WriteByte(byte(recordDocument))
	buf.WriteByte(r.namespace)
	if r.deleted {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeUint32(buf, uint32(len(r.key)))
	buf.WriteString(r.key)
	writeUint16(buf, uint16(len(r.meta)))
	buf.Write(r.meta)
	writeUint64(buf, r.bySeqno)
	writeUint64(buf, r.cas)
	writeUint32(buf, uint32(len(r.value)))
	buf.Write(r.value)

	checksum := util.ComputeChecksum(buf.Bytes())
	writeUint32(buf, checksum)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func readDocumentRecord(r *bufio.Reader) (*documentRecord, int64, error) {
	start := newBuf()
	start.WriteByte(byte(recordDocument))

	namespace, err := r.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	start.WriteByte(namespace)

	deletedByte, err := r.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	start.WriteByte(deletedByte)

	keyLen, err := readUint32(r, start)
	if err != nil {
		return nil, 0, err
	}
	key, err := readBytes(r, start, int(keyLen))
	if err != nil {
		return nil, 0, err
	}

	metaLen, err := readUint16(r, start)
	if err != nil {
		return nil, 0, err
	}
	meta, err := readBytes(r, start, int(metaLen))
	if err != nil {
		return nil, 0, err
	}

	bySeqno, err := readUint64(r, start)
	if err != nil {
		return nil, 0, err
	}
	cas, err := readUint64(r, start)
	if err != nil {
		return nil, 0, err
	}

	valueLen, err := readUint32(r, start)
	if err != nil {
		return nil, 0, err
	}
	value, err := readBytes(r, start, int(valueLen))
	if err != nil {
		return nil, 0, err
	}

	var wantChecksum uint32
	if err := binary.Read(r, binary.BigEndian, &wantChecksum); err != nil {
		return nil, 0, err
	}
	gotChecksum := util.ComputeChecksum(start.Bytes())
	if gotChecksum != wantChecksum {
		return nil, 0, fmt.Errorf("store: checksum mismatch on document record for key %q", string(key))
	}

	rec := &documentRecord{
		namespace: namespace,
		deleted:   deletedByte == 1,
		key:       string(key),
		meta:      meta,
		bySeqno:   bySeqno,
		cas:       cas,
		value:     value,
	}
	total := int64(start.Len() + util.ChecksumSize)
	return rec, total, nil
}

// localDocRecord is a _local document: vbucket_state or the Collections
// manifest, both keyed by a fixed name and always overwritten in place
// logically (though physically it's just another append, like everything
// else in this file).
type localDocRecord struct {
	name  string
	value []byte
}

func (r *localDocRecord) writeTo(w io.Writer) (int64, error) {
	buf := newBuf()
	buf.WriteByte(byte(recordLocalDoc))
	writeUint16(buf, uint16(len(r.name)))
	buf.WriteString(r.name)
	writeUint32(buf, uint32(len(r.value)))
	buf.Write(r.value)

	checksum := util.ComputeChecksum(buf.Bytes())
	writeUint32(buf, checksum)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func readLocalDocRecord(r *bufio.Reader) (*localDocRecord, int64, error) {
	start := newBuf()
	start.WriteByte(byte(recordLocalDoc))

	nameLen, err := readUint16(r, start)
	if err != nil {
		return nil, 0, err
	}
	name, err := readBytes(r, start, int(nameLen))
	if err != nil {
		return nil, 0, err
	}
	valueLen, err := readUint32(r, start)
	if err != nil {
		return nil, 0, err
	}
	value, err := readBytes(r, start, int(valueLen))
	if err != nil {
		return nil, 0, err
	}

	var wantChecksum uint32
	if err := binary.Read(r, binary.BigEndian, &wantChecksum); err != nil {
		return nil, 0, err
	}
	if util.ComputeChecksum(start.Bytes()) != wantChecksum {
		return nil, 0, fmt.Errorf("store: checksum mismatch on local doc record %q", string(name))
	}

	rec := &localDocRecord{name: string(name), value: value}
	return rec, int64(start.Len() + util.ChecksumSize), nil
}

// commitHeaderRecord closes a batch of document/local-doc records with a
// single durability marker: the highest bySeqno in the batch, a wall-clock
// timestamp, and a back-pointer to the previous header's file offset.
// rollback() does not follow the back-pointer: it scans the headers forward
// from the start of the file to find the one with the largest highSeqno not
// exceeding the target seqno.
type commitHeaderRecord struct {
	highSeqno  uint64
	timestamp  int64
	prevHeader int64 // offset of the previous commit header, or -1
}

func (r *commitHeaderRecord) writeTo(w io.Writer) (int64, error) {
	buf := newBuf()
	buf.WriteByte(byte(recordCommitHeader))
	writeUint64(buf, r.highSeqno)
	writeUint64(buf, uint64(r.timestamp))
	writeUint64(buf, uint64(r.prevHeader))

	checksum := util.ComputeChecksum(buf.Bytes())
	writeUint32(buf, checksum)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func readCommitHeaderRecord(r *bufio.Reader) (*commitHeaderRecord, int64, error) {
	start := newBuf()
	start.WriteByte(byte(recordCommitHeader))

	highSeqno, err := readUint64(r, start)
	if err != nil {
		return nil, 0, err
	}
	timestamp, err := readUint64(r, start)
	if err != nil {
		return nil, 0, err
	}
	prevHeader, err := readUint64(r, start)
	if err != nil {
		return nil, 0, err
	}

	var wantChecksum uint32
	if err := binary.Read(r, binary.BigEndian, &wantChecksum); err != nil {
		return nil, 0, err
	}
	if util.ComputeChecksum(start.Bytes()) != wantChecksum {
		return nil, 0, fmt.Errorf("store: checksum mismatch on commit header")
	}

	rec := &commitHeaderRecord{
		highSeqno:  highSeqno,
		timestamp:  int64(timestamp),
		prevHeader: int64(prevHeader),
	}
	return rec, int64(start.Len() + util.ChecksumSize), nil
}
