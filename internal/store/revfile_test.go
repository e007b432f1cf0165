package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vbkv/kvstore/internal/item"
	"github.com/vbkv/kvstore/internal/kvmeta"
)

func newTestRevFile(t *testing.T) (*revFile, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "0.couch.0")
	rf, err := createRevFile(path, 64, 0.01, &Stats{}, false, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { rf.Close() })
	return rf, path
}

func TestRevFile_MetaUpgradeOnRead(t *testing.T) {
	rf, _ := newTestRevFile(t)

	// A raw 16-byte V0 record, the layout written before the extension
	// bytes existed: CAS, expiry, flags, all big-endian.
	raw := make([]byte, 16)
	binary.BigEndian.PutUint64(raw[0:8], 0xF00FCAFE11225566)
	binary.BigEndian.PutUint32(raw[8:12], 0xAA00BB11)
	binary.BigEndian.PutUint32(raw[12:16], 0x01020304)

	b := &batch{docs: []*documentRecord{{
		namespace: uint8(item.DefaultCollection),
		key:       "legacy",
		meta:      raw,
		bySeqno:   1,
		cas:       0xF00FCAFE11225566,
		value:     []byte("v"),
	}}}
	require.NoError(t, rf.append(b, 1, 1000, true))

	loc, ok := rf.Get("legacy")
	require.True(t, ok)
	it, err := itemFromLocation(rf, 0, "legacy", loc, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAA00BB11), it.Expiry)
	assert.Equal(t, uint32(0x01020304), it.Flags)
	assert.Equal(t, item.DatatypeRaw, it.Datatype)

	rec, err := rf.readRecordAt(loc)
	require.NoError(t, err)
	meta, err := kvmeta.Decode(rec.meta)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xF00FCAFE11225566), meta.CAS)
	assert.Equal(t, kvmeta.V0, meta.VersionInitialisedFrom)
}

func TestRevFile_ReplayDiscardsTrailingBatchWithoutHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.couch.0")
	rf, err := createRevFile(path, 64, 0.01, &Stats{}, false, zap.NewNop())
	require.NoError(t, err)

	b := &batch{docs: []*documentRecord{{
		key: "durable", meta: kvmeta.Encode(&kvmeta.MetaData{CAS: 1}), bySeqno: 1, cas: 1, value: []byte("v"),
	}}}
	require.NoError(t, rf.append(b, 1, 1000, true))
	headerEnd := rf.bytesWritten
	require.NoError(t, rf.Close())

	// Simulate a crash mid-commit: a document record written after the
	// last header, with no closing header behind it.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	rec := &documentRecord{key: "lost", meta: kvmeta.Encode(&kvmeta.MetaData{CAS: 2}), bySeqno: 2, cas: 2, value: []byte("x")}
	_, err = rec.writeTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := openRevFile(path, 64, 0.01, &Stats{}, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	_, ok := reopened.Get("lost")
	assert.False(t, ok, "an unclosed trailing batch is discarded on replay")
	loc, ok := reopened.Get("durable")
	require.True(t, ok)
	assert.Equal(t, uint64(1), loc.bySeqno)
	assert.Equal(t, headerEnd, reopened.bytesWritten, "the file is truncated back to the last header")
}

func TestRevFile_ReplayDiscardsTruncatedRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.couch.0")
	rf, err := createRevFile(path, 64, 0.01, &Stats{}, false, zap.NewNop())
	require.NoError(t, err)

	b := &batch{docs: []*documentRecord{{
		key: "durable", meta: kvmeta.Encode(&kvmeta.MetaData{CAS: 1}), bySeqno: 1, cas: 1, value: []byte("v"),
	}}}
	require.NoError(t, rf.append(b, 1, 1000, true))
	require.NoError(t, rf.Close())

	// A partial record: the kind byte and a few garbage bytes, cut off
	// mid-write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(recordDocument), 0x00, 0x01})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := openRevFile(path, 64, 0.01, &Stats{}, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	loc, ok := reopened.Get("durable")
	require.True(t, ok)
	assert.Equal(t, uint64(1), loc.bySeqno)
}

func TestRevFile_AppendWithoutSyncIsVisibleAfterReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0.couch.0")
	rf, err := createRevFile(path, 64, 0.01, &Stats{}, false, zap.NewNop())
	require.NoError(t, err)

	b := &batch{local: []*localDocRecord{{name: vbstateLocalName, value: []byte(`{"state":"active"}`)}}}
	require.NoError(t, rf.append(b, 0, 1000, false))
	require.NoError(t, rf.Close())

	reopened, err := openRevFile(path, 64, 0.01, &Stats{}, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, []byte(`{"state":"active"}`), reopened.VBState())
}

func TestRevFile_DeleteCountTracksTombstones(t *testing.T) {
	rf, _ := newTestRevFile(t)

	b := &batch{docs: []*documentRecord{
		{key: "live", meta: kvmeta.Encode(&kvmeta.MetaData{}), bySeqno: 1, value: []byte("v")},
		{key: "dead", meta: kvmeta.Encode(&kvmeta.MetaData{}), bySeqno: 2, deleted: true},
	}}
	require.NoError(t, rf.append(b, 2, 1000, true))
	assert.Equal(t, uint64(1), rf.DeleteCount())
}
