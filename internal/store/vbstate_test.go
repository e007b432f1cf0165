package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVBucketState_RoundTrip(t *testing.T) {
	vs := &VBucketState{State: "active", CheckpointID: 3, HighSeqno: 100, MaxCas: 555}
	buf, err := EncodeVBucketState(vs)
	require.NoError(t, err)

	got, err := DecodeVBucketState(buf)
	require.NoError(t, err)
	assert.Equal(t, vs.State, got.State)
	assert.Equal(t, vs.HighSeqno, got.HighSeqno)
	assert.Equal(t, vs.MaxCas, got.MaxCas)
}

func TestDecodeVBucketState_AllOnesMaxCasFoldsToZero(t *testing.T) {
	vs := &VBucketState{State: "active", MaxCas: allOnes}
	buf, err := EncodeVBucketState(vs)
	require.NoError(t, err)

	got, err := DecodeVBucketState(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.MaxCas)
}

func TestVBucketState_FailoverTableRoundTrip(t *testing.T) {
	vs := &VBucketState{
		State: "active",
		FailoverTable: []FailoverEntry{
			{ID: 0xDEADBEEF, Seqno: 40},
			{ID: 0xCAFEF00D, Seqno: 10},
		},
	}
	buf, err := EncodeVBucketState(vs)
	require.NoError(t, err)

	got, err := DecodeVBucketState(buf)
	require.NoError(t, err)
	assert.Equal(t, vs.FailoverTable, got.FailoverTable)
}

func TestEncodeVBucketState_NilFailoverTableIsEmptyArray(t *testing.T) {
	buf, err := EncodeVBucketState(&VBucketState{State: "active"})
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"failover_table":[]`)
}

func TestManifest_RoundTrip(t *testing.T) {
	m := &Manifest{Revision: 2, Separator: "::", Collections: []string{"$default", "widgets"}}
	buf, err := EncodeManifest(m)
	require.NoError(t, err)

	got, err := DecodeManifest(buf)
	require.NoError(t, err)
	assert.Equal(t, m.Revision, got.Revision)
	assert.Equal(t, m.Separator, got.Separator)
	assert.Equal(t, []string{"$default", "widgets"}, got.Collections)
}

func TestDecodeManifest_LiteralForm(t *testing.T) {
	got, err := DecodeManifest([]byte(`{"revision":1,"separator":"::","collections":["$default","meat"]}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Revision)
	assert.Equal(t, "::", got.Separator)
	assert.True(t, got.IsOpen("meat"))
	assert.False(t, got.IsOpen("dairy"))
}

func TestDecodeManifest_EmptySeparatorRejected(t *testing.T) {
	_, err := DecodeManifest([]byte(`{"revision":1,"separator":"","collections":[]}`))
	assert.Error(t, err)
}

func TestManifest_CollectionOf(t *testing.T) {
	m := &Manifest{Revision: 1, Separator: "::", Collections: []string{"meat"}}

	name, ok := m.CollectionOf("meat::beef")
	require.True(t, ok)
	assert.Equal(t, "meat", name)

	_, ok = m.CollectionOf("nosuchseparator")
	assert.False(t, ok)
}

func TestValidateSuccessor(t *testing.T) {
	current := &Manifest{Revision: 5}
	assert.NoError(t, ValidateSuccessor(current, &Manifest{Revision: 6}))
	assert.Error(t, ValidateSuccessor(current, &Manifest{Revision: 5}))
	assert.Error(t, ValidateSuccessor(current, &Manifest{Revision: 4}))
	assert.NoError(t, ValidateSuccessor(nil, &Manifest{Revision: 1}))
}
