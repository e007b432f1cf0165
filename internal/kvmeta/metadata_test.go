package kvmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	m := &MetaData{CAS: 0x0102030405060708, Expiry: 42, Flags: 7, Datatype: 1}
	buf := Encode(m)
	require.Len(t, buf, sizeV1)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m.CAS, got.CAS)
	assert.Equal(t, m.Expiry, got.Expiry)
	assert.Equal(t, m.Flags, got.Flags)
	assert.Equal(t, m.Datatype, got.Datatype)
	assert.Equal(t, V1, got.VersionInitialisedFrom)
	assert.Equal(t, defaultFlexMarker, got.FlexCode)
}

func TestDecode_V0(t *testing.T) {
	buf := make([]byte, sizeV0)
	casToWire(buf[0:8], 99)
	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got.CAS)
	assert.Equal(t, V0, got.VersionInitialisedFrom)
	assert.Zero(t, got.FlexCode)
}

func TestDecode_V2DropsTrailingByte(t *testing.T) {
	buf := make([]byte, sizeV2)
	casToWire(buf[0:8], 7)
	buf[16] = 0x01
	buf[17] = 0x02
	buf[18] = 0xFF // legacy conflict-resolution byte, must be dropped

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, V2, got.VersionInitialisedFrom)
	assert.Equal(t, byte(0x01), got.FlexCode)
	assert.Equal(t, byte(0x02), got.Datatype)
}

func TestDecode_MalformedLength(t *testing.T) {
	_, err := Decode(make([]byte, 5))
	assert.Error(t, err)
}

func TestEncode_AlwaysProjectsToV1(t *testing.T) {
	m := &MetaData{CAS: 1, VersionInitialisedFrom: V2}
	buf := Encode(m)
	assert.Len(t, buf, sizeV1)
}

func TestVersionSize(t *testing.T) {
	assert.Equal(t, sizeV0, V0.Size())
	assert.Equal(t, sizeV1, V1.Size())
	assert.Equal(t, sizeV2, V2.Size())
	assert.Zero(t, Version(99).Size())
}
