// Package kvmeta implements the fixed-layout per-document metadata codec
// (V0/V1/V2) with upgrade-on-read. CAS is stored big-endian on disk; the
// engine above hands it to us host-endian, so Encode/Decode do the swap.
package kvmeta

import (
	"encoding/binary"
	"fmt"
)

// Version identifies the on-disk layout a MetaData value was read from.
type Version int

const (
	V0 Version = iota // 16 bytes: CAS, expiry, flags
	V1                // 18 bytes: V0 + flex marker + datatype
	V2                // 19 bytes: V1 + legacy conflict-resolution byte (dropped on read)
)

const (
	sizeV0 = 16
	sizeV1 = 18
	sizeV2 = 19

	// defaultFlexMarker is written into ext1 for every document this store
	// produces, distinguishing "has extended meta" from a bare V0 record.
	defaultFlexMarker byte = 0x01
)

// MetaData is the decoded, version-agnostic view of a document's metadata.
// Writes always project back to V1 regardless of VersionInitialisedFrom.
type MetaData struct {
	CAS       uint64
	Expiry    uint32
	Flags     uint32
	FlexCode  byte
	Datatype  byte

	// VersionInitialisedFrom records which on-disk layout produced this
	// value, purely for diagnostics; it never affects re-encoding.
	VersionInitialisedFrom Version
}

// Decode classifies buf's length into {V0, V1, V2} and returns the decoded
// record. Any other length is a fatal, caller-visible error: a malformed
// metadata buffer is corruption, never a silent default.
func Decode(buf []byte) (*MetaData, error) {
	switch len(buf) {
	case sizeV0:
		return decodeV0(buf), nil
	case sizeV1:
		return decodeV1(buf), nil
	case sizeV2:
		// V2's trailing legacy conflict-resolution byte is read and
		// silently dropped; the record behaves exactly like V1 from here.
		m := decodeV1(buf[:sizeV1])
		m.VersionInitialisedFrom = V2
		return m, nil
	default:
		return nil, fmt.Errorf("kvmeta: malformed metadata buffer: %d bytes (want %d, %d, or %d)",
			len(buf), sizeV0, sizeV1, sizeV2)
	}
}

func decodeV0(buf []byte) *MetaData {
	return &MetaData{
		CAS:                    casFromWire(buf[0:8]),
		Expiry:                 binary.BigEndian.Uint32(buf[8:12]),
		Flags:                  binary.BigEndian.Uint32(buf[12:16]),
		VersionInitialisedFrom: V0,
	}
}

func decodeV1(buf []byte) *MetaData {
	m := decodeV0(buf[:sizeV0])
	m.FlexCode = buf[16]
	m.Datatype = buf[17]
	m.VersionInitialisedFrom = V1
	return m
}

// Encode always projects to the 18-byte V1 layout regardless of what
// version the value was decoded from; V0 and V2 exist only on the read
// path.
func Encode(m *MetaData) []byte {
	buf := make([]byte, sizeV1)
	casToWire(buf[0:8], m.CAS)
	binary.BigEndian.PutUint32(buf[8:12], m.Expiry)
	binary.BigEndian.PutUint32(buf[12:16], m.Flags)
	flex := m.FlexCode
	if flex == 0 {
		flex = defaultFlexMarker
	}
	buf[16] = flex
	buf[17] = m.Datatype
	return buf
}

// casFromWire reads a big-endian on-disk CAS and returns it host-endian, the
// form the engine above the core expects to see.
func casFromWire(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// casToWire writes a host-endian CAS into big-endian on-disk bytes.
func casToWire(b []byte, cas uint64) {
	binary.BigEndian.PutUint64(b, cas)
}

// Size returns the on-disk length a MetaData would require for v.
func (v Version) Size() int {
	switch v {
	case V0:
		return sizeV0
	case V1:
		return sizeV1
	case V2:
		return sizeV2
	default:
		return 0
	}
}
