package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
)

func newBuf() *bytes.Buffer {
	return new(bytes.Buffer)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

// readUint16/readUint32/readUint64 read a big-endian integer from r and
// mirror the bytes into track, the running buffer the checksum is computed
// over on the read path.
func readUint16(r *bufio.Reader, track *bytes.Buffer) (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	track.Write(tmp[:])
	return binary.BigEndian.Uint16(tmp[:]), nil
}

func readUint32(r *bufio.Reader, track *bytes.Buffer) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	track.Write(tmp[:])
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readUint64(r *bufio.Reader, track *bytes.Buffer) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	track.Write(tmp[:])
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func readBytes(r *bufio.Reader, track *bytes.Buffer, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	track.Write(buf)
	return buf, nil
}
