// Package util holds the small shared helpers the storage layer leans on.
package util

import "hash/crc32"

// ChecksumSize is the width of the CRC32 trailer every on-disk record
// carries.
const ChecksumSize = 4

// crc32Table is precomputed once; every record write and replay read runs
// through it.
var crc32Table = crc32.MakeTable(crc32.IEEE)

// ComputeChecksum computes the CRC32 (IEEE) checksum a record appends
// after its payload, and that replay recomputes to detect torn or
// corrupted records.
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum reports whether data matches an expected checksum.
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}
