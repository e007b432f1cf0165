package store

import (
	"hash/fnv"
	"math"
)

// bloomFilter is a probabilistic membership set used to shortcut negative
// get() lookups on a revision file without touching the key index. Rebuilt
// in memory during replay (see revfile.go); never persisted to disk, since
// the file it describes is mutable and would invalidate a persisted filter
// on the very next commit.
type bloomFilter struct {
	bits      []bool
	size      uint64
	hashCount uint64
}

// newBloomFilter sizes a filter for expectedElements at the given false
// positive rate using the standard optimal-size/hash-count formulas.
func newBloomFilter(expectedElements int, falsePositiveRate float64) *bloomFilter {
	if expectedElements < 1 {
		expectedElements = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	size := uint64(-float64(expectedElements) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	if size == 0 {
		size = 1
	}
	hashCount := uint64(float64(size) / float64(expectedElements) * math.Ln2)
	if hashCount == 0 {
		hashCount = 1
	}
	return &bloomFilter{bits: make([]bool, size), size: size, hashCount: hashCount}
}

func (bf *bloomFilter) Add(key string) {
	for _, h := range bf.getHashes(key) {
		bf.bits[h%bf.size] = true
	}
}

func (bf *bloomFilter) MayContain(key string) bool {
	for _, h := range bf.getHashes(key) {
		if !bf.bits[h%bf.size] {
			return false
		}
	}
	return true
}

// getHashes uses double hashing, h(i) = h1(x) + i*h2(x), to derive
// hashCount probe positions from two FNV-64 digests.
func (bf *bloomFilter) getHashes(key string) []uint64 {
	h := fnv.New64()
	h.Write([]byte(key))
	hash1 := h.Sum64()

	h.Reset()
	h.Write([]byte(key + "salt"))
	hash2 := h.Sum64()

	hashes := make([]uint64, bf.hashCount)
	for i := uint64(0); i < bf.hashCount; i++ {
		hashes[i] = hash1 + i*hash2
	}
	return hashes
}
