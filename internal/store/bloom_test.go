package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBloomFilter_NoFalseNegatives(t *testing.T) {
	bf := newBloomFilter(1000, 0.01)
	keys := make([]string, 500)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		bf.Add(keys[i])
	}
	for _, k := range keys {
		assert.True(t, bf.MayContain(k), "added key must never be reported absent")
	}
}

func TestBloomFilter_AbsentKeyMostlyNegative(t *testing.T) {
	bf := newBloomFilter(100, 0.01)
	bf.Add("present")
	assert.False(t, bf.MayContain("definitely-not-in-here"))
}

func TestNewBloomFilter_ClampsDegenerateInputs(t *testing.T) {
	bf := newBloomFilter(0, 0.01)
	assert.GreaterOrEqual(t, bf.size, uint64(1))
	assert.GreaterOrEqual(t, bf.hashCount, uint64(1))
}
