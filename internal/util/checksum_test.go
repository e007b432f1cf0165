package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeChecksum_Deterministic(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"binary", []byte{0x00, 0x01, 0x02, 0x03, 0xFF}},
		{"large", make([]byte, 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ComputeChecksum(tt.data), ComputeChecksum(tt.data))
		})
	}
}

func TestValidateChecksum(t *testing.T) {
	data := []byte("test data for checksum validation")
	checksum := ComputeChecksum(data)

	assert.True(t, ValidateChecksum(data, checksum))
	assert.False(t, ValidateChecksum(data, checksum+1))

	corrupted := append([]byte{}, data...)
	corrupted[0] ^= 0xFF
	assert.False(t, ValidateChecksum(corrupted, checksum))
}

func BenchmarkComputeChecksum(b *testing.B) {
	data := make([]byte, 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ComputeChecksum(data)
	}
}
