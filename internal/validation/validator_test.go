package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbkv/kvstore/internal/errors"
)

func TestValidateKey(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"plain key", "beef", false},
		{"collection-prefixed key", "meat::beef", false},
		{"system event key", "$collections::create:meat", false},
		{"max-length key", strings.Repeat("k", MaxKeySize), false},
		{"empty key", "", true},
		{"oversized key", strings.Repeat("k", MaxKeySize+1), true},
		{"null byte", "bad\x00key", true},
		{"control character", "bad\x07key", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateKey(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidArgument, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateValue(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateValue(nil), "nil value is a tombstone, always valid")
	assert.NoError(t, v.ValidateValue([]byte{}))
	assert.NoError(t, v.ValidateValue([]byte("payload")))
	assert.Error(t, v.ValidateValue(make([]byte, MaxValueSize+1)))
}

func TestValidateWrite(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateWrite("k", []byte("v")))
	assert.Error(t, v.ValidateWrite("", []byte("v")))
	assert.Error(t, v.ValidateWrite("k", make([]byte, MaxValueSize+1)))
}

func TestValidateCollectionName(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name    string
		coll    string
		wantErr bool
	}{
		{"simple name", "meat", false},
		{"max-length name", strings.Repeat("c", MaxCollectionNameSize), false},
		{"empty name", "", true},
		{"oversized name", strings.Repeat("c", MaxCollectionNameSize+1), true},
		{"colon reserved", "meat:cuts", true},
		{"null byte", "bad\x00", true},
		{"control character", "bad\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateCollectionName(tt.coll)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEstimateWriteSize(t *testing.T) {
	est := EstimateWriteSize("key", []byte("value"))
	assert.Greater(t, est, uint64(len("key")+len("value")),
		"the estimate covers record framing beyond the raw bytes")
}
