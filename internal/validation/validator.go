// Package validation rejects malformed input before it reaches the KVStore
// boundary: key and value size limits, collection-name grammar, and the
// write-size estimate the disk guard consumes.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/vbkv/kvstore/internal/errors"
)

const (
	// MaxKeySize is the largest key a document may carry.
	MaxKeySize = 250
	// MaxValueSize is the largest value a document may carry.
	MaxValueSize = 20 * 1024 * 1024
	// MaxCollectionNameSize bounds a collection name within a manifest.
	MaxCollectionNameSize = 30
)

// Validator enforces size and grammar limits on documents and collection
// names before they are queued against a vBucket.
type Validator struct {
	maxKeySize            int
	maxValueSize          int
	maxCollectionNameSize int
}

// NewValidator creates a validator with the default limits.
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:            MaxKeySize,
		maxValueSize:          MaxValueSize,
		maxCollectionNameSize: MaxCollectionNameSize,
	}
}

// ValidateWrite validates a document about to be queued via Set or Delete.
func (v *Validator) ValidateWrite(key string, value []byte) error {
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	return v.ValidateValue(value)
}

// ValidateKey validates a document key.
func (v *Validator) ValidateKey(key string) error {
	if key == "" {
		return errors.InvalidArgument("key cannot be empty")
	}
	if len(key) > v.maxKeySize {
		return errors.InvalidArgument(fmt.Sprintf("key exceeds maximum size of %d bytes", v.maxKeySize))
	}
	if strings.Contains(key, "\x00") {
		return errors.InvalidArgument("key cannot contain null bytes")
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return errors.InvalidArgument("key cannot contain control characters")
		}
	}
	return nil
}

// ValidateValue validates a document value. A nil value is valid: it is
// how a tombstone Delete is represented before encoding.
func (v *Validator) ValidateValue(value []byte) error {
	if value == nil {
		return nil
	}
	if len(value) > v.maxValueSize {
		return errors.InvalidArgument(fmt.Sprintf("value exceeds maximum size of %d bytes", v.maxValueSize))
	}
	return nil
}

// ValidateCollectionName validates a collection name within a manifest.
// Colon and NUL are never legal inside a collection name, nor is any other
// control character.
func (v *Validator) ValidateCollectionName(name string) error {
	if name == "" {
		return errors.InvalidArgument("collection name cannot be empty")
	}
	if len(name) > v.maxCollectionNameSize {
		return errors.InvalidArgument(fmt.Sprintf("collection name exceeds maximum size of %d bytes", v.maxCollectionNameSize))
	}
	if strings.ContainsAny(name, ":\x00") {
		return errors.InvalidArgument("collection name cannot contain ':' or null bytes")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.InvalidArgument("collection name cannot contain control characters")
		}
	}
	return nil
}

// EstimateWriteSize estimates the on-disk footprint of a document record,
// used by the disk-space guard before a commit to decide whether a batch
// should be throttled or rejected.
func EstimateWriteSize(key string, value []byte) uint64 {
	const recordOverhead = 64 // kind byte, lengths, CRC32, commit header share
	total := uint64(len(key) + len(value) + recordOverhead)
	return total + total/5
}
