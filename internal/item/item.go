// Package item defines the Item type passed into the KVStore core and the
// DocNamespace/Operation tags that classify it.
package item

import "github.com/vbkv/kvstore/internal/kvmeta"

// DocNamespace distinguishes the three key grammars the core recognizes.
type DocNamespace uint8

const (
	DefaultCollection DocNamespace = iota
	Collections
	System
)

func (n DocNamespace) String() string {
	switch n {
	case DefaultCollection:
		return "default_collection"
	case Collections:
		return "collections"
	case System:
		return "system"
	default:
		return "unknown"
	}
}

// Datatype bits describe the value payload's encoding. Raw is the zero
// value; Snappy marks a value stored compressed, which the scan engine
// inflates when asked for decompressed values.
const (
	DatatypeRaw    byte = 0x00
	DatatypeJSON   byte = 0x01
	DatatypeSnappy byte = 0x02
	DatatypeXattr  byte = 0x04
)

// Operation classifies what this Item does to the keyspace.
type Operation uint8

const (
	Mutation Operation = iota
	Deletion
	SystemEventOp
)

// Item is the unit passed into the core by the engine above it. Buffers
// referenced by Value must outlive the commit that persists this Item.
type Item struct {
	VBucket   uint16
	Key       string
	Namespace DocNamespace
	Value     []byte // may already be compressed; the core never re-compresses

	CAS      uint64
	Expiry   uint32
	Flags    uint32 // when Op == SystemEventOp, holds the SystemEvent code
	Datatype byte

	BySeqno uint64 // monotonic per vbucket, assigned at flush time
	Op      Operation
}

// VBucketID returns the vBucket this item belongs to.
func (it *Item) VBucketID() uint16 {
	return it.VBucket
}

// Meta projects this Item's fields into the on-disk MetaData record that
// commit will encode alongside it.
func (it *Item) Meta() *kvmeta.MetaData {
	return &kvmeta.MetaData{
		CAS:      it.CAS,
		Expiry:   it.Expiry,
		Flags:    it.Flags,
		Datatype: it.Datatype,
	}
}

// IsDeleted reports whether this Item represents a tombstone.
func (it *Item) IsDeleted() bool {
	return it.Op == Deletion
}
