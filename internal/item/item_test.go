package item

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItem_VBucketID(t *testing.T) {
	it := &Item{VBucket: 42}
	assert.Equal(t, uint16(42), it.VBucketID())
}

func TestItem_IsDeleted(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		want bool
	}{
		{"mutation", Mutation, false},
		{"deletion", Deletion, true},
		{"system event", SystemEventOp, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := &Item{Op: tt.op}
			assert.Equal(t, tt.want, it.IsDeleted())
		})
	}
}

func TestItem_Meta(t *testing.T) {
	it := &Item{CAS: 5, Expiry: 10, Flags: 2, Datatype: 1}
	m := it.Meta()
	assert.Equal(t, it.CAS, m.CAS)
	assert.Equal(t, it.Expiry, m.Expiry)
	assert.Equal(t, it.Flags, m.Flags)
	assert.Equal(t, it.Datatype, m.Datatype)
}

func TestDocNamespace_String(t *testing.T) {
	assert.Equal(t, "default_collection", DefaultCollection.String())
	assert.Equal(t, "collections", Collections.String())
	assert.Equal(t, "system", System.String())
	assert.Equal(t, "unknown", DocNamespace(99).String())
}
