package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// defaultCollectionName is the one collection every manifest may carry
// without passing name validation; its leading '$' marks it as reserved.
const defaultCollectionName = "$default"

// Manifest is Collections::Manifest in its persisted form, stored as JSON
// under the "collections_manifest" _local document. Revision is the
// manifest's own monotonically increasing counter, distinct from any
// vBucket's FileRevision: it never decreases across a successful commit.
type Manifest struct {
	Revision    uint64   `json:"revision"`
	Separator   string   `json:"separator"`
	Collections []string `json:"collections"`
}

// DecodeManifest parses a _local/collections_manifest document.
func DecodeManifest(buf []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, err
	}
	if m.Separator == "" {
		return nil, fmt.Errorf("store: manifest has empty separator")
	}
	return &m, nil
}

// EncodeManifest serializes m for storage as a _local document.
func EncodeManifest(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

// IsOpen reports whether name is a currently-open collection in m.
func (m *Manifest) IsOpen(name string) bool {
	for _, c := range m.Collections {
		if c == name {
			return true
		}
	}
	return false
}

// CollectionOf splits a Collections-namespace key into its collection
// prefix: everything up to the first occurrence of the separator. Returns
// false if the key contains no separator at all, which makes it malformed
// for the Collections namespace.
func (m *Manifest) CollectionOf(key string) (string, bool) {
	idx := strings.Index(key, m.Separator)
	if idx < 0 {
		return "", false
	}
	return key[:idx], true
}

// ValidateSuccessor checks the never-decreases invariant before persisting
// next in place of current: a manifest update with a revision at or below
// the currently persisted one is rejected with an error, which Commit
// reports as InvalidArgument without persisting the batch. The caller above
// the core is responsible for revision assignment.
func ValidateSuccessor(current, next *Manifest) error {
	if current != nil && next.Revision <= current.Revision {
		return fmt.Errorf("store: manifest revision did not advance: current=%d next=%d",
			current.Revision, next.Revision)
	}
	return nil
}
