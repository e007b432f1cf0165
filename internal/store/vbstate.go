package store

import "encoding/json"

// FailoverEntry is one row of a vBucket's failover table: the UUID minted
// when a new branch of history began and the seqno that branch starts from
// (for a rollback, the seqno rewound to). The newest entry is first.
type FailoverEntry struct {
	ID    uint64 `json:"id"`
	Seqno uint64 `json:"seq"`
}

// VBucketState is vbucket_state, persisted as JSON under the "vbstate"
// _local document. It is the vBucket's own view of its persisted sequence
// numbers and replication topology, independent of anything the key index
// derives from the data records themselves.
type VBucketState struct {
	State           string          `json:"state"`
	CheckpointID    uint64          `json:"checkpoint_id"`
	MaxDeletedSeqno uint64          `json:"max_deleted_seqno"`
	HighSeqno       uint64          `json:"high_seqno"`
	PurgeSeqno      uint64          `json:"purge_seqno"`
	MaxCas          uint64          `json:"max_cas"`
	LastSnapStart   uint64          `json:"snap_start"`
	LastSnapEnd     uint64          `json:"snap_end"`
	FailoverTable   []FailoverEntry `json:"failover_table"`
}

// allOnes is the sentinel maxCas value written by versions of this store
// that predate MaxCas tracking; it is never a legitimate CAS, so it is
// reinterpreted as 0 on load.
const allOnes uint64 = ^uint64(0)

// DecodeVBucketState parses a _local/vbstate document. A maxCas of all-ones
// is folded to 0, matching readVBState's handling of pre-upgrade state.
func DecodeVBucketState(buf []byte) (*VBucketState, error) {
	var vs VBucketState
	if err := json.Unmarshal(buf, &vs); err != nil {
		return nil, err
	}
	if vs.MaxCas == allOnes {
		vs.MaxCas = 0
	}
	return &vs, nil
}

// EncodeVBucketState serializes vs for storage as a _local document. A nil
// failover table is written as an empty array so readers never see null.
func EncodeVBucketState(vs *VBucketState) ([]byte, error) {
	if vs.FailoverTable == nil {
		clone := *vs
		clone.FailoverTable = []FailoverEntry{}
		return json.Marshal(&clone)
	}
	return json.Marshal(vs)
}
