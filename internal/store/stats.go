package store

import "sync/atomic"

// Stats is the per-store counter surface, threaded through the store rather
// than living as an ambient global. The byte counters split by provenance:
// WriteBytes counts the user-visible key+metadata+value bytes of committed
// documents, TotalWriteBytes counts every byte the normal-I/O file ops
// wrote (record framing and commit headers included), and
// CompactionWriteBytes counts every byte written through the
// compaction-tagged ops.
type Stats struct {
	NumWrites            atomic.Uint64 // io_num_write
	WriteBytes           atomic.Uint64 // io_write_bytes
	TotalWriteBytes      atomic.Uint64 // io_total_write_bytes
	CompactionWriteBytes atomic.Uint64 // io_compaction_write_bytes
	GetFailures          atomic.Uint64 // numGetFailure
	CompactionFailures   atomic.Uint64 // numCompactionFailure
}

// StatsSnapshot is a point-in-time copy of every counter, keyed the way the
// engine's stats surface names them under the per-store prefix.
type StatsSnapshot struct {
	NumWrites            uint64
	WriteBytes           uint64
	TotalWriteBytes      uint64
	CompactionWriteBytes uint64
	GetFailures          uint64
	CompactionFailures   uint64
}

// Snapshot reads every counter once.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		NumWrites:            s.NumWrites.Load(),
		WriteBytes:           s.WriteBytes.Load(),
		TotalWriteBytes:      s.TotalWriteBytes.Load(),
		CompactionWriteBytes: s.CompactionWriteBytes.Load(),
		GetFailures:          s.GetFailures.Load(),
		CompactionFailures:   s.CompactionFailures.Load(),
	}
}
