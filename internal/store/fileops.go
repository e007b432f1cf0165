package store

import (
	"os"
	"sync/atomic"
)

// fileOps wraps a revision file's raw *os.File so every write is counted
// into one of the two byte counters: normal I/O or compaction I/O. Which
// counter a fileOps feeds is fixed at construction, so a compaction target
// file counts its bytes separately from the files commit writes to.
type fileOps struct {
	f       *os.File
	written *atomic.Uint64 // nil when the store carries no Stats
}

func newFileOps(f *os.File, written *atomic.Uint64) *fileOps {
	return &fileOps{f: f, written: written}
}

func (fo *fileOps) Write(p []byte) (int, error) {
	n, err := fo.f.Write(p)
	if fo.written != nil && n > 0 {
		fo.written.Add(uint64(n))
	}
	return n, err
}

func (fo *fileOps) ReadAt(p []byte, off int64) (int, error) { return fo.f.ReadAt(p, off) }

func (fo *fileOps) Seek(offset int64, whence int) (int64, error) {
	return fo.f.Seek(offset, whence)
}

func (fo *fileOps) Read(p []byte) (int, error) { return fo.f.Read(p) }

func (fo *fileOps) Truncate(size int64) error { return fo.f.Truncate(size) }

func (fo *fileOps) Sync() error { return fo.f.Sync() }

func (fo *fileOps) Close() error { return fo.f.Close() }

func (fo *fileOps) Name() string { return fo.f.Name() }
