// Package wal implements the write-ahead log: before any destructive
// overwrite to an index file, the deletion index, or a data file, the
// commit engine (directly, or via the btree/delindex packages it injects
// this package's writer interfaces into) appends the overwritten range's
// prior bytes here. A terminal marker closes out a commit, recording the
// tail bookkeeping needed to undo it. Recovery replays records in reverse
// to restore a consistent pre-commit state after a crash.
package wal

import (
	"sync"

	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"go.uber.org/zap"
)

// recordLenSentinel marks the terminal marker rather than an ordinary
// record when scanning the log forward.
const recordLenSentinel uint32 = 0xFFFFFFFF

// lengthHeaderSize is the fixed-width prefix recording how many content
// bytes follow. A zero value means there is nothing to recover.
const lengthHeaderSize = 8

// checksumSize is the trailing xxhash64 digest appended to every record
// and to the terminal marker, guarding against a torn write during a crash.
const checksumSize = 8

// Record is one logged before-image: the range [Offset, Offset+len(PrevBytes))
// in the named file held PrevBytes immediately before a destructive write.
type Record struct {
	FileType  filemgr.FileType
	IndexID   byte
	FileID    uint16
	Offset    uint32
	PrevBytes []byte
}

// TailState is one `last_file`/`last_size` pair captured as part of a
// commit's terminal marker — the database's own tail, or one index's.
type TailState struct {
	IndexID  byte // meaningless for the database-level tail.
	LastFile uint16
	LastSize uint64
}

// Log owns the singleton `log` file beneath a database folder.
type Log struct {
	mu          sync.Mutex
	fm          *filemgr.Manager
	log         *zap.SugaredLogger
	disableSync bool
}

// Config supplies the file manager a Log is built from. DisableSync skips
// the fsync calls Finalize and Truncate otherwise make unconditionally —
// intended only for tests substituting a no-op sync for speed
// (set to the negation of options.WithSyncOnCommit, which defaults to true,
// so DisableSync defaults to false and sync stays enabled).
type Config struct {
	FileManager *filemgr.Manager
	Logger      *zap.SugaredLogger
	DisableSync bool
}
