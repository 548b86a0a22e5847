package delindex

import (
	"sync"

	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"go.uber.org/zap"
)

// entrySize is the fixed on-disk width of one deletion-index record:
// active_flag(1) || length_be(4) || file_id_le(2) || offset_le(4) || reserved(1).
const entrySize = 12

// Entry describes one free extent inside a data file: a byte range that is
// either available for reuse (Active) or was freed and then consumed by a
// later allocation, retained as a tombstone.
type Entry struct {
	Active   bool
	Length   uint32
	FileID   uint16
	Offset   uint32
	IndexPos int64 // byte offset of this entry's slot within the `del` file; -1 if not yet persisted.
}

// WALWriter logs the before-image of one destructive deletion-index slot
// overwrite. The write-ahead log implements this.
type WALWriter interface {
	LogDeletionIndexWrite(offset int64, prevBytes [entrySize]byte) error
}

// Index is the in-memory ordered collection of free extents inside a
// database's data files, keyed by the 12-byte (active, length, file_id,
// offset) encoding, sorted so active entries cluster first and, within
// that, length descends — so "largest active free extent" is always
// entries[0].
type Index struct {
	mu      sync.Mutex
	log     *zap.SugaredLogger
	fm      *filemgr.Manager
	wal     WALWriter
	entries []*Entry // sorted descending by encoded key; see less().
}

// Config supplies the file manager and logger an Index is built from.
type Config struct {
	FileManager *filemgr.Manager
	Logger      *zap.SugaredLogger
	WAL         WALWriter
}

// Placement is the result of a successful Allocate call: where the caller
// should write its dataSize bytes.
type Placement struct {
	FileID uint16
	Offset uint32
	// NewFile reports whether Offset starts a brand-new data file (the caller
	// must append instead of overwriting an existing extent). Allocate only
	// ever reuses an existing extent, so it always leaves this false.
	NewFile bool
}
