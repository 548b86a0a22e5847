// Package commit implements the commit engine: it drains a transaction
// buffer's pending writes, sub-section overwrites, deletes, and renames into
// the deletion index, the B-tree indexes, and the shared data files, in the
// strict three-phase order spec.md §4.6 requires.
//
// Design note — plan, log, apply. Commit never interleaves a destructive
// overwrite with the before-image logging that protects it. It first plans
// every mutation in memory (internal/btree and internal/delindex mutate
// their in-memory state and stage, but do not issue, every overwrite of
// something currently live — see btree.Descriptor.LogBeforeImages/Persist
// and delindex.Index.LogBeforeImages/Persist), then logs every staged
// before-image and syncs the write-ahead log via Finalize, and only then
// applies the staged overwrites. Appends past a file's current tail are the
// one exception: they destroy nothing, so they may and do happen during
// planning, undone on recovery by the pre-commit tail saved in the log's
// terminal marker rather than by a logged before-image. A crash before
// Finalize's sync leaves the log's un-terminated tail inert and nothing live
// has been overwritten yet; a crash after it replays cleanly on reopen.
package commit

import (
	"sync"

	"github.com/iamNilotpal/cryptexdb/internal/btree"
	"github.com/iamNilotpal/cryptexdb/internal/delindex"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/internal/txn"
	"github.com/iamNilotpal/cryptexdb/internal/wal"
	"go.uber.org/zap"
)

// indexHeaderSize is the fixed-width header at the front of an index's file
// 0: last_index_file (2 bytes LE) || last_index_size (4 bytes LE). The root
// node follows immediately after, at offset indexHeaderSize.
const indexHeaderSize = 6

// Engine owns every subsystem a commit touches: the file manager, the
// write-ahead log, the deletion index, and the loaded index descriptors. It
// also tracks the database-level data-file tail (last_file/last_size), the
// counterpart of each index's own tail tracked inside its Descriptor.
type Engine struct {
	mu sync.Mutex

	fm      *filemgr.Manager
	log     *wal.Log
	del     *delindex.Index
	indexes map[byte]*btree.Descriptor
	logger  *zap.SugaredLogger

	lastFile uint16
	lastSize uint64

	newLastFile uint16
	newLastSize uint64

	disableSync bool
}

// Config supplies the subsystems and initial database-level tail an Engine
// is built from. DisableSync skips the fsync calls Commit otherwise makes
// unconditionally against every file touched, trading the durability
// guarantee for speed — intended only for options.WithSyncOnCommit(false).
type Config struct {
	FileManager   *filemgr.Manager
	WAL           *wal.Log
	DeletionIndex *delindex.Index
	Indexes       map[byte]*btree.Descriptor
	Logger        *zap.SugaredLogger

	LastFile uint16
	LastSize uint64

	DisableSync bool
}

// New builds a commit engine over already-loaded subsystems.
func New(config *Config) *Engine {
	return &Engine{
		fm:          config.FileManager,
		log:         config.WAL,
		del:         config.DeletionIndex,
		indexes:     config.Indexes,
		logger:      config.Logger,
		lastFile:    config.LastFile,
		lastSize:    config.LastSize,
		newLastFile: config.LastFile,
		newLastSize: config.LastSize,
		disableSync: config.DisableSync,
	}
}

// RegisterIndex makes desc visible to the commit engine under id. Indexes
// load lazily (spec.md §3 "Lifecycle"), so this is called whenever the
// database loads one, which may be well after the commit engine itself was
// constructed and even after Recover has already run.
func (e *Engine) RegisterIndex(id byte, desc *btree.Descriptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexes[id] = desc
}

// KeySize implements txn.KeySizer by consulting the loaded index descriptors.
func (e *Engine) KeySize(indexID byte) (int, bool) {
	d, ok := e.indexes[indexID]
	if !ok {
		return 0, false
	}
	return d.KeySize(), true
}

// dataFileID names the shared data file numbered fileNo.
func dataFileID(fileNo uint16) filemgr.FileID {
	return filemgr.FileID{Type: filemgr.FileTypeData, FileNo: fileNo}
}

// indexFileID names file 0 of index indexID, which carries the header.
func indexFileID(indexID byte) filemgr.FileID {
	return filemgr.FileID{Type: filemgr.FileTypeIndex, IndexID: indexID, FileNo: 0}
}
