// Package cryptexdb is the public façade over the embedded transactional
// key-value storage engine: open a database folder, register the fixed-key
// indexes an application needs, and drive transactions against them.
//
// A DB owns exactly one open database folder at a time (spec.md §5); opening
// the same folder twice fails fast rather than corrupting shared state.
package cryptexdb

import (
	"context"
	"path/filepath"

	"github.com/iamNilotpal/cryptexdb/internal/btree"
	"github.com/iamNilotpal/cryptexdb/internal/engine"
	"github.com/iamNilotpal/cryptexdb/pkg/comparator"
	"github.com/iamNilotpal/cryptexdb/pkg/errs"
	"github.com/iamNilotpal/cryptexdb/pkg/filesys"
	"github.com/iamNilotpal/cryptexdb/pkg/logging"
	"github.com/iamNilotpal/cryptexdb/pkg/options"
	"go.uber.org/zap"
)

// DeletedSentinel marks a tombstoned index entry, "does not exist" as a
// Length result, and "replace from scratch" as a WriteSubsection offset
// (spec.md §6 "Sentinels").
const DeletedSentinel uint32 = 0xFFFFFFFF

// DB is one open database folder, ready to load indexes and run
// transactions against them.
type DB struct {
	engine *engine.Engine
	log    *zap.SugaredLogger
}

// Open creates the database folder if it does not exist and opens it,
// running crash recovery against any write-ahead log left by an
// interrupted commit. folder is resolved beneath the configured DataDir
// unless it is already absolute.
//
// ctx is honored only for its cancellation at call time; nothing in Open
// blocks long enough to need a context beyond that (spec.md §5:
// operations suspend only on blocking file I/O, not on anything
// cancellable mid-flight).
func Open(ctx context.Context, folder string, opts ...options.OptionFunc) (*DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if folder == "" {
		return nil, errs.NewRequiredFieldError("folder")
	}

	o := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dir := folder
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(o.DataDir, folder)
	}
	if err := filesys.CreateDir(dir, 0o755, true); err != nil {
		return nil, errs.NewStorageError(err, errs.ErrorCodeIO, "failed to create database folder").WithPath(dir)
	}

	log := logging.New("cryptexdb")
	eng, err := engine.Open(&engine.Config{Folder: dir, Options: &o, Logger: log})
	if err != nil {
		return nil, err
	}

	return &DB{engine: eng, log: log}, nil
}

// LoadIndex registers index id with the given fixed key width and
// comparator, creating it on disk if it has never been written. cmp may be
// nil to fall back to the comparator registered via options.WithComparator,
// or comparator.Lexicographic if none was registered either.
func (db *DB) LoadIndex(id byte, keySize int, cmp comparator.Comparator) error {
	return db.engine.LoadIndex(id, keySize, cmp)
}

// Begin opens a new transaction. Buffered operations are invisible to other
// reads of the database until Commit succeeds; Abort discards them.
func (db *DB) Begin() (*Txn, error) {
	t, err := db.engine.Begin()
	if err != nil {
		return nil, err
	}
	return &Txn{txn: t, engine: db.engine}, nil
}

// Ascend walks every live key of index id in ascending comparator order,
// stopping early if fn returns false. It serves range-scan consumers (such
// as the accounter's sorted time index, spec.md §6) that need ordered
// iteration rather than point lookups.
func (db *DB) Ascend(id byte, fn func(key []byte) bool) error {
	desc, ok := db.engine.Index(id)
	if !ok {
		return errs.NewInvariantError("ascend targets an unregistered index").WithIndexID(id)
	}
	return desc.Ascend(func(v btree.IndexValue) bool { return fn(v.Key) })
}

// Read opens a short-lived transaction to read the committed value of
// (indexID, key) without staging any writes, for callers that only need a
// point read outside of a larger transaction.
func (db *DB) Read(indexID byte, key []byte, offset, length uint32) ([]byte, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Abort()
	return tx.Read(indexID, key, offset, length)
}

// Close releases the database folder's advisory lock and cached file
// handle. The DB cannot be used afterward.
func (db *DB) Close() error {
	return db.engine.Close()
}
