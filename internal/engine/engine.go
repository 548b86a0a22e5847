// Package engine orchestrates the six leaf components (spec.md §2) into one
// database lifecycle: opening or creating the folder, discovering tail
// bookkeeping, recovering from an interrupted commit, lazily loading index
// descriptors, and handing out transactions to commit against the result.
// It is the thing `pkg/cryptexdb`'s public façade wraps.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/iamNilotpal/cryptexdb/internal/btree"
	"github.com/iamNilotpal/cryptexdb/internal/commit"
	"github.com/iamNilotpal/cryptexdb/internal/delindex"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/internal/txn"
	"github.com/iamNilotpal/cryptexdb/internal/wal"
	"github.com/iamNilotpal/cryptexdb/pkg/comparator"
	"github.com/iamNilotpal/cryptexdb/pkg/errs"
	"github.com/iamNilotpal/cryptexdb/pkg/options"
	"go.uber.org/zap"
)

// lockFileName is the advisory lock guarding against a second engine
// instance opening the same database folder concurrently (spec.md §5
// "Shared resources").
const lockFileName = ".lock"

// ErrEngineClosed is returned by any operation attempted after Close.
var ErrEngineClosed = fmt.Errorf("cryptexdb: engine is closed")

// Engine owns every subsystem of one open database folder.
type Engine struct {
	mu sync.Mutex

	folder  string
	options *options.Options
	log     *zap.SugaredLogger

	lock   *flock.Flock
	fm     *filemgr.Manager
	wal    *wal.Log
	del    *delindex.Index
	commit *commit.Engine

	indexes map[byte]*btree.Descriptor
	closed  atomic.Bool
}

// Config supplies the folder and configuration an Engine opens against.
type Config struct {
	Folder  string
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// Open acquires the folder's advisory lock, brings up the file manager,
// write-ahead log, and deletion index, recovers from any interrupted commit,
// and returns a database ready to load indexes and accept transactions.
func Open(config *Config) (*Engine, error) {
	if config == nil || config.Folder == "" || config.Options == nil || config.Logger == nil {
		return nil, errs.NewValidationError(
			nil, errs.ErrorCodeInvalidInput, "engine configuration is required",
		).WithField("config").WithRule("required")
	}

	lock := flock.New(filepath.Join(config.Folder, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errs.NewStorageError(err, errs.ErrorCodeIO, "failed to acquire database folder lock").
			WithPath(config.Folder)
	}
	if !locked {
		return nil, errs.NewStorageError(
			nil, errs.ErrorCodeIO, "database folder is already open by another engine instance",
		).WithPath(config.Folder)
	}

	fm, err := filemgr.New(&filemgr.Config{
		Dir:         config.Folder,
		MaxFileSize: config.Options.MaxFileSize,
		Logger:      config.Logger,
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	walLog, err := wal.New(&wal.Config{FileManager: fm, Logger: config.Logger, DisableSync: !config.Options.SyncOnCommit})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	delIndex, err := delindex.New(&delindex.Config{FileManager: fm, Logger: config.Logger, WAL: walLog})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	lastFile, lastSize, _, err := fm.DiscoverDataTail()
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	commitEngine := commit.New(&commit.Config{
		FileManager:   fm,
		WAL:           walLog,
		DeletionIndex: delIndex,
		Indexes:       map[byte]*btree.Descriptor{},
		Logger:        config.Logger,
		LastFile:      lastFile,
		LastSize:      uint64(lastSize),
		DisableSync:   !config.Options.SyncOnCommit,
	})

	if err := commitEngine.Recover(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	config.Logger.Infow("database opened", "folder", config.Folder, "last_file", lastFile, "last_size", lastSize)

	return &Engine{
		folder:  config.Folder,
		options: config.Options,
		log:     config.Logger,
		lock:    lock,
		fm:      fm,
		wal:     walLog,
		del:     delIndex,
		commit:  commitEngine,
		indexes: map[byte]*btree.Descriptor{},
	}, nil
}

// LoadIndex loads (or creates, if never written) the index named id with the
// given fixed key width and comparator, and registers it with the commit
// engine. Loading the same id twice is a no-op as long as keySize matches
// what is already loaded.
func (e *Engine) LoadIndex(id byte, keySize int, cmp comparator.Comparator) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.indexes[id]; ok {
		if existing.KeySize() != keySize {
			return errs.NewKeySizeMismatchError(id, existing.KeySize(), keySize)
		}
		return nil
	}

	if cmp == nil {
		cmp = e.options.ComparatorFor(id)
	}

	header, err := commit.ReadIndexHeader(e.fm, id)
	if err != nil {
		return err
	}

	desc, err := btree.New(&btree.Config{
		ID:          id,
		KeySize:     keySize,
		CacheLimit:  e.options.IndexCacheLimit,
		Comparator:  cmp,
		FileManager: e.fm,
		Logger:      e.log,
		WAL:         e.wal,
		LastFile:    header.LastFile,
		LastSize:    header.LastSize,
	})
	if err != nil {
		return err
	}

	e.indexes[id] = desc
	e.commit.RegisterIndex(id, desc)
	return nil
}

// Index returns the loaded descriptor for id, for callers (such as the
// accounter) that need direct read access like ascending iteration that the
// transaction buffer's key/value contract doesn't expose.
func (e *Engine) Index(id byte) (*btree.Descriptor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.indexes[id]
	return d, ok
}

// Begin opens a new, empty transaction reading against the engine's
// committed state.
func (e *Engine) Begin() (*txn.Txn, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return txn.New(&txn.Config{Reader: e.commit, KeySizer: e.commit, Logger: e.log})
}

// Commit drains tx into persistent state. See internal/commit for the
// three-phase (plan, log, apply) protocol.
func (e *Engine) Commit(tx *txn.Txn) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.commit.Commit(tx)
}

// Close releases the cached file handle and the folder's advisory lock. A
// closed engine cannot be reused; open a new one against the same folder.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	closeErr := e.fm.Close(context.Background())
	if err := e.lock.Unlock(); err != nil && closeErr == nil {
		closeErr = errs.NewStorageError(err, errs.ErrorCodeIO, "failed to release database folder lock").WithPath(e.folder)
	}
	return closeErr
}
