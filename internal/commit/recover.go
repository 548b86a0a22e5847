package commit

import (
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"go.uber.org/multierr"
)

// Recover replays the write-ahead log against every subsystem this engine
// owns. It is called once, at database open, before any transaction is
// accepted. A crash partway through a commit leaves an un-terminated log
// tail; replaying it restores every overwritten range to its pre-commit
// bytes, then each touched file is truncated back to the size it held before
// the interrupted commit, undoing any append growth the log's before-images
// alone can't reverse.
func (e *Engine) Recover() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dbTail, indexTails, ok, err := e.log.Recover()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	// Every index's tail is fixed up even if an earlier one in the loop
	// failed: a torn index file doesn't prevent the others from being
	// restored, so failures are aggregated with multierr rather than
	// aborting the loop at the first one.
	var recoveryErr error
	for _, tail := range indexTails {
		// The header and file truncation are fixed on disk unconditionally:
		// an index touched by the interrupted commit may not be memory-loaded
		// yet (indexes load lazily, possibly after Recover runs), so a
		// descriptor's in-memory tail can only be restored once it exists,
		// but the on-disk state it will read from must already be correct.
		if err := e.truncateTail(filemgr.FileID{Type: filemgr.FileTypeIndex, IndexID: tail.IndexID}, tail.LastFile, tail.LastSize); err != nil {
			recoveryErr = multierr.Append(recoveryErr, err)
			continue
		}
		if err := WriteIndexHeader(e.fm, tail.IndexID, tail.LastFile, tail.LastSize); err != nil {
			recoveryErr = multierr.Append(recoveryErr, err)
			continue
		}
		if desc, found := e.indexes[tail.IndexID]; found {
			desc.RestoreLastFile(tail.LastFile, tail.LastSize)
		}
	}
	if recoveryErr != nil {
		return recoveryErr
	}

	e.lastFile, e.lastSize = dbTail.LastFile, dbTail.LastSize
	e.newLastFile, e.newLastSize = dbTail.LastFile, dbTail.LastSize
	if err := e.truncateTail(filemgr.FileID{Type: filemgr.FileTypeData}, dbTail.LastFile, dbTail.LastSize); err != nil {
		return err
	}

	e.logger.Infow("commit engine recovered from write-ahead log",
		"db_last_file", dbTail.LastFile, "db_last_size", dbTail.LastSize, "indexes_restored", len(indexTails))
	return nil
}

// truncateTail shrinks lastFile back to lastSize and discards any files
// numbered beyond it that a crashed commit rolled over into. Probing stops
// at the first already-empty file: nothing past that point was ever written.
func (e *Engine) truncateTail(family filemgr.FileID, lastFile uint16, lastSize uint64) error {
	family.FileNo = lastFile
	if err := e.fm.Truncate(family, int64(lastSize)); err != nil {
		return err
	}

	for fileNo := lastFile + 1; ; fileNo++ {
		id := family
		id.FileNo = fileNo
		size, err := e.fm.Size(id)
		if err != nil {
			return err
		}
		if size == 0 {
			return nil
		}
		if err := e.fm.Truncate(id, 0); err != nil {
			return err
		}
	}
}
