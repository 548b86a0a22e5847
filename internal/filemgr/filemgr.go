// Package filemgr implements the engine's file manager: it opens, extends,
// appends to, and overwrites the numbered files beneath a database folder,
// exposing byte-granular read/append/overwrite and caching the single
// last-used file handle. It generalizes a segment-rotation storage layer
// from one active append-only segment to four named file families (index,
// deletion_index, data, log).
package filemgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/iamNilotpal/cryptexdb/pkg/errs"
)

// New creates a Manager rooted at config.Dir, creating the directory if it
// does not yet exist. It performs no file I/O beyond that until an operation
// names a specific file.
func New(config *Config) (*Manager, error) {
	if config == nil || config.Dir == "" || config.Logger == nil {
		return nil, errs.NewValidationError(
			nil, errs.ErrorCodeInvalidInput, "file manager configuration is required",
		).WithField("config").WithRule("required")
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, errs.ClassifyDirectoryCreationError(err, config.Dir)
	}

	return &Manager{
		dir:         config.Dir,
		maxFileSize: config.MaxFileSize,
		log:         config.Logger,
	}, nil
}

// filename renders a FileID into its on-disk name: `idx_<index_id>_<file_no>`,
// `del`, `dat_<file_no>`, or `log`.
func filename(id FileID) string {
	switch id.Type {
	case FileTypeIndex:
		return fmt.Sprintf("idx_%d_%d", id.IndexID, id.FileNo)
	case FileTypeDeletionIndex:
		return "del"
	case FileTypeData:
		return fmt.Sprintf("dat_%d", id.FileNo)
	case FileTypeLog:
		return "log"
	default:
		return fmt.Sprintf("unknown_%d", id.FileNo)
	}
}

// Path returns the full filesystem path for id.
func (m *Manager) Path(id FileID) string {
	return filepath.Join(m.dir, filename(id))
}

// handle returns the open file for id, reusing the cached handle when id
// matches it and otherwise closing the cached handle and opening id fresh.
// Only one handle is ever held open.
func (m *Manager) handle(id FileID) (*os.File, error) {
	if m.hasCache && m.cachedID == id {
		return m.cached, nil
	}

	if m.hasCache {
		if err := m.cached.Close(); err != nil {
			m.log.Warnw("failed to close previously cached file handle",
				"file", filename(m.cachedID), "error", err)
		}
		m.hasCache = false
	}

	path := m.Path(id)
	var file *os.File
	openOnce := func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
				return err
			}
			return backoff.Permanent(err)
		}
		file = f
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(openOnce, policy); err != nil {
		return nil, errs.ClassifyFileOpenError(err, path, filename(id))
	}

	m.cached = file
	m.cachedID = id
	m.hasCache = true
	return file, nil
}

// Size returns the current size in bytes of the named file. A non-existent
// file reports size zero rather than an error, matching "open_or_create".
func (m *Manager) Size(id FileID) (int64, error) {
	f, err := m.handle(id)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, errs.NewStorageError(err, errs.ErrorCodeIO, "failed to stat file").
			WithPath(m.Path(id)).WithFileName(filename(id))
	}
	return info.Size(), nil
}

// WouldOverflow reports whether appending additional bytes to id would push
// it past the configured MAX_FILE_SIZE threshold.
func (m *Manager) WouldOverflow(id FileID, additional int) (bool, error) {
	size, err := m.Size(id)
	if err != nil {
		return false, err
	}
	return uint64(size)+uint64(additional) > m.maxFileSize, nil
}

// Append writes data to the end of the named file and returns the byte
// offset at which it was placed. Append is the file manager's only growth
// operation.
func (m *Manager) Append(id FileID, data []byte) (int64, error) {
	f, err := m.handle(id)
	if err != nil {
		return 0, err
	}

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errs.NewStorageError(err, errs.ErrorCodeIO, "failed to seek to end of file").
			WithPath(m.Path(id)).WithFileName(filename(id))
	}

	if _, err := f.Write(data); err != nil {
		return 0, errs.NewStorageError(err, errs.ErrorCodeIO, "failed to append to file").
			WithPath(m.Path(id)).WithFileName(filename(id)).WithOffset(int(offset))
	}

	return offset, nil
}

// Overwrite writes data at an existing byte offset within the named file,
// without changing the file's length. Used for sub-section writes and for
// WAL before-image replay.
func (m *Manager) Overwrite(id FileID, offset int64, data []byte) error {
	f, err := m.handle(id)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		return errs.NewStorageError(err, errs.ErrorCodeIO, "failed to overwrite file range").
			WithPath(m.Path(id)).WithFileName(filename(id)).WithOffset(int(offset))
	}
	return nil
}

// ReadAt reads length bytes starting at offset from the named file.
func (m *Manager) ReadAt(id FileID, offset int64, length int) ([]byte, error) {
	f, err := m.handle(id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, errs.NewStorageError(err, errs.ErrorCodeIO, "failed to read file range").
			WithPath(m.Path(id)).WithFileName(filename(id)).WithOffset(int(offset))
	}
	return buf, nil
}

// Truncate shrinks the named file to newSize. Used by the write-ahead log to
// zero its length header region and discard replayed records after commit.
func (m *Manager) Truncate(id FileID, newSize int64) error {
	f, err := m.handle(id)
	if err != nil {
		return err
	}
	if err := f.Truncate(newSize); err != nil {
		return errs.NewStorageError(err, errs.ErrorCodeIO, "failed to truncate file").
			WithPath(m.Path(id)).WithFileName(filename(id))
	}
	return nil
}

// Sync flushes the named file's writes to stable storage. Durability is
// established only here, never implied by Append/Overwrite alone.
func (m *Manager) Sync(id FileID) error {
	f, err := m.handle(id)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return errs.ClassifySyncError(err, filename(id), m.Path(id), 0)
	}
	return nil
}

// DiscoverDataTail scans the database folder for the highest-numbered data
// file (`dat_<n>`) and reports its number and current size, so the database
// can recompute its own last_file/last_size bookkeeping at open time without
// a dedicated header record — the data-file family has no header of its
// own, unlike an index file's fixed 6-byte file-0 header. No data files
// present reports (0, 0, false).
func (m *Manager) DiscoverDataTail() (fileNo uint16, size int64, found bool, err error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, errs.NewStorageError(err, errs.ErrorCodeIO, "failed to list database folder").WithPath(m.dir)
	}

	best := int64(-1)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		rest, ok := strings.CutPrefix(entry.Name(), "dat_")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(rest, 10, 16)
		if err != nil {
			continue
		}
		if int64(n) > best {
			best = int64(n)
		}
	}
	if best < 0 {
		return 0, 0, false, nil
	}

	fileNo = uint16(best)
	sz, err := m.Size(FileID{Type: FileTypeData, FileNo: fileNo})
	if err != nil {
		return 0, 0, false, err
	}
	return fileNo, sz, true, nil
}

// Close releases the cached file handle, if any.
func (m *Manager) Close(_ context.Context) error {
	if !m.hasCache {
		return nil
	}
	err := m.cached.Close()
	m.hasCache = false
	m.cached = nil
	if err != nil {
		return errs.NewStorageError(err, errs.ErrorCodeIO, "failed to close cached file handle").
			WithPath(m.Path(m.cachedID)).WithFileName(filename(m.cachedID))
	}
	return nil
}
