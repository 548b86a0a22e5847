package filemgr

import (
	"os"

	"go.uber.org/zap"
)

// FileType identifies which of the four file families a FileID names:
// per-index B-tree node files, the singleton deletion-index file, the
// shared append-only data files, or the singleton write-ahead log.
type FileType uint8

const (
	// FileTypeIndex names a B-tree index file: `idx_<index_id>_<file_no>`.
	FileTypeIndex FileType = iota
	// FileTypeDeletionIndex names the singleton deletion-index file: `del`.
	FileTypeDeletionIndex
	// FileTypeData names a shared append-only data file: `dat_<file_no>`.
	FileTypeData
	// FileTypeLog names the singleton write-ahead log file: `log`.
	FileTypeLog
)

// String renders the FileType for logging.
func (t FileType) String() string {
	switch t {
	case FileTypeIndex:
		return "index"
	case FileTypeDeletionIndex:
		return "deletion_index"
	case FileTypeData:
		return "data"
	case FileTypeLog:
		return "log"
	default:
		return "unknown"
	}
}

// FileID names one physical file beneath the database folder. IndexID is
// only meaningful when Type is FileTypeIndex; FileNo is only meaningful for
// FileTypeIndex and FileTypeData, which are numbered and rotate on overflow.
type FileID struct {
	Type    FileType
	IndexID byte
	FileNo  uint16
}

// Manager opens, extends, appends to, and overwrites the numbered files
// beneath one database folder. It caches exactly one open handle at a time:
// a request naming a different file closes the cached handle and reopens
// the requested one.
type Manager struct {
	dir         string
	maxFileSize uint64
	log         *zap.SugaredLogger

	cached   *os.File
	cachedID FileID
	hasCache bool
}

// Config supplies the folder path and size threshold a Manager enforces.
type Config struct {
	Dir         string
	MaxFileSize uint64
	Logger      *zap.SugaredLogger
}
