// Package options provides data structures and functions for configuring
// the cryptexdb storage engine. It defines the parameters that control file
// placement, per-index memory budgets, durability cadence, and the
// comparator plug-ins an application registers for its own key orderings —
// the engine itself has no opinion on key semantics.
package options

import (
	"strings"

	"github.com/iamNilotpal/cryptexdb/pkg/comparator"
)

// Options defines the configuration parameters for a cryptexdb instance. It
// provides control over file placement and sizing, per-index cache budgets,
// and commit durability cadence.
type Options struct {
	// DataDir specifies the base path under which database folders live.
	//
	// Default: "/var/lib/cryptexdb"
	DataDir string `json:"dataDir"`

	// FolderName names the per-database subdirectory beneath DataDir:
	// `<data_dir>/<folder>/`.
	//
	// Default: "db"
	FolderName string `json:"folderName"`

	// MaxFileSize is the MAX_FILE_SIZE threshold: the byte threshold past
	// which a data or index file is considered full and a new numbered file
	// is opened instead of appending further.
	//
	//  - Default: 2GiB
	//  - Maximum: 8GiB
	//  - Minimum: 1MB
	MaxFileSize uint64 `json:"maxFileSize"`

	// IndexCacheLimit is the per-index `cache_limit`: the total byte budget
	// for B-tree nodes kept memory-resident below the root.
	//
	// Default: 64MB
	IndexCacheLimit uint64 `json:"indexCacheLimit"`

	// SyncOnCommit controls whether the three mandatory fsync points in a
	// commit (after logging before-images, after writing data+indexes, after
	// truncating the log) actually call fsync. It exists only so tests can
	// substitute a no-op sync for speed — it toggles whether each point
	// syncs at all, not how many points there are.
	//
	// Default: true
	SyncOnCommit bool `json:"syncOnCommit"`

	// Comparators maps an index_id to the Comparator it orders keys under.
	// An index with no registered comparator falls back to
	// comparator.Lexicographic.
	Comparators map[byte]comparator.Comparator `json:"-"`
}

// OptionFunc is a function type that modifies cryptexdb's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions resets every field to cryptexdb's baseline configuration.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		opts := NewDefaultOptions()
		o.DataDir = opts.DataDir
		o.FolderName = opts.FolderName
		o.MaxFileSize = opts.MaxFileSize
		o.IndexCacheLimit = opts.IndexCacheLimit
		o.SyncOnCommit = opts.SyncOnCommit
		o.Comparators = opts.Comparators
	}
}

// WithDataDir sets the base directory under which database folders are created.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithFolderName sets the per-database subdirectory name beneath DataDir.
func WithFolderName(name string) OptionFunc {
	return func(o *Options) {
		name = strings.TrimSpace(name)
		if name != "" {
			o.FolderName = name
		}
	}
}

// WithMaxFileSize sets the MAX_FILE_SIZE threshold for data and index files.
// Values outside [MinFileSize, MaxFileSizeCeiling] are ignored.
func WithMaxFileSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinFileSize && size <= MaxFileSizeCeiling {
			o.MaxFileSize = size
		}
	}
}

// WithIndexCacheLimit sets the default per-index node-cache byte budget
// (`cache_limit`). Values below MinIndexCacheLimit are ignored.
func WithIndexCacheLimit(limit uint64) OptionFunc {
	return func(o *Options) {
		if limit >= MinIndexCacheLimit {
			o.IndexCacheLimit = limit
		}
	}
}

// WithSyncOnCommit toggles whether commit's mandatory fsync points actually
// call fsync. Intended for tests; production callers should leave this true.
func WithSyncOnCommit(enabled bool) OptionFunc {
	return func(o *Options) {
		o.SyncOnCommit = enabled
	}
}

// WithComparator registers the ordering function an index's keys compare
// under. Indexes left unregistered fall back to comparator.Lexicographic.
func WithComparator(indexID byte, cmp comparator.Comparator) OptionFunc {
	return func(o *Options) {
		if cmp == nil {
			return
		}
		if o.Comparators == nil {
			o.Comparators = make(map[byte]comparator.Comparator)
		}
		o.Comparators[indexID] = cmp
	}
}

// ComparatorFor returns the registered comparator for indexID, falling back
// to comparator.Lexicographic when none was registered.
func (o *Options) ComparatorFor(indexID byte) comparator.Comparator {
	if o.Comparators != nil {
		if cmp, ok := o.Comparators[indexID]; ok {
			return cmp
		}
	}
	return comparator.Lexicographic
}
