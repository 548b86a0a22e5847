package options

import "github.com/iamNilotpal/cryptexdb/pkg/comparator"

const (
	// DefaultDataDir specifies the default base directory where cryptexdb will
	// store its database folders. If no other directory is specified during
	// initialization, this path will be used.
	DefaultDataDir = "/var/lib/cryptexdb"

	// MinFileSize represents the minimum allowed size for a data or index file
	// in bytes (1MB). Below this, file-count overhead dominates.
	MinFileSize uint64 = 1 * 1024 * 1024

	// MaxFileSizeCeiling represents the largest MAX_FILE_SIZE a caller may
	// configure (8GB). MAX_FILE_SIZE is implementation-chosen but fixed per
	// database; this bounds the choice to something the file ID (uint16)
	// and offset (uint32) encodings can address without overflow.
	MaxFileSizeCeiling uint64 = 8 * 1024 * 1024 * 1024

	// DefaultMaxFileSize is the safe default: 2 GiB per data or index file
	// before a new numbered file is opened.
	DefaultMaxFileSize uint64 = 2 * 1024 * 1024 * 1024

	// MinIndexCacheLimit is the smallest byte budget accepted for a single
	// index's node cache — enough to hold a handful of order-64 nodes.
	MinIndexCacheLimit uint64 = 256 * 1024

	// DefaultIndexCacheLimit is the configurable byte budget for how much of
	// a B-tree index's lower levels stay memory-resident.
	DefaultIndexCacheLimit uint64 = 64 * 1024 * 1024

	// DefaultFolderName is the subdirectory created under DataDir that holds
	// one database's files: `<folder>/`.
	DefaultFolderName = "db"
)

// Holds the default configuration settings for a cryptexdb instance.
var defaultOptions = Options{
	DataDir:         DefaultDataDir,
	FolderName:      DefaultFolderName,
	MaxFileSize:     DefaultMaxFileSize,
	IndexCacheLimit: DefaultIndexCacheLimit,
	SyncOnCommit:    true,
}

// NewDefaultOptions returns a copy of cryptexdb's baseline configuration.
func NewDefaultOptions() Options {
	opts := defaultOptions
	opts.Comparators = make(map[byte]comparator.Comparator)
	return opts
}
