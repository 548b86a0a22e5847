// Package btree implements one persistent, order-64 B+-tree-like index: a
// node holds up to Order elements sorted under a per-index comparator, and
// up to Order+1 child pointers, each either an on-disk (file, offset) pair
// or a resident cached node. Lower levels are pulled from disk on demand and
// retained up to a configurable byte budget.
package btree

import (
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/pkg/comparator"
	"go.uber.org/zap"
)

// Order is the fixed fan-out: a node holds up to Order elements and up to
// Order+1 children. Half is the minimum fill used to decide splits.
const (
	Order = 64
	Half  = Order / 2
)

// DeletedSentinel marks a logically erased element. The element is retained
// in position so that cached parents and on-disk child offsets stay valid
// until a split rewrites the node.
const DeletedSentinel uint32 = math.MaxUint32

// rootAnchorOffset is the fixed slot the root node always occupies: file 0
// of the index, immediately after its 6-byte header. A root split relocates
// the outgoing root's content to a freshly appended slot and installs the
// new root at this same fixed address, so nothing outside the tree ever
// needs to track where the current root lives.
const rootAnchorOffset uint32 = 6

// IndexValue is one element of a node: a key paired with the location of its
// value inside a data file.
type IndexValue struct {
	Key    []byte
	FileID uint16
	Offset uint32
	Length uint32
}

// Deleted reports whether this element is a tombstone.
func (v IndexValue) Deleted() bool { return v.Length == DeletedSentinel }

// childPtr names an on-disk node location. The zero value (file 0, offset 0)
// names "no child": that slot is only ever occupied by the root, which has
// no parent and is therefore never referenced as a child pointer.
type childPtr struct {
	FileID uint16
	Offset uint32
}

func (c childPtr) isNil() bool { return c.FileID == 0 && c.Offset == 0 }

// Child is one of a node's up to Order+1 child slots: either a disk location
// or a cached, resident Node. A nil Node means the child, if any, must be
// loaded from disk at the recorded location.
type Child struct {
	Loc  childPtr
	Node *Node
}

// IsResident reports whether this child is currently memory-cached.
func (c Child) IsResident() bool { return c.Node != nil }

// IsNil reports whether this slot names no child at all (a leaf's slots).
func (c Child) IsNil() bool { return c.Node == nil && c.Loc.isNil() }

// Node holds up to Order elements and, for internal nodes, up to Order+1
// children. Every non-root node records its parent and slot so a cache
// eviction or split can walk back up without a separate lookup.
type Node struct {
	FileID   uint16
	Offset   uint32 // 0 until the node has been written at least once.
	Written  bool
	Elements []IndexValue
	Children []Child // len == 0 for leaves; for internal nodes at least len(Elements)+1 (Order+1 once decoded from disk).
	Leaf     bool

	Parent     *Node
	ParentSlot int
	Dirty      bool

	// OriginalBytes is a snapshot of this node's encoded form taken the
	// moment it was first mutated since its last rewrite. It is nil for a
	// node that has never been written (no prior on-disk content exists to
	// log as a before-image) and is cleared once persisted.
	OriginalBytes []byte

	// IsNewRoot marks a node produced by a root split that is destined for
	// the fixed root anchor slot (file 0, offset rootAnchorOffset) instead of
	// its own FileID/Offset. RootAnchorBeforeImage is whatever previously
	// occupied that slot, logged before the anchor is overwritten.
	IsNewRoot             bool
	RootAnchorBeforeImage []byte
}

// nodeCacheKey identifies a resident node for LRU bookkeeping.
type nodeCacheKey struct {
	FileID uint16
	Offset uint32
}

// Descriptor is one logical index: its key width, comparator, on-disk tail
// bookkeeping, and memory-resident subtree beneath the root.
type Descriptor struct {
	mu sync.Mutex

	id         byte
	keySize    int
	cacheLimit uint64
	cmp        comparator.Comparator

	fm  *filemgr.Manager
	log *zap.SugaredLogger
	wal WALWriter

	root  *Node
	cache *lru.Cache[nodeCacheKey, *Node]

	lastFile uint16
	lastSize uint64

	// newLastFile/newLastSize stage the post-commit tail values while a
	// commit is in flight; they are promoted to lastFile/lastSize only
	// after the write-ahead log is truncated.
	newLastFile uint16
	newLastSize uint64
}

// WALWriter logs the before-image of one destructive node overwrite. The
// write-ahead log implements this; btree only depends on the interface so
// every in-place node rewrite is preceded by a logged before-image, without
// the two packages importing one another.
type WALWriter interface {
	LogIndexWrite(indexID byte, fileID uint16, offset uint32, prevBytes []byte) error
}

// Config supplies everything needed to load or create one index descriptor.
// LastFile/LastSize mirror the index-header fields the database keeps for
// each loaded index; LastSize of 0 with LastFile of 0 means the index has no
// nodes yet and a fresh empty leaf root should be created at the fixed root
// anchor.
type Config struct {
	ID          byte
	KeySize     int
	CacheLimit  uint64
	Comparator  comparator.Comparator
	FileManager *filemgr.Manager
	Logger      *zap.SugaredLogger
	WAL         WALWriter

	LastFile uint16
	LastSize uint64
}

// LastFile returns the committed tail file number for this index.
func (d *Descriptor) LastFile() uint16 { return d.lastFile }

// LastSize returns the committed tail file size for this index.
func (d *Descriptor) LastSize() uint64 { return d.lastSize }

// NewLastFile/NewLastSize return the staged post-commit tail values; they
// are only meaningful mid-commit, between space planning and log truncation.
func (d *Descriptor) NewLastFile() uint16 { return d.newLastFile }
func (d *Descriptor) NewLastSize() uint64 { return d.newLastSize }

// PromoteLastFile moves the staged tail values into the committed ones,
// called by the commit engine only after the write-ahead log is truncated.
func (d *Descriptor) PromoteLastFile() {
	d.lastFile = d.newLastFile
	d.lastSize = d.newLastSize
}

// RestoreLastFile overwrites both committed and staged tail values, used by
// write-ahead log recovery to undo an interrupted commit's bookkeeping.
func (d *Descriptor) RestoreLastFile(file uint16, size uint64) {
	d.lastFile = file
	d.lastSize = size
	d.newLastFile = file
	d.newLastSize = size
}

// ID returns the index's single-byte identifier.
func (d *Descriptor) ID() byte { return d.id }

// KeySize returns the fixed key width this index was created with.
func (d *Descriptor) KeySize() int { return d.keySize }

// nodeByteSize returns the fixed on-disk footprint of a node for a given key
// size: a 1-byte count, Order elements, Order+1 child pointers, and a
// trailing xxhash64 checksum over everything before it, always written at
// full width so a node's footprint never changes across rewrites.
func nodeByteSize(keySize int) int {
	return 1 + Order*elementSize(keySize) + (Order+1)*childSize + nodeChecksumSize
}

func elementSize(keySize int) int { return keySize + 2 + 4 + 4 }

const childSize = 2 + 4

// nodeChecksumSize is the trailing xxhash64 digest guarding a node page
// against a torn write surfacing as silently wrong tree structure.
const nodeChecksumSize = 8
