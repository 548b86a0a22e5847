// Package txn implements the transaction buffer: an in-memory staging area
// holding pending writes, sub-section overwrites, deletes, and key renames
// across one or more indexes, keyed by (index_id, key). A transaction
// accumulates operations and is read against directly; nothing touches
// persistent storage until the commit engine drains it.
package txn

import (
	"sync"

	"go.uber.org/zap"
)

// notFoundLength is returned by Length for a key with no value, committed or
// pending — the same sentinel btree uses to mark a tombstoned IndexValue,
// reused here per its documented second meaning: "does not exist".
const notFoundLength uint32 = 0xFFFFFFFF

// fromScratch is the offset sentinel WriteSubsection accepts to mean
// "replace the whole value", letting a caller route an unconditional
// overwrite through the sub-section call when it doesn't know the prior
// length. Shares its value with btree.DeletedSentinel by convention, not by
// import — the two packages have no reason to depend on one another.
const fromScratch uint32 = 0xFFFFFFFF

// entryKey identifies one (index, key) pair for the buffer's internal maps.
// []byte isn't comparable, so the key is stored as a string conversion,
// which copies the bytes and is safe to use as a map key.
type entryKey struct {
	indexID byte
	key     string
}

func ek(indexID byte, key []byte) entryKey { return entryKey{indexID: indexID, key: string(key)} }

// FullWrite is a pending whole-value replacement.
type FullWrite struct {
	Bytes []byte
}

// SubWrite is one pending sub-section overwrite, kept in a per-key stack in
// submission order: later entries were submitted after, and win where they
// overlap earlier ones.
type SubWrite struct {
	Offset uint32
	Bytes  []byte
}

// Rename is a pending key-rename that reached commit still needing a
// persistent-side rename (a pending write for OldKey that was itself never
// committed is folded directly into NewKey and never appears here).
type Rename struct {
	IndexID byte
	OldKey  []byte
	NewKey  []byte
}

// PendingWrite names one full replacement for the commit engine to place.
type PendingWrite struct {
	IndexID byte
	Key     []byte
	Bytes   []byte
}

// PendingSubWrite names one sub-section overwrite for the commit engine to
// apply after its base write lands.
type PendingSubWrite struct {
	IndexID byte
	Key     []byte
	Offset  uint32
	Bytes   []byte
}

// PendingDelete names one key the commit engine must tombstone.
type PendingDelete struct {
	IndexID byte
	Key     []byte
}

// Reader is the committed-state view a transaction reads through when a key
// has no pending full write of its own. The commit engine's index/data-file
// plumbing implements this; txn depends only on the interface.
type Reader interface {
	// Read returns up to length bytes starting at offset from the committed
	// value of (indexID, key). ok is false if the key has no committed value.
	Read(indexID byte, key []byte, offset uint32, length uint32) (data []byte, ok bool, err error)
	// Length returns the committed byte length of (indexID, key), or ok=false
	// if the key has no committed value.
	Length(indexID byte, key []byte) (length uint32, ok bool, err error)
}

// KeySizer reports the fixed key width configured for an index, so the
// buffer can reject malformed keys without importing the index package
// that owns that configuration.
type KeySizer interface {
	KeySize(indexID byte) (size int, ok bool)
}

// Txn is one transaction's buffered state: writes, sub-writes, deletes, and
// renames accumulated since it was opened. Not safe for concurrent use by
// more than one goroutine at a time (the engine serializes transactions by
// contract, see the concurrency model).
type Txn struct {
	mu sync.Mutex

	reader   Reader
	keySizer KeySizer
	log      *zap.SugaredLogger

	fullWrites map[entryKey]*FullWrite
	subWrites  map[entryKey][]SubWrite
	deletes    map[entryKey]bool
	renames    []Rename
}

// Config supplies a transaction the committed-state view it reads through.
type Config struct {
	Reader   Reader
	KeySizer KeySizer
	Logger   *zap.SugaredLogger
}
