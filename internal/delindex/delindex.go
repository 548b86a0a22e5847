// Package delindex implements the deletion index: an in-memory ordered
// collection of free extents inside data files, keyed by length so that
// "largest active free extent ≥ L" is a single lookup at the front of the
// ordering, enabling best-fit allocation without scanning data files.
package delindex

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/pkg/errs"
)

// Mutation describes a change to one deletion-index slot. The commit engine
// logs OldBytes as a write-ahead before-image prior to persisting NewBytes
// at IndexPos, during its deletion-index commit step. A slot with IsNewSlot
// true has no prior on-disk content; new-slot mutations grow the `del` file
// via append rather than overwrite.
type Mutation struct {
	IndexPos  int64
	OldBytes  [entrySize]byte
	NewBytes  [entrySize]byte
	IsNewSlot bool
}

// New loads a deletion index from the `del` file managed by fm. An empty or
// freshly-created file yields an empty index.
func New(config *Config) (*Index, error) {
	if config == nil || config.FileManager == nil || config.Logger == nil {
		return nil, errs.NewValidationError(
			nil, errs.ErrorCodeInvalidInput, "deletion index configuration is required",
		).WithField("config").WithRule("required")
	}

	idx := &Index{fm: config.FileManager, log: config.Logger, wal: config.WAL}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) load() error {
	id := filemgr.FileID{Type: filemgr.FileTypeDeletionIndex}
	size, err := idx.fm.Size(id)
	if err != nil {
		return err
	}
	if size%entrySize != 0 {
		return errs.NewIndexCorruptionError("Load", int(size), nil).
			WithOperation("deletion_index_load")
	}

	count := size / entrySize
	idx.entries = make([]*Entry, 0, count)
	for i := int64(0); i < count; i++ {
		slot := i * entrySize
		raw, err := idx.fm.ReadAt(id, slot, entrySize)
		if err != nil {
			return err
		}
		var buf [entrySize]byte
		copy(buf[:], raw)
		idx.entries = append(idx.entries, decode(buf, slot))
	}

	sort.Slice(idx.entries, func(i, j int) bool { return less(idx.entries[i], idx.entries[j]) })
	idx.log.Infow("deletion index loaded", "entries", len(idx.entries))
	return nil
}

// encode serializes e into its 12-byte on-disk key layout:
// active_flag(1) || length_be(4) || file_id_le(2) || offset_le(4) || reserved(1).
func encode(e *Entry) [entrySize]byte {
	var buf [entrySize]byte
	if e.Active {
		buf[0] = 1
	}
	binary.BigEndian.PutUint32(buf[1:5], e.Length)
	binary.LittleEndian.PutUint16(buf[5:7], e.FileID)
	binary.LittleEndian.PutUint32(buf[7:11], e.Offset)
	return buf
}

func decode(buf [entrySize]byte, indexPos int64) *Entry {
	return &Entry{
		Active:   buf[0] == 1,
		Length:   binary.BigEndian.Uint32(buf[1:5]),
		FileID:   binary.LittleEndian.Uint16(buf[5:7]),
		Offset:   binary.LittleEndian.Uint32(buf[7:11]),
		IndexPos: indexPos,
	}
}

// less reports whether a sorts before b: active entries cluster first, and
// within equal activity the encoded key (and therefore length, since length
// occupies the next most-significant bytes) sorts in descending order. This
// is what lets "largest active free extent" always be entries[0].
func less(a, b *Entry) bool {
	ak, bk := encode(a), encode(b)
	return bytes.Compare(ak[:], bk[:]) > 0
}

// bestFitIndex returns the position of the first (largest) active entry
// whose length is at least dataSize, or -1 if none qualifies. Because active
// entries cluster first and sort by descending length, this is a linear scan
// bounded by the run of active entries rather than the whole collection —
// the scan stops at the first sufficient entry or the first inactive one.
func (idx *Index) bestFitIndex(dataSize uint32) int {
	for i, e := range idx.entries {
		if !e.Active {
			break
		}
		if e.Length >= dataSize {
			return i
		}
	}
	return -1
}

// slotFor returns the on-disk slot an entry should occupy: its own IndexPos
// if already persisted, or a brand-new slot appended past the current file
// size if not.
func (idx *Index) slotFor(e *Entry, nextNewSlot *int64) int64 {
	if e.IndexPos >= 0 {
		return e.IndexPos
	}
	// Slots handed out earlier but not yet appended sit past the file size
	// too; skip over them so no two entries share a slot.
	for _, other := range idx.entries {
		if other.IndexPos+entrySize > *nextNewSlot {
			*nextNewSlot = other.IndexPos + entrySize
		}
	}
	slot := *nextNewSlot
	*nextNewSlot += entrySize
	e.IndexPos = slot
	return slot
}

// Allocate implements the best-fit branch of free-extent allocation: it
// looks for the largest active extent able to hold dataSize and,
// if found, carves placement from its high end, shrinking or retiring the
// extent. It does not decide the "otherwise append to last_file / roll to a
// new data file" fallback — that spans database-level last_file bookkeeping
// owned by the commit engine (internal/commit), which calls Allocate first
// and falls back to its own placement when ok is false.
func (idx *Index) Allocate(dataSize uint32) (placement Placement, mutations []Mutation, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	pos := idx.bestFitIndex(dataSize)
	if pos < 0 {
		return Placement{}, nil, false
	}

	entry := idx.entries[pos]
	oldBytes := encode(entry)
	placementOffset := entry.Offset + entry.Length - dataSize
	placement = Placement{FileID: entry.FileID, Offset: placementOffset}

	leftover := entry.Length - dataSize
	idx.entries = append(idx.entries[:pos], idx.entries[pos+1:]...)

	fileSize, _ := idx.fm.Size(filemgr.FileID{Type: filemgr.FileTypeDeletionIndex})
	nextSlot := fileSize
	wasNewSlot := entry.IndexPos < 0

	entry.Active = false
	consumedSlot := idx.slotFor(entry, &nextSlot)
	mutations = append(mutations, Mutation{
		IndexPos:  consumedSlot,
		OldBytes:  oldBytes,
		NewBytes:  encode(entry),
		IsNewSlot: wasNewSlot,
	})
	idx.entries = insertKeepingSorted(idx.entries, entry)

	if leftover > 0 {
		newEntry := &Entry{Active: true, Length: leftover, FileID: entry.FileID, Offset: entry.Offset, IndexPos: -1}
		newSlot := idx.slotFor(newEntry, &nextSlot)
		mutations = append(mutations, Mutation{
			IndexPos:  newSlot,
			NewBytes:  encode(newEntry),
			IsNewSlot: true,
		})
		idx.entries = insertKeepingSorted(idx.entries, newEntry)
	}

	return placement, mutations, true
}

// Free registers a newly-freed byte range as an active extent. No
// coalescing with adjacent free extents is performed.
func (idx *Index) Free(fileID uint16, offset uint32, length uint32) Mutation {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry := &Entry{Active: true, Length: length, FileID: fileID, Offset: offset, IndexPos: -1}
	fileSize, _ := idx.fm.Size(filemgr.FileID{Type: filemgr.FileTypeDeletionIndex})
	nextSlot := fileSize
	slot := idx.slotFor(entry, &nextSlot)
	idx.entries = insertKeepingSorted(idx.entries, entry)

	return Mutation{IndexPos: slot, NewBytes: encode(entry), IsNewSlot: true}
}

// insertKeepingSorted inserts e into a copy of entries at the position the
// descending-order invariant requires.
func insertKeepingSorted(entries []*Entry, e *Entry) []*Entry {
	pos := sort.Search(len(entries), func(i int) bool { return !less(entries[i], e) })
	entries = append(entries, nil)
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = e
	return entries
}

// LogBeforeImages logs the write-ahead before-image for every mutation that
// Persist is about to overwrite in place. A new-slot mutation needs none:
// appending past the file's current end destroys nothing, so there is
// nothing to undo. The commit engine must call this, and sync the log,
// before calling Persist.
func (idx *Index) LogBeforeImages(mutations []Mutation) error {
	if idx.wal == nil {
		return nil
	}
	for _, m := range mutations {
		if m.IsNewSlot {
			continue
		}
		if err := idx.wal.LogDeletionIndexWrite(m.IndexPos, m.OldBytes); err != nil {
			return err
		}
	}
	return nil
}

// Persist writes each mutation's NewBytes to its slot in the `del` file: an
// append for new slots, an overwrite for slots that already existed. The
// commit engine calls this only after LogBeforeImages has logged, and the
// write-ahead log has synced, every overwritten slot's before-image.
func (idx *Index) Persist(mutations []Mutation) error {
	id := filemgr.FileID{Type: filemgr.FileTypeDeletionIndex}
	for _, m := range mutations {
		if m.IsNewSlot {
			if _, err := idx.fm.Append(id, m.NewBytes[:]); err != nil {
				return err
			}
			continue
		}
		if err := idx.fm.Overwrite(id, m.IndexPos, m.NewBytes[:]); err != nil {
			return err
		}
	}
	return nil
}
