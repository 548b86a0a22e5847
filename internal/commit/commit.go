package commit

import (
	"github.com/iamNilotpal/cryptexdb/internal/btree"
	"github.com/iamNilotpal/cryptexdb/internal/delindex"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/internal/txn"
	"github.com/iamNilotpal/cryptexdb/internal/wal"
	"github.com/iamNilotpal/cryptexdb/pkg/errs"
)

// placed records where a key's value landed earlier in the same commit, so a
// later sub-write against a key that was also full-written this commit
// targets its new location rather than whatever Find reported beforehand.
type placed struct {
	fileID uint16
	offset uint32
	length uint32
}

// pendingDataWrite is a planned in-place overwrite of a live data-file range:
// its before-image, captured while planning, and the bytes that will replace
// it once the before-image is durably logged.
type pendingDataWrite struct {
	fileID uint16
	offset uint32
	prev   []byte
	bytes  []byte
}

// Commit drains tx's buffered writes, sub-writes, deletes, and renames in
// three strict phases, matching spec.md §4.6: (1) plan every mutation in
// memory, touching nothing that is currently live on disk; (2) log every
// before-image the plan will need to undo and sync the write-ahead log; only
// then (3) apply the planned overwrites, promote tails, sync the touched
// files, and truncate the log. A non-nil error before the log is truncated
// leaves the database recoverable by replaying the log on reopen; one after
// does not.
func (e *Engine) Commit(tx *txn.Txn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	writes := tx.Writes()
	subWrites := tx.SubWrites()
	deletes := tx.Deletes()
	renames := tx.Renames()

	if len(writes) == 0 && len(subWrites) == 0 && len(deletes) == 0 && len(renames) == 0 {
		return nil
	}

	touchedIndexes := map[byte]*btree.Descriptor{}
	for _, w := range writes {
		touchedIndexes[w.IndexID] = nil
	}
	for _, s := range subWrites {
		touchedIndexes[s.IndexID] = nil
	}
	for _, d := range deletes {
		touchedIndexes[d.IndexID] = nil
	}
	for _, r := range renames {
		touchedIndexes[r.IndexID] = nil
	}

	indexTailsBefore := make([]wal.TailState, 0, len(touchedIndexes))
	for id := range touchedIndexes {
		desc, ok := e.indexes[id]
		if !ok {
			return errs.NewInvariantError("commit touches an unregistered index").WithIndexID(id)
		}
		touchedIndexes[id] = desc
		indexTailsBefore = append(indexTailsBefore, wal.TailState{
			IndexID: id, LastFile: desc.LastFile(), LastSize: desc.LastSize(),
		})
	}
	dbTailBefore := wal.TailState{LastFile: e.lastFile, LastSize: e.lastSize}

	// Phase 1 — plan. Every index mutation and data overwrite is computed
	// and staged here without destroying a single live byte: brand-new node
	// and data-file appends land immediately (growing a file destroys
	// nothing and is undone on recovery by the saved pre-commit tail), but
	// every overwrite of something already live is only recorded — as a
	// pendingDataWrite, a dirty btree.Node, or a delindex.Mutation — for the
	// later phases to log and then apply.
	var pendingDel []delindex.Mutation
	var pendingWrites []pendingDataWrite
	touchedNodes := map[byte][]*btree.Node{}
	touchedData := map[uint16]bool{}
	placements := map[string]placed{}

	for _, d := range deletes {
		desc := touchedIndexes[d.IndexID]
		nodes, mutation, err := e.commitDelete(desc, d)
		if err != nil {
			return wrapStep(err, "update_indexes")
		}
		touchedNodes[d.IndexID] = append(touchedNodes[d.IndexID], nodes...)
		if mutation != nil {
			pendingDel = append(pendingDel, *mutation)
		}
	}

	for _, w := range writes {
		desc := touchedIndexes[w.IndexID]
		nodes, loc, mutations, err := e.commitWrite(desc, w, touchedData, &pendingWrites)
		if err != nil {
			return wrapStep(err, "plan_space")
		}
		touchedNodes[w.IndexID] = append(touchedNodes[w.IndexID], nodes...)
		pendingDel = append(pendingDel, mutations...)
		placements[placementKey(w.IndexID, w.Key)] = loc
	}

	for _, s := range subWrites {
		desc := touchedIndexes[s.IndexID]
		nodes, mutations, err := e.commitSubWrite(desc, s, placements, touchedData, &pendingWrites)
		if err != nil {
			return wrapStep(err, "write_data")
		}
		touchedNodes[s.IndexID] = append(touchedNodes[s.IndexID], nodes...)
		pendingDel = append(pendingDel, mutations...)
	}

	for _, r := range renames {
		desc := touchedIndexes[r.IndexID]
		nodes, err := e.commitRename(desc, r)
		if err != nil {
			return wrapStep(err, "update_indexes")
		}
		touchedNodes[r.IndexID] = append(touchedNodes[r.IndexID], nodes...)
	}

	// Phase 2 — log. Every before-image the plan staged is appended to the
	// write-ahead log and the log is synced before phase 3 issues a single
	// one of the corresponding overwrites. This is what makes the boundary
	// real: once Finalize returns, every destructive write this commit will
	// make is already durably undoable, so a crash at any point in phase 3
	// replays cleanly on reopen.
	for id, nodes := range touchedNodes {
		if err := touchedIndexes[id].LogBeforeImages(nodes); err != nil {
			return wrapStep(err, "log_before_images")
		}
	}
	for _, w := range pendingWrites {
		if err := e.log.LogDataWrite(w.fileID, w.offset, w.prev); err != nil {
			return wrapStep(err, "log_before_images")
		}
	}
	if err := e.del.LogBeforeImages(pendingDel); err != nil {
		return wrapStep(err, "log_before_images")
	}

	if err := e.log.Finalize(dbTailBefore, indexTailsBefore); err != nil {
		return wrapStep(err, "finalize_log")
	}

	// Phase 3 — apply. Every overwrite staged in phase 1 now lands, backed
	// by the durable log just synced.
	for _, w := range pendingWrites {
		if err := e.fm.Overwrite(dataFileID(w.fileID), int64(w.offset), w.bytes); err != nil {
			return errs.NewCommitUnrecoverableError(err, "write_data")
		}
	}
	for id, nodes := range touchedNodes {
		if err := touchedIndexes[id].Persist(nodes); err != nil {
			return errs.NewCommitUnrecoverableError(err, "update_indexes")
		}
	}
	if err := e.del.Persist(pendingDel); err != nil {
		return errs.NewCommitUnrecoverableError(err, "retire_deletions")
	}

	for id, desc := range touchedIndexes {
		desc.PromoteLastFile()
		if err := WriteIndexHeader(e.fm, id, desc.LastFile(), desc.LastSize()); err != nil {
			return errs.NewCommitUnrecoverableError(err, "promote_tail")
		}
	}
	e.lastFile, e.lastSize = e.newLastFile, e.newLastSize

	if !e.disableSync {
		for id, desc := range touchedIndexes {
			for fileNo := uint16(0); fileNo <= desc.LastFile(); fileNo++ {
				if err := e.fm.Sync(filemgr.FileID{Type: filemgr.FileTypeIndex, IndexID: id, FileNo: fileNo}); err != nil {
					return errs.NewCommitUnrecoverableError(err, "sync")
				}
			}
		}
		if err := e.fm.Sync(filemgr.FileID{Type: filemgr.FileTypeDeletionIndex}); err != nil {
			return errs.NewCommitUnrecoverableError(err, "sync")
		}
		for fileNo := range touchedData {
			if err := e.fm.Sync(dataFileID(fileNo)); err != nil {
				return errs.NewCommitUnrecoverableError(err, "sync")
			}
		}
	}

	if err := e.log.Truncate(); err != nil {
		return errs.NewCommitUnrecoverableError(err, "truncate_log")
	}
	return nil
}

func wrapStep(err error, step string) error {
	if err == nil {
		return nil
	}
	return errs.NewCommitError(err, errs.ErrorCodeCommitPlanningFailed, "commit step failed").
		WithStep(step).
		WithRecoverable(true)
}

func placementKey(indexID byte, key []byte) string {
	return string(append([]byte{indexID}, key...))
}

// placeBytes writes bytes to a reused free extent if the deletion index can
// supply one, or else appends to the database's own data-file tail, rolling
// to a new file when the current one would overflow. It returns where the
// bytes landed and any deletion-index mutations the reuse produced. Both
// branches only ever touch space the deletion index currently calls free, or
// space past the current file tail — never a range any live index entry
// still points at — so, unlike a live in-place overwrite, neither needs a
// before-image and both may run during planning.
func (e *Engine) placeBytes(bytes []byte, touchedData map[uint16]bool) (placed, []delindex.Mutation, error) {
	size := uint32(len(bytes))

	if placement, mutations, ok := e.del.Allocate(size); ok {
		if err := e.fm.Overwrite(dataFileID(placement.FileID), int64(placement.Offset), bytes); err != nil {
			return placed{}, nil, err
		}
		touchedData[placement.FileID] = true
		return placed{fileID: placement.FileID, offset: placement.Offset, length: size}, mutations, nil
	}

	fileNo := e.newLastFile
	overflow, err := e.fm.WouldOverflow(dataFileID(fileNo), len(bytes))
	if err != nil {
		return placed{}, nil, err
	}
	if overflow {
		fileNo++
	}

	offset, err := e.fm.Append(dataFileID(fileNo), bytes)
	if err != nil {
		return placed{}, nil, err
	}
	touchedData[fileNo] = true

	newSize, err := e.fm.Size(dataFileID(fileNo))
	if err != nil {
		return placed{}, nil, err
	}
	e.newLastFile = fileNo
	e.newLastSize = uint64(newSize)

	return placed{fileID: fileNo, offset: uint32(offset), length: size}, nil, nil
}

// commitDelete plans tombstoning key in desc and freeing its committed
// extent, if any. Nothing is written to disk here: desc.Delete only mutates
// the in-memory node (returned for the caller to log and persist later), and
// e.del.Free only updates the in-memory free-extent list.
func (e *Engine) commitDelete(desc *btree.Descriptor, d txn.PendingDelete) ([]*btree.Node, *delindex.Mutation, error) {
	old, found, err := desc.Find(d.Key)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}

	node, err := desc.Delete(d.Key)
	if err != nil {
		return nil, nil, err
	}
	var nodes []*btree.Node
	if node != nil {
		nodes = []*btree.Node{node}
	}

	mutation := e.del.Free(old.FileID, old.Offset, old.Length)
	return nodes, &mutation, nil
}

// commitWrite plans placing a pending full value: reusing the old extent in
// place when it still fits (staging the range it will overwrite as a
// pendingDataWrite, logged and applied in later phases), or relocating
// through placeBytes otherwise, then indexes it.
func (e *Engine) commitWrite(
	desc *btree.Descriptor, w txn.PendingWrite, touchedData map[uint16]bool, pendingWrites *[]pendingDataWrite,
) ([]*btree.Node, placed, []delindex.Mutation, error) {
	old, found, err := desc.Find(w.Key)
	if err != nil {
		return nil, placed{}, nil, err
	}
	newLen := uint32(len(w.Bytes))

	var loc placed
	var mutations []delindex.Mutation

	if found && newLen <= old.Length {
		pw, err := e.planOverwriteLive(old.FileID, old.Offset, newLen, w.Bytes)
		if err != nil {
			return nil, placed{}, nil, err
		}
		*pendingWrites = append(*pendingWrites, pw)
		touchedData[old.FileID] = true

		loc = placed{fileID: old.FileID, offset: old.Offset, length: newLen}
		if newLen < old.Length {
			mutations = append(mutations, e.del.Free(old.FileID, old.Offset+newLen, old.Length-newLen))
		}
	} else {
		loc, mutations, err = e.placeBytes(w.Bytes, touchedData)
		if err != nil {
			return nil, placed{}, nil, err
		}
		if found {
			mutations = append(mutations, e.del.Free(old.FileID, old.Offset, old.Length))
		}
	}

	nodes, err := desc.Insert(w.Key, btree.IndexValue{Key: w.Key, FileID: loc.fileID, Offset: loc.offset, Length: loc.length})
	if err != nil {
		return nil, placed{}, nil, err
	}
	return nodes, loc, mutations, nil
}

// planOverwriteLive reads the live range about to be destroyed and stages it
// as a pendingDataWrite, without touching disk. The commit engine logs
// prev and syncs the log before any pendingDataWrite's bytes are applied.
func (e *Engine) planOverwriteLive(fileID uint16, offset, length uint32, bytes []byte) (pendingDataWrite, error) {
	prev, err := e.fm.ReadAt(dataFileID(fileID), int64(offset), int(length))
	if err != nil {
		return pendingDataWrite{}, err
	}
	return pendingDataWrite{fileID: fileID, offset: offset, prev: prev, bytes: bytes}, nil
}

// commitSubWrite plans one sub-section overwrite against whichever base
// location is current for its key: a location this same commit already
// placed, or the key's committed location. A write landing entirely within
// the base's current length stages an in-place pendingDataWrite; one that
// extends past it reads the whole value, overlays the sub-write, and
// relocates the result like a full replacement (which touches only
// currently-free or past-tail space, so it applies immediately).
func (e *Engine) commitSubWrite(
	desc *btree.Descriptor, s txn.PendingSubWrite, placements map[string]placed,
	touchedData map[uint16]bool, pendingWrites *[]pendingDataWrite,
) ([]*btree.Node, []delindex.Mutation, error) {
	key := placementKey(s.IndexID, s.Key)

	loc, ok := placements[key]
	if !ok {
		old, found, err := desc.Find(s.Key)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			return nil, nil, errs.NewMissingBaseValueError(s.IndexID, s.Key)
		}
		loc = placed{fileID: old.FileID, offset: old.Offset, length: old.Length}
	}

	end := s.Offset + uint32(len(s.Bytes))
	if end <= loc.length {
		pw, err := e.planOverwriteLive(loc.fileID, loc.offset+s.Offset, uint32(len(s.Bytes)), s.Bytes)
		if err != nil {
			return nil, nil, err
		}
		*pendingWrites = append(*pendingWrites, pw)
		touchedData[loc.fileID] = true
		return nil, nil, nil
	}

	current, err := e.fm.ReadAt(dataFileID(loc.fileID), int64(loc.offset), int(loc.length))
	if err != nil {
		return nil, nil, err
	}
	extended := make([]byte, end)
	copy(extended, current)
	copy(extended[s.Offset:], s.Bytes)

	newLoc, mutations, err := e.placeBytes(extended, touchedData)
	if err != nil {
		return nil, nil, err
	}
	mutations = append(mutations, e.del.Free(loc.fileID, loc.offset, loc.length))

	nodes, err := desc.Insert(s.Key, btree.IndexValue{Key: s.Key, FileID: newLoc.fileID, Offset: newLoc.offset, Length: newLoc.length})
	if err != nil {
		return nil, nil, err
	}

	placements[key] = newLoc
	return nodes, mutations, nil
}

// commitRename plans moving a key's index entry from OldKey to NewKey
// without touching the underlying data bytes.
func (e *Engine) commitRename(desc *btree.Descriptor, r txn.Rename) ([]*btree.Node, error) {
	old, found, err := desc.Find(r.OldKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.NewMissingBaseValueError(r.IndexID, r.OldKey)
	}

	var nodes []*btree.Node
	node, err := desc.Delete(r.OldKey)
	if err != nil {
		return nil, err
	}
	if node != nil {
		nodes = append(nodes, node)
	}

	newValue := old
	newValue.Key = r.NewKey
	inserted, err := desc.Insert(r.NewKey, newValue)
	if err != nil {
		return nil, err
	}
	return append(nodes, inserted...), nil
}
