package delindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cryptexdb/internal/delindex"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/internal/wal"
)

func newIndex(t *testing.T, walLog *wal.Log) (*delindex.Index, *filemgr.Manager) {
	t.Helper()
	fm, err := filemgr.New(&filemgr.Config{Dir: t.TempDir(), MaxFileSize: 1 << 20, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	var writer delindex.WALWriter
	if walLog != nil {
		writer = walLog
	}
	idx, err := delindex.New(&delindex.Config{FileManager: fm, Logger: zap.NewNop().Sugar(), WAL: writer})
	require.NoError(t, err)
	return idx, fm
}

func TestAllocateFailsOnAnEmptyIndex(t *testing.T) {
	idx, _ := newIndex(t, nil)
	_, mutations, ok := idx.Allocate(10)
	require.False(t, ok)
	require.Nil(t, mutations)
}

func TestFreeThenAllocateExactFitRetiresTheEntry(t *testing.T) {
	idx, _ := newIndex(t, nil)

	freeMut := idx.Free(0, 100, 50)
	require.True(t, freeMut.IsNewSlot)

	placement, mutations, ok := idx.Allocate(50)
	require.True(t, ok)
	require.Equal(t, uint16(0), placement.FileID)
	require.Equal(t, uint32(100), placement.Offset)

	// An exact-fit consumption produces exactly one mutation retiring the
	// entry in place (no leftover split).
	require.Len(t, mutations, 1)
	require.False(t, mutations[0].IsNewSlot)
	require.Equal(t, freeMut.IndexPos, mutations[0].IndexPos)

	// The entry is gone: a second allocation of the same size finds nothing.
	_, _, ok = idx.Allocate(50)
	require.False(t, ok)
}

func TestAllocateSplitsLeftoverFromALargerExtent(t *testing.T) {
	idx, _ := newIndex(t, nil)
	idx.Free(3, 1000, 100)

	placement, mutations, ok := idx.Allocate(40)
	require.True(t, ok)
	require.Equal(t, uint16(3), placement.FileID)
	// Allocation is carved from the high end of the extent.
	require.Equal(t, uint32(1060), placement.Offset)

	// Consuming part of an extent with leftover produces two mutations: the
	// retired slot and a brand-new slot for what remains free.
	require.Len(t, mutations, 2)
	sawRetired, sawLeftover := false, false
	for _, m := range mutations {
		if m.IsNewSlot && m.OldBytes == [12]byte{} {
			sawLeftover = true
		}
		if !m.IsNewSlot {
			sawRetired = true
		}
	}
	require.True(t, sawRetired)
	require.True(t, sawLeftover)

	// The 60-byte leftover at the low end remains available.
	leftoverPlacement, _, ok := idx.Allocate(60)
	require.True(t, ok)
	require.Equal(t, uint32(1000), leftoverPlacement.Offset)
}

func TestAllocateCarvesFromTheLargestSufficientExtent(t *testing.T) {
	idx, _ := newIndex(t, nil)
	idx.Free(0, 0, 200)
	idx.Free(0, 500, 30)

	// Both extents fit a 20-byte request; the descending-length ordering
	// surfaces the 200-byte extent first, and the allocation is carved from
	// its high end: 0 + 200 - 20.
	placement, _, ok := idx.Allocate(20)
	require.True(t, ok)
	require.Equal(t, uint32(180), placement.Offset)
}

// TestLogBeforeImagesThenReplayRestoresAConsumedSlot exercises the same
// before-image discipline the commit engine relies on: LogBeforeImages logs
// every overwritten (non-new) slot, the log is finalized and synced, Persist
// then applies the mutation, and — modeling a crash before the log's
// Truncate — a fresh Log.Recover() over the same `del` file restores the
// slot to its pre-allocation bytes.
func TestLogBeforeImagesThenReplayRestoresAConsumedSlot(t *testing.T) {
	fm, err := filemgr.New(&filemgr.Config{Dir: t.TempDir(), MaxFileSize: 1 << 20, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	walLog, err := wal.New(&wal.Config{FileManager: fm, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	idx, err := delindex.New(&delindex.Config{FileManager: fm, Logger: zap.NewNop().Sugar(), WAL: walLog})
	require.NoError(t, err)

	freeMut := idx.Free(0, 200, 64)
	require.NoError(t, idx.LogBeforeImages([]delindex.Mutation{freeMut}))
	require.NoError(t, walLog.Finalize(wal.TailState{}, nil))
	require.NoError(t, idx.Persist([]delindex.Mutation{freeMut}))
	require.NoError(t, walLog.Truncate())

	placement, mutations, ok := idx.Allocate(64)
	require.True(t, ok)
	require.Equal(t, uint32(200), placement.Offset)
	require.Len(t, mutations, 1)
	consumeMut := mutations[0]
	require.False(t, consumeMut.IsNewSlot)

	require.NoError(t, idx.LogBeforeImages(mutations))
	require.NoError(t, walLog.Finalize(wal.TailState{}, nil))
	require.NoError(t, idx.Persist(mutations))

	// Crash modeled here: Truncate never runs.

	delFile := filemgr.FileID{Type: filemgr.FileTypeDeletionIndex}
	consumedRaw, err := fm.ReadAt(delFile, consumeMut.IndexPos, 12)
	require.NoError(t, err)
	require.EqualValues(t, consumeMut.NewBytes[:], consumedRaw)

	reopened, err := wal.New(&wal.Config{FileManager: fm, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	_, _, ok, err = reopened.Recover()
	require.NoError(t, err)
	require.True(t, ok)

	restoredRaw, err := fm.ReadAt(delFile, consumeMut.IndexPos, 12)
	require.NoError(t, err)
	require.EqualValues(t, consumeMut.OldBytes[:], restoredRaw)

	reloaded, err := delindex.New(&delindex.Config{FileManager: fm, Logger: zap.NewNop().Sugar(), WAL: walLog})
	require.NoError(t, err)
	restoredPlacement, _, ok := reloaded.Allocate(64)
	require.True(t, ok)
	require.Equal(t, uint32(200), restoredPlacement.Offset)
}

func TestPersistAppendsNewSlotsAndOverwritesExistingOnes(t *testing.T) {
	idx, fm := newIndex(t, nil)

	freeMut := idx.Free(1, 10, 20)
	require.True(t, freeMut.IsNewSlot)
	require.NoError(t, idx.Persist([]delindex.Mutation{freeMut}))

	delFile := filemgr.FileID{Type: filemgr.FileTypeDeletionIndex}
	size, err := fm.Size(delFile)
	require.NoError(t, err)
	require.EqualValues(t, 12, size)

	_, mutations, ok := idx.Allocate(20)
	require.True(t, ok)
	require.Len(t, mutations, 1)
	require.False(t, mutations[0].IsNewSlot)
	require.NoError(t, idx.Persist(mutations))

	size, err = fm.Size(delFile)
	require.NoError(t, err)
	require.EqualValues(t, 12, size)

	raw, err := fm.ReadAt(delFile, mutations[0].IndexPos, 12)
	require.NoError(t, err)
	require.EqualValues(t, mutations[0].NewBytes[:], raw)
}

func TestLoadRebuildsEntriesFromAnExistingDelFile(t *testing.T) {
	fm, err := filemgr.New(&filemgr.Config{Dir: t.TempDir(), MaxFileSize: 1 << 20, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	idx, err := delindex.New(&delindex.Config{FileManager: fm, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	freeMut := idx.Free(2, 500, 80)
	require.NoError(t, idx.Persist([]delindex.Mutation{freeMut}))

	reloaded, err := delindex.New(&delindex.Config{FileManager: fm, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	placement, _, ok := reloaded.Allocate(80)
	require.True(t, ok)
	require.Equal(t, uint16(2), placement.FileID)
	require.Equal(t, uint32(500), placement.Offset)
}
