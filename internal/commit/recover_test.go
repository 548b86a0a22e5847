package commit

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cryptexdb/internal/btree"
	"github.com/iamNilotpal/cryptexdb/internal/delindex"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/internal/txn"
	"github.com/iamNilotpal/cryptexdb/internal/wal"
	"github.com/iamNilotpal/cryptexdb/pkg/comparator"
)

const recoverTestIndexID byte = 1

func newRecoverHarness(t *testing.T) *Engine {
	t.Helper()
	logger := zap.NewNop().Sugar()

	fm, err := filemgr.New(&filemgr.Config{Dir: t.TempDir(), MaxFileSize: 1 << 20, Logger: logger})
	require.NoError(t, err)

	walLog, err := wal.New(&wal.Config{FileManager: fm, Logger: logger})
	require.NoError(t, err)

	del, err := delindex.New(&delindex.Config{FileManager: fm, Logger: logger, WAL: walLog})
	require.NoError(t, err)

	header, err := ReadIndexHeader(fm, recoverTestIndexID)
	require.NoError(t, err)

	desc, err := btree.New(&btree.Config{
		ID:          recoverTestIndexID,
		KeySize:     4,
		CacheLimit:  1 << 16,
		Comparator:  comparator.Lexicographic,
		FileManager: fm,
		Logger:      logger,
		WAL:         walLog,
		LastFile:    header.LastFile,
		LastSize:    header.LastSize,
	})
	require.NoError(t, err)

	return New(&Config{
		FileManager:   fm,
		WAL:           walLog,
		DeletionIndex: del,
		Indexes:       map[byte]*btree.Descriptor{recoverTestIndexID: desc},
		Logger:        logger,
	})
}

func recoverTestKey(n byte) []byte { return []byte{0, 0, 0, n} }

func newRecoverTxn(t *testing.T, eng *Engine) *txn.Txn {
	t.Helper()
	tx, err := txn.New(&txn.Config{Reader: eng, KeySizer: eng, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	return tx
}

// Test_Recover_Undoes_Overwrite_Applied_Before_Truncate simulates a crash
// landing after the write-ahead log has been finalized and synced (every
// before-image the in-flight commit needs is already durable) and after its
// planned overwrites have already landed on disk, but before the log is
// truncated — spec.md §8 scenario 4. It drives Commit's own phases by hand
// (plan, log+sync, apply) and stops short of Truncate, then reopens a fresh
// Engine against the resulting on-disk state and asserts every byte and tail
// value the interrupted commit touched is restored to exactly what it held
// beforehand.
func Test_Recover_Undoes_Overwrite_Applied_Before_Truncate(t *testing.T) {
	eng := newRecoverHarness(t)

	original := []byte("0123456789ABCDEF")
	clobbered := []byte("ZYXWVUTSRQPONMLK")
	require.Len(t, clobbered, len(original))

	baseline := newRecoverTxn(t, eng)
	require.NoError(t, baseline.Write(recoverTestIndexID, recoverTestKey(1), original))
	require.NoError(t, eng.Commit(baseline))

	desc := eng.indexes[recoverTestIndexID]
	preTailFile, preTailSize := desc.LastFile(), desc.LastSize()
	preDBFile, preDBSize := eng.lastFile, eng.lastSize

	readBack, ok, err := eng.Read(recoverTestIndexID, recoverTestKey(1), 0, uint32(len(original)))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, original, readBack)

	// Phase 1 — plan. Nothing live is touched yet.
	touchedData := map[uint16]bool{}
	var pendingWrites []pendingDataWrite
	nodes, loc, mutations, err := eng.commitWrite(
		desc, txn.PendingWrite{IndexID: recoverTestIndexID, Key: recoverTestKey(1), Bytes: clobbered}, touchedData, &pendingWrites,
	)
	require.NoError(t, err)
	require.Empty(t, mutations)
	require.EqualValues(t, 0, loc.fileID)

	// Phase 2 — log every before-image and sync.
	require.NoError(t, desc.LogBeforeImages(nodes))
	for _, w := range pendingWrites {
		require.NoError(t, eng.log.LogDataWrite(w.fileID, w.offset, w.prev))
	}
	require.NoError(t, eng.log.Finalize(
		wal.TailState{LastFile: preDBFile, LastSize: preDBSize},
		[]wal.TailState{{IndexID: recoverTestIndexID, LastFile: preTailFile, LastSize: preTailSize}},
	))

	// Phase 3 — apply, in full, exactly as Commit would. The crash being
	// modeled lands right after this, before Truncate is ever reached.
	for _, w := range pendingWrites {
		require.NoError(t, eng.fm.Overwrite(dataFileID(w.fileID), int64(w.offset), w.bytes))
	}
	require.NoError(t, desc.Persist(nodes))

	clobberedReadBack, ok, err := eng.Read(recoverTestIndexID, recoverTestKey(1), 0, uint32(len(clobbered)))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, clobbered, clobberedReadBack)

	// Reopen: a fresh Engine over the same on-disk files, with no index
	// pre-loaded — matching the order a real reopen loads things in, where
	// Recover runs before any index is loaded back.
	reopened := New(&Config{
		FileManager:   eng.fm,
		WAL:           eng.log,
		DeletionIndex: eng.del,
		Indexes:       map[byte]*btree.Descriptor{},
		Logger:        zap.NewNop().Sugar(),
		LastFile:      preDBFile,
		LastSize:      preDBSize,
	})
	require.NoError(t, reopened.Recover())

	require.Equal(t, preDBFile, reopened.lastFile)
	require.Equal(t, preDBSize, reopened.lastSize)

	reopenedHeader, err := ReadIndexHeader(eng.fm, recoverTestIndexID)
	require.NoError(t, err)
	require.Equal(t, preTailFile, reopenedHeader.LastFile)
	require.Equal(t, preTailSize, reopenedHeader.LastSize)

	reopenedDesc, err := btree.New(&btree.Config{
		ID:          recoverTestIndexID,
		KeySize:     4,
		CacheLimit:  1 << 16,
		Comparator:  comparator.Lexicographic,
		FileManager: eng.fm,
		Logger:      zap.NewNop().Sugar(),
		WAL:         eng.log,
		LastFile:    reopenedHeader.LastFile,
		LastSize:    reopenedHeader.LastSize,
	})
	require.NoError(t, err)
	reopened.indexes[recoverTestIndexID] = reopenedDesc

	restored, ok, err := reopened.Read(recoverTestIndexID, recoverTestKey(1), 0, uint32(len(original)))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, original, restored)
}

// Test_Recover_Is_A_No_Op_When_Log_Was_Truncated asserts that a clean
// shutdown (the ordinary case, log truncated after every commit) leaves
// Recover with nothing to do.
func Test_Recover_Is_A_No_Op_When_Log_Was_Truncated(t *testing.T) {
	eng := newRecoverHarness(t)

	tx := newRecoverTxn(t, eng)
	require.NoError(t, tx.Write(recoverTestIndexID, recoverTestKey(2), []byte("steady state")))
	require.NoError(t, eng.Commit(tx))

	require.NoError(t, eng.Recover())

	data, ok, err := eng.Read(recoverTestIndexID, recoverTestKey(2), 0, 12)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("steady state"), data)
}
