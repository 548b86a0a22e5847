package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cryptexdb/internal/engine"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/internal/wal"
	"github.com/iamNilotpal/cryptexdb/pkg/options"
)

const engineTestIndexID byte = 1

func testOptions(folder string) *options.Options {
	return &options.Options{
		DataDir:         folder,
		FolderName:      "db",
		MaxFileSize:     1 << 20,
		IndexCacheLimit: 1 << 16,
		SyncOnCommit:    true,
	}
}

func openEngine(t *testing.T, folder string) *engine.Engine {
	t.Helper()
	eng, err := engine.Open(&engine.Config{Folder: folder, Options: testOptions(folder), Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	require.NoError(t, eng.LoadIndex(engineTestIndexID, 4, nil))
	return eng
}

func key(n byte) []byte { return []byte{0, 0, 0, n} }

func TestOpenLoadCommitAndReadRoundTrip(t *testing.T) {
	folder := t.TempDir()
	eng := openEngine(t, folder)

	tx, err := eng.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Write(engineTestIndexID, key(1), []byte("hello world")))
	require.NoError(t, eng.Commit(tx))

	tx2, err := eng.Begin()
	require.NoError(t, err)
	got, err := tx2.Read(engineTestIndexID, key(1), 0, uint32(len("hello world")))
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)
}

func TestClosedEngineRejectsFurtherOperations(t *testing.T) {
	folder := t.TempDir()
	eng, err := engine.Open(&engine.Config{Folder: folder, Options: testOptions(folder), Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	_, err = eng.Begin()
	require.ErrorIs(t, err, engine.ErrEngineClosed)
	require.ErrorIs(t, eng.LoadIndex(engineTestIndexID, 4, nil), engine.ErrEngineClosed)
	require.ErrorIs(t, eng.Close(), engine.ErrEngineClosed)
}

func TestReopeningTheSameFolderWhileLockedFails(t *testing.T) {
	folder := t.TempDir()
	first, err := engine.Open(&engine.Config{Folder: folder, Options: testOptions(folder), Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	_, err = engine.Open(&engine.Config{Folder: folder, Options: testOptions(folder), Logger: zap.NewNop().Sugar()})
	require.Error(t, err)
}

// TestOpenRecoversAnInterruptedCommit simulates a crash between Finalize and
// Truncate at the whole-folder level (spec.md §8 scenario 4): it writes a
// baseline value, commits cleanly, then hand-drives a second write through
// only as far as the write-ahead log's sync and the resulting overwrite —
// exactly mirroring what Commit itself would have done, stopping short of
// truncating the log — against the folder after the engine was closed, so
// nothing ever reaches Truncate, and reopens a fresh Engine against it. Open's automatic Recover
// call must restore the baseline value.
func TestOpenRecoversAnInterruptedCommit(t *testing.T) {
	folder := t.TempDir()

	original := []byte("0123456789ABCDEF")
	clobbered := []byte("FEDCBA9876543210")
	require.Len(t, clobbered, len(original))

	func() {
		eng := openEngine(t, folder)

		tx, err := eng.Begin()
		require.NoError(t, err)
		require.NoError(t, tx.Write(engineTestIndexID, key(9), original))
		require.NoError(t, eng.Commit(tx))

		// Release the folder lock and the engine's own file handles before
		// simulating the crash below, so the reopen after it can acquire the
		// lock the way it would after a real process exit.
		require.NoError(t, eng.Close())

		// Simulate the crash window directly against the folder's files,
		// bypassing Commit so the log is left un-truncated: a fresh WAL and
		// file manager opened straight against the folder, exactly what a
		// second commit would have logged and applied before the process
		// died.
		fm, err := filemgr.New(&filemgr.Config{Dir: folder, MaxFileSize: 1 << 20, Logger: zap.NewNop().Sugar()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = fm.Close(context.Background()) })

		walLog, err := wal.New(&wal.Config{FileManager: fm, Logger: zap.NewNop().Sugar()})
		require.NoError(t, err)

		dataFile := filemgr.FileID{Type: filemgr.FileTypeData, FileNo: 0}
		prev, err := fm.ReadAt(dataFile, 0, len(original))
		require.NoError(t, err)
		require.Equal(t, original, prev)

		require.NoError(t, walLog.LogDataWrite(0, 0, prev))
		require.NoError(t, walLog.Finalize(wal.TailState{LastFile: 0, LastSize: uint64(len(original))}, nil))
		require.NoError(t, fm.Overwrite(dataFile, 0, clobbered))
		// No Truncate: this is the crash. eng.Close() above already released
		// the folder lock, so the engine itself never sees this mutation.
	}()

	reopened, err := engine.Open(&engine.Config{Folder: folder, Options: testOptions(folder), Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.LoadIndex(engineTestIndexID, 4, nil))

	tx, err := reopened.Begin()
	require.NoError(t, err)
	restored, err := tx.Read(engineTestIndexID, key(9), 0, uint32(len(original)))
	require.NoError(t, err)
	require.Equal(t, original, restored)
}

// TestMaxFileSizeRolloverSpansMultipleDataFiles exercises spec.md §8 scenario
// 5: writing past a tiny MAX_FILE_SIZE rolls over to a new numbered data
// file rather than overflowing the current one, and every value committed
// before and after the roll remains independently readable.
func TestMaxFileSizeRolloverSpansMultipleDataFiles(t *testing.T) {
	folder := t.TempDir()
	opts := testOptions(folder)
	opts.MaxFileSize = options.MinFileSize // smallest legal file size

	eng, err := engine.Open(&engine.Config{Folder: folder, Options: opts, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	require.NoError(t, eng.LoadIndex(engineTestIndexID, 4, nil))

	chunk := make([]byte, 256*1024)
	for i := range chunk {
		chunk[i] = byte(i)
	}

	const values = 6 // 6 * 256KiB > 1MiB MaxFileSize, forcing a roll.
	for i := byte(0); i < values; i++ {
		tx, err := eng.Begin()
		require.NoError(t, err)
		require.NoError(t, tx.Write(engineTestIndexID, key(i), chunk))
		require.NoError(t, eng.Commit(tx))
	}

	for i := byte(0); i < values; i++ {
		tx, err := eng.Begin()
		require.NoError(t, err)
		got, err := tx.Read(engineTestIndexID, key(i), 0, uint32(len(chunk)))
		require.NoError(t, err)
		require.Equal(t, chunk, got)
	}
}
