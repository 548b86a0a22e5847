package txn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cryptexdb/internal/txn"
	"github.com/iamNilotpal/cryptexdb/pkg/errs"
)

const testIndex byte = 3

// fakeReader stands in for the commit engine's committed-state view.
type fakeReader struct {
	values map[string][]byte
}

func newFakeReader() *fakeReader { return &fakeReader{values: make(map[string][]byte)} }

func (r *fakeReader) put(key string, value []byte) { r.values[key] = value }

func (r *fakeReader) Read(indexID byte, key []byte, offset, length uint32) ([]byte, bool, error) {
	v, ok := r.values[string(key)]
	if !ok {
		return nil, false, nil
	}
	if offset >= uint32(len(v)) {
		return nil, true, nil
	}
	end := offset + length
	if end > uint32(len(v)) {
		end = uint32(len(v))
	}
	out := make([]byte, end-offset)
	copy(out, v[offset:end])
	return out, true, nil
}

func (r *fakeReader) Length(indexID byte, key []byte) (uint32, bool, error) {
	v, ok := r.values[string(key)]
	if !ok {
		return 0, false, nil
	}
	return uint32(len(v)), true, nil
}

type fakeKeySizer struct{ size int }

func (k fakeKeySizer) KeySize(indexID byte) (int, bool) { return k.size, true }

func newTxn(t *testing.T, reader *fakeReader) *txn.Txn {
	t.Helper()
	tx, err := txn.New(&txn.Config{
		Reader:   reader,
		KeySizer: fakeKeySizer{size: 4},
		Logger:   zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return tx
}

func Test_Write_Then_Read_Round_Trips(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	require.NoError(t, tx.Write(testIndex, []byte("key1"), []byte("hello world")))

	got, err := tx.Read(testIndex, []byte("key1"), 0, 11)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func Test_Write_Then_Delete_Reads_Not_Found(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	require.NoError(t, tx.Write(testIndex, []byte("key1"), []byte("hello")))
	require.NoError(t, tx.Delete(testIndex, []byte("key1")))

	_, err := tx.Read(testIndex, []byte("key1"), 0, 5)
	require.Error(t, err)
	var indexErr *errs.IndexError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, errs.ErrorCodeIndexKeyNotFound, indexErr.Code())
}

func Test_Delete_Cancels_Prior_Pending_Write(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	require.NoError(t, tx.Write(testIndex, []byte("key1"), []byte("hello")))
	require.NoError(t, tx.Delete(testIndex, []byte("key1")))

	writes := tx.Writes()
	assert.Empty(t, writes)

	deletes := tx.Deletes()
	require.Len(t, deletes, 1)
	assert.Equal(t, []byte("key1"), deletes[0].Key)
}

func Test_WriteSubsection_Requires_Existing_Base(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	err := tx.WriteSubsection(testIndex, []byte("key1"), 0, []byte("x"))
	require.Error(t, err)
	var invErr *errs.InvariantError
	require.ErrorAs(t, err, &invErr)
}

func Test_WriteSubsection_Overlays_Pending_Full_Write(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	require.NoError(t, tx.Write(testIndex, []byte("key1"), []byte("AAAAAAAAAA")))
	require.NoError(t, tx.WriteSubsection(testIndex, []byte("key1"), 2, []byte("BB")))

	got, err := tx.Read(testIndex, []byte("key1"), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("AABBAAAAAA"), got)
}

func Test_WriteSubsection_Overlays_Committed_Base(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	reader.put("key1", []byte("0123456789"))
	tx := newTxn(t, reader)

	require.NoError(t, tx.WriteSubsection(testIndex, []byte("key1"), 3, []byte("XY")))

	got, err := tx.Read(testIndex, []byte("key1"), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("012XY56789"), got)
}

func Test_WriteSubsection_Stack_Applies_In_Submission_Order(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	reader.put("key1", []byte("----------"))
	tx := newTxn(t, reader)

	require.NoError(t, tx.WriteSubsection(testIndex, []byte("key1"), 0, []byte("AAAA")))
	require.NoError(t, tx.WriteSubsection(testIndex, []byte("key1"), 2, []byte("BB")))

	got, err := tx.Read(testIndex, []byte("key1"), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("AABB------"), got)
}

func Test_WriteSubsection_FromScratch_Offset_Behaves_Like_Write(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	require.NoError(t, tx.WriteSubsection(testIndex, []byte("key1"), 0xFFFFFFFF, []byte("new value")))

	writes := tx.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("new value"), writes[0].Bytes)
}

func Test_ChangeKey_Retargets_Pending_Write(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	require.NoError(t, tx.Write(testIndex, []byte("key1"), []byte("payload")))
	require.NoError(t, tx.ChangeKey(testIndex, []byte("key1"), []byte("key2")))

	got, err := tx.Read(testIndex, []byte("key2"), 0, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	_, err = tx.Read(testIndex, []byte("key1"), 0, 7)
	require.Error(t, err)

	assert.Empty(t, tx.Renames())
}

func Test_ChangeKey_Queues_Rename_For_Committed_Key(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	reader.put("key1", []byte("committed"))
	tx := newTxn(t, reader)

	require.NoError(t, tx.ChangeKey(testIndex, []byte("key1"), []byte("key2")))

	renames := tx.Renames()
	require.Len(t, renames, 1)
	assert.Equal(t, []byte("key1"), renames[0].OldKey)
	assert.Equal(t, []byte("key2"), renames[0].NewKey)
}

func Test_ChangeKey_On_Unknown_Key_Is_Invariant_Violation(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	err := tx.ChangeKey(testIndex, []byte("key1"), []byte("key2"))
	require.Error(t, err)
	var invErr *errs.InvariantError
	require.ErrorAs(t, err, &invErr)
}

func Test_ChangeKey_Requires_Equal_Length_Keys(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	reader.put("key1", []byte("value"))
	tx, err := txn.New(&txn.Config{Reader: reader, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	err = tx.ChangeKey(testIndex, []byte("key1"), []byte("key22"))
	require.Error(t, err)
	var invErr *errs.InvariantError
	require.ErrorAs(t, err, &invErr)
}

func Test_Length_Accounts_For_Pending_Write_And_Subsections(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	require.NoError(t, tx.Write(testIndex, []byte("key1"), []byte("12345")))
	length, err := tx.Length(testIndex, []byte("key1"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, length)

	require.NoError(t, tx.WriteSubsection(testIndex, []byte("key1"), 8, []byte("XYZ")))
	length, err = tx.Length(testIndex, []byte("key1"))
	require.NoError(t, err)
	assert.EqualValues(t, 11, length)
}

func Test_Length_Of_Unknown_Key_Is_Not_Found_Sentinel(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	length, err := tx.Length(testIndex, []byte("key1"))
	require.NoError(t, err)
	assert.EqualValues(t, 0xFFFFFFFF, length)
}

func Test_Length_Of_Deleted_Key_Is_Not_Found_Sentinel(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	reader.put("key1", []byte("value"))
	tx := newTxn(t, reader)

	require.NoError(t, tx.Delete(testIndex, []byte("key1")))
	length, err := tx.Length(testIndex, []byte("key1"))
	require.NoError(t, err)
	assert.EqualValues(t, 0xFFFFFFFF, length)
}

func Test_Write_Rejects_Wrong_Key_Size(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	err := tx.Write(testIndex, []byte("short"), []byte("value"))
	require.Error(t, err)
	var invErr *errs.InvariantError
	require.ErrorAs(t, err, &invErr)
}

func Test_WriteConcatenated_Joins_Parts(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	require.NoError(t, tx.WriteConcatenated(testIndex, []byte("key1"), [][]byte{
		[]byte("foo"), []byte("bar"), []byte("baz"),
	}))

	got, err := tx.Read(testIndex, []byte("key1"), 0, 9)
	require.NoError(t, err)
	assert.Equal(t, []byte("foobarbaz"), got)
}

func Test_Abort_Discards_Buffered_State(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	tx := newTxn(t, reader)

	require.NoError(t, tx.Write(testIndex, []byte("key1"), []byte("value")))
	tx.Abort()

	assert.Empty(t, tx.Writes())
	assert.Empty(t, tx.Deletes())
	assert.Empty(t, tx.Renames())
}
