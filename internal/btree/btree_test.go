package btree_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cryptexdb/internal/btree"
	"github.com/iamNilotpal/cryptexdb/internal/filemgr"
	"github.com/iamNilotpal/cryptexdb/pkg/comparator"
)

const testIndexID byte = 1

func newDescriptor(t *testing.T, cacheLimit uint64) *btree.Descriptor {
	t.Helper()
	fm, err := filemgr.New(&filemgr.Config{Dir: t.TempDir(), MaxFileSize: 1 << 20, Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	desc, err := btree.New(&btree.Config{
		ID:          testIndexID,
		KeySize:     4,
		CacheLimit:  cacheLimit,
		Comparator:  comparator.Lexicographic,
		FileManager: fm,
		Logger:      zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return desc
}

func key(n byte) []byte { return []byte{0, 0, 0, n} }

func TestInsertAndFindRoundTrip(t *testing.T) {
	desc := newDescriptor(t, 1<<16)

	nodes, err := desc.Insert(key(1), btree.IndexValue{Key: key(1), FileID: 0, Offset: 10, Length: 5})
	require.NoError(t, err)
	require.NoError(t, desc.Persist(nodes))

	v, found, err := desc.Find(key(1))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 10, v.Offset)
	require.EqualValues(t, 5, v.Length)
}

func TestFindMissingKey(t *testing.T) {
	desc := newDescriptor(t, 1<<16)
	_, found, err := desc.Find(key(9))
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeleteTombstonesAndHidesFromFind(t *testing.T) {
	desc := newDescriptor(t, 1<<16)

	nodes, err := desc.Insert(key(2), btree.IndexValue{Key: key(2), Offset: 0, Length: 3})
	require.NoError(t, err)
	require.NoError(t, desc.Persist(nodes))

	node, err := desc.Delete(key(2))
	require.NoError(t, err)
	require.NotNil(t, node)
	require.NoError(t, desc.Persist([]*btree.Node{node}))

	_, found, err := desc.Find(key(2))
	require.NoError(t, err)
	require.False(t, found)
}

func TestDeleteAbsentKeyIsNoOp(t *testing.T) {
	desc := newDescriptor(t, 1<<16)
	node, err := desc.Delete(key(42))
	require.NoError(t, err)
	require.Nil(t, node)
}

func TestAscendYieldsKeysInOrderAndSkipsTombstones(t *testing.T) {
	desc := newDescriptor(t, 1<<16)

	for i := 0; i < 50; i++ {
		nodes, err := desc.Insert(key(byte(i)), btree.IndexValue{Key: key(byte(i)), Offset: uint32(i), Length: 1})
		require.NoError(t, err)
		require.NoError(t, desc.Persist(nodes))
	}

	for i := 0; i < 50; i += 2 {
		node, err := desc.Delete(key(byte(i)))
		require.NoError(t, err)
		if node != nil {
			require.NoError(t, desc.Persist([]*btree.Node{node}))
		}
	}

	var seen []byte
	err := desc.Ascend(func(v btree.IndexValue) bool {
		seen = append(seen, v.Key[3])
		return true
	})
	require.NoError(t, err)

	require.Len(t, seen, 25)
	for _, b := range seen {
		require.NotZero(t, b%2)
	}
	for i := 1; i < len(seen); i++ {
		require.Less(t, seen[i-1], seen[i])
	}
}

func TestAscendStopsEarly(t *testing.T) {
	desc := newDescriptor(t, 1<<16)
	for i := 0; i < 20; i++ {
		nodes, err := desc.Insert(key(byte(i)), btree.IndexValue{Key: key(byte(i)), Offset: uint32(i), Length: 1})
		require.NoError(t, err)
		require.NoError(t, desc.Persist(nodes))
	}

	count := 0
	err := desc.Ascend(func(v btree.IndexValue) bool {
		count++
		return count < 5
	})
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestInsertBeyondOrderSplitsAndKeepsEveryKeyFindable(t *testing.T) {
	desc := newDescriptor(t, 1<<20)

	for i := 0; i < 300; i++ {
		k := []byte{byte(i >> 8), byte(i), 0, 0}
		nodes, err := desc.Insert(k, btree.IndexValue{Key: k, Offset: uint32(i), Length: 1})
		require.NoError(t, err)
		require.NoError(t, desc.Persist(nodes))
	}

	for i := 0; i < 300; i++ {
		k := []byte{byte(i >> 8), byte(i), 0, 0}
		v, found, err := desc.Find(k)
		require.NoError(t, err)
		require.True(t, found, "key %d should be found after splitting", i)
		require.EqualValues(t, i, v.Offset)
	}
}

func TestOverwriteExistingKeyReplacesValue(t *testing.T) {
	desc := newDescriptor(t, 1<<16)

	nodes, err := desc.Insert(key(3), btree.IndexValue{Key: key(3), Offset: 1, Length: 1})
	require.NoError(t, err)
	require.NoError(t, desc.Persist(nodes))

	nodes, err = desc.Insert(key(3), btree.IndexValue{Key: key(3), Offset: 99, Length: 2})
	require.NoError(t, err)
	require.NoError(t, desc.Persist(nodes))

	v, found, err := desc.Find(key(3))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 99, v.Offset)
}
