package accounter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/cryptexdb/internal/accounter"
	"github.com/iamNilotpal/cryptexdb/pkg/cryptexdb"
	"github.com/iamNilotpal/cryptexdb/pkg/options"
)

func open(t *testing.T) *accounter.Accounter {
	t.Helper()
	db, err := cryptexdb.Open(context.Background(), t.TempDir(), options.WithSyncOnCommit(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := accounter.New(db, nil)
	require.NoError(t, err)
	return a
}

func hash(b byte) [accounter.TxHashSize]byte {
	var h [accounter.TxHashSize]byte
	h[0] = b
	return h
}

func account(b byte) [accounter.AccountSize]byte {
	var a [accounter.AccountSize]byte
	a[0] = b
	return a
}

func TestRecordTransaction(t *testing.T) {
	a := open(t)

	tx := accounter.TxEvent{
		Hash:    hash(1),
		TxID:    42,
		Branch:  7,
		Header:  []byte("header"),
		Outputs: []byte("outputs"),
	}
	require.NoError(t, a.RecordTransaction(tx, 1000))
}

func TestReassignBranch(t *testing.T) {
	a := open(t)

	tx := accounter.TxEvent{Hash: hash(2), TxID: 99, Branch: 1, Header: []byte("h"), Outputs: []byte("o")}
	require.NoError(t, a.RecordTransaction(tx, 1001))
	require.NoError(t, a.ReassignBranch(1, 2, 99))
}

func TestRecordOutputAndSpentFlag(t *testing.T) {
	a := open(t)
	outputID := make([]byte, accounter.OutputIDSize)
	outputID[0] = 9

	require.NoError(t, a.RecordOutput(3, outputID, []byte("unspent output")))

	spent, err := a.IsSpent(3, outputID)
	require.NoError(t, err)
	require.False(t, spent)

	require.NoError(t, a.MarkSpent(3, outputID))
	spent, err = a.IsSpent(3, outputID)
	require.NoError(t, err)
	require.True(t, spent)

	require.NoError(t, a.MarkUnspent(3, outputID))
	spent, err = a.IsSpent(3, outputID)
	require.NoError(t, err)
	require.False(t, spent)
}

func TestAccountBalanceSumsSignedDeltas(t *testing.T) {
	a := open(t)
	branch := uint32(5)
	acct := account(1)

	entries := []accounter.AccountEntry{
		{Account: acct, TxID: 1, Timestamp: 100, Delta: 500},
		{Account: acct, TxID: 2, Timestamp: 200, Delta: -120},
		{Account: acct, TxID: 3, Timestamp: 300, Delta: 30},
	}
	for _, e := range entries {
		require.NoError(t, a.RecordBalanceEntry(branch, e, nil))
	}

	balance, err := a.AccountBalance(branch, acct)
	require.NoError(t, err)
	require.EqualValues(t, 410, balance)
}

func TestAccountBalanceIsolatesOtherAccountsAndBranches(t *testing.T) {
	a := open(t)

	require.NoError(t, a.RecordBalanceEntry(1, accounter.AccountEntry{
		Account: account(1), TxID: 1, Timestamp: 10, Delta: 100,
	}, nil))
	require.NoError(t, a.RecordBalanceEntry(1, accounter.AccountEntry{
		Account: account(2), TxID: 2, Timestamp: 20, Delta: 999,
	}, nil))
	require.NoError(t, a.RecordBalanceEntry(2, accounter.AccountEntry{
		Account: account(1), TxID: 3, Timestamp: 30, Delta: -50,
	}, nil))

	balance, err := a.AccountBalance(1, account(1))
	require.NoError(t, err)
	require.EqualValues(t, 100, balance)
}
