package accounter

import (
	"encoding/binary"

	"github.com/iamNilotpal/cryptexdb/pkg/comparator"
	"github.com/iamNilotpal/cryptexdb/pkg/cryptexdb"
)

// New loads all seven index families against db, creating any that have
// never been written to. A nil comparator falls back to
// comparator.Lexicographic for every family — big-endian-encoded integer
// components make lexicographic order equal numeric order, which is what
// IndexBranchAccountHistory needs to serve as a sorted time index.
func New(db *cryptexdb.DB, cmp comparator.Comparator) (*Accounter, error) {
	families := []struct {
		id      byte
		keySize int
	}{
		{IndexTxHashToTxID, keySizeTxHashToTxID},
		{IndexTxIDToDetails, keySizeTxIDToDetails},
		{IndexBranchTxDetails, keySizeBranchTxDetails},
		{IndexOutputDetails, keySizeOutputDetails},
		{IndexBranchOutputSpent, keySizeBranchOutputSpent},
		{IndexAccountTxDetails, keySizeAccountTxDetails},
		{IndexBranchAccountHistory, keySizeBranchAccountHistory},
	}

	for _, f := range families {
		if err := db.LoadIndex(f.id, f.keySize, cmp); err != nil {
			return nil, err
		}
	}
	return &Accounter{db: db}, nil
}

func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func putU64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

func branchTxKey(branch uint32, txID uint64) []byte {
	k := make([]byte, keySizeBranchTxDetails)
	putU32(k[:BranchSize], branch)
	putU64(k[BranchSize:], txID)
	return k
}

func txIDKey(txID uint64) []byte {
	k := make([]byte, keySizeTxIDToDetails)
	putU64(k, txID)
	return k
}

func branchOutputKey(branch uint32, outputID []byte) []byte {
	k := make([]byte, keySizeBranchOutputSpent)
	putU32(k[:BranchSize], branch)
	copy(k[BranchSize:], outputID)
	return k
}

func accountTxKey(account [AccountSize]byte, txID uint64) []byte {
	k := make([]byte, keySizeAccountTxDetails)
	copy(k[:AccountSize], account[:])
	putU64(k[AccountSize:], txID)
	return k
}

func historyKey(branch uint32, account [AccountSize]byte, timestamp, txID uint64) []byte {
	k := make([]byte, keySizeBranchAccountHistory)
	off := 0
	putU32(k[off:off+BranchSize], branch)
	off += BranchSize
	copy(k[off:off+AccountSize], account[:])
	off += AccountSize
	putU64(k[off:off+TimestampSize], timestamp)
	off += TimestampSize
	putU64(k[off:off+TxIDSize], txID)
	return k
}

// RecordTransaction writes tx_hash, tx_id (tx_details), and
// branch_tx_details for one transaction, all within a single engine
// transaction so a reader never observes a partially recorded event. It
// writes no time-index entry and does not store timestamp; the time index is
// written by RecordBalanceEntry.
func (a *Accounter) RecordTransaction(tx TxEvent, timestamp uint64) error {
	txn, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer txn.Abort()

	idBytes := txIDKey(tx.TxID)
	if err := txn.Write(IndexTxHashToTxID, tx.Hash[:], idBytes); err != nil {
		return err
	}
	if err := txn.WriteConcatenated(IndexTxIDToDetails, idBytes, [][]byte{tx.Header, tx.Outputs}); err != nil {
		return err
	}
	if err := txn.WriteConcatenated(IndexBranchTxDetails, branchTxKey(tx.Branch, tx.TxID), [][]byte{tx.Header, tx.Outputs}); err != nil {
		return err
	}
	return txn.Commit()
}

// ReassignBranch moves a transaction's branch_tx_details row from an
// orphaned branch id to the canonical one after a reorg, without touching
// tx_details, by changing the (branch, tx_id) key in place.
func (a *Accounter) ReassignBranch(oldBranch, newBranch uint32, txID uint64) error {
	txn, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer txn.Abort()

	if err := txn.ChangeKey(IndexBranchTxDetails, branchTxKey(oldBranch, txID), branchTxKey(newBranch, txID)); err != nil {
		return err
	}
	return txn.Commit()
}

// RecordOutput creates an unspent-output_details record and its paired
// spent flag (initially unspent) for a newly seen output, within one
// transaction.
func (a *Accounter) RecordOutput(branch uint32, outputID, details []byte) error {
	txn, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer txn.Abort()

	if err := txn.Write(IndexOutputDetails, outputID, details); err != nil {
		return err
	}
	if err := txn.Write(IndexBranchOutputSpent, branchOutputKey(branch, outputID), []byte{unspentByte}); err != nil {
		return err
	}
	return txn.Commit()
}

// MarkSpent flips outputID's spent flag to spent via a one-byte
// sub-section overwrite, never touching the rest of the record.
func (a *Accounter) MarkSpent(branch uint32, outputID []byte) error {
	return a.setSpentFlag(branch, outputID, spentByte)
}

// MarkUnspent flips outputID's spent flag back to unspent, for reorg
// rollback.
func (a *Accounter) MarkUnspent(branch uint32, outputID []byte) error {
	return a.setSpentFlag(branch, outputID, unspentByte)
}

func (a *Accounter) setSpentFlag(branch uint32, outputID []byte, flag byte) error {
	txn, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer txn.Abort()

	key := branchOutputKey(branch, outputID)
	if err := txn.WriteSubsection(IndexBranchOutputSpent, key, 0, []byte{flag}); err != nil {
		return err
	}
	return txn.Commit()
}

// IsSpent reports whether outputID is currently marked spent within branch.
func (a *Accounter) IsSpent(branch uint32, outputID []byte) (bool, error) {
	key := branchOutputKey(branch, outputID)
	flag, err := a.db.Read(IndexBranchOutputSpent, key, 0, spentFlagSize)
	if err != nil {
		return false, err
	}
	return len(flag) == spentFlagSize && flag[0] == spentByte, nil
}

// RecordBalanceEntry writes one account_tx_details delta and the matching
// sorted time-index entry, within a single transaction.
func (a *Accounter) RecordBalanceEntry(branch uint32, entry AccountEntry, details []byte) error {
	txn, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer txn.Abort()

	deltaBytes := make([]byte, 8, 8+len(details))
	putU64(deltaBytes, uint64(entry.Delta))
	deltaBytes = append(deltaBytes, details...)

	if err := txn.Write(IndexAccountTxDetails, accountTxKey(entry.Account, entry.TxID), deltaBytes); err != nil {
		return err
	}
	hk := historyKey(branch, entry.Account, entry.Timestamp, entry.TxID)
	if err := txn.Write(IndexBranchAccountHistory, hk, []byte{}); err != nil {
		return err
	}
	return txn.Commit()
}

// AccountBalance range-scans branch's time-index entries for account in
// ascending timestamp order and sums the signed deltas recorded against
// each transaction, a pure read-side consumer of B-tree iteration.
func (a *Accounter) AccountBalance(branch uint32, account [AccountSize]byte) (int64, error) {
	prefix := make([]byte, BranchSize+AccountSize)
	putU32(prefix[:BranchSize], branch)
	copy(prefix[BranchSize:], account[:])

	var total int64
	var walkErr error
	var txIDs [][]byte

	err := a.db.Ascend(IndexBranchAccountHistory, func(key []byte) bool {
		if len(key) < len(prefix) {
			return true
		}
		cmp := compareBytes(key[:len(prefix)], prefix)
		if cmp < 0 {
			return true
		}
		if cmp > 0 {
			return false
		}
		txID := append([]byte(nil), key[len(key)-TxIDSize:]...)
		txIDs = append(txIDs, txID)
		return true
	})
	if err != nil {
		return 0, err
	}

	for _, txID := range txIDs {
		key := accountTxKey(account, binary.BigEndian.Uint64(txID))
		raw, err := a.db.Read(IndexAccountTxDetails, key, 0, 8)
		if err != nil {
			walkErr = err
			break
		}
		total += int64(binary.BigEndian.Uint64(raw))
	}
	return total, walkErr
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
