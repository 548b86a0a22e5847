// Package accounter is the consumer schema spec.md §6 describes
// informatively: a cryptocurrency accounting layer projecting transaction
// events into per-account balances, unspent-output tracking, and
// branch-aware history, built entirely on top of pkg/cryptexdb's public
// contract. It works over opaque fixed-size key bytes supplied by the
// caller — raw transaction/address types and branch semantics stay out of
// the engine's scope per spec.md §1, and out of this package's scope too;
// accounter only ever writes and reads the named index families.
package accounter

import (
	"github.com/iamNilotpal/cryptexdb/pkg/cryptexdb"
)

// Index identifiers for the seven families spec.md §6 names. Values are
// arbitrary single bytes; what matters is that every caller of Accounter
// agrees on them, which New enforces by loading all seven up front.
const (
	IndexTxHashToTxID         byte = 1 // tx_hash -> tx_id
	IndexTxIDToDetails        byte = 2 // tx_id -> tx_details
	IndexBranchTxDetails      byte = 3 // (branch, tx_id) -> branch_tx_details
	IndexOutputDetails        byte = 4 // output_id -> output_details
	IndexBranchOutputSpent    byte = 5 // (branch, output_id) -> spent_flag
	IndexAccountTxDetails     byte = 6 // (account, tx_id) -> account_tx_details
	IndexBranchAccountHistory byte = 7 // (branch, account, timestamp, tx_id) -> ∅
)

// Fixed key-component widths. Branch, TxID, and Timestamp are encoded as
// big-endian integers so byte-lexicographic order (the engine's default
// comparator) equals numeric order — required for IndexBranchAccountHistory
// to serve as a sorted time index. Account and output ids are copied into
// keys as-is.
const (
	TxHashSize   = 32
	TxIDSize     = 8
	BranchSize   = 4
	OutputIDSize = 36 // 32-byte source tx hash || 4-byte output index
	AccountSize  = 8
	TimestampSize = 8
)

// Key widths per index family, derived from the component sizes above.
const (
	keySizeTxHashToTxID         = TxHashSize
	keySizeTxIDToDetails        = TxIDSize
	keySizeBranchTxDetails      = BranchSize + TxIDSize
	keySizeOutputDetails        = OutputIDSize
	keySizeBranchOutputSpent    = BranchSize + OutputIDSize
	keySizeAccountTxDetails     = AccountSize + TxIDSize
	keySizeBranchAccountHistory = BranchSize + AccountSize + TimestampSize + TxIDSize
)

// spentFlagSize is the width of the single-byte spent/unspent flag record;
// MarkSpent/MarkUnspent overwrite it in place via WriteSubsection,
// demonstrating the sub-section overwrite path end-to-end.
const spentFlagSize = 1

const (
	spentByte   byte = 1
	unspentByte byte = 0
)

// Accounter is a loaded set of the seven index families, ready to record
// transactions and answer balance/spent queries.
type Accounter struct {
	db *cryptexdb.DB
}

// TxEvent is one transaction to project into the engine's indexes.
type TxEvent struct {
	Hash   [TxHashSize]byte
	TxID   uint64
	Branch uint32

	// Header is the fixed-width portion of tx_details / branch_tx_details;
	// Outputs is the variable-width remainder. RecordTransaction writes
	// tx_details as their concatenation via WriteConcatenated.
	Header  []byte
	Outputs []byte
}

// AccountEntry is one (account, tx_id) balance-affecting record: Delta is
// signed so both credits and debits are representable.
type AccountEntry struct {
	Account   [AccountSize]byte
	TxID      uint64
	Timestamp uint64
	Delta     int64
}
