package cryptexdb

import (
	"github.com/iamNilotpal/cryptexdb/internal/engine"
	"github.com/iamNilotpal/cryptexdb/internal/txn"
)

// Txn is one transaction's buffered state, thin sugar over internal/txn.Txn
// that also knows how to commit itself against the engine that opened it.
type Txn struct {
	txn    *txn.Txn
	engine *engine.Engine
}

// Write stages a full replacement of (indexID, key). See internal/txn.Write.
func (tx *Txn) Write(indexID byte, key, value []byte) error {
	return tx.txn.Write(indexID, key, value)
}

// WriteSubsection stages an overwrite of data at offset within the current
// value of (indexID, key), which must already exist. Passing
// DeletedSentinel as offset replaces the value outright, like Write.
func (tx *Txn) WriteSubsection(indexID byte, key []byte, offset uint32, data []byte) error {
	return tx.txn.WriteSubsection(indexID, key, offset, data)
}

// WriteConcatenated stages a full replacement equal to the concatenation of
// parts, in order.
func (tx *Txn) WriteConcatenated(indexID byte, key []byte, parts [][]byte) error {
	return tx.txn.WriteConcatenated(indexID, key, parts)
}

// Delete stages a deletion of (indexID, key).
func (tx *Txn) Delete(indexID byte, key []byte) error {
	return tx.txn.Delete(indexID, key)
}

// ChangeKey stages a logical rename of oldKey to newKey within indexID.
func (tx *Txn) ChangeKey(indexID byte, oldKey, newKey []byte) error {
	return tx.txn.ChangeKey(indexID, oldKey, newKey)
}

// Read returns up to length bytes starting at offset from the transaction's
// view of (indexID, key): pending writes overlaid on committed state.
func (tx *Txn) Read(indexID byte, key []byte, offset, length uint32) ([]byte, error) {
	return tx.txn.Read(indexID, key, offset, length)
}

// Length returns the current length of (indexID, key) under the
// transaction's view.
func (tx *Txn) Length(indexID byte, key []byte) (uint32, error) {
	return tx.txn.Length(indexID, key)
}

// Commit drains every buffered write, sub-write, delete, and rename into
// persistent state. See internal/commit for the three-phase (plan, log,
// apply) protocol.
func (tx *Txn) Commit() error {
	return tx.engine.Commit(tx.txn)
}

// Abort discards all buffered state without touching persistent storage.
func (tx *Txn) Abort() {
	tx.txn.Abort()
}
