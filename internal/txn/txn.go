package txn

import (
	"github.com/iamNilotpal/cryptexdb/pkg/errs"
)

// New opens an empty transaction against reader's committed view.
func New(config *Config) (*Txn, error) {
	if config == nil || config.Reader == nil || config.Logger == nil {
		return nil, errs.NewValidationError(
			nil, errs.ErrorCodeInvalidInput, "transaction configuration is required",
		).WithField("config").WithRule("required")
	}

	return &Txn{
		reader:     config.Reader,
		keySizer:   config.KeySizer,
		log:        config.Logger,
		fullWrites: make(map[entryKey]*FullWrite),
		subWrites:  make(map[entryKey][]SubWrite),
		deletes:    make(map[entryKey]bool),
	}, nil
}

func (t *Txn) validateKey(indexID byte, key []byte) error {
	if t.keySizer == nil {
		return nil
	}
	size, ok := t.keySizer.KeySize(indexID)
	if !ok {
		return errs.NewInvariantError("write targets an unregistered index").
			WithIndexID(indexID).
			WithDetail("indexId", indexID)
	}
	if len(key) != size {
		return errs.NewKeySizeMismatchError(indexID, size, len(key))
	}
	return nil
}

// Write stages a full replacement of (indexID, key). It coalesces with any
// prior pending full write for the key (replacement wins), cancels a prior
// pending delete, and discards sub-section writes staged against the value
// it replaces.
func (t *Txn) Write(indexID byte, key, bytes []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.validateKey(indexID, key); err != nil {
		return err
	}

	k := ek(indexID, key)
	buf := make([]byte, len(bytes))
	copy(buf, bytes)

	t.fullWrites[k] = &FullWrite{Bytes: buf}
	delete(t.subWrites, k)
	delete(t.deletes, k)
	return nil
}

// WriteConcatenated stages a full replacement equal to the concatenation of
// parts, in order.
func (t *Txn) WriteConcatenated(indexID byte, key []byte, parts [][]byte) error {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	bytes := make([]byte, 0, total)
	for _, p := range parts {
		bytes = append(bytes, p...)
	}
	return t.Write(indexID, key, bytes)
}

// WriteSubsection stages an overwrite of bytes at offset within the current
// value of (indexID, key), which must already exist — persisted, or as a
// pending full write. Passing fromScratch as offset behaves like Write: the
// value is replaced outright rather than requiring a base to overlay onto.
// Successive sub-section writes for the same key stack in submission order.
func (t *Txn) WriteSubsection(indexID byte, key []byte, offset uint32, bytes []byte) error {
	if offset == fromScratch {
		return t.Write(indexID, key, bytes)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.validateKey(indexID, key); err != nil {
		return err
	}

	k := ek(indexID, key)
	if t.deletes[k] {
		return errs.NewMissingBaseValueError(indexID, key)
	}
	if _, ok := t.fullWrites[k]; !ok {
		if _, ok, err := t.reader.Length(indexID, key); err != nil {
			return err
		} else if !ok {
			return errs.NewMissingBaseValueError(indexID, key)
		}
	}

	buf := make([]byte, len(bytes))
	copy(buf, bytes)
	t.subWrites[k] = append(t.subWrites[k], SubWrite{Offset: offset, Bytes: buf})
	return nil
}

// Delete drops any pending writes for (indexID, key) and records the delete.
func (t *Txn) Delete(indexID byte, key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.validateKey(indexID, key); err != nil {
		return err
	}

	k := ek(indexID, key)
	delete(t.fullWrites, k)
	delete(t.subWrites, k)
	t.deletes[k] = true
	return nil
}

// ChangeKey logically renames oldKey to newKey within indexID. A pending
// write (full or sub-section) for oldKey is retargeted to newKey rather than
// left behind. If oldKey also names a committed value, the rename is queued
// for the commit engine to apply against persistent storage; if it doesn't,
// and there was no pending write to retarget either, the rename has nothing
// to act on and fails as an invariant violation.
func (t *Txn) ChangeKey(indexID byte, oldKey, newKey []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.validateKey(indexID, oldKey); err != nil {
		return err
	}
	if err := t.validateKey(indexID, newKey); err != nil {
		return err
	}
	if len(oldKey) != len(newKey) {
		return errs.NewKeyLengthMismatchError(indexID, len(oldKey), len(newKey))
	}

	oldEK, newEK := ek(indexID, oldKey), ek(indexID, newKey)
	retargeted := false

	if fw, ok := t.fullWrites[oldEK]; ok {
		t.fullWrites[newEK] = fw
		delete(t.fullWrites, oldEK)
		retargeted = true
	}
	if subs, ok := t.subWrites[oldEK]; ok {
		t.subWrites[newEK] = append(t.subWrites[newEK], subs...)
		delete(t.subWrites, oldEK)
		retargeted = true
	}
	if t.deletes[oldEK] {
		delete(t.deletes, oldEK)
		t.deletes[newEK] = true
		retargeted = true
	}

	_, existedPersistently, err := t.reader.Length(indexID, oldKey)
	if err != nil {
		return err
	}

	if existedPersistently {
		oldCopy := append([]byte(nil), oldKey...)
		newCopy := append([]byte(nil), newKey...)
		t.renames = append(t.renames, Rename{IndexID: indexID, OldKey: oldCopy, NewKey: newCopy})
		return nil
	}
	if !retargeted {
		return errs.NewMissingBaseValueError(indexID, oldKey)
	}
	return nil
}

// Read serves offset/length from the transaction's view of (indexID, key):
// a pending delete reports not-found; otherwise a pending full write or the
// committed value (whichever is current) forms the base, and any pending
// sub-section writes overlay on top of it in submission order.
func (t *Txn) Read(indexID byte, key []byte, offset, length uint32) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := ek(indexID, key)
	if t.deletes[k] {
		return nil, errs.NewKeyNotFoundError(string(key))
	}

	var base []byte
	if fw, ok := t.fullWrites[k]; ok {
		base = windowWithin(fw.Bytes, offset, length)
		if base == nil {
			return nil, errs.NewKeyNotFoundError(string(key))
		}
	} else {
		b, ok, err := t.reader.Read(indexID, key, offset, length)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.NewKeyNotFoundError(string(key))
		}
		base = append([]byte(nil), b...)
	}

	for _, sw := range t.subWrites[k] {
		overlay(base, offset, sw)
	}
	return base, nil
}

// Length returns the current length of (indexID, key) accounting for a
// pending full write's size and the furthest extent reached by pending
// sub-section writes, or notFoundLength if the key has no value, pending or
// committed.
func (t *Txn) Length(indexID byte, key []byte) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := ek(indexID, key)
	if t.deletes[k] {
		return notFoundLength, nil
	}

	var length uint32
	var known bool
	if fw, ok := t.fullWrites[k]; ok {
		length, known = uint32(len(fw.Bytes)), true
	} else {
		base, ok, err := t.reader.Length(indexID, key)
		if err != nil {
			return 0, err
		}
		if ok {
			length, known = base, true
		}
	}

	for _, sw := range t.subWrites[k] {
		if end := sw.Offset + uint32(len(sw.Bytes)); end > length {
			length, known = end, true
		}
	}

	if !known {
		return notFoundLength, nil
	}
	return length, nil
}

// windowWithin returns a fresh copy of bytes[offset:min(offset+length,len)],
// or nil if offset lies entirely outside bytes.
func windowWithin(bytes []byte, offset, length uint32) []byte {
	if offset >= uint32(len(bytes)) {
		return nil
	}
	end := offset + length
	if end > uint32(len(bytes)) {
		end = uint32(len(bytes))
	}
	out := make([]byte, end-offset)
	copy(out, bytes[offset:end])
	return out
}

// overlay writes the portion of sw that falls within [dstOffset,
// dstOffset+len(dst)) onto dst, in place.
func overlay(dst []byte, dstOffset uint32, sw SubWrite) {
	swEnd := sw.Offset + uint32(len(sw.Bytes))
	dstEnd := dstOffset + uint32(len(dst))

	start := sw.Offset
	if dstOffset > start {
		start = dstOffset
	}
	end := swEnd
	if dstEnd < end {
		end = dstEnd
	}
	if start >= end {
		return
	}
	copy(dst[start-dstOffset:end-dstOffset], sw.Bytes[start-sw.Offset:end-sw.Offset])
}

// Writes returns every pending full write, for the commit engine to plan
// placement for.
func (t *Txn) Writes() []PendingWrite {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingWrite, 0, len(t.fullWrites))
	for k, fw := range t.fullWrites {
		out = append(out, PendingWrite{IndexID: k.indexID, Key: []byte(k.key), Bytes: fw.Bytes})
	}
	return out
}

// SubWrites returns every pending sub-section write, for the commit engine
// to apply after its base writes land. Order across different keys is
// unspecified; order within one key's stack follows submission order.
func (t *Txn) SubWrites() []PendingSubWrite {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []PendingSubWrite
	for k, subs := range t.subWrites {
		for _, sw := range subs {
			out = append(out, PendingSubWrite{IndexID: k.indexID, Key: []byte(k.key), Offset: sw.Offset, Bytes: sw.Bytes})
		}
	}
	return out
}

// Deletes returns every pending delete, for the commit engine to tombstone.
func (t *Txn) Deletes() []PendingDelete {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingDelete, 0, len(t.deletes))
	for k := range t.deletes {
		out = append(out, PendingDelete{IndexID: k.indexID, Key: []byte(k.key)})
	}
	return out
}

// Renames returns every pending key-rename that still needs to be applied
// against persistent storage at commit.
func (t *Txn) Renames() []Rename {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Rename(nil), t.renames...)
}

// Abort discards all buffered state. The Txn value itself is left usable
// only as an empty transaction; callers typically just drop the reference.
func (t *Txn) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fullWrites = make(map[entryKey]*FullWrite)
	t.subWrites = make(map[entryKey][]SubWrite)
	t.deletes = make(map[entryKey]bool)
	t.renames = nil
	t.log.Debugw("transaction aborted")
}
