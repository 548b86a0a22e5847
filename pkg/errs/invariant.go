package errs

// InvariantError represents a violation of the engine's own contract: a key
// of the wrong size for its index, a sub-section write issued against a key
// with no base value, or a key rename where the old and new keys differ in
// length. Unlike StorageError or WALError, an InvariantError always indicates
// a caller bug rather than an environmental condition — it is never expected
// to occur against a correctly-used engine.
type InvariantError struct {
	*baseError
	indexID byte
	keySize int
}

// NewInvariantError creates a new invariant-violation error.
func NewInvariantError(msg string) *InvariantError {
	return &InvariantError{baseError: NewBaseError(nil, ErrorCodeInvariantViolation, msg)}
}

// WithDetail adds contextual information while maintaining the InvariantError type.
func (ie *InvariantError) WithDetail(key string, value any) *InvariantError {
	ie.baseError.WithDetail(key, value)
	return ie
}

// WithIndexID records which index the violated invariant concerns.
func (ie *InvariantError) WithIndexID(id byte) *InvariantError {
	ie.indexID = id
	return ie
}

// WithKeySize records the offending key size.
func (ie *InvariantError) WithKeySize(size int) *InvariantError {
	ie.keySize = size
	return ie
}

// IndexID returns the index the violated invariant concerns.
func (ie *InvariantError) IndexID() byte { return ie.indexID }

// KeySize returns the offending key size.
func (ie *InvariantError) KeySize() int { return ie.keySize }

// NewKeySizeMismatchError creates an invariant error for a key whose length
// does not match the index's fixed key_size.
func NewKeySizeMismatchError(indexID byte, expected, got int) *InvariantError {
	return NewInvariantError("key size does not match index's fixed key size").
		WithIndexID(indexID).
		WithKeySize(got).
		WithDetail("expectedKeySize", expected).
		WithDetail("providedKeySize", got)
}

// NewMissingBaseValueError creates an invariant error for a sub-section write
// issued against a key with no existing full value, persisted or pending.
func NewMissingBaseValueError(indexID byte, key []byte) *InvariantError {
	return NewInvariantError("write_subsection requires an existing base value for the key").
		WithIndexID(indexID).
		WithDetail("key", key)
}

// NewKeyLengthMismatchError creates an invariant error for change_key calls
// where the old and new keys differ in length.
func NewKeyLengthMismatchError(indexID byte, oldLen, newLen int) *InvariantError {
	return NewInvariantError("change_key requires old and new keys of equal length").
		WithIndexID(indexID).
		WithDetail("oldKeyLength", oldLen).
		WithDetail("newKeyLength", newLen)
}

// FullError represents exhaustion of placement capacity: no file ID is
// available, or the device reports no space remaining.
type FullError struct {
	*baseError
	fileID uint16
}

// NewFullError creates a new capacity-exhaustion error.
func NewFullError(cause error, msg string) *FullError {
	return &FullError{baseError: NewBaseError(cause, ErrorCodeFull, msg)}
}

// WithFileID records which file ID placement was attempted against.
func (fe *FullError) WithFileID(id uint16) *FullError {
	fe.fileID = id
	return fe
}

// WithDetail adds contextual information while maintaining the FullError type.
func (fe *FullError) WithDetail(key string, value any) *FullError {
	fe.baseError.WithDetail(key, value)
	return fe
}

// FileID returns the file ID placement was attempted against.
func (fe *FullError) FileID() uint16 { return fe.fileID }

// NewNoFileIDAvailableError creates a Full error for the case where the file
// ID space (uint16) is exhausted and no new data or index file can be opened.
func NewNoFileIDAvailableError() *FullError {
	return NewFullError(nil, "no file ID available for new segment").
		WithDetail("maxFileID", 65535)
}
