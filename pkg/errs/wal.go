package errs

// WALError is a specialized error type for write-ahead log operations: before-image
// append failures, checksum mismatches during replay, and truncation failures.
type WALError struct {
	*baseError
	fileOffset  int64  // Byte offset within the log file where the problem occurred.
	recordIndex int    // Ordinal position of the record within the current replay pass.
	fileType    string // The file type (index, deletion_index, data) the record targets.
}

// NewWALError creates a new WAL-specific error.
func NewWALError(err error, code ErrorCode, msg string) *WALError {
	return &WALError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the WALError type.
func (we *WALError) WithMessage(msg string) *WALError {
	we.baseError.WithMessage(msg)
	return we
}

// WithDetail adds contextual information while maintaining the WALError type.
func (we *WALError) WithDetail(key string, value any) *WALError {
	we.baseError.WithDetail(key, value)
	return we
}

// WithFileOffset records the byte position within the log file being processed.
func (we *WALError) WithFileOffset(offset int64) *WALError {
	we.fileOffset = offset
	return we
}

// WithRecordIndex records which record (in replay order) failed.
func (we *WALError) WithRecordIndex(idx int) *WALError {
	we.recordIndex = idx
	return we
}

// WithFileType records which logical file type the failing record targets.
func (we *WALError) WithFileType(fileType string) *WALError {
	we.fileType = fileType
	return we
}

// FileOffset returns the byte offset within the log file.
func (we *WALError) FileOffset() int64 { return we.fileOffset }

// RecordIndex returns the ordinal position of the failing record.
func (we *WALError) RecordIndex() int { return we.recordIndex }

// FileType returns the logical file type the failing record targets.
func (we *WALError) FileType() string { return we.fileType }

// NewWALCorruptedError creates an error for a record that fails its checksum
// or whose terminal marker is missing or malformed.
func NewWALCorruptedError(cause error, recordIndex int, offset int64) *WALError {
	return NewWALError(cause, ErrorCodeWALCorrupted, "write-ahead log record failed checksum validation").
		WithRecordIndex(recordIndex).
		WithFileOffset(offset).
		WithDetail("recovery_required", true)
}

// NewWALReplayError creates an error for a before-image that could not be
// applied during recovery (e.g. its target file no longer exists).
func NewWALReplayError(cause error, fileType string, offset int64) *WALError {
	return NewWALError(cause, ErrorCodeWALReplayFailed, "failed to replay write-ahead log record").
		WithFileType(fileType).
		WithFileOffset(offset)
}
