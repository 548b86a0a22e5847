package errs

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur across any software system. These codes provide the foundation layer
// of error classification.
const (
	// ErrorCodeIO represents failures in input/output operations across any
	// system boundary. This includes file system operations like reading or
	// writing segment files, network operations when communicating with remote
	// systems, and device I/O when accessing storage hardware.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents client-side errors where the provided
	// data doesn't meet the system's requirements or constraints. This maps
	// to HTTP 400-series errors and indicates problems with the request itself
	// rather than system failures.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected system failures that don't fit
	// into other categories. These are the equivalent of HTTP 500 errors and
	// indicate bugs, assertion failures, or other programming errors that
	// shouldn't occur during normal operation.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Storage-specific error codes extend the base error taxonomy to handle the
// unique failure modes that occur in persistent storage systems. These codes
// represent problems that are specific to the storage layer of your key-value
// store, particularly focusing on segment file management and data persistence.
const (
	// ErrorCodeSegmentCorrupted indicates that a segment file's data has been
	// damaged or is in an inconsistent state.
	ErrorCodeSegmentCorrupted ErrorCode = "SEGMENT_CORRUPTED"

	// ErrorCodeHeaderReadFailure occurs when the system cannot read the header
	// portion of a segment file. Headers contain critical metadata about the
	// segment's structure, so header read failures prevent access to the
	// entire segment and all data it contains.
	ErrorCodeHeaderReadFailure ErrorCode = "HEADER_READ_FAILURE"

	// ErrorCodePayloadReadFailure indicates problems reading the actual data
	// content from segment files after successfully reading the header. This
	// represents a more localized failure compared to header problems, as the
	// segment structure is intact but specific data regions are inaccessible.
	ErrorCodePayloadReadFailure ErrorCode = "PAYLOAD_READ_FAILURE"

	// ErrorCodeRecoveryFailed indicates that the storage system's attempt to
	// recover from a previous failure was unsuccessful. This represents a
	// compound failure where both the original problem and the recovery
	// mechanism have failed, creating a more serious operational situation.
	ErrorCodeRecoveryFailed ErrorCode = "STORAGE_RECOVERY_FAILED"

	// ErrorCodePermissionDenied indicates insufficient permissions to access a resource.
	// This is distinct from generic IO errors because it has a specific resolution path:
	// the user needs to adjust file/directory permissions or run with elevated privileges.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates that the storage device has run out of space.
	// This requires specific handling like cleanup operations or alerting administrators.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates that the filesystem is mounted read-only.
	// This requires administrative intervention to remount the filesystem with write permissions.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"

	// ErrorCodeFull indicates that no file ID is available for placement, or the
	// underlying device reports out of space. Maps to spec kind `Full`.
	ErrorCodeFull ErrorCode = "STORAGE_FULL"
)

// Index-specific error codes address the specialized needs of index operations:
// missing keys, structural corruption, and recovery/validation failures.
const (
	// ErrorCodeIndexKeyNotFound indicates the requested key is absent from both
	// the committed index and the transaction buffer. Maps to spec kind `NotFound`.
	ErrorCodeIndexKeyNotFound ErrorCode = "INDEX_KEY_NOT_FOUND"

	// ErrorCodeIndexInvalidSegmentID indicates a RecordPointer/IndexValue names a
	// file ID that does not correspond to any known data or index file.
	ErrorCodeIndexInvalidSegmentID ErrorCode = "INDEX_INVALID_SEGMENT_ID"

	// ErrorCodeIndexTimestampExtraction indicates a segment/index filename could
	// not be parsed for its sequence or timestamp component.
	ErrorCodeIndexTimestampExtraction ErrorCode = "INDEX_TIMESTAMP_EXTRACTION_FAILED"

	// ErrorCodeIndexCorrupted indicates a node page or free-extent key failed a
	// structural or checksum check during load or recovery. Maps to spec kind
	// `Corrupted`.
	ErrorCodeIndexCorrupted ErrorCode = "INDEX_CORRUPTED"
)

// Programmer-error codes cover violations of the engine's own contract: wrong
// key size, a sub-section write with no base value, a rename across mismatched
// key lengths. These map to spec kind `InvariantViolation` and are never
// expected to occur against a correctly-used engine.
const (
	ErrorCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

// Write-ahead log error codes cover corruption or truncation discovered while
// appending or replaying before-image records.
const (
	// ErrorCodeWALCorrupted indicates a log record failed its checksum or its
	// terminal marker was missing/malformed. Maps to spec kind `Corrupted`.
	ErrorCodeWALCorrupted ErrorCode = "WAL_CORRUPTED"

	// ErrorCodeWALReplayFailed indicates recovery could not finish applying
	// before-images (e.g. the target file/offset no longer exists).
	ErrorCodeWALReplayFailed ErrorCode = "WAL_REPLAY_FAILED"
)

// Commit-engine error codes cover failures at specific steps of the ordered
// commit sequence, which determines whether a crash is recoverable (before
// log truncation) or signals data loss (after).
const (
	// ErrorCodeCommitPlanningFailed indicates step 1 (space planning) could not
	// find or allocate a location for a pending write.
	ErrorCodeCommitPlanningFailed ErrorCode = "COMMIT_PLANNING_FAILED"

	// ErrorCodeCommitUnrecoverable indicates a failure after log truncation:
	// durability was not established, and operator intervention is required.
	ErrorCodeCommitUnrecoverable ErrorCode = "COMMIT_UNRECOVERABLE"
)
