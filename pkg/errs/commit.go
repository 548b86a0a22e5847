package errs

// CommitError is a specialized error type for failures during the commit
// engine's ordered sequence (plan space, log before-images, write data, update
// indexes, retire deletions, promote tail pointers, sync, truncate log). The
// step at which a CommitError occurs determines whether the database remains
// recoverable by replaying the write-ahead log, or whether the failure
// signals durability loss requiring operator intervention.
type CommitError struct {
	*baseError
	step       string // Name of the commit step that failed, e.g. "write_data", "truncate_log".
	recoverable bool  // True if a subsequent open + WAL replay restores consistency.
}

// NewCommitError creates a new commit-specific error.
func NewCommitError(err error, code ErrorCode, msg string) *CommitError {
	return &CommitError{baseError: NewBaseError(err, code, msg)}
}

// WithDetail adds contextual information while maintaining the CommitError type.
func (ce *CommitError) WithDetail(key string, value any) *CommitError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithStep records which commit step failed.
func (ce *CommitError) WithStep(step string) *CommitError {
	ce.step = step
	return ce
}

// WithRecoverable records whether the failure is recoverable via WAL replay.
func (ce *CommitError) WithRecoverable(recoverable bool) *CommitError {
	ce.recoverable = recoverable
	return ce
}

// Step returns the name of the commit step that failed.
func (ce *CommitError) Step() string { return ce.step }

// Recoverable reports whether a subsequent open and WAL replay restores a
// consistent database. False means the failure happened after log truncation
// and data loss must be assumed.
func (ce *CommitError) Recoverable() bool { return ce.recoverable }

// NewCommitPlanningError creates an error for step 1 (space planning) failures:
// the deletion index could not find or allocate a location for a pending write.
func NewCommitPlanningError(cause error, indexID byte) *CommitError {
	return NewCommitError(cause, ErrorCodeCommitPlanningFailed, "failed to plan placement for pending write").
		WithStep("plan_space").
		WithRecoverable(true).
		WithDetail("indexId", indexID)
}

// NewCommitUnrecoverableError creates an error for a failure discovered after
// the write-ahead log has already been truncated. The database is no longer
// recoverable purely by replay; the caller must treat this as data loss.
func NewCommitUnrecoverableError(cause error, step string) *CommitError {
	return NewCommitError(cause, ErrorCodeCommitUnrecoverable, "commit failed after log truncation").
		WithStep(step).
		WithRecoverable(false).
		WithDetail("requires_operator_intervention", true)
}
