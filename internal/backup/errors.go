package backup

import "fmt"

// Failure reasons recorded in BackupState.Failed and carried by VerifyError.
const (
	ReasonSizeMismatch        = "size_mismatch"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
	ReasonCopyFailed          = "copy_failed"
	ReasonSourceUnreadable    = "source_unreadable"
)

// VerifyError is a per-file failure with a named reason, so "copied but
// wrong" is distinguishable from "could not copy".
type VerifyError struct {
	Path   string
	Reason string
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// IsVerification reports whether the failure happened after the bytes were
// copied, i.e. the copy exists but does not match the manifest.
func (e *VerifyError) IsVerification() bool {
	return e.Reason == ReasonSizeMismatch || e.Reason == ReasonFingerprintMismatch
}
