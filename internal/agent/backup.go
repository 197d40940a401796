package agent

import "time"

// BackupState is the resumable progress record for one session's backup.
// Failed maps a relative path to the named failure reason.
type BackupState struct {
	SessionID       string            `json:"session_id"`
	DestinationRoot string            `json:"destination_root"`
	StartedAt       time.Time         `json:"started_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Completed       map[string]bool   `json:"completed"`
	Failed          map[string]string `json:"failed"`
	CopiedBytes     int64             `json:"copied_bytes"`
}

// NewBackupState creates an empty state for a session.
func NewBackupState(sessionID, destinationRoot string, now time.Time) *BackupState {
	return &BackupState{
		SessionID:       sessionID,
		DestinationRoot: destinationRoot,
		StartedAt:       now,
		UpdatedAt:       now,
		Completed:       make(map[string]bool),
		Failed:          make(map[string]string),
	}
}

// Clone returns a deep copy.
func (b *BackupState) Clone() *BackupState {
	if b == nil {
		return nil
	}
	c := *b
	c.Completed = make(map[string]bool, len(b.Completed))
	for k, v := range b.Completed {
		c.Completed[k] = v
	}
	c.Failed = make(map[string]string, len(b.Failed))
	for k, v := range b.Failed {
		c.Failed[k] = v
	}
	return &c
}
