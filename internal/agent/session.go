package agent

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionRemoved SessionStatus = "removed"
)

// RemoteSyncStatus tracks whether the remote counterpart of a session exists.
type RemoteSyncStatus string

const (
	RemoteNotStarted    RemoteSyncStatus = "not_started"
	RemoteQueuedOffline RemoteSyncStatus = "queued_offline"
	RemoteStarted       RemoteSyncStatus = "started"
)

// Binding maps a physical card to the camera it was shot on.
type Binding struct {
	CameraNumber int    `json:"camera_number,omitempty"`
	CardLabel    string `json:"card_label,omitempty"`
	RemoteCardID string `json:"remote_card_id,omitempty"`
}

// Session is the tracked lifecycle of one inserted removable card.
type Session struct {
	ID               string           `json:"id"`
	CardID           string           `json:"card_id"`
	MountPath        string           `json:"mount_path"`
	StartedAt        time.Time        `json:"started_at"`
	Status           SessionStatus    `json:"status"`
	RemovedAt        *time.Time       `json:"removed_at,omitempty"`
	Binding          *Binding         `json:"binding,omitempty"`
	RemoteSessionID  string           `json:"remote_session_id,omitempty"`
	RemoteSyncStatus RemoteSyncStatus `json:"remote_sync_status"`
}

// Clone returns a deep copy so callers can't mutate engine-owned state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.RemovedAt != nil {
		t := *s.RemovedAt
		c.RemovedAt = &t
	}
	if s.Binding != nil {
		b := *s.Binding
		c.Binding = &b
	}
	return &c
}

// IsActive reports whether the card is currently inserted.
func (s *Session) IsActive() bool {
	return s != nil && s.Status == SessionActive
}
