package agent

import "time"

// DuplicateRecord remembers a fingerprint seen in a confirmed session.
type DuplicateRecord struct {
	Fingerprint string    `json:"fingerprint"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	SessionID   string    `json:"session_id,omitempty"`
	CardID      string    `json:"card_id,omitempty"`
	EventID     string    `json:"event_id,omitempty"`
}
