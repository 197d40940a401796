package agent

import "time"

// FileRecord describes one qualifying file on the card.
type FileRecord struct {
	RelativePath string    `json:"relative_path"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
	Fingerprint  string    `json:"fingerprint"`
}

// Snapshot is the immutable file manifest captured once per session.
type Snapshot struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	CardID     string       `json:"card_id"`
	MountPath  string       `json:"mount_path"`
	CreatedAt  time.Time    `json:"created_at"`
	FileCount  int          `json:"file_count"`
	TotalBytes int64        `json:"total_bytes"`
	Files      []FileRecord `json:"files"`
}

// WithMountPath returns a shallow copy of the snapshot rooted at a new mount path.
// A resumed card may remount somewhere else; the manifest itself is unchanged.
func (s *Snapshot) WithMountPath(mountPath string) *Snapshot {
	c := *s
	c.MountPath = mountPath
	return &c
}
