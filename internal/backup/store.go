package backup

import (
	"fmt"
	"path/filepath"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/fsutil"
)

// StateStore persists one BackupState per session:
//
//	<dir>/
//	  <session_id>.json
type StateStore struct {
	dir string
}

// NewStateStore creates a store rooted at dir.
func NewStateStore(dir string) *StateStore {
	return &StateStore{dir: dir}
}

func (s *StateStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Load returns the persisted state, or nil if the session was never backed up.
func (s *StateStore) Load(sessionID string) (*agent.BackupState, error) {
	var st agent.BackupState
	found, err := fsutil.ReadJSON(s.path(sessionID), &st)
	if err != nil {
		return nil, fmt.Errorf("loading backup state: %w", err)
	}
	if !found {
		return nil, nil
	}
	if st.Completed == nil {
		st.Completed = make(map[string]bool)
	}
	if st.Failed == nil {
		st.Failed = make(map[string]string)
	}
	return &st, nil
}

// Save writes st atomically.
func (s *StateStore) Save(st *agent.BackupState) error {
	if err := fsutil.WriteJSON(s.path(st.SessionID), st); err != nil {
		return fmt.Errorf("saving backup state: %w", err)
	}
	return nil
}
