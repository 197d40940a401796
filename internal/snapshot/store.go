package snapshot

import (
	"fmt"
	"path/filepath"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/fsutil"
)

// Store persists one snapshot document per session:
//
//	<dir>/
//	  <session_id>.json
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Save writes the snapshot atomically.
func (s *Store) Save(snap *agent.Snapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("snapshot has no session id")
	}
	if err := fsutil.WriteJSON(s.path(snap.SessionID), snap); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot for a session, or nil if none was persisted.
func (s *Store) Load(sessionID string) (*agent.Snapshot, error) {
	var snap agent.Snapshot
	found, err := fsutil.ReadJSON(s.path(sessionID), &snap)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}
