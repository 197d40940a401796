package session

import (
	"encoding/json"
	"fmt"

	"cardsync-go/internal/agent"
)

const (
	currentKey       = "session/current"
	pendingRemoteKey = "session/pending_remote"
)

// pendingRemote is a remote session confirmed while its card was out.
type pendingRemote struct {
	SessionID       string `json:"session_id"`
	RemoteSessionID string `json:"remote_session_id"`
}

// Store persists the single session record as a JSON document in a KVStore.
type Store struct {
	kv agent.KVStore
}

// NewStore wraps kv.
func NewStore(kv agent.KVStore) *Store {
	return &Store{kv: kv}
}

// Load returns the persisted session, or nil if there is none.
func (s *Store) Load() (*agent.Session, error) {
	data, err := s.kv.Get(currentKey)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var sess agent.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

// Save replaces the persisted session.
func (s *Store) Save(sess *agent.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.kv.Put(currentKey, data); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Delete removes the persisted session.
func (s *Store) Delete() error {
	if err := s.kv.Delete(currentKey); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// SavePendingRemote remembers remoteID for sessionID until the card returns.
func (s *Store) SavePendingRemote(sessionID, remoteID string) error {
	data, err := json.Marshal(pendingRemote{SessionID: sessionID, RemoteSessionID: remoteID})
	if err != nil {
		return fmt.Errorf("encoding pending remote session: %w", err)
	}
	if err := s.kv.Put(pendingRemoteKey, data); err != nil {
		return fmt.Errorf("saving pending remote session: %w", err)
	}
	return nil
}

// LoadPendingRemote returns the remote id waiting for sessionID, or "".
func (s *Store) LoadPendingRemote(sessionID string) (string, error) {
	data, err := s.kv.Get(pendingRemoteKey)
	if err != nil {
		return "", fmt.Errorf("loading pending remote session: %w", err)
	}
	if data == nil {
		return "", nil
	}
	var p pendingRemote
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("decoding pending remote session: %w", err)
	}
	if p.SessionID != sessionID {
		return "", nil
	}
	return p.RemoteSessionID, nil
}

// DeletePendingRemote forgets any pending remote session.
func (s *Store) DeletePendingRemote() error {
	if err := s.kv.Delete(pendingRemoteKey); err != nil {
		return fmt.Errorf("deleting pending remote session: %w", err)
	}
	return nil
}
