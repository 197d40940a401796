package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"cardsync-go/internal/agent"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It is useful for tests and for agents with no archive configured.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name      string
	manifests map[string][]byte // sessionID -> manifest bytes
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		manifests: make(map[string][]byte),
	}
}

// PutManifest stores the manifest for a session, replacing any previous copy.
func (m *MemoryVault) PutManifest(sessionID string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[sessionID] = data
	return nil
}

// GetManifest writes the stored manifest for a session to w.
func (m *MemoryVault) GetManifest(sessionID string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.manifests[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrManifestNotFound, sessionID)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (m *MemoryVault) HasManifest(sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.manifests[sessionID]
	return ok, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ agent.Vault = (*MemoryVault)(nil)
