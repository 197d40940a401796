package agent

import "io"

// Vault archives snapshot manifests off the agent host.
// All operations stream through io.Reader/io.Writer.
type Vault interface {
	// PutManifest stores the manifest for a session, replacing any previous copy.
	// size is the number of bytes that will be read from r.
	PutManifest(sessionID string, r io.Reader, size int64) error

	// GetManifest retrieves the manifest for a session and writes it to w.
	GetManifest(sessionID string, w io.Writer) error

	// HasManifest reports whether a manifest exists for the session.
	HasManifest(sessionID string) (bool, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
