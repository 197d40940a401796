package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cardsync-go/internal/agent"
)

const manifestExt = ".manifest"

// FileSystemVault stores manifests as files under a root directory:
//
//	<root>/
//	  manifests/
//	    <sessionID>.manifest
type FileSystemVault struct {
	name         string
	root         string
	manifestsDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	manifestsDir := filepath.Join(root, "manifests")
	if err := os.MkdirAll(manifestsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifests directory: %w", err)
	}

	return &FileSystemVault{
		name:         name,
		root:         root,
		manifestsDir: manifestsDir,
	}, nil
}

func (v *FileSystemVault) manifestPath(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(v.manifestsDir, sessionID+manifestExt), nil
}

// PutManifest stores the manifest for a session, replacing any previous copy.
func (v *FileSystemVault) PutManifest(sessionID string, r io.Reader, size int64) error {
	dest, err := v.manifestPath(sessionID)
	if err != nil {
		return err
	}
	return v.writeFile(dest, r, size)
}

// GetManifest writes the stored manifest for a session to w.
func (v *FileSystemVault) GetManifest(sessionID string, w io.Writer) error {
	src, err := v.manifestPath(sessionID)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrManifestNotFound, sessionID)
		}
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	return nil
}

func (v *FileSystemVault) HasManifest(sessionID string) (bool, error) {
	path, err := v.manifestPath(sessionID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking manifest: %w", err)
	}
	return true, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.manifestsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes r to destPath through a temp file and rename.
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ agent.Vault = (*FileSystemVault)(nil)
