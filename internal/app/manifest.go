package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/encryption"
	"cardsync-go/internal/fingerprint"
)

// archiveManifest encrypts the snapshot and stores it in the vault.
func (a *Agent) archiveManifest(snap *agent.Snapshot) error {
	if a.vault == nil {
		return nil
	}
	if !a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys not set up (run `cardsync config keys`)")
	}

	plain, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	var sealed bytes.Buffer
	if err := a.encryptor.Encrypt(bytes.NewReader(plain), &sealed); err != nil {
		return fmt.Errorf("encrypting manifest: %w", err)
	}
	if err := a.vault.PutManifest(snap.SessionID, &sealed, int64(sealed.Len())); err != nil {
		return fmt.Errorf("storing manifest: %w", err)
	}
	a.logger.Info("manifest archived", "session", snap.SessionID, "bytes", sealed.Len())
	return nil
}

// ShowManifest fetches the archived manifest of a session, decrypts it with
// passphrase and writes the JSON to w.
func (a *Agent) ShowManifest(sessionID, passphrase string, w io.Writer) error {
	if a.vault == nil {
		return fmt.Errorf("no vault configured")
	}
	var sealed bytes.Buffer
	if err := a.vault.GetManifest(sessionID, &sealed); err != nil {
		return err
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking keys: %w", err)
	}
	if err := dc.Decrypt(&sealed, w); err != nil {
		return fmt.Errorf("decrypting manifest: %w", err)
	}
	return nil
}

// NeedsPassphrase reports whether ShowManifest needs a real passphrase.
func (a *Agent) NeedsPassphrase() bool {
	_, ok := a.encryptor.(*encryption.AgeEncryptor)
	return ok
}

// DuplicateCheck is the result of looking a file up in the duplication index.
type DuplicateCheck struct {
	Path        string
	Fingerprint string
	Record      *agent.DuplicateRecord
}

// CheckDuplicate fingerprints the file at path and looks it up.
func (a *Agent) CheckDuplicate(path string) (*DuplicateCheck, error) {
	fp, err := fingerprintPath(path)
	if err != nil {
		return nil, err
	}
	return &DuplicateCheck{Path: path, Fingerprint: fp, Record: a.dedup.Get(fp)}, nil
}

func fingerprintPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return fingerprint.File(path, info.Size())
}
