package encryption

import (
	"fmt"
	"io"

	"cardsync-go/internal/agent"
)

// NoneEncryptor archives manifests as plaintext. It is meant for vaults that
// are already private, such as a local directory.
type NoneEncryptor struct{}

var (
	_ agent.Encryptor         = NoneEncryptor{}
	_ agent.DecryptionContext = NoneEncryptor{}
)

func (NoneEncryptor) Setup(string) error { return nil }

func (NoneEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (n NoneEncryptor) Unlock(string) (agent.DecryptionContext, error) { return n, nil }

func (NoneEncryptor) IsConfigured() bool { return true }

func (NoneEncryptor) Decrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
