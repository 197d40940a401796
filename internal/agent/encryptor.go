package agent

import "io"

// Encryptor handles encryption of archived manifests and unlocking for decryption.
// Encryption uses the public key only, so the agent can archive unattended.
// Decryption requires a passphrase to unlock the private key.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `cardsync config keys`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase and returns a
	// DecryptionContext. Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
