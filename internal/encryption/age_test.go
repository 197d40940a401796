package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"cardsync-go/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "cardsync.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "cardsync.key"),
	})
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup, want false")
	}

	if err := e.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}

	if err := e.Setup("other"); !errors.Is(err, ErrKeysExist) {
		t.Errorf("second Setup() error = %v, want ErrKeysExist", err)
	}
}

func TestAgeEncryptor_SetupEmptyPassphrase(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if err := e.Setup(""); err == nil {
		t.Error("Setup(\"\") error = nil")
	}
	if e.IsConfigured() {
		t.Error("IsConfigured() = true after failed Setup")
	}
}

func TestAgeEncryptor_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	passphrase := "test-passphrase"
	e := newTestAgeEncryptor(t)
	if err := e.Setup(passphrase); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "manifest", input: []byte(`{"session_id":"s-1","files":[{"relative_path":"DCIM/A001.MP4"}]}`)},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var encrypted bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &encrypted); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !strings.HasPrefix(encrypted.String(), "-----BEGIN AGE ENCRYPTED FILE-----") {
				t.Errorf("ciphertext is not armored: %.40q", encrypted.String())
			}

			dc, err := e.Unlock(passphrase)
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}

			var decrypted bytes.Buffer
			if err := dc.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %d bytes, want %d bytes", decrypted.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_UnlockWrongPassphrase(t *testing.T) {
	t.Parallel()

	e := newTestAgeEncryptor(t)
	if err := e.Setup("correct-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("wrong-passphrase"); err == nil {
		t.Error("Unlock() with wrong passphrase should return error")
	}
}

func TestAgeEncryptor_BeforeSetup(t *testing.T) {
	t.Parallel()

	e := newTestAgeEncryptor(t)
	var buf bytes.Buffer
	if err := e.Encrypt(strings.NewReader("data"), &buf); err == nil {
		t.Error("Encrypt() before Setup should return error")
	}
	if _, err := e.Unlock("passphrase"); err == nil {
		t.Error("Unlock() before Setup should return error")
	}
}
