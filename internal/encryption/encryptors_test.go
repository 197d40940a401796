package encryption

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/config"
)

func roundTrip(t *testing.T, e agent.Encryptor, input []byte) []byte {
	t.Helper()
	var encrypted bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(input), &encrypted); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	dc, err := e.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var out bytes.Buffer
	if err := dc.Decrypt(&encrypted, &out); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	return out.Bytes()
}

func TestTestEncryptor(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if err := e.Setup("any"); err != nil || !e.setupCalled {
		t.Fatalf("Setup() error = %v, setupCalled = %v", err, e.setupCalled)
	}

	var encrypted bytes.Buffer
	_ = e.Encrypt(strings.NewReader("hello"), &encrypted)
	if !bytes.HasPrefix(encrypted.Bytes(), testHeader) {
		t.Errorf("Encrypt() output lacks header: %q", encrypted.Bytes())
	}

	if got := roundTrip(t, e, []byte("hello")); string(got) != "hello" {
		t.Errorf("round trip = %q", got)
	}

	dc, _ := e.Unlock("")
	if err := dc.Decrypt(strings.NewReader("garbage-data"), &bytes.Buffer{}); err == nil {
		t.Error("Decrypt() of data without header should fail")
	}
	if err := dc.Decrypt(strings.NewReader("ab"), &bytes.Buffer{}); err == nil {
		t.Error("Decrypt() of truncated data should fail")
	}
}

func TestNoneEncryptor(t *testing.T) {
	t.Parallel()
	e := NoneEncryptor{}
	var out bytes.Buffer
	_ = e.Encrypt(strings.NewReader("plain"), &out)
	if out.String() != "plain" {
		t.Errorf("Encrypt() = %q, want passthrough", out.String())
	}
	if got := roundTrip(t, e, []byte("plain")); string(got) != "plain" {
		t.Errorf("round trip = %q", got)
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.EncryptionConfig
		want    string
		wantErr bool
	}{
		{
			name: "age",
			cfg: config.EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  filepath.Join(dir, "k.pub"),
				PrivateKeyPath: filepath.Join(dir, "k.key"),
			},
			want: "*encryption.AgeEncryptor",
		},
		{name: "age without keys", cfg: config.EncryptionConfig{Type: "age"}, wantErr: true},
		{name: "test", cfg: config.EncryptionConfig{Type: "test"}, want: "*encryption.TestEncryptor"},
		{name: "none", cfg: config.EncryptionConfig{Type: "none"}, want: "encryption.NoneEncryptor"},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if name := typeName(got); name != tt.want {
				t.Errorf("NewEncryptorFromConfig() = %s, want %s", name, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *AgeEncryptor:
		return "*encryption.AgeEncryptor"
	case *TestEncryptor:
		return "*encryption.TestEncryptor"
	case NoneEncryptor:
		return "encryption.NoneEncryptor"
	}
	return "unknown"
}
