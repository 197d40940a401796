package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path (and its parents) with the given content.
func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// WriteSizedFile creates a file of exactly size bytes with a repeating
// pattern seeded by seed, so two files of equal size can still differ.
func WriteSizedFile(t *testing.T, path string, size int64, seed byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating directory for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	defer f.Close()

	chunk := make([]byte, 64*1024)
	for i := range chunk {
		chunk[i] = byte(i) + seed
	}
	remaining := size
	for remaining > 0 {
		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(chunk[:n]); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
		remaining -= n
	}
}

// WriteSparseFile creates a file of size bytes whose head and tail carry
// marker bytes and whose middle is a hole. Cheap to create at any size.
func WriteSparseFile(t *testing.T, path string, size int64, marker byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating directory for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncating %s: %v", path, err)
	}
	if size > 0 {
		if _, err := f.WriteAt([]byte{marker}, 0); err != nil {
			t.Fatalf("writing head of %s: %v", path, err)
		}
		if _, err := f.WriteAt([]byte{marker}, size-1); err != nil {
			t.Fatalf("writing tail of %s: %v", path, err)
		}
	}
}
