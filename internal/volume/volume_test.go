package volume

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cardsync-go/internal/agent"
)

// fakeIdentify treats every directory as a card named after it, except
// "empty-*" mount points. A ".id" file overrides the card id.
func fakeIdentify(_, path string) (string, bool, error) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, "empty") {
		return "", false, nil
	}
	if data, err := os.ReadFile(filepath.Join(path, ".id")); err == nil {
		return strings.TrimSpace(string(data)), true, nil
	}
	return "card-" + name, true, nil
}

func newTestDetector(t *testing.T) (*Detector, string) {
	t.Helper()
	root := t.TempDir()
	d := NewDetector(root, 20*time.Millisecond, agent.NewNopLogger())
	d.identify = fakeIdentify
	return d, root
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
}

func TestDetector_Scan(t *testing.T) {
	d, root := newTestDetector(t)
	mkdir(t, filepath.Join(root, "A001"))
	mkdir(t, filepath.Join(root, "empty-slot"))
	mkdir(t, filepath.Join(root, ".Trashes"))
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	changes, err := d.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(changes) != 1 || changes[0].Kind != Mounted || changes[0].Volume.CardID != "card-A001" {
		t.Fatalf("Scan() = %+v, want one mount of card-A001", changes)
	}
	if changes[0].Volume.Label != "A001" || changes[0].Volume.MountPath != filepath.Join(root, "A001") {
		t.Errorf("Volume = %+v", changes[0].Volume)
	}

	t.Run("unchanged", func(t *testing.T) {
		changes, _ := d.Scan()
		if len(changes) != 0 {
			t.Errorf("Scan() = %+v, want no changes", changes)
		}
	})

	t.Run("swap card at same path", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(root, "A001", ".id"), []byte("other"), 0o644); err != nil {
			t.Fatal(err)
		}
		changes, _ := d.Scan()
		if len(changes) != 2 || changes[0].Kind != Unmounted || changes[1].Kind != Mounted || changes[1].Volume.CardID != "other" {
			t.Errorf("Scan() = %+v, want unmount then mount of other", changes)
		}
	})

	t.Run("removal", func(t *testing.T) {
		os.RemoveAll(filepath.Join(root, "A001"))
		changes, _ := d.Scan()
		if len(changes) != 1 || changes[0].Kind != Unmounted {
			t.Errorf("Scan() = %+v, want one unmount", changes)
		}
		if len(d.Mounted()) != 0 {
			t.Errorf("Mounted() = %+v, want none", d.Mounted())
		}
	})
}

func TestDetector_ScanMissingRoot(t *testing.T) {
	d := NewDetector(filepath.Join(t.TempDir(), "missing"), time.Second, agent.NewNopLogger())
	if _, err := d.Scan(); err == nil {
		t.Error("Scan() error = nil for missing root")
	}
}

func TestDetector_Run(t *testing.T) {
	d, root := newTestDetector(t)
	mkdir(t, filepath.Join(root, "CARD1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Change, 16)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, func(c Change) { changes <- c }) }()

	next := func() Change {
		t.Helper()
		select {
		case c := <-changes:
			return c
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for volume change")
			return Change{}
		}
	}

	if c := next(); c.Kind != Mounted || c.Volume.CardID != "card-CARD1" {
		t.Errorf("initial change = %+v", c)
	}

	mkdir(t, filepath.Join(root, "CARD2"))
	if c := next(); c.Kind != Mounted || c.Volume.CardID != "card-CARD2" {
		t.Errorf("change = %+v, want CARD2 mounted", c)
	}

	os.RemoveAll(filepath.Join(root, "CARD1"))
	if c := next(); c.Kind != Unmounted || c.Volume.CardID != "card-CARD1" {
		t.Errorf("change = %+v, want CARD1 unmounted", c)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestCardID(t *testing.T) {
	a := cardID("NO NAME", [2]int32{1, 2})
	b := cardID("NO NAME", [2]int32{1, 3})
	if a == b {
		t.Errorf("cardID() collided: %q", a)
	}
	if a != "NO_NAME-0000000100000002" {
		t.Errorf("cardID() = %q", a)
	}
	if got := cardID("cam a", [2]int32{-1, 0}); got != "CAM_A-ffffffff00000000" {
		t.Errorf("cardID() = %q", got)
	}
}
