// Package volume turns removable cards appearing under a media root (such as
// /Volumes or /media/$USER) into mount and unmount notifications.
package volume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/fsutil"
)

// Volume is a mounted card.
type Volume struct {
	CardID    string
	MountPath string
	Label     string
}

// ChangeKind says whether a volume appeared or went away.
type ChangeKind int

const (
	Mounted ChangeKind = iota + 1
	Unmounted
)

func (k ChangeKind) String() string {
	switch k {
	case Mounted:
		return "mounted"
	case Unmounted:
		return "unmounted"
	}
	return "unknown"
}

// Change is one mount or unmount.
type Change struct {
	Kind   ChangeKind
	Volume Volume
}

// identifyFunc returns the card id for a directory under the media root and
// whether it is a separate mount at all.
type identifyFunc func(root, path string) (cardID string, mounted bool, err error)

// Detector polls and watches a media root for card mounts.
type Detector struct {
	root     string
	interval time.Duration
	logger   agent.Logger
	identify identifyFunc

	mu    sync.Mutex
	known map[string]Volume // mount path -> volume
}

// NewDetector creates a Detector for root. interval is the rescan period;
// fsnotify only speeds up detection.
func NewDetector(root string, interval time.Duration, logger agent.Logger) *Detector {
	return &Detector{
		root:     root,
		interval: interval,
		logger:   logger,
		identify: identify,
		known:    make(map[string]Volume),
	}
}

// Mounted returns the currently known volumes sorted by mount path.
func (d *Detector) Mounted() []Volume {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Volume, 0, len(d.known))
	for _, v := range d.known {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MountPath < out[j].MountPath })
	return out
}

// Scan compares the media root with the known volumes and returns the
// differences, unmounts first.
func (d *Detector) Scan() ([]Change, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("reading media root: %w", err)
	}

	current := make(map[string]Volume)
	for _, e := range entries {
		if !e.IsDir() && e.Type()&os.ModeSymlink == 0 {
			continue
		}
		if fsutil.IsHidden(e.Name()) {
			continue
		}
		path := filepath.Join(d.root, e.Name())
		cardID, mounted, err := d.identify(d.root, path)
		if err != nil {
			d.logger.Debug("cannot identify volume", "path", path, "error", err)
			continue
		}
		if !mounted {
			continue
		}
		current[path] = Volume{CardID: cardID, MountPath: path, Label: e.Name()}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var unmounts, mounts []Change
	for path, old := range d.known {
		if v, ok := current[path]; !ok || v.CardID != old.CardID {
			unmounts = append(unmounts, Change{Kind: Unmounted, Volume: old})
		}
	}
	for path, v := range current {
		if old, ok := d.known[path]; !ok || old.CardID != v.CardID {
			mounts = append(mounts, Change{Kind: Mounted, Volume: v})
		}
	}
	d.known = current

	byPath := func(cs []Change) {
		sort.Slice(cs, func(i, j int) bool { return cs[i].Volume.MountPath < cs[j].Volume.MountPath })
	}
	byPath(unmounts)
	byPath(mounts)
	return append(unmounts, mounts...), nil
}

// Run scans the media root until ctx is done, calling onChange for every
// mount and unmount. Volumes present at start are reported as mounted.
func (d *Detector) Run(ctx context.Context, onChange func(Change)) error {
	rescan := func() {
		changes, err := d.Scan()
		if err != nil {
			d.logger.Warn("volume scan failed", "root", d.root, "error", err)
			return
		}
		for _, c := range changes {
			d.logger.Info("volume "+c.Kind.String(), "card", c.Volume.CardID, "path", c.Volume.MountPath)
			onChange(c)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(d.root); err != nil {
		d.logger.Warn("cannot watch media root, polling only", "root", d.root, "error", err)
	}

	interval := d.interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rescan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rescan()
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				rescan()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			d.logger.Warn("media root watcher error", "error", err)
		}
	}
}
