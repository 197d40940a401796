// Package observer watches the folders operators copy footage into and
// correlates what appears there with the active snapshot.
package observer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/event"
	"cardsync-go/internal/fsutil"
)

const (
	// RenameWindow is how long a deletion can still pair with a creation.
	RenameWindow = 2500 * time.Millisecond

	maxDeletions = 256
	maxSizes     = 10000
)

type deletion struct {
	path string
	dir  string
	size int64
	at   time.Time
}

type fileKey struct {
	name string
	size int64
}

// Observer emits FileAdded, FileRenamed and FileCopied events for video files
// in the watched folders.
type Observer struct {
	folders []string
	matcher *fsutil.ExtensionMatcher
	events  event.Publisher
	logger  agent.Logger
	clock   agent.Clock

	mu        sync.Mutex
	sizes     map[string]int64
	sizeOrder []string
	deletions []deletion
	sessionID string
	expected  map[fileKey][]int
	copied    map[int]bool
	total     int

	retainedSession string
	retained        map[int]bool
}

// New creates an Observer for folders. Nothing is watched until Run.
func New(folders []string, matcher *fsutil.ExtensionMatcher, events event.Publisher, logger agent.Logger, clock agent.Clock) *Observer {
	return &Observer{
		folders: folders,
		matcher: matcher,
		events:  events,
		logger:  logger,
		clock:   clock,
		sizes:   make(map[string]int64),
	}
}

// SetSnapshot makes snap the manifest copies are matched against. Files of
// the same session seen before and files already present in the watched
// folders count as copied, so a re-inserted card keeps its progress.
func (o *Observer) SetSnapshot(snap *agent.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	copied := make(map[int]bool)
	if o.retained != nil && o.retainedSession == snap.SessionID {
		for i := range o.retained {
			if i < len(snap.Files) {
				copied[i] = true
			}
		}
	}

	o.sessionID = snap.SessionID
	o.expected = make(map[fileKey][]int, len(snap.Files))
	for i, f := range snap.Files {
		k := fileKey{name: f.Name, size: f.Size}
		o.expected[k] = append(o.expected[k], i)
	}
	o.copied = copied
	o.total = len(snap.Files)
	o.retained = nil
	o.retainedSession = ""

	for path, size := range o.sizes {
		if idx := o.unclaimedLocked(filepath.Base(path), size); idx >= 0 {
			o.copied[idx] = true
		}
	}
}

// ClearSnapshot stops matching copies. The copied set is kept in case the
// same session is set again.
func (o *Observer) ClearSnapshot() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retained = o.copied
	o.retainedSession = o.sessionID
	o.sessionID = ""
	o.expected = nil
	o.copied = nil
	o.total = 0
}

// Progress returns how many snapshot files have been seen at a destination
// and how many remain.
func (o *Observer) Progress() (copied, pending int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.copied), o.total - len(o.copied)
}

// Run watches the folders until ctx is done.
func (o *Observer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, folder := range o.folders {
		if err := o.watchTree(watcher, folder, false); err != nil {
			o.logger.Warn("cannot watch folder", "folder", folder, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			o.handle(watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (o *Observer) handle(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			// Files inside a directory copied in one go predate the watch.
			if err := o.watchTree(watcher, ev.Name, true); err != nil {
				o.logger.Debug("cannot watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
		o.HandleCreate(ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		o.HandleRemove(ev.Name)
	case ev.Has(fsnotify.Write):
		o.HandleWrite(ev.Name)
	}
}

// watchTree adds root and its subdirectories to watcher and records the size
// of every video file below it. With announce set, those files are treated as
// newly created.
func (o *Observer) watchTree(watcher *fsnotify.Watcher, root string, announce bool) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path != root && fsutil.IsHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		if !o.matcher.Match(d.Name()) {
			return nil
		}
		if announce {
			o.HandleCreate(path)
			return nil
		}
		if info, err := d.Info(); err == nil {
			o.mu.Lock()
			o.rememberSizeLocked(path, info.Size())
			if idx := o.unclaimedLocked(d.Name(), info.Size()); idx >= 0 {
				o.copied[idx] = true
			}
			o.mu.Unlock()
		}
		return nil
	})
}

// HandleCreate processes a new file at path.
func (o *Observer) HandleCreate(path string) {
	if !o.relevant(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	size := info.Size()

	o.mu.Lock()
	o.rememberSizeLocked(path, size)
	old, renamed := o.takeDeletionLocked(filepath.Dir(path), size)
	sessionID := o.sessionID
	o.mu.Unlock()

	if renamed {
		o.logger.Debug("file renamed", "from", old.path, "to", path)
		o.events.Publish(event.Event{Type: event.FileRenamed, SessionID: sessionID, Path: path, OldPath: old.path, Size: size})
		o.matchSnapshot(path, size)
		return
	}

	o.events.Publish(event.Event{Type: event.FileAdded, SessionID: sessionID, Path: path, Size: size})
	o.matchSnapshot(path, size)
}

// HandleWrite refreshes the cached size of a growing file and checks whether
// it now matches a snapshot record.
func (o *Observer) HandleWrite(path string) {
	if !o.relevant(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	o.mu.Lock()
	o.rememberSizeLocked(path, info.Size())
	o.mu.Unlock()

	o.matchSnapshot(path, info.Size())
}

// HandleRemove records a deletion so a following creation can be paired with it.
func (o *Observer) HandleRemove(path string) {
	if !o.relevant(path) {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	size, known := o.sizes[path]
	if !known {
		return
	}
	delete(o.sizes, path)

	now := o.clock.Now()
	o.pruneDeletionsLocked(now)
	o.deletions = append(o.deletions, deletion{path: path, dir: filepath.Dir(path), size: size, at: now})
	if len(o.deletions) > maxDeletions {
		o.deletions = o.deletions[len(o.deletions)-maxDeletions:]
	}
}

func (o *Observer) relevant(path string) bool {
	name := filepath.Base(path)
	return !fsutil.IsHidden(name) && o.matcher.Match(name)
}

// takeDeletionLocked finds and consumes the newest recent deletion in dir with
// the same size.
func (o *Observer) takeDeletionLocked(dir string, size int64) (deletion, bool) {
	o.pruneDeletionsLocked(o.clock.Now())
	if size == 0 {
		return deletion{}, false
	}
	for i := len(o.deletions) - 1; i >= 0; i-- {
		d := o.deletions[i]
		if d.dir == dir && d.size == size {
			o.deletions = append(o.deletions[:i], o.deletions[i+1:]...)
			return d, true
		}
	}
	return deletion{}, false
}

func (o *Observer) pruneDeletionsLocked(now time.Time) {
	keep := o.deletions[:0]
	for _, d := range o.deletions {
		if now.Sub(d.at) <= RenameWindow {
			keep = append(keep, d)
		}
	}
	o.deletions = keep
}

// rememberSizeLocked caches size for path, evicting the oldest entries past maxSizes.
func (o *Observer) rememberSizeLocked(path string, size int64) {
	if _, ok := o.sizes[path]; !ok {
		o.sizeOrder = append(o.sizeOrder, path)
	}
	o.sizes[path] = size

	for len(o.sizes) > maxSizes && len(o.sizeOrder) > 0 {
		oldest := o.sizeOrder[0]
		o.sizeOrder = o.sizeOrder[1:]
		delete(o.sizes, oldest)
	}
	if len(o.sizeOrder) > 2*maxSizes {
		live := make([]string, 0, len(o.sizes))
		for _, p := range o.sizeOrder {
			if _, ok := o.sizes[p]; ok {
				live = append(live, p)
			}
		}
		o.sizeOrder = live
	}
}

// matchSnapshot emits FileCopied the first time a snapshot record shows up
// complete at a destination.
func (o *Observer) matchSnapshot(path string, size int64) {
	o.mu.Lock()
	idx := o.unclaimedLocked(filepath.Base(path), size)
	if idx < 0 {
		o.mu.Unlock()
		return
	}
	o.copied[idx] = true
	copied, total, sessionID := len(o.copied), o.total, o.sessionID
	o.mu.Unlock()

	o.events.Publish(event.Event{
		Type:      event.FileCopied,
		SessionID: sessionID,
		Path:      path,
		Size:      size,
		Count:     copied,
		Total:     total,
	})
}

// unclaimedLocked returns the first snapshot record named name with size that
// is not yet counted as copied, or -1.
func (o *Observer) unclaimedLocked(name string, size int64) int {
	for _, i := range o.expected[fileKey{name: name, size: size}] {
		if !o.copied[i] {
			return i
		}
	}
	return -1
}
