// Package snapshot builds the immutable per-session manifest of footage on a card.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/event"
	"cardsync-go/internal/fingerprint"
	"cardsync-go/internal/fsutil"
)

const (
	// DefaultMaxDepth bounds how far below the mount path the walk descends.
	DefaultMaxDepth = 6

	// progressEvery is how many files are fingerprinted between progress events.
	progressEvery = 10
)

// Builder walks a mounted card once per session and records every video file.
// Only one Create may run at a time.
type Builder struct {
	store       *Store
	matcher     *fsutil.ExtensionMatcher
	fingerprint fingerprint.Func
	events      event.Publisher
	logger      agent.Logger
	clock       agent.Clock
	idgen       agent.IDGenerator
	maxDepth    int
	running     atomic.Bool
}

// NewBuilder creates a Builder that persists manifests to store.
func NewBuilder(store *Store, matcher *fsutil.ExtensionMatcher, events event.Publisher, logger agent.Logger, clock agent.Clock, idgen agent.IDGenerator) *Builder {
	return &Builder{
		store:       store,
		matcher:     matcher,
		fingerprint: fingerprint.File,
		events:      events,
		logger:      logger,
		clock:       clock,
		idgen:       idgen,
		maxDepth:    DefaultMaxDepth,
	}
}

// Load returns a previously persisted snapshot, or nil if the session has none.
func (b *Builder) Load(sessionID string) (*agent.Snapshot, error) {
	return b.store.Load(sessionID)
}

// Running reports whether a scan is in progress.
func (b *Builder) Running() bool {
	return b.running.Load()
}

// Create scans mountPath, fingerprints every qualifying file and persists the
// manifest. It fails with agent.ErrAlreadyRunning if a scan is in progress.
func (b *Builder) Create(ctx context.Context, sessionID, cardID, mountPath string) (*agent.Snapshot, error) {
	if !b.running.CompareAndSwap(false, true) {
		return nil, agent.ErrAlreadyRunning
	}
	defer b.running.Store(false)

	b.events.Publish(event.Event{Type: event.SnapshotStarted, SessionID: sessionID, CardID: cardID, Path: mountPath})
	b.logger.Info("snapshot started", "session", sessionID, "mount", mountPath)

	snap, err := b.scan(ctx, sessionID, cardID, mountPath)
	if err == nil {
		err = b.store.Save(snap)
	}
	if err != nil {
		b.events.Publish(event.Event{Type: event.SnapshotError, SessionID: sessionID, CardID: cardID, Err: err})
		b.logger.Error("snapshot failed", "session", sessionID, "error", err)
		return nil, err
	}

	b.events.Publish(event.Event{
		Type:      event.SnapshotComplete,
		SessionID: sessionID,
		CardID:    cardID,
		Total:     snap.FileCount,
		Bytes:     snap.TotalBytes,
	})
	b.logger.Info("snapshot complete", "session", sessionID, "files", snap.FileCount, "bytes", snap.TotalBytes)
	return snap, nil
}

func (b *Builder) scan(ctx context.Context, sessionID, cardID, mountPath string) (*agent.Snapshot, error) {
	info, err := os.Stat(mountPath)
	if err != nil {
		return nil, fmt.Errorf("stat mount path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mount path is not a directory: %s", mountPath)
	}

	snap := &agent.Snapshot{
		ID:        b.idgen.New(),
		SessionID: sessionID,
		CardID:    cardID,
		MountPath: mountPath,
		CreatedAt: b.clock.Now(),
		Files:     []agent.FileRecord{},
	}

	err = b.walk(ctx, mountPath, "", 0, func(absPath, relPath string, fi os.FileInfo) error {
		fp, err := b.fingerprint(absPath, fi.Size())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// A damaged clip must not cost the rest of the card its manifest.
			b.events.Publish(event.Event{
				Type:      event.SnapshotError,
				SessionID: sessionID,
				CardID:    cardID,
				Path:      relPath,
				Reason:    "fingerprint_failed",
				Err:       err,
			})
			b.logger.Warn("skipping unreadable file", "session", sessionID, "path", relPath, "error", err)
			return nil
		}

		snap.Files = append(snap.Files, agent.FileRecord{
			RelativePath: relPath,
			Name:         fi.Name(),
			Size:         fi.Size(),
			CreatedAt:    fsutil.CreatedAt(fi),
			ModifiedAt:   fi.ModTime(),
			Fingerprint:  fp,
		})
		snap.FileCount++
		snap.TotalBytes += fi.Size()

		if snap.FileCount%progressEvery == 0 {
			b.events.Publish(event.Event{
				Type:      event.SnapshotProgress,
				SessionID: sessionID,
				CardID:    cardID,
				Count:     snap.FileCount,
				Bytes:     snap.TotalBytes,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

type visitFunc func(absPath, relPath string, fi os.FileInfo) error

// walk visits qualifying files in lexical order. Subdirectories that cannot be
// read are skipped; only the root itself being unreadable is an error.
func (b *Builder) walk(ctx context.Context, dir, rel string, depth int, visit visitFunc) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return fmt.Errorf("reading mount path: %w", err)
		}
		b.logger.Debug("skipping unreadable directory", "path", dir, "error", err)
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.Name()
		if fsutil.IsHidden(name) {
			continue
		}
		absPath := filepath.Join(dir, name)
		relPath := filepath.Join(rel, name)

		if entry.IsDir() {
			if depth+1 > b.maxDepth {
				continue
			}
			if err := b.walk(ctx, absPath, relPath, depth+1, visit); err != nil {
				return err
			}
			continue
		}

		if !entry.Type().IsRegular() || !b.matcher.Match(name) {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			b.logger.Debug("skipping unstattable file", "path", absPath, "error", err)
			continue
		}
		if err := visit(absPath, relPath, fi); err != nil {
			return err
		}
	}
	return nil
}
