package app

import (
	"context"
	"fmt"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/remote"
	"cardsync-go/internal/session"
	"cardsync-go/internal/volume"
)

// HandleInsertion processes a card mount. A new session gets a snapshot, an
// archived manifest and a remote session start; a resumed session reuses its
// snapshot. Overlapping insertions change nothing.
func (a *Agent) HandleInsertion(ctx context.Context, cardID, mountPath string) (*agent.Session, session.Outcome, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	sess, outcome, err := a.sessions.HandleInsertion(cardID, mountPath)
	if err != nil {
		return nil, 0, fmt.Errorf("handling insertion: %w", err)
	}

	switch outcome {
	case session.Started:
		snap, err := a.snapshots.Create(ctx, sess.ID, cardID, mountPath)
		if err != nil {
			return sess, outcome, fmt.Errorf("creating snapshot: %w", err)
		}
		a.observer.SetSnapshot(snap)
		a.checkDuplicates(snap)
		if err := a.archiveManifest(snap); err != nil {
			a.logger.Warn("manifest archive failed", "session", sess.ID, "error", err)
		}
		a.startRemoteSession(ctx, sess, snap)
		a.lookupBinding(ctx, cardID)
		a.maybeStartBackup(ctx, sess, snap)

	case session.Resumed:
		snap, err := a.snapshots.Load(sess.ID)
		if err != nil {
			return sess, outcome, fmt.Errorf("loading snapshot: %w", err)
		}
		if snap == nil {
			if snap, err = a.snapshots.Create(ctx, sess.ID, cardID, mountPath); err != nil {
				return sess, outcome, fmt.Errorf("creating snapshot: %w", err)
			}
		}
		snap = snap.WithMountPath(mountPath)
		a.observer.SetSnapshot(snap)
		if sess.RemoteSyncStatus == agent.RemoteNotStarted {
			a.startRemoteSession(ctx, sess, snap)
		}
		a.maybeStartBackup(ctx, sess, snap)
	}

	if cur := a.sessions.Current(); cur != nil {
		sess = cur
	}
	return sess, outcome, nil
}

// HandleRemoval processes a card unmount. Removal of a card that is not the
// active one is ignored and returns nil.
func (a *Agent) HandleRemoval(ctx context.Context, cardID string) (*agent.Session, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	sess, err := a.sessions.HandleRemoval(cardID)
	if err != nil {
		return nil, fmt.Errorf("handling removal: %w", err)
	}
	if sess == nil {
		return nil, nil
	}

	if st := a.backup.Status(); st.SessionID == sess.ID && a.backup.Stop() {
		a.backup.Wait()
	}

	copied, pending := a.observer.Progress()
	a.observer.ClearSnapshot()

	if _, err := a.reporter.Report(ctx, sess.ID, copied, pending); err != nil {
		a.logger.Warn("final progress report failed", "session", sess.ID, "error", err)
	}
	if _, err := a.reporter.FlushPending(ctx); err != nil {
		a.logger.Warn("progress flush failed", "session", sess.ID, "error", err)
	}

	end := remote.SessionEndRequest{
		SessionID:    sess.ID,
		FilesCopied:  copied,
		FilesPending: pending,
		EndedAt:      a.clock.Now(),
	}
	if _, err := a.gateway.Call(ctx, end); err != nil {
		a.logger.Warn("session end not delivered", "session", sess.ID, "error", err)
	}
	return sess, nil
}

// handleVolumeChange adapts detector notifications to the session lifecycle.
func (a *Agent) handleVolumeChange(ctx context.Context, c volume.Change) {
	switch c.Kind {
	case volume.Mounted:
		sess, outcome, err := a.HandleInsertion(ctx, c.Volume.CardID, c.Volume.MountPath)
		if err != nil {
			a.logger.Error("card insertion failed", "card", c.Volume.CardID, "error", err)
			return
		}
		a.logger.Info("card inserted", "card", c.Volume.CardID, "session", sess.ID, "outcome", outcome.String())
	case volume.Unmounted:
		if _, err := a.HandleRemoval(ctx, c.Volume.CardID); err != nil {
			a.logger.Error("card removal failed", "card", c.Volume.CardID, "error", err)
		}
	}
}

// checkDuplicates logs footage already seen in an earlier confirmed session.
// The index itself is only updated once the remote session exists.
func (a *Agent) checkDuplicates(snap *agent.Snapshot) int {
	dups := 0
	for _, f := range snap.Files {
		if rec := a.dedup.Get(f.Fingerprint); rec != nil {
			dups++
			a.logger.Info("duplicate footage", "file", f.RelativePath, "first_session", rec.SessionID, "first_seen", rec.FirstSeen)
		}
	}
	return dups
}

// SessionProgress returns how many snapshot files have been copied to the
// watched folders and how many remain.
func (a *Agent) SessionProgress() (copied, pending int) {
	return a.observer.Progress()
}

// ReportProgress sends the current copy progress of the active session.
func (a *Agent) ReportProgress(ctx context.Context) error {
	sess := a.sessions.Active()
	if sess == nil {
		return agent.ErrNoActiveSession
	}
	copied, pending := a.observer.Progress()
	outcome, err := a.reporter.Report(ctx, sess.ID, copied, pending)
	if err != nil {
		return err
	}
	a.logger.Debug("progress reported", "session", sess.ID, "copied", copied, "pending", pending, "outcome", outcome.String())
	return nil
}
