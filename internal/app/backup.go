package app

import (
	"context"
	"fmt"
	"path/filepath"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/backup"
)

// BackupDestination returns where the backup of sess goes under root.
func BackupDestination(root string, sess *agent.Session) string {
	return filepath.Join(root, sess.ID)
}

// StartBackup backs up the active session to dest, or to the configured
// destination when dest is empty. It returns once the run has started.
func (a *Agent) StartBackup(ctx context.Context, dest string) error {
	sess := a.sessions.Active()
	if sess == nil {
		return agent.ErrNoActiveSession
	}
	snap, err := a.snapshots.Load(sess.ID)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if snap == nil {
		return agent.ErrSnapshotNotFound
	}
	return a.startBackup(ctx, sess, snap.WithMountPath(sess.MountPath), dest)
}

func (a *Agent) startBackup(ctx context.Context, sess *agent.Session, snap *agent.Snapshot, dest string) error {
	if dest == "" {
		dest = a.cfg.Backup.Destination
	}
	if dest == "" {
		return fmt.Errorf("no backup destination configured")
	}
	if err := a.backup.Start(ctx, snap, BackupDestination(dest, sess)); err != nil {
		return fmt.Errorf("starting backup: %w", err)
	}
	return nil
}

// maybeStartBackup starts a background backup when auto backup is on. The
// run outlives the insertion call, so it is not bound to its context.
func (a *Agent) maybeStartBackup(_ context.Context, sess *agent.Session, snap *agent.Snapshot) {
	if !a.autoBackup || a.cfg.Backup.Destination == "" {
		return
	}
	if err := a.startBackup(context.Background(), sess, snap, ""); err != nil {
		a.logger.Warn("auto backup not started", "session", sess.ID, "error", err)
	}
}

// WaitBackup blocks until the running backup, if any, ends.
func (a *Agent) WaitBackup() { a.backup.Wait() }

func (a *Agent) PauseBackup() bool  { return a.backup.Pause() }
func (a *Agent) ResumeBackup() bool { return a.backup.Resume() }
func (a *Agent) StopBackup() bool   { return a.backup.Stop() }

// BackupStatus returns the state of the backup engine.
func (a *Agent) BackupStatus() backup.Status { return a.backup.Status() }

// ClearFailed makes failed files of a session eligible for retry. An empty
// sessionID means the current session.
func (a *Agent) ClearFailed(sessionID string) (int, error) {
	if sessionID == "" {
		sess := a.sessions.Current()
		if sess == nil {
			return 0, agent.ErrNoActiveSession
		}
		sessionID = sess.ID
	}
	return a.backup.ClearFailed(sessionID)
}

// BackupState returns the persisted backup progress of a session, or nil.
func (a *Agent) BackupState(sessionID string) (*agent.BackupState, error) {
	return a.backup.LoadState(sessionID)
}
