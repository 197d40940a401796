// Package backup copies a session's snapshot to a secondary destination and
// verifies every file, resumably.
//
// The engine moves idle -> running <-> paused -> idle. Progress is persisted
// after every file so an interruption loses at most the file in flight.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/event"
	"cardsync-go/internal/fingerprint"
)

// State is the engine's run state.
type State int

const (
	Idle State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the engine.
type Status struct {
	State       State
	SessionID   string
	Destination string
	Total       int
	Completed   int
	Failed      int
	Skipped     int // already present at the destination during this run
	CopiedBytes int64
	UpdatedAt   time.Time
}

// Engine runs at most one backup at a time.
type Engine struct {
	store       *StateStore
	fingerprint fingerprint.Func
	limiter     *rate.Limiter
	events      event.Publisher
	logger      agent.Logger
	clock       agent.Clock

	mu       sync.Mutex
	state    State
	stop     bool
	resumeCh chan struct{}
	done     chan struct{}
	current  *agent.BackupState
	total    int
	skipped  int
}

// NewEngine creates an idle engine. limiter may be nil for unlimited bandwidth.
func NewEngine(store *StateStore, limiter *rate.Limiter, events event.Publisher, logger agent.Logger, clock agent.Clock) *Engine {
	return &Engine{
		store:       store,
		fingerprint: fingerprint.File,
		limiter:     limiter,
		events:      events,
		logger:      logger,
		clock:       clock,
	}
}

// Start begins or resumes a backup in the background. It fails with
// agent.ErrAlreadyRunning if a run is active. Use Wait to block until it ends.
func (e *Engine) Start(ctx context.Context, snap *agent.Snapshot, dest string) error {
	if err := e.begin(snap, dest); err != nil {
		return err
	}
	go func() {
		if _, err := e.run(ctx, snap, dest); err != nil {
			e.logger.Error("backup run failed", "session", snap.SessionID, "error", err)
		}
	}()
	return nil
}

// Run performs a backup synchronously and returns the final state.
func (e *Engine) Run(ctx context.Context, snap *agent.Snapshot, dest string) (*agent.BackupState, error) {
	if err := e.begin(snap, dest); err != nil {
		return nil, err
	}
	return e.run(ctx, snap, dest)
}

// Wait blocks until the current run, if any, has finished.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) begin(snap *agent.Snapshot, dest string) error {
	if snap == nil {
		return agent.ErrSnapshotNotFound
	}
	if dest == "" {
		return fmt.Errorf("backup destination is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return agent.ErrAlreadyRunning
	}
	e.state = Running
	e.stop = false
	e.resumeCh = nil
	e.done = make(chan struct{})
	e.current = nil
	e.total = len(snap.Files)
	e.skipped = 0
	return nil
}

func (e *Engine) run(ctx context.Context, snap *agent.Snapshot, dest string) (*agent.BackupState, error) {
	defer e.finish()

	st, err := e.prepare(snap, dest)
	if err != nil {
		e.events.Publish(event.Event{Type: event.BackupError, SessionID: snap.SessionID, Err: err})
		return nil, err
	}

	e.logger.Info("backup started", "session", snap.SessionID, "destination", dest,
		"files", len(snap.Files), "completed", len(st.Completed), "failed", len(st.Failed))
	e.events.Publish(event.Event{
		Type:      event.BackupStarted,
		SessionID: snap.SessionID,
		CardID:    snap.CardID,
		Path:      dest,
		Count:     len(st.Completed),
		Total:     len(snap.Files),
		Failed:    len(st.Failed),
		Bytes:     st.CopiedBytes,
	})

	stopped := false
	for _, f := range snap.Files {
		if !e.waitWhilePaused(ctx) {
			stopped = true
			break
		}
		if st.Completed[f.RelativePath] {
			continue
		}
		if _, failed := st.Failed[f.RelativePath]; failed {
			continue
		}

		src := filepath.Join(snap.MountPath, f.RelativePath)
		dst := filepath.Join(dest, f.RelativePath)
		outcome, copyErr := e.backupFile(ctx, src, dst, f)
		if copyErr != nil && ctx.Err() != nil {
			// Interrupted mid-file: not the file's fault.
			stopped = true
			break
		}

		e.mu.Lock()
		if copyErr != nil {
			st.Failed[f.RelativePath] = failureReason(copyErr)
		} else {
			st.Completed[f.RelativePath] = true
			st.CopiedBytes += f.Size
			if outcome == outcomeAlreadyPresent {
				e.skipped++
			}
		}
		st.UpdatedAt = e.clock.Now()
		e.mu.Unlock()

		if err := e.store.Save(st); err != nil {
			e.events.Publish(event.Event{Type: event.BackupError, SessionID: snap.SessionID, Err: err})
			return st.Clone(), err
		}

		if copyErr != nil {
			e.logger.Warn("backup file failed", "session", snap.SessionID, "path", f.RelativePath, "error", copyErr)
			e.events.Publish(event.Event{
				Type:      event.BackupFileError,
				SessionID: snap.SessionID,
				Path:      f.RelativePath,
				Reason:    failureReason(copyErr),
				Err:       copyErr,
				Failed:    len(st.Failed),
			})
		} else {
			reason := ""
			if outcome == outcomeAlreadyPresent {
				reason = "already_present"
			}
			e.events.Publish(event.Event{
				Type:      event.BackupProgress,
				SessionID: snap.SessionID,
				Path:      f.RelativePath,
				Size:      f.Size,
				Count:     len(st.Completed),
				Total:     len(snap.Files),
				Failed:    len(st.Failed),
				Bytes:     st.CopiedBytes,
				Reason:    reason,
			})
		}

		runtime.Gosched()
	}

	if stopped {
		e.logger.Info("backup stopped", "session", snap.SessionID, "completed", len(st.Completed))
		e.events.Publish(event.Event{
			Type:      event.BackupStopped,
			SessionID: snap.SessionID,
			Count:     len(st.Completed),
			Total:     len(snap.Files),
			Failed:    len(st.Failed),
			Bytes:     st.CopiedBytes,
		})
		return st.Clone(), nil
	}

	e.logger.Info("backup complete", "session", snap.SessionID,
		"completed", len(st.Completed), "failed", len(st.Failed), "bytes", st.CopiedBytes)
	e.events.Publish(event.Event{
		Type:      event.BackupComplete,
		SessionID: snap.SessionID,
		CardID:    snap.CardID,
		Count:     len(st.Completed),
		Total:     len(snap.Files),
		Failed:    len(st.Failed),
		Bytes:     st.CopiedBytes,
	})
	return st.Clone(), nil
}

// prepare loads or creates the session's state and drops completed entries
// whose destination copy is gone or has the wrong size.
func (e *Engine) prepare(snap *agent.Snapshot, dest string) (*agent.BackupState, error) {
	st, err := e.store.Load(snap.SessionID)
	if err != nil {
		return nil, err
	}
	if st == nil || st.DestinationRoot != dest {
		st = agent.NewBackupState(snap.SessionID, dest, e.clock.Now())
	}

	dropped := 0
	for _, f := range snap.Files {
		if !st.Completed[f.RelativePath] {
			continue
		}
		info, err := os.Stat(filepath.Join(dest, f.RelativePath))
		if err == nil && info.Size() == f.Size {
			continue
		}
		delete(st.Completed, f.RelativePath)
		st.CopiedBytes -= f.Size
		dropped++
	}
	if st.CopiedBytes < 0 {
		st.CopiedBytes = 0
	}
	if dropped > 0 {
		e.logger.Warn("completed files missing from destination, will copy again", "session", snap.SessionID, "count", dropped)
	}

	if err := e.store.Save(st); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.current = st
	e.mu.Unlock()
	return st, nil
}

func (e *Engine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Idle
	if e.resumeCh != nil {
		close(e.resumeCh)
		e.resumeCh = nil
	}
	if e.done != nil {
		close(e.done)
	}
}

// waitWhilePaused blocks while the engine is paused. It returns false if the
// run should stop.
func (e *Engine) waitWhilePaused(ctx context.Context) bool {
	for {
		e.mu.Lock()
		if e.stop {
			e.mu.Unlock()
			return false
		}
		if e.state != Paused {
			e.mu.Unlock()
			return ctx.Err() == nil
		}
		ch := e.resumeCh
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

// Pause suspends the run before the next file. It reports whether the engine
// was running.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		return false
	}
	e.state = Paused
	e.resumeCh = make(chan struct{})
	e.events.Publish(event.Event{Type: event.BackupPaused, SessionID: e.sessionIDLocked()})
	return true
}

// Resume continues a paused run.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Paused {
		return false
	}
	e.state = Running
	close(e.resumeCh)
	e.resumeCh = nil
	e.events.Publish(event.Event{Type: event.BackupResumed, SessionID: e.sessionIDLocked()})
	return true
}

// Stop ends the run after the file in flight. Progress is kept for the next Start.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Idle {
		return false
	}
	e.stop = true
	if e.resumeCh != nil {
		close(e.resumeCh)
		e.resumeCh = nil
	}
	e.state = Running
	return true
}

// ClearFailed forgets the failed files of a session so the next Start retries
// them. It fails with agent.ErrAlreadyRunning while that session is being backed up.
func (e *Engine) ClearFailed(sessionID string) (int, error) {
	e.mu.Lock()
	busy := e.state != Idle && e.sessionIDLocked() == sessionID
	e.mu.Unlock()
	if busy {
		return 0, agent.ErrAlreadyRunning
	}

	st, err := e.store.Load(sessionID)
	if err != nil {
		return 0, err
	}
	if st == nil || len(st.Failed) == 0 {
		return 0, nil
	}
	n := len(st.Failed)
	st.Failed = make(map[string]string)
	st.UpdatedAt = e.clock.Now()
	if err := e.store.Save(st); err != nil {
		return 0, err
	}
	e.logger.Info("cleared failed backup files", "session", sessionID, "count", n)
	return n, nil
}

// LoadState returns the persisted state of a session, or nil.
func (e *Engine) LoadState(sessionID string) (*agent.BackupState, error) {
	return e.store.Load(sessionID)
}

// Status returns the engine state and the progress of the current or last run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{State: e.state, Total: e.total, Skipped: e.skipped}
	if e.current != nil {
		s.SessionID = e.current.SessionID
		s.Destination = e.current.DestinationRoot
		s.Completed = len(e.current.Completed)
		s.Failed = len(e.current.Failed)
		s.CopiedBytes = e.current.CopiedBytes
		s.UpdatedAt = e.current.UpdatedAt
	}
	return s
}

func (e *Engine) sessionIDLocked() string {
	if e.current == nil {
		return ""
	}
	return e.current.SessionID
}

func failureReason(err error) string {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ReasonCopyFailed
}
