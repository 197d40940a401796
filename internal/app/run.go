package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"cardsync-go/internal/event"
	"cardsync-go/internal/remote"
	"cardsync-go/internal/volume"
)

// Run operates the agent until ctx is done: it detects cards, watches the
// copy folders, reports progress, drains the queue and sends heartbeats.
func (a *Agent) Run(ctx context.Context) error {
	events, cancel := a.bus.Subscribe(256)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if a.detector != nil {
		g.Go(func() error {
			return a.detector.Run(gctx, func(c volume.Change) { a.handleVolumeChange(gctx, c) })
		})
	} else {
		a.logger.Warn("no media_root configured, volume detection disabled")
	}

	if len(a.cfg.Watch.Folders) > 0 {
		g.Go(func() error { return a.observer.Run(gctx) })
	}

	g.Go(func() error { return a.dispatch(gctx, events) })
	g.Go(func() error { return a.maintain(gctx) })

	a.logger.Info("agent running", "media_root", a.cfg.Watch.MediaRoot, "folders", len(a.cfg.Watch.Folders))
	return g.Wait()
}

// dispatch reacts to engine events that involve another engine.
func (a *Agent) dispatch(ctx context.Context, events <-chan event.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *Agent) handleEvent(ctx context.Context, ev event.Event) {
	switch ev.Type {
	case event.FileCopied:
		if err := a.ReportProgress(ctx); err != nil {
			a.logger.Debug("progress not reported", "error", err)
		}
	case event.BackupFileError:
		a.reportIssue(ctx, ev.SessionID, "backup_file_error", ev.Reason, ev.Path)
	case event.SessionOverlap:
		a.reportIssue(ctx, ev.SessionID, "card_overlap", "card "+ev.CardID+" inserted while another session is active", ev.Path)
	case event.BackupComplete:
		a.logger.Info("backup complete", "session", ev.SessionID, "copied", ev.Count, "failed", ev.Failed, "bytes", ev.Bytes)
		if ev.Failed > 0 {
			a.reportIssue(ctx, ev.SessionID, "backup_incomplete", "some files failed verification", "")
		}
	case event.SnapshotError:
		if ev.Path != "" {
			a.reportIssue(ctx, ev.SessionID, "snapshot_file_error", ev.Reason, ev.Path)
		}
	case event.QueueItemDropped:
		a.logger.Warn("queue full, dropped oldest item", "endpoint", ev.Path)
	}
}

func (a *Agent) reportIssue(ctx context.Context, sessionID, kind, message, path string) {
	_, err := a.gateway.Call(ctx, remote.IssueReport{
		SessionID: sessionID,
		Kind:      kind,
		Message:   message,
		Path:      path,
		CreatedAt: a.clock.Now(),
	})
	if err != nil {
		a.logger.Warn("issue not reported", "kind", kind, "error", err)
	}
}

// maintain drains the queue and sends heartbeats on their intervals.
func (a *Agent) maintain(ctx context.Context) error {
	drainEvery := a.cfg.Queue.DrainInterval.D()
	if drainEvery <= 0 {
		drainEvery = 30 * time.Second
	}
	beatEvery := a.cfg.Remote.HeartbeatInterval.D()
	if beatEvery <= 0 {
		beatEvery = time.Minute
	}

	drain := time.NewTicker(drainEvery)
	defer drain.Stop()
	beat := time.NewTicker(beatEvery)
	defer beat.Stop()

	a.heartbeatAndDrain(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-beat.C:
			if err := a.Heartbeat(ctx); err != nil {
				a.logger.Debug("heartbeat failed", "error", err)
			}
		case <-drain.C:
			a.drain(ctx)
		}
	}
}

func (a *Agent) heartbeatAndDrain(ctx context.Context) {
	if a.client.Configured() {
		if err := a.Heartbeat(ctx); err != nil {
			a.logger.Debug("heartbeat failed", "error", err)
		}
	}
	a.drain(ctx)
}

func (a *Agent) drain(ctx context.Context) {
	res, err := a.DrainQueue(ctx)
	if err != nil {
		a.logger.Debug("queue drain skipped", "error", err)
		return
	}
	if res.Processed > 0 {
		a.logger.Info("queue drained", "succeeded", res.Succeeded, "failed", res.Failed, "remaining", res.Remaining)
	}
}
