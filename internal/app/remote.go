package app

import (
	"context"
	"encoding/json"
	"fmt"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/queue"
	"cardsync-go/internal/remote"
)

// startRemoteSession announces sess to the backend. When the call is queued
// the session is marked queued_offline and the remote id is attached later,
// when the queue delivers it.
func (a *Agent) startRemoteSession(ctx context.Context, sess *agent.Session, snap *agent.Snapshot) {
	req := remote.SessionStartRequest{
		AgentID:    a.cfg.AgentID,
		SessionID:  sess.ID,
		CardID:     sess.CardID,
		EventID:    a.activeEventID(ctx),
		FileCount:  snap.FileCount,
		TotalBytes: snap.TotalBytes,
		StartedAt:  sess.StartedAt,
	}
	if sess.Binding != nil {
		req.CameraNumber = sess.Binding.CameraNumber
		req.CardLabel = sess.Binding.CardLabel
	}

	res, err := a.gateway.Call(ctx, req)
	if err != nil {
		a.logger.Error("remote session start failed", "session", sess.ID, "error", err)
		return
	}

	switch res.Outcome {
	case remote.Queued:
		if _, err := a.sessions.MarkQueuedOffline(sess.ID); err != nil {
			a.logger.Error("marking session queued failed", "session", sess.ID, "error", err)
		}
	case remote.Sent:
		remoteID, err := remote.ParseSessionStart(res.Body)
		if err != nil {
			a.logger.Error("remote session start reply unreadable", "session", sess.ID, "error", err)
			return
		}
		a.confirmRemoteSession(ctx, sess.ID, remoteID, req.EventID)
	}
}

// confirmRemoteSession attaches the remote id and, now that the session is
// confirmed, records its footage in the duplication index and uploads the
// media batch. The card may have been removed since the start was queued;
// the confirmation still counts.
func (a *Agent) confirmRemoteSession(ctx context.Context, sessionID, remoteID, eventID string) {
	if _, err := a.sessions.AttachRemoteSession(sessionID, remoteID); err != nil {
		a.logger.Error("attaching remote session failed", "session", sessionID, "error", err)
	}

	snap, err := a.snapshots.Load(sessionID)
	if err != nil || snap == nil {
		a.logger.Warn("no snapshot for confirmed session", "session", sessionID, "error", err)
		return
	}

	items := make([]remote.MediaItem, 0, len(snap.Files))
	for _, f := range snap.Files {
		items = append(items, remote.MediaItem{
			RelativePath: f.RelativePath,
			Size:         f.Size,
			Fingerprint:  f.Fingerprint,
			ModifiedAt:   f.ModifiedAt,
			Duplicate:    a.dedup.Get(f.Fingerprint) != nil,
		})
	}

	if _, err := a.dedup.UpsertSnapshot(snap, eventID); err != nil {
		a.logger.Error("updating duplication index failed", "session", sessionID, "error", err)
	}

	if len(items) == 0 {
		return
	}
	if _, err := a.gateway.Call(ctx, remote.MediaBatchRequest{SessionID: sessionID, Items: items}); err != nil {
		a.logger.Warn("media batch not delivered", "session", sessionID, "error", err)
	}
}

// activeEventID returns the backend's current event, cached across calls.
// Offline it returns the last known value.
func (a *Agent) activeEventID(ctx context.Context) string {
	if a.tracker.IsOnline() {
		ev, err := a.client.ActiveEvent(ctx)
		a.tracker.Observe(err)
		if err == nil {
			a.mu.Lock()
			a.eventID = ""
			if ev != nil {
				a.eventID = ev.ID
			}
			a.mu.Unlock()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eventID
}

// lookupBinding copies a binding the backend already knows onto the session.
func (a *Agent) lookupBinding(ctx context.Context, cardID string) {
	if !a.tracker.IsOnline() {
		return
	}
	b, err := a.client.LookupCardBinding(ctx, cardID)
	a.tracker.Observe(err)
	if err != nil {
		a.logger.Warn("card binding lookup failed", "card", cardID, "error", err)
		return
	}
	if b == nil {
		return
	}
	if _, err := a.sessions.UpdateBinding(agent.Binding{
		CameraNumber: b.CameraNumber,
		CardLabel:    b.CardLabel,
		RemoteCardID: b.RemoteCardID,
	}); err != nil {
		a.logger.Error("storing card binding failed", "card", cardID, "error", err)
	}
}

// BindCard maps the active card to a camera locally and on the backend.
func (a *Agent) BindCard(ctx context.Context, camera int, label string) (*agent.Session, remote.Outcome, error) {
	sess := a.sessions.Active()
	if sess == nil {
		return nil, 0, agent.ErrNoActiveSession
	}

	req := remote.CardBindingRequest{CardID: sess.CardID, CameraNumber: camera, CardLabel: label}
	res, err := a.gateway.Call(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("binding card: %w", err)
	}

	binding := agent.Binding{CameraNumber: camera, CardLabel: label}
	if sess.Binding != nil {
		binding.RemoteCardID = sess.Binding.RemoteCardID
	}
	if res.Outcome == remote.Sent {
		var cb remote.CardBinding
		if err := json.Unmarshal(res.Body, &cb); err == nil && cb.RemoteCardID != "" {
			binding.RemoteCardID = cb.RemoteCardID
		}
	}
	if _, err := a.sessions.UpdateBinding(binding); err != nil {
		return nil, 0, fmt.Errorf("storing binding: %w", err)
	}
	return a.sessions.Active(), res.Outcome, nil
}

// DrainQueue delivers due queue items within the configured limits.
func (a *Agent) DrainQueue(ctx context.Context) (queue.DrainResult, error) {
	return a.queue.Drain(ctx, a.tracker.IsOnline, a.deliver, queue.Limits{
		MaxItems: a.cfg.Queue.DrainMaxItems,
		Budget:   a.cfg.Queue.DrainBudget.D(),
	})
}

// deliver replays one queued item. A delivered session start attaches the
// remote session id it returns.
func (a *Agent) deliver(ctx context.Context, item agent.QueueItem) error {
	body, err := a.client.Deliver(ctx, item)
	a.tracker.Observe(err)
	if err != nil {
		return err
	}

	if item.Endpoint == remote.EndpointSessionStart {
		var req remote.SessionStartRequest
		if err := json.Unmarshal(item.Payload, &req); err != nil {
			a.logger.Warn("queued session start unreadable", "item", item.ID, "error", err)
			return nil
		}
		remoteID, err := remote.ParseSessionStart(body)
		if err != nil {
			a.logger.Warn("session start reply unreadable", "session", req.SessionID, "error", err)
			return nil
		}
		a.confirmRemoteSession(ctx, req.SessionID, remoteID, req.EventID)
	}
	return nil
}

// Heartbeat reports liveness and refreshes connectivity.
func (a *Agent) Heartbeat(ctx context.Context) error {
	sessionID := ""
	if s := a.sessions.Active(); s != nil {
		sessionID = s.ID
	}
	err := a.client.Heartbeat(ctx, sessionID, a.queue.Len(), a.backup.Status().State.String(), a.clock.Now())
	a.tracker.Observe(err)
	return err
}

// QueueItems returns a snapshot of the pending queue.
func (a *Agent) QueueItems() []agent.QueueItem {
	return a.queue.Items()
}
