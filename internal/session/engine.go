// Package session implements the single-card session state machine:
//
//	none -> active -> removed -> (active again | discarded)
//
// At most one session is active at a time. Every transition is persisted
// before it becomes visible and is announced on the event publisher.
package session

import (
	"fmt"
	"sync"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/event"
)

// Outcome describes what an insertion did.
type Outcome int

const (
	// Started means a new session was created.
	Started Outcome = iota + 1
	// Resumed means a removed session for the same card became active again.
	Resumed
	// AlreadyActive means the card was already the active session; nothing changed.
	AlreadyActive
	// Overlap means a different card is active; the insertion was rejected.
	Overlap
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case Resumed:
		return "resumed"
	case AlreadyActive:
		return "already_active"
	case Overlap:
		return "overlap"
	default:
		return "unknown"
	}
}

// Engine owns the current session record.
type Engine struct {
	mu      sync.Mutex
	store   *Store
	current *agent.Session
	events  event.Publisher
	logger  agent.Logger
	clock   agent.Clock
	idgen   agent.IDGenerator
}

// NewEngine creates an engine with no session loaded. Call Restore to pick up
// a persisted session.
func NewEngine(store *Store, events event.Publisher, logger agent.Logger, clock agent.Clock, idgen agent.IDGenerator) *Engine {
	return &Engine{
		store:  store,
		events: events,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// Restore loads the persisted session, if any.
func (e *Engine) Restore() (*agent.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	e.current = sess
	if sess != nil {
		e.logger.Info("session restored", "session", sess.ID, "card", sess.CardID, "status", sess.Status)
	}
	return sess.Clone(), nil
}

// Current returns a copy of the session record, active or removed, or nil.
func (e *Engine) Current() *agent.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone()
}

// Active returns a copy of the active session, or nil if no card is inserted.
func (e *Engine) Active() *agent.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.current.IsActive() {
		return nil
	}
	return e.current.Clone()
}

// HandleInsertion applies an insertion of cardID mounted at mountPath.
// The returned session is the one that is active afterwards; on Overlap it is
// the untouched session of the other card.
func (e *Engine) HandleInsertion(cardID, mountPath string) (*agent.Session, Outcome, error) {
	if cardID == "" {
		return nil, 0, fmt.Errorf("card id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current
	switch {
	case cur.IsActive() && cur.CardID != cardID:
		e.logger.Warn("card inserted while another session is active",
			"active_session", cur.ID, "active_card", cur.CardID, "card", cardID)
		e.events.Publish(event.Event{
			Type:      event.SessionOverlap,
			SessionID: cur.ID,
			CardID:    cardID,
			Path:      mountPath,
		})
		return cur.Clone(), Overlap, nil

	case cur.IsActive():
		return cur.Clone(), AlreadyActive, nil

	case cur != nil && cur.CardID == cardID:
		next := cur.Clone()
		next.Status = agent.SessionActive
		next.RemovedAt = nil
		next.MountPath = mountPath
		remoteID := ""
		if next.RemoteSyncStatus != agent.RemoteStarted {
			id, err := e.store.LoadPendingRemote(next.ID)
			if err != nil {
				return nil, 0, err
			}
			if id != "" {
				remoteID = id
				next.RemoteSessionID = id
				next.RemoteSyncStatus = agent.RemoteStarted
			}
		}
		if err := e.commit(next); err != nil {
			return nil, 0, err
		}
		e.logger.Info("session resumed", "session", next.ID, "card", cardID, "mount", mountPath)
		e.events.Publish(event.Event{Type: event.SessionResumed, SessionID: next.ID, CardID: cardID, Path: mountPath})
		if remoteID != "" {
			if err := e.store.DeletePendingRemote(); err != nil {
				e.logger.Warn("pending remote session not cleared", "session", next.ID, "error", err)
			}
			e.logger.Info("remote session attached", "session", next.ID, "remote_session", remoteID)
			e.events.Publish(event.Event{Type: event.SessionRemoteAttached, SessionID: next.ID, CardID: cardID})
		}
		return next.Clone(), Resumed, nil
	}

	if cur != nil {
		if err := e.store.Delete(); err != nil {
			return nil, 0, err
		}
		e.current = nil
		if err := e.store.DeletePendingRemote(); err != nil {
			e.logger.Warn("pending remote session not cleared", "session", cur.ID, "error", err)
		}
		e.logger.Info("removed session discarded", "session", cur.ID, "card", cur.CardID)
		e.events.Publish(event.Event{Type: event.SessionDiscarded, SessionID: cur.ID, CardID: cur.CardID})
	}

	next := &agent.Session{
		ID:               e.idgen.New(),
		CardID:           cardID,
		MountPath:        mountPath,
		StartedAt:        e.clock.Now(),
		Status:           agent.SessionActive,
		RemoteSyncStatus: agent.RemoteNotStarted,
	}
	if err := e.commit(next); err != nil {
		return nil, 0, err
	}
	e.logger.Info("session started", "session", next.ID, "card", cardID, "mount", mountPath)
	e.events.Publish(event.Event{Type: event.SessionStarted, SessionID: next.ID, CardID: cardID, Path: mountPath})
	return next.Clone(), Started, nil
}

// HandleRemoval marks the active session removed. Removal of a card that is
// not the active one is ignored and returns nil.
func (e *Engine) HandleRemoval(cardID string) (*agent.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.current
	if !cur.IsActive() || cur.CardID != cardID {
		e.logger.Debug("ignoring removal of inactive card", "card", cardID)
		return nil, nil
	}

	next := cur.Clone()
	now := e.clock.Now()
	next.Status = agent.SessionRemoved
	next.RemovedAt = &now
	if err := e.commit(next); err != nil {
		return nil, err
	}
	e.logger.Info("session ended", "session", next.ID, "card", cardID)
	e.events.Publish(event.Event{Type: event.SessionEnded, SessionID: next.ID, CardID: cardID})
	return next.Clone(), nil
}

// UpdateBinding sets the card to camera mapping. It reports false and changes
// nothing when no session is active.
func (e *Engine) UpdateBinding(b agent.Binding) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.current.IsActive() {
		return false, nil
	}
	next := e.current.Clone()
	next.Binding = &b
	if err := e.commit(next); err != nil {
		return false, err
	}
	e.events.Publish(event.Event{Type: event.SessionBindingUpdated, SessionID: next.ID, CardID: next.CardID})
	return true, nil
}

// MarkQueuedOffline records that the remote session start was queued rather
// than delivered. Only applies while sessionID is active.
func (e *Engine) MarkQueuedOffline(sessionID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.current.IsActive() || e.current.ID != sessionID || e.current.RemoteSyncStatus == agent.RemoteStarted {
		return false, nil
	}
	next := e.current.Clone()
	next.RemoteSyncStatus = agent.RemoteQueuedOffline
	if err := e.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

// AttachRemoteSession records the remote counterpart of sessionID. It only
// applies while sessionID is the active session; a confirmation for the
// removed session is kept and applied when its card is re-inserted.
func (e *Engine) AttachRemoteSession(sessionID, remoteID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.ID != sessionID {
		return false, nil
	}
	if !e.current.IsActive() {
		if e.current.RemoteSyncStatus == agent.RemoteStarted {
			return false, nil
		}
		if err := e.store.SavePendingRemote(sessionID, remoteID); err != nil {
			return false, err
		}
		e.logger.Info("remote session confirmed while card removed", "session", sessionID, "remote_session", remoteID)
		return false, nil
	}
	next := e.current.Clone()
	next.RemoteSessionID = remoteID
	next.RemoteSyncStatus = agent.RemoteStarted
	if err := e.commit(next); err != nil {
		return false, err
	}
	e.logger.Info("remote session attached", "session", sessionID, "remote_session", remoteID)
	e.events.Publish(event.Event{Type: event.SessionRemoteAttached, SessionID: sessionID, CardID: next.CardID})
	return true, nil
}

// commit persists next and only then makes it current.
func (e *Engine) commit(next *agent.Session) error {
	if err := e.store.Save(next); err != nil {
		return err
	}
	e.current = next
	return nil
}
