package remote

import (
	"sync"
	"time"

	"cardsync-go/internal/agent"
)

// Tracker is the agent's online/offline predicate. It is updated by every
// send outcome and by heartbeats.
type Tracker struct {
	mu        sync.RWMutex
	online    bool
	changedAt time.Time
	lastErr   error
	clock     agent.Clock
	logger    agent.Logger
}

func NewTracker(online bool, clock agent.Clock, logger agent.Logger) *Tracker {
	return &Tracker{online: online, changedAt: clock.Now(), clock: clock, logger: logger}
}

// IsOnline reports the last observed connectivity.
func (t *Tracker) IsOnline() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online
}

// Since returns when connectivity last changed.
func (t *Tracker) Since() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changedAt
}

// LastError returns the transport error that took the agent offline, if any.
func (t *Tracker) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

func (t *Tracker) MarkOnline() { t.set(true, nil) }

func (t *Tracker) MarkOffline(err error) { t.set(false, err) }

// Observe updates connectivity from the result of a remote call. Any HTTP
// answer, including an error status, proves the backend is reachable.
func (t *Tracker) Observe(err error) {
	if err != nil && IsTransport(err) {
		t.MarkOffline(err)
		return
	}
	t.MarkOnline()
}

func (t *Tracker) set(online bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = err
	if t.online == online {
		return
	}
	t.online = online
	t.changedAt = t.clock.Now()
	if online {
		t.logger.Info("remote reachable")
	} else {
		t.logger.Warn("remote unreachable", "error", err)
	}
}
