package app

import (
	"time"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/backup"
	"cardsync-go/internal/volume"
)

// Status is a read-only view of the agent for the CLI and other shells.
type Status struct {
	AgentID     string
	Session     *agent.Session
	Copied      int
	Pending     int
	Backup      backup.Status
	QueueDepth  int
	Online      bool
	OnlineSince time.Time
	Volumes     []volume.Volume
	DedupSize   int
}

// Status collects the current state of every engine.
func (a *Agent) Status() Status {
	copied, pending := a.observer.Progress()
	s := Status{
		AgentID:     a.cfg.AgentID,
		Session:     a.sessions.Current(),
		Copied:      copied,
		Pending:     pending,
		Backup:      a.backup.Status(),
		QueueDepth:  a.queue.Len(),
		Online:      a.tracker.IsOnline(),
		OnlineSince: a.tracker.Since(),
		DedupSize:   a.dedup.Len(),
	}
	if a.detector != nil {
		s.Volumes = a.detector.Mounted()
	}
	return s
}
