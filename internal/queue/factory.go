package queue

import (
	"fmt"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/config"
	"cardsync-go/internal/event"
)

// NewQueueFromConfig creates a Queue backed by the store named in cfg.Type.
// File queues live under dir.
func NewQueueFromConfig(cfg config.QueueConfig, dir string, events event.Publisher, logger agent.Logger, clock agent.Clock, idgen agent.IDGenerator) (*Queue, error) {
	opts := Options{
		MaxItems:   cfg.MaxItems,
		MinBackoff: cfg.MinBackoff.D(),
		MaxBackoff: cfg.MaxBackoff.D(),
		FlushDelay: cfg.FlushDelay.D(),
	}

	var s store
	switch cfg.Type {
	case "memory":
		s = newMemoryStore()
	case "file":
		if dir == "" {
			return nil, fmt.Errorf("file queue requires a state directory")
		}
		fstore, err := newFileStore(dir)
		if err != nil {
			return nil, err
		}
		s = fstore
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}

	return newQueue(s, opts, events, logger, clock, idgen)
}

// NewMemoryQueue creates a Queue that is not persisted across restarts.
func NewMemoryQueue(opts Options, events event.Publisher, logger agent.Logger, clock agent.Clock, idgen agent.IDGenerator) *Queue {
	q, _ := newQueue(newMemoryStore(), opts, events, logger, clock, idgen)
	return q
}
