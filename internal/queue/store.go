package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/fsutil"
)

// store abstracts where the queue document lives. Concurrency is managed by
// the caller (Queue.mu), so stores do not need to be safe for concurrent use.
type store interface {
	// Load returns the persisted items in queue order. A missing document is
	// an empty queue.
	Load() ([]*agent.QueueItem, error)

	// Save replaces the persisted document with items.
	Save(items []*agent.QueueItem) error
}

// memoryStore keeps the last saved document in memory. Useful for tests and
// for agents configured without durable state.
type memoryStore struct {
	items []agent.QueueItem
}

func newMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (m *memoryStore) Load() ([]*agent.QueueItem, error) {
	out := make([]*agent.QueueItem, len(m.items))
	for i := range m.items {
		item := m.items[i]
		out[i] = &item
	}
	return out, nil
}

func (m *memoryStore) Save(items []*agent.QueueItem) error {
	m.items = make([]agent.QueueItem, len(items))
	for i, item := range items {
		m.items[i] = *item
	}
	return nil
}

// fileStore persists the queue as one JSON document:
//
//	<dir>/
//	  queue.json
type fileStore struct {
	path string
}

func newFileStore(dir string) (*fileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}
	return &fileStore{path: filepath.Join(dir, "queue.json")}, nil
}

func (f *fileStore) Load() ([]*agent.QueueItem, error) {
	var items []*agent.QueueItem
	if _, err := fsutil.ReadJSON(f.path, &items); err != nil {
		return nil, fmt.Errorf("loading queue: %w", err)
	}
	return items, nil
}

func (f *fileStore) Save(items []*agent.QueueItem) error {
	if items == nil {
		items = []*agent.QueueItem{}
	}
	if err := fsutil.WriteJSON(f.path, items); err != nil {
		return fmt.Errorf("saving queue: %w", err)
	}
	return nil
}
