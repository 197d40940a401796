// Package dedup keeps a cross-session registry of footage fingerprints so
// re-copied clips can be recognised.
package dedup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/fsutil"
)

// DefaultCapacity bounds the index when no capacity is configured.
const DefaultCapacity = 50000

// Index maps fingerprints to the last place they were seen. Records are only
// written once a session's remote counterpart is confirmed.
type Index struct {
	mu       sync.Mutex
	path     string
	capacity int
	records  map[string]*agent.DuplicateRecord
	clock    agent.Clock
	logger   agent.Logger
}

// Open loads the index document at path. An empty path keeps the index in
// memory only.
func Open(path string, capacity int, clock agent.Clock, logger agent.Logger) (*Index, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	x := &Index{
		path:     path,
		capacity: capacity,
		records:  make(map[string]*agent.DuplicateRecord),
		clock:    clock,
		logger:   logger,
	}
	if path == "" {
		return x, nil
	}

	var records []agent.DuplicateRecord
	if _, err := fsutil.ReadJSON(path, &records); err != nil {
		return nil, fmt.Errorf("loading duplication index: %w", err)
	}
	for i := range records {
		rec := records[i]
		x.records[rec.Fingerprint] = &rec
	}
	x.evictLocked()
	return x, nil
}

// Get returns a copy of the record for fingerprint, or nil.
func (x *Index) Get(fingerprint string) *agent.DuplicateRecord {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.records[fingerprint]
	if !ok {
		return nil
	}
	out := *rec
	return &out
}

// Len returns the number of records.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.records)
}

// Upsert records rec and persists the index.
func (x *Index) Upsert(rec agent.DuplicateRecord) error {
	if rec.Fingerprint == "" {
		return fmt.Errorf("duplicate record has no fingerprint")
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	x.upsertLocked(rec, x.clock.Now())
	x.evictLocked()
	return x.saveLocked()
}

// UpsertSnapshot records every file of snap under one timestamp and persists
// once. It returns how many fingerprints were already known.
func (x *Index) UpsertSnapshot(snap *agent.Snapshot, eventID string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.clock.Now()
	known := 0
	for _, f := range snap.Files {
		if f.Fingerprint == "" {
			continue
		}
		if _, ok := x.records[f.Fingerprint]; ok {
			known++
		}
		x.upsertLocked(agent.DuplicateRecord{
			Fingerprint: f.Fingerprint,
			Filename:    f.Name,
			Size:        f.Size,
			SessionID:   snap.SessionID,
			CardID:      snap.CardID,
			EventID:     eventID,
		}, now)
	}
	x.evictLocked()
	if err := x.saveLocked(); err != nil {
		return known, err
	}
	x.logger.Info("duplication index updated", "session", snap.SessionID, "files", len(snap.Files), "known", known)
	return known, nil
}

func (x *Index) upsertLocked(rec agent.DuplicateRecord, now time.Time) {
	if rec.LastSeen.IsZero() {
		rec.LastSeen = now
	}
	existing, ok := x.records[rec.Fingerprint]
	if !ok {
		if rec.FirstSeen.IsZero() {
			rec.FirstSeen = rec.LastSeen
		}
		x.records[rec.Fingerprint] = &rec
		return
	}

	existing.LastSeen = rec.LastSeen
	if rec.Filename != "" {
		existing.Filename = rec.Filename
	}
	if rec.Size > 0 {
		existing.Size = rec.Size
	}
	if rec.SessionID != "" {
		existing.SessionID = rec.SessionID
	}
	if rec.CardID != "" {
		existing.CardID = rec.CardID
	}
	if rec.EventID != "" {
		existing.EventID = rec.EventID
	}
}

// evictLocked drops the least recently seen records beyond capacity.
func (x *Index) evictLocked() {
	excess := len(x.records) - x.capacity
	if excess <= 0 {
		return
	}
	all := x.sortedLocked()
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastSeen.Before(all[j].LastSeen)
	})
	for _, rec := range all[:excess] {
		delete(x.records, rec.Fingerprint)
	}
	x.logger.Debug("duplication index pruned", "evicted", excess)
}

// sortedLocked returns the records ordered by fingerprint.
func (x *Index) sortedLocked() []*agent.DuplicateRecord {
	all := make([]*agent.DuplicateRecord, 0, len(x.records))
	for _, rec := range x.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Fingerprint < all[j].Fingerprint })
	return all
}

func (x *Index) saveLocked() error {
	if x.path == "" {
		return nil
	}
	all := x.sortedLocked()
	out := make([]agent.DuplicateRecord, len(all))
	for i, rec := range all {
		out[i] = *rec
	}
	if err := fsutil.WriteJSON(x.path, out); err != nil {
		return fmt.Errorf("saving duplication index: %w", err)
	}
	return nil
}
