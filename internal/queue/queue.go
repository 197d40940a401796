// Package queue implements the durable outbox for remote calls made while
// offline or failing. Items are replayed with capped exponential backoff and
// carry an idempotency key so redelivery is safe.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/event"
)

// Options tune a Queue. Zero values fall back to the package defaults.
type Options struct {
	MaxItems   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// FlushDelay debounces persistence after Enqueue. Zero persists immediately.
	FlushDelay time.Duration
}

const (
	DefaultMaxItems   = 1000
	DefaultMinBackoff = 5 * time.Second
	DefaultMaxBackoff = 10 * time.Minute
)

// Limits bound one Drain call.
type Limits struct {
	MaxItems int           // 0 means no limit
	Budget   time.Duration // 0 means no limit
}

// DrainResult reports what one Drain call did.
type DrainResult struct {
	Processed int
	Succeeded int
	Failed    int
	Remaining int
}

// SendFunc delivers one item. A nil error means the remote accepted it.
type SendFunc func(ctx context.Context, item agent.QueueItem) error

// Queue is safe for concurrent use. Only one Drain runs at a time.
type Queue struct {
	mu       sync.Mutex
	store    store
	items    []*agent.QueueItem
	opts     Options
	events   event.Publisher
	logger   agent.Logger
	clock    agent.Clock
	idgen    agent.IDGenerator
	jitter   func(n int64) int64
	dirty    bool
	timer    *time.Timer
	draining bool
	closed   bool
}

func newQueue(s store, opts Options, events event.Publisher, logger agent.Logger, clock agent.Clock, idgen agent.IDGenerator) (*Queue, error) {
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}

	items, err := s.Load()
	if err != nil {
		return nil, err
	}

	return &Queue{
		store:  s,
		items:  items,
		opts:   opts,
		events: events,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
		jitter: rand.Int64N,
	}, nil
}

// Enqueue validates p and appends it to the queue.
func (q *Queue) Enqueue(p agent.Payload, headers map[string]string) (*agent.QueueItem, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", agent.ErrInvalidPayload, err)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding: %v", agent.ErrInvalidPayload, err)
	}
	return q.EnqueueRaw(p.Endpoint(), p.Method(), body, headers)
}

// EnqueueRaw appends an already-encoded request. An idempotency key is
// generated unless headers carry one.
func (q *Queue) EnqueueRaw(endpoint, method string, payload json.RawMessage, headers map[string]string) (*agent.QueueItem, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", agent.ErrInvalidPayload)
	}
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodPost
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", agent.ErrInvalidPayload)
	}

	item := &agent.QueueItem{
		ID:        q.idgen.New(),
		CreatedAt: q.clock.Now(),
		Endpoint:  endpoint,
		Method:    method,
		Payload:   payload,
		Headers:   normalizeHeaders(headers),
	}
	item.NextAttemptAt = item.CreatedAt
	if item.Headers[agent.IdempotencyHeader] == "" {
		item.Headers[agent.IdempotencyHeader] = q.idgen.New()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	for len(q.items) > q.opts.MaxItems {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.logger.Warn("queue full, dropping oldest item", "id", dropped.ID, "endpoint", dropped.Endpoint)
		q.events.Publish(event.Event{Type: event.QueueItemDropped, Path: dropped.Endpoint, Reason: "capacity"})
	}
	q.markDirtyLocked()

	out := *item
	return &out, nil
}

// normalizeHeaders copies h and moves any differently-cased idempotency
// header to its canonical name.
func normalizeHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		if strings.EqualFold(k, agent.IdempotencyHeader) {
			k = agent.IdempotencyHeader
		}
		out[k] = v
	}
	return out
}

// Drain delivers due items in queue order until limits are reached. Nothing
// is attempted while isOnline reports false.
func (q *Queue) Drain(ctx context.Context, isOnline func() bool, send SendFunc, limits Limits) (DrainResult, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return DrainResult{}, agent.ErrAlreadyRunning
	}
	if isOnline != nil && !isOnline() {
		remaining := len(q.items)
		q.mu.Unlock()
		return DrainResult{Remaining: remaining}, nil
	}
	q.draining = true
	due := q.dueLocked(limits.MaxItems)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	var res DrainResult
	start := q.clock.Now()
	for _, item := range due {
		if ctx.Err() != nil {
			break
		}
		if limits.Budget > 0 && q.clock.Now().Sub(start) >= limits.Budget {
			break
		}
		if isOnline != nil && !isOnline() {
			break
		}

		err := send(ctx, *item)
		res.Processed++

		q.mu.Lock()
		if err == nil {
			res.Succeeded++
			q.removeLocked(item.ID)
		} else {
			res.Failed++
			q.recordFailureLocked(item.ID, err)
		}
		q.mu.Unlock()
	}

	q.mu.Lock()
	res.Remaining = len(q.items)
	var saveErr error
	if res.Processed > 0 {
		saveErr = q.saveLocked()
	}
	q.mu.Unlock()

	if res.Processed > 0 {
		q.logger.Info("queue drained", "succeeded", res.Succeeded, "failed", res.Failed, "remaining", res.Remaining)
		q.events.Publish(event.Event{Type: event.QueueDrained, Count: res.Succeeded, Total: res.Processed, Remaining: res.Remaining})
	}
	if saveErr != nil {
		return res, saveErr
	}
	return res, ctx.Err()
}

// dueLocked returns the items eligible now, oldest first.
func (q *Queue) dueLocked(max int) []*agent.QueueItem {
	now := q.clock.Now()
	var due []*agent.QueueItem
	for _, item := range q.items {
		if item.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, item)
		if max > 0 && len(due) == max {
			break
		}
	}
	return due
}

func (q *Queue) removeLocked(id string) {
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *Queue) recordFailureLocked(id string, sendErr error) {
	for _, item := range q.items {
		if item.ID != id {
			continue
		}
		item.Attempts++
		item.LastError = sendErr.Error()
		item.NextAttemptAt = q.clock.Now().Add(q.backoff(item.Attempts))
		q.logger.Debug("queue delivery failed", "id", id, "attempts", item.Attempts, "next_attempt", item.NextAttemptAt, "error", sendErr)
		return
	}
}

// backoff is min(max, min*2^(attempts-1)) plus up to 10% jitter, never
// exceeding max.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.opts.MinBackoff
	for i := 1; i < attempts && d < q.opts.MaxBackoff; i++ {
		d *= 2
	}
	if d > q.opts.MaxBackoff {
		d = q.opts.MaxBackoff
	}
	if spread := int64(d / 10); spread > 0 {
		d += time.Duration(q.jitter(spread + 1))
	}
	if d > q.opts.MaxBackoff {
		d = q.opts.MaxBackoff
	}
	return d
}

// Items returns copies of the queued items in order.
func (q *Queue) Items() []agent.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]agent.QueueItem, len(q.items))
	for i, item := range q.items {
		out[i] = *item
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Flush persists pending changes now.
func (q *Queue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.dirty {
		return nil
	}
	return q.saveLocked()
}

// Close flushes pending changes. Enqueue after Close still works but is
// persisted synchronously.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()
	return q.Flush()
}

func (q *Queue) markDirtyLocked() {
	q.dirty = true
	if q.opts.FlushDelay <= 0 || q.closed {
		if err := q.saveLocked(); err != nil {
			q.logger.Error("persisting queue", "error", err)
		}
		return
	}
	if q.timer != nil {
		return
	}
	q.timer = time.AfterFunc(q.opts.FlushDelay, func() {
		q.mu.Lock()
		q.timer = nil
		q.mu.Unlock()
		if err := q.Flush(); err != nil {
			q.logger.Error("persisting queue", "error", err)
		}
	})
}

func (q *Queue) saveLocked() error {
	if err := q.store.Save(q.items); err != nil {
		return err
	}
	q.dirty = false
	return nil
}
