// Package progress reports per-session copy progress to the backend without
// flooding it.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/remote"

	"golang.org/x/time/rate"
)

// Outcome says what Report did with an update.
type Outcome int

const (
	Sent Outcome = iota + 1
	Queued
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// Caller delivers a payload, falling back to the durable queue when needed.
type Caller interface {
	Call(ctx context.Context, p agent.Payload) (remote.Result, error)
}

// Reporter coalesces duplicate progress updates and throttles delivery to
// one per minimum interval. A throttled update is kept as pending and is
// delivered by FlushPending or superseded by a later update.
type Reporter struct {
	mu      sync.Mutex
	caller  Caller
	limiter *rate.Limiter
	clock   agent.Clock
	logger  agent.Logger
	last    *remote.SessionProgressRequest
	pending *remote.SessionProgressRequest
}

func NewReporter(caller Caller, minInterval time.Duration, clock agent.Clock, logger agent.Logger) *Reporter {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Reporter{
		caller:  caller,
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
		logger:  logger,
	}
}

// Report delivers the progress of a session.
func (r *Reporter) Report(ctx context.Context, sessionID string, copied, pending int) (Outcome, error) {
	now := r.clock.Now()
	req := remote.SessionProgressRequest{
		SessionID:    sessionID,
		FilesCopied:  copied,
		FilesPending: pending,
		ReportedAt:   now,
	}
	if err := req.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", agent.ErrInvalidPayload, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sameCounts(r.last, &req) {
		r.pending = nil
		return Skipped, nil
	}
	if !r.limiter.AllowN(now, 1) {
		r.pending = &req
		return Skipped, nil
	}
	return r.deliverLocked(ctx, req)
}

// FlushPending delivers the last throttled update, if any. It ignores the
// rate limit; call it when a session ends.
func (r *Reporter) FlushPending(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return Skipped, nil
	}
	req := *r.pending
	return r.deliverLocked(ctx, req)
}

// Pending returns the throttled update waiting for delivery, or nil.
func (r *Reporter) Pending() *remote.SessionProgressRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return nil
	}
	p := *r.pending
	return &p
}

func (r *Reporter) deliverLocked(ctx context.Context, req remote.SessionProgressRequest) (Outcome, error) {
	res, err := r.caller.Call(ctx, req)
	if err != nil {
		r.pending = &req
		return 0, fmt.Errorf("reporting progress: %w", err)
	}
	r.last = &req
	r.pending = nil

	if res.Outcome == remote.Queued {
		r.logger.Debug("progress queued", "session", req.SessionID, "copied", req.FilesCopied, "pending", req.FilesPending)
		return Queued, nil
	}
	return Sent, nil
}

func sameCounts(a, b *remote.SessionProgressRequest) bool {
	return a != nil && b != nil &&
		a.SessionID == b.SessionID &&
		a.FilesCopied == b.FilesCopied &&
		a.FilesPending == b.FilesPending
}
