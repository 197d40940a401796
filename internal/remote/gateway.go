package remote

import (
	"context"
	"errors"
	"fmt"

	"cardsync-go/internal/agent"
)

// Outcome says how a gateway call was handled.
type Outcome int

const (
	Sent Outcome = iota + 1
	Queued
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	}
	return "unknown"
}

// Sender delivers a payload to the backend directly.
type Sender interface {
	Send(ctx context.Context, p agent.Payload, headers map[string]string) ([]byte, error)
}

// Enqueuer persists a payload for later delivery.
type Enqueuer interface {
	Enqueue(p agent.Payload, headers map[string]string) (*agent.QueueItem, error)
}

// Result is what a gateway call produced. Body is set when Sent; Item when Queued.
type Result struct {
	Outcome Outcome
	Body    []byte
	Item    *agent.QueueItem
}

// Gateway sends payloads when online and falls back to the durable queue when
// offline or when the send fails. A direct attempt and its queued retry carry
// the same Idempotency-Key.
type Gateway struct {
	sender  Sender
	queue   Enqueuer
	tracker *Tracker
	idgen   agent.IDGenerator
	logger  agent.Logger
}

func NewGateway(sender Sender, queue Enqueuer, tracker *Tracker, idgen agent.IDGenerator, logger agent.Logger) *Gateway {
	return &Gateway{sender: sender, queue: queue, tracker: tracker, idgen: idgen, logger: logger}
}

// Call delivers p. The only errors returned are validation failures and a
// failure to enqueue; delivery problems become a Queued result.
func (g *Gateway) Call(ctx context.Context, p agent.Payload) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", agent.ErrInvalidPayload, err)
	}
	headers := map[string]string{agent.IdempotencyHeader: g.idgen.New()}

	if g.tracker.IsOnline() {
		body, err := g.sender.Send(ctx, p, headers)
		g.tracker.Observe(err)
		if err == nil {
			return Result{Outcome: Sent, Body: body}, nil
		}
		if errors.Is(err, agent.ErrInvalidPayload) {
			return Result{}, err
		}
		g.logger.Warn("remote call failed, queueing", "endpoint", p.Endpoint(), "error", err)
	}

	item, err := g.queue.Enqueue(p, headers)
	if err != nil {
		return Result{}, fmt.Errorf("queueing %s: %w", p.Endpoint(), err)
	}
	return Result{Outcome: Queued, Item: item}, nil
}

// Online exposes the connectivity predicate for queue draining.
func (g *Gateway) Online() bool {
	return g.tracker.IsOnline()
}
