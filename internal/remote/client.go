// Package remote talks to the backend that tracks cards, sessions and media.
// Every call is an HTTP request through resty; calls that must survive an
// outage go through a Gateway, which falls back to the offline queue.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardsync-go/internal/agent"
	"cardsync-go/internal/config"

	"github.com/go-resty/resty/v2"
)

// Client is the resty-backed backend client.
type Client struct {
	client     *resty.Client
	token      string
	agentID    string
	configured bool
}

// NewClient creates a Client for cfg. An empty BaseURL yields a client whose
// every call fails with ErrNotConfigured wrapped in a TransportError, so an
// unconfigured agent behaves as permanently offline.
func NewClient(cfg config.RemoteConfig, agentID string) *Client {
	timeout := cfg.Timeout.D()
	if timeout <= 0 {
		timeout = config.DefaultRemoteTimeout
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", "cardsync-agent")

	return &Client{
		client:     cli,
		token:      strings.TrimSpace(cfg.Token),
		agentID:    agentID,
		configured: strings.TrimSpace(cfg.BaseURL) != "",
	}
}

// Configured reports whether a backend URL is set.
func (c *Client) Configured() bool {
	return c.configured
}

// Send delivers a payload directly. It never enqueues.
func (c *Client) Send(ctx context.Context, p agent.Payload, headers map[string]string) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", agent.ErrInvalidPayload, err)
	}
	return c.do(ctx, p.Method(), p.Endpoint(), p, headers)
}

// Deliver replays a queued item exactly as it was recorded, including its
// Idempotency-Key header.
func (c *Client) Deliver(ctx context.Context, item agent.QueueItem) ([]byte, error) {
	var body any
	if len(item.Payload) > 0 {
		body = []byte(item.Payload)
	}
	return c.do(ctx, item.Method, item.Endpoint, body, item.Headers)
}

// StartSession announces a session and returns the backend's id for it.
func (c *Client) StartSession(ctx context.Context, req SessionStartRequest, headers map[string]string) (string, error) {
	body, err := c.Send(ctx, req, headers)
	if err != nil {
		return "", err
	}
	return ParseSessionStart(body)
}

// ParseSessionStart decodes the remote session id from a session start reply.
func ParseSessionStart(body []byte) (string, error) {
	var resp SessionStartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode session start response: %w", err)
	}
	if resp.RemoteSessionID == "" {
		return "", fmt.Errorf("decode session start response: missing remote_session_id")
	}
	return resp.RemoteSessionID, nil
}

// LookupCardBinding fetches the camera mapping of a card. A card the backend
// has never seen returns (nil, nil).
func (c *Client) LookupCardBinding(ctx context.Context, cardID string) (*CardBinding, error) {
	body, err := c.do(ctx, http.MethodGet, endpointCardPrefix+url.PathEscape(cardID), nil, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var b CardBinding
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decode card binding: %w", err)
	}
	return &b, nil
}

// ActiveEvent returns the event footage is currently filed under, or nil.
func (c *Client) ActiveEvent(ctx context.Context) (*ActiveEvent, error) {
	body, err := c.do(ctx, http.MethodGet, EndpointActiveEvent, nil, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var ev ActiveEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode active event: %w", err)
	}
	if ev.ID == "" {
		return nil, nil
	}
	return &ev, nil
}

// Heartbeat reports liveness. It is never queued; a stale heartbeat is useless.
func (c *Client) Heartbeat(ctx context.Context, sessionID string, queueDepth int, backupState string, now time.Time) error {
	_, err := c.Send(ctx, HeartbeatRequest{
		AgentID:     c.agentID,
		SessionID:   sessionID,
		QueueDepth:  queueDepth,
		BackupState: backupState,
		SentAt:      now,
	}, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]byte, error) {
	if !c.Configured() {
		return nil, &TransportError{Op: endpoint, Err: ErrNotConfigured}
	}

	req := c.authedRequest(ctx).SetHeaders(headers)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, &TransportError{Op: endpoint, Err: err}
	}
	if err := mapHTTPError(resp); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Client) authedRequest(ctx context.Context) *resty.Request {
	req := c.client.R().SetContext(ctx)
	if c.token != "" {
		req.SetHeader("Authorization", "Bearer "+c.token)
	}
	return req
}

func mapHTTPError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	body := strings.TrimSpace(string(resp.Body()))
	if body == "" {
		body = http.StatusText(resp.StatusCode())
	}
	se := &StatusError{Code: resp.StatusCode(), Body: body}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, se)
	}
	return se
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
