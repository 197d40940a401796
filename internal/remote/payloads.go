package remote

import (
	"errors"
	"net/http"
	"time"

	"cardsync-go/internal/agent"
)

// Endpoints of the backend API.
const (
	EndpointSessionStart    = "/api/sessions/start"
	EndpointSessionProgress = "/api/sessions/progress"
	EndpointSessionEnd      = "/api/sessions/end"
	EndpointCardBind        = "/api/cards/bind"
	EndpointIssues          = "/api/issues"
	EndpointMediaBatch      = "/api/media/batch"
	EndpointHeartbeat       = "/api/heartbeat"
	EndpointActiveEvent     = "/api/events/active"
	endpointCardPrefix      = "/api/cards/"
)

var (
	_ agent.Payload = SessionStartRequest{}
	_ agent.Payload = SessionProgressRequest{}
	_ agent.Payload = SessionEndRequest{}
	_ agent.Payload = CardBindingRequest{}
	_ agent.Payload = IssueReport{}
	_ agent.Payload = MediaBatchRequest{}
	_ agent.Payload = HeartbeatRequest{}
)

// SessionStartRequest announces a new card session. The response carries the
// remote session id.
type SessionStartRequest struct {
	AgentID      string    `json:"agent_id"`
	SessionID    string    `json:"session_id"`
	CardID       string    `json:"card_id"`
	CameraNumber int       `json:"camera_number,omitempty"`
	CardLabel    string    `json:"card_label,omitempty"`
	EventID      string    `json:"event_id,omitempty"`
	FileCount    int       `json:"file_count"`
	TotalBytes   int64     `json:"total_bytes"`
	StartedAt    time.Time `json:"started_at"`
}

func (SessionStartRequest) Endpoint() string { return EndpointSessionStart }
func (SessionStartRequest) Method() string   { return http.MethodPost }

func (r SessionStartRequest) Validate() error {
	var errs []error
	if r.SessionID == "" {
		errs = append(errs, errors.New("session_id is required"))
	}
	if r.CardID == "" {
		errs = append(errs, errors.New("card_id is required"))
	}
	if r.FileCount < 0 || r.TotalBytes < 0 {
		errs = append(errs, errors.New("counts must not be negative"))
	}
	return errors.Join(errs...)
}

// SessionStartResponse is the backend's reply to a session start.
type SessionStartResponse struct {
	RemoteSessionID string `json:"remote_session_id"`
}

// SessionProgressRequest reports how much of a card has been copied.
type SessionProgressRequest struct {
	SessionID    string    `json:"session_id"`
	FilesCopied  int       `json:"files_copied"`
	FilesPending int       `json:"files_pending"`
	ReportedAt   time.Time `json:"reported_at"`
}

func (SessionProgressRequest) Endpoint() string { return EndpointSessionProgress }
func (SessionProgressRequest) Method() string   { return http.MethodPost }

func (r SessionProgressRequest) Validate() error {
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	if r.FilesCopied < 0 || r.FilesPending < 0 {
		return errors.New("counts must not be negative")
	}
	return nil
}

// SessionEndRequest reports that the card was removed.
type SessionEndRequest struct {
	SessionID    string    `json:"session_id"`
	FilesCopied  int       `json:"files_copied"`
	FilesPending int       `json:"files_pending"`
	EndedAt      time.Time `json:"ended_at"`
}

func (SessionEndRequest) Endpoint() string { return EndpointSessionEnd }
func (SessionEndRequest) Method() string   { return http.MethodPost }

func (r SessionEndRequest) Validate() error {
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	return nil
}

// CardBindingRequest creates or updates the camera mapping of a card.
type CardBindingRequest struct {
	CardID       string `json:"card_id"`
	CameraNumber int    `json:"camera_number"`
	CardLabel    string `json:"card_label,omitempty"`
}

func (CardBindingRequest) Endpoint() string { return EndpointCardBind }
func (CardBindingRequest) Method() string   { return http.MethodPost }

func (r CardBindingRequest) Validate() error {
	if r.CardID == "" {
		return errors.New("card_id is required")
	}
	if r.CameraNumber <= 0 {
		return errors.New("camera_number must be positive")
	}
	return nil
}

// CardBinding is the backend's record of a card.
type CardBinding struct {
	RemoteCardID string `json:"remote_card_id"`
	CardID       string `json:"card_id"`
	CameraNumber int    `json:"camera_number"`
	CardLabel    string `json:"card_label"`
}

// IssueReport flags a problem for operators, e.g. a failed backup file.
type IssueReport struct {
	SessionID string    `json:"session_id,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (IssueReport) Endpoint() string { return EndpointIssues }
func (IssueReport) Method() string   { return http.MethodPost }

func (r IssueReport) Validate() error {
	if r.Kind == "" || r.Message == "" {
		return errors.New("kind and message are required")
	}
	return nil
}

// MediaItem describes one file of a session for ingestion.
type MediaItem struct {
	RelativePath string    `json:"relative_path"`
	Size         int64     `json:"size"`
	Fingerprint  string    `json:"fingerprint"`
	ModifiedAt   time.Time `json:"modified_at"`
	Duplicate    bool      `json:"duplicate,omitempty"`
}

// MediaBatchRequest uploads the manifest of a session in one call.
type MediaBatchRequest struct {
	SessionID string      `json:"session_id"`
	Items     []MediaItem `json:"items"`
}

func (MediaBatchRequest) Endpoint() string { return EndpointMediaBatch }
func (MediaBatchRequest) Method() string   { return http.MethodPost }

func (r MediaBatchRequest) Validate() error {
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	if len(r.Items) == 0 {
		return errors.New("items must not be empty")
	}
	for _, it := range r.Items {
		if it.RelativePath == "" || it.Fingerprint == "" {
			return errors.New("every item needs relative_path and fingerprint")
		}
	}
	return nil
}

// HeartbeatRequest tells the backend the agent is alive.
type HeartbeatRequest struct {
	AgentID     string    `json:"agent_id"`
	SessionID   string    `json:"session_id,omitempty"`
	QueueDepth  int       `json:"queue_depth"`
	BackupState string    `json:"backup_state"`
	SentAt      time.Time `json:"sent_at"`
}

func (HeartbeatRequest) Endpoint() string { return EndpointHeartbeat }
func (HeartbeatRequest) Method() string   { return http.MethodPost }

func (r HeartbeatRequest) Validate() error {
	if r.AgentID == "" {
		return errors.New("agent_id is required")
	}
	return nil
}

// ActiveEvent is the shoot the backend currently files footage under.
type ActiveEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
