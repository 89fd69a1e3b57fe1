package httpclient

import (
	"time"

	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the gateway (e.g., "http://localhost:8080")
	ServerURL string `yaml:"serverURL"`

	// ClientID is the identifier for this client
	ClientID string `yaml:"clientId"`

	// Role asks the gateway for a narrower token, e.g. "observer" for a
	// client that only watches. Empty takes the client's full role.
	Role string `yaml:"role"`

	// Timeout for HTTP requests. Streams and waited commands are not bound by it.
	Timeout time.Duration `yaml:"timeout"`

	// StreamBufferSize bounds notifications queued for one subscription callback
	StreamBufferSize int `yaml:"streamBufferSize"`
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.StreamBufferSize == 0 {
		c.StreamBufferSize = 100
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type actionsResponse struct {
	Actions []command.Action `json:"actions"`
}

type createActionResponse struct {
	Handle command.ActionHandle `json:"handle"`
}

type createSequenceResponse struct {
	Handle command.SequenceHandle `json:"handle"`
}

type servoingModeRequest struct {
	Mode command.ServoingMode `json:"mode"`
}

type faultRequest struct {
	Code      notification.SubErrorCode `json:"code"`
	TaskIndex int                       `json:"taskIndex"`
}

// OutcomeResponse is the gateway's answer to a waited command
type OutcomeResponse struct {
	Handle  string                  `json:"handle"`
	Status  string                  `json:"status"`
	Reason  *completion.AbortReason `json:"reason,omitempty"`
	Elapsed string                  `json:"elapsed"`
}

// Outcome converts the response to a completion.Outcome.
func (r OutcomeResponse) Outcome() completion.Outcome {
	switch r.Status {
	case completion.StatusCompleted.String():
		return completion.Completed()
	case completion.StatusAborted.String():
		if r.Reason != nil {
			return completion.Aborted(*r.Reason)
		}
		return completion.Outcome{Status: completion.StatusAborted}
	case completion.StatusTimedOut.String():
		return completion.TimedOut()
	default:
		return completion.Outcome{}
	}
}

// HistoryEntry is one recorded notification
type HistoryEntry struct {
	Offset       int64                     `json:"offset"`
	Notification notification.Notification `json:"notification"`
}

// HistoryResponse represents a page of notification history for one topic
type HistoryResponse struct {
	Topic       notification.Topic `json:"topic"`
	Entries     []HistoryEntry     `json:"entries"`
	StartOffset int64              `json:"startOffset"`
	EndOffset   int64              `json:"endOffset"`
	Count       int                `json:"count"`
}

// HistoryStatistics summarises the gateway's notification history
type HistoryStatistics struct {
	TotalEntries int64                        `json:"totalEntries"`
	TopicCounts  map[notification.Topic]int64 `json:"topicCounts"`
}

// AdminStatsResponse represents gateway statistics
type AdminStatsResponse struct {
	History       HistoryStatistics `json:"history"`
	StreamClients int               `json:"streamClients"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy           bool   `json:"healthy"`
	ControllerHealthy bool   `json:"controllerHealthy"`
	ServoingMode      string `json:"servoingMode,omitempty"`
	StreamClients     int    `json:"streamClients"`
	Message           string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Reason  string `json:"reason,omitempty"`
}

// StreamMessage is one notification received on a stream
type StreamMessage struct {
	Topic notification.Topic

	// Offset is the notification's history offset, or -1 when the gateway
	// does not record history
	Offset int64

	Notification notification.Notification
}
