package httpapi

import (
	"time"

	"github.com/Snehask3825/kortex/internal/controller"
	"github.com/Snehask3825/kortex/internal/notifylog"
	"github.com/Snehask3825/kortex/internal/reasons"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`

	// Role asks for a narrower token. Empty grants the client's full role.
	Role Role `json:"role,omitempty"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ActionsResponse lists stored actions
type ActionsResponse struct {
	Actions []command.Action `json:"actions"`
}

// CreateActionResponse returns the handle of a stored action
type CreateActionResponse struct {
	Handle command.ActionHandle `json:"handle"`
}

// CreateSequenceResponse returns the handle of a stored sequence
type CreateSequenceResponse struct {
	Handle command.SequenceHandle `json:"handle"`
}

// AcceptedResponse is returned when a motion command was accepted and the
// caller did not ask to wait for it
type AcceptedResponse struct {
	Handle   string `json:"handle"`
	Accepted bool   `json:"accepted"`
}

// OutcomeResponse is returned when the caller waited for a motion to finish
type OutcomeResponse struct {
	Handle  string                  `json:"handle"`
	Status  string                  `json:"status"`
	Reason  *completion.AbortReason `json:"reason,omitempty"`
	Elapsed string                  `json:"elapsed"`
}

// ServoingModeRequest switches the controller servoing mode
type ServoingModeRequest struct {
	Mode command.ServoingMode `json:"mode"`
}

// FaultRequest injects a fault into the simulated controller
type FaultRequest = controller.Fault

// HistoryResponse represents a page of notification history for one topic
type HistoryResponse struct {
	Topic       notification.Topic `json:"topic"`
	Entries     []notifylog.Entry  `json:"entries"`
	StartOffset int64              `json:"startOffset"`
	EndOffset   int64              `json:"endOffset"`
	Count       int                `json:"count"`
}

// AdminStatsResponse represents gateway statistics
type AdminStatsResponse struct {
	History       notifylog.Statistics `json:"history"`
	StreamClients int                  `json:"streamClients"`
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
	// Reason is a stable machine-readable cause, see the Reason* constants
	Reason string `json:"reason,omitempty"`
}

// Stable error reasons shared with clients.
const (
	ReasonUnknownAction     = reasons.UnknownAction
	ReasonUnknownSequence   = reasons.UnknownSequence
	ReasonEmptySequence     = reasons.EmptySequence
	ReasonInvalidAction     = reasons.InvalidAction
	ReasonInvalidGripper    = reasons.InvalidGripper
	ReasonServoingMode      = reasons.ServoingMode
	ReasonUnknownTopic      = reasons.UnknownTopic
	ReasonSubscription      = reasons.Subscription
	ReasonControllerClosed  = reasons.ControllerClosed
	ReasonControllerFailure = reasons.ControllerFailure
)
