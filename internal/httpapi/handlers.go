package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Snehask3825/kortex/internal/controller"
	"github.com/Snehask3825/kortex/internal/eventfilter"
	"github.com/Snehask3825/kortex/internal/invoker"
	"github.com/Snehask3825/kortex/internal/notifylog"
	"github.com/Snehask3825/kortex/internal/reasons"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// FaultInjector makes the next controller operation abort.
type FaultInjector interface {
	InjectFault(f controller.Fault)
	ClearFaults()
}

// ServoingReporter exposes the controller's current servoing mode for health checks.
type ServoingReporter interface {
	ServoingMode() command.ServoingMode
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	commands      command.Service
	notifications notification.Service
	history       *notifylog.Log
	faults        FaultInjector
	invoker       *invoker.Invoker
	jwtAuth       *JWTAuth
	config        Config
	logger        *zap.SugaredLogger

	streamClients atomic.Int64
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	granted := RoleOperator
	if req.ClientID == h.config.AdminClientID {
		granted = RoleAdmin
	}
	role := granted
	if req.Role != "" {
		if !granted.Allows(req.Role) {
			writeError(w, fmt.Sprintf("Client %s may not act as %s", req.ClientID, req.Role), http.StatusForbidden)
			return
		}
		role = req.Role
	}

	token, expiresAt, err := h.jwtAuth.Issue(req.ClientID, role)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	h.logger.Debugw("Token issued", "client", req.ClientID, "role", role)

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		Role:      role,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Action endpoints

// ListActions handles GET /api/v1/actions?type={ACTION_TYPE}
func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	actionType := command.ActionTypeUnspecified
	if raw := r.URL.Query().Get("type"); raw != "" {
		if err := actionType.UnmarshalText([]byte(raw)); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	actions, err := h.commands.ReadAllActions(r.Context(), actionType)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}

	writeJSON(w, ActionsResponse{Actions: actions}, http.StatusOK)
}

// CreateAction handles POST /api/v1/actions
func (h *Handlers) CreateAction(w http.ResponseWriter, r *http.Request) {
	var action command.Action
	if !h.decodeJSON(w, r, &action) {
		return
	}

	handle, err := h.commands.CreateAction(r.Context(), action)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}

	writeJSON(w, CreateActionResponse{Handle: handle}, http.StatusCreated)
}

// ExecuteAction handles POST /api/v1/actions/{handle}/execute[?wait={duration}]
//
// Without wait the response is 202 once the controller accepted the action.
// With wait the gateway watches ActionEvents and answers with the outcome.
func (h *Handlers) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	handle := command.ActionHandle(r.PathValue("handle"))

	wait, ok := h.parseWait(w, r)
	if !ok {
		return
	}
	if wait == 0 {
		if err := h.commands.ExecuteAction(r.Context(), handle); err != nil {
			h.writeCommandError(w, err)
			return
		}
		writeJSON(w, AcceptedResponse{Handle: string(handle), Accepted: true}, http.StatusAccepted)
		return
	}

	start := time.Now()
	outcome, err := h.invoker.ExecuteAction(r.Context(), h.commands, handle, wait)
	h.writeOutcome(w, string(handle), outcome, err, time.Since(start))
}

// Sequence endpoints

// CreateSequence handles POST /api/v1/sequences
func (h *Handlers) CreateSequence(w http.ResponseWriter, r *http.Request) {
	var seq command.Sequence
	if !h.decodeJSON(w, r, &seq) {
		return
	}

	handle, err := h.commands.CreateSequence(r.Context(), seq)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}

	writeJSON(w, CreateSequenceResponse{Handle: handle}, http.StatusCreated)
}

// PlaySequence handles POST /api/v1/sequences/{handle}/play[?wait={duration}]
func (h *Handlers) PlaySequence(w http.ResponseWriter, r *http.Request) {
	handle := command.SequenceHandle(r.PathValue("handle"))

	wait, ok := h.parseWait(w, r)
	if !ok {
		return
	}
	if wait == 0 {
		if err := h.commands.PlaySequence(r.Context(), handle); err != nil {
			h.writeCommandError(w, err)
			return
		}
		writeJSON(w, AcceptedResponse{Handle: string(handle), Accepted: true}, http.StatusAccepted)
		return
	}

	start := time.Now()
	outcome, err := h.invoker.Run(r.Context(), func(ctx context.Context) error {
		return h.commands.PlaySequence(ctx, handle)
	}, notification.TopicSequences, eventfilter.ForSequences(h.logger), wait)
	h.writeOutcome(w, string(handle), outcome, err, time.Since(start))
}

// Controller endpoints

// SetServoingMode handles PUT /api/v1/servoing-mode
func (h *Handlers) SetServoingMode(w http.ResponseWriter, r *http.Request) {
	var req ServoingModeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.commands.SetServoingMode(r.Context(), req.Mode); err != nil {
		h.writeCommandError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SendGripperCommand handles POST /api/v1/gripper
func (h *Handlers) SendGripperCommand(w http.ResponseWriter, r *http.Request) {
	var cmd command.GripperCommand
	if !h.decodeJSON(w, r, &cmd) {
		return
	}

	if err := h.commands.SendGripperCommand(r.Context(), cmd); err != nil {
		h.writeCommandError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetFeedback handles GET /api/v1/feedback
func (h *Handlers) GetFeedback(w http.ResponseWriter, r *http.Request) {
	fb, err := h.commands.RefreshFeedback(r.Context())
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, fb, http.StatusOK)
}

// Notification endpoints

// Replayer is a notification service that can replay recorded
// notifications ahead of live ones and report each one's history offset.
type Replayer interface {
	SubscribeFrom(ctx context.Context, topic notification.Topic, fromOffset int64, cb func(notifylog.Entry), opts notification.Options) (notification.Handle, <-chan notifylog.Entry, error)
}

// noReplay asks a Replayer for live notifications only.
const noReplay int64 = -1

// StreamNotifications handles GET /api/v1/notifications/stream?topic={topic}[&fromOffset={offset}]
//
// The stream starts with a ": subscribed <handle>" comment written after the
// subscription is registered; notifications published after that comment
// are delivered as "event: <topic>" messages with a JSON data line. When
// the notification service records history each message carries its offset
// as the SSE id, and fromOffset replays retained notifications from that
// offset before live ones.
func (h *Handlers) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	topic, err := notification.ParseTopic(query.Get("topic"))
	if err != nil {
		writeErrorReason(w, fmt.Sprintf("Invalid topic %q", query.Get("topic")), http.StatusBadRequest, ReasonUnknownTopic)
		return
	}

	fromOffset := noReplay
	if raw := query.Get("fromOffset"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, "fromOffset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		fromOffset = v
	}

	replayer, canReplay := h.notifications.(Replayer)
	if fromOffset >= 0 && (!canReplay || h.history == nil) {
		writeError(w, "Notification replay not enabled", http.StatusNotImplemented)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	events := notification.NewQueue[notifylog.Entry](h.config.StreamBufferSize)
	push := func(e notifylog.Entry) {
		if !events.Push(e) {
			h.logger.Warnw("Stream client too slow, dropped notification", "topic", topic, "event", e.Notification.EventName())
		}
	}

	var (
		handle notification.Handle
		replay <-chan notifylog.Entry
	)
	if canReplay {
		handle, replay, err = replayer.SubscribeFrom(ctx, topic, fromOffset, push, notification.Options{})
	} else {
		handle, err = h.notifications.Subscribe(ctx, topic, func(n notification.Notification) {
			push(notifylog.Entry{Offset: noReplay, Notification: n})
		}, notification.Options{})
	}
	if err != nil {
		writeErrorReason(w, fmt.Sprintf("Failed to subscribe: %v", err), http.StatusServiceUnavailable, ReasonSubscription)
		return
	}
	defer func() {
		if err := h.notifications.Unsubscribe(context.WithoutCancel(ctx), handle); err != nil {
			h.logger.Warnw("Failed to release stream subscription", "handle", handle, "error", err)
		}
	}()

	h.streamClients.Add(1)
	defer h.streamClients.Add(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": subscribed %s\n\n", handle)
	flusher.Flush()

	for e := range replay {
		if err := writeSSEEntry(w, e); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-events.Ready():
			for e, ok := events.Pop(); ok; e, ok = events.Pop() {
				if err := writeSSEEntry(w, e); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}
}

// ReadHistory handles GET /api/v1/notifications/{topic}?offset={offset}&limit={limit}
func (h *Handlers) ReadHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, "Notification history not enabled", http.StatusNotImplemented)
		return
	}

	topic, err := notification.ParseTopic(r.PathValue("topic"))
	if err != nil {
		writeErrorReason(w, fmt.Sprintf("Invalid topic %q", r.PathValue("topic")), http.StatusBadRequest, ReasonUnknownTopic)
		return
	}

	offset, limit, err := parsePage(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	entries, err := h.history.Read(ctx, topic, offset, limit)
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}
	end, err := h.history.EndOffset(ctx, topic)
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to read history: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, HistoryResponse{
		Topic:       topic,
		Entries:     entries,
		StartOffset: offset,
		EndOffset:   end,
		Count:       len(entries),
	}, http.StatusOK)
}

// Admin endpoints

// InjectFault handles POST /api/v1/admin/faults
func (h *Handlers) InjectFault(w http.ResponseWriter, r *http.Request) {
	if h.faults == nil {
		writeError(w, "Fault injection not available", http.StatusNotImplemented)
		return
	}

	var req FaultRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	h.faults.InjectFault(req)
	h.logger.Infow("Fault injected by admin", "client", ClientID(r), "code", req.Code.Name())
	w.WriteHeader(http.StatusNoContent)
}

// ClearFaults handles DELETE /api/v1/admin/faults
func (h *Handlers) ClearFaults(w http.ResponseWriter, r *http.Request) {
	if h.faults == nil {
		writeError(w, "Fault injection not available", http.StatusNotImplemented)
		return
	}
	h.faults.ClearFaults()
	w.WriteHeader(http.StatusNoContent)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	resp := AdminStatsResponse{StreamClients: int(h.streamClients.Load())}
	if h.history != nil {
		stats, err := h.history.Statistics(r.Context())
		if err != nil {
			writeError(w, fmt.Sprintf("Failed to read statistics: %v", err), http.StatusInternalServerError)
			return
		}
		resp.History = stats
	}

	writeJSON(w, resp, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Healthy:           true,
		ControllerHealthy: true,
		StreamClients:     int(h.streamClients.Load()),
		Message:           "ok",
	}

	if _, err := h.commands.RefreshFeedback(r.Context()); err != nil {
		resp.Healthy = false
		resp.ControllerHealthy = false
		resp.Message = fmt.Sprintf("controller unavailable: %v", err)
	}
	if sr, ok := h.commands.(ServoingReporter); ok {
		resp.ServoingMode = sr.ServoingMode().String()
	}

	statusCode := http.StatusOK
	if !resp.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// StreamClients returns the number of open notification streams.
func (h *Handlers) StreamClients() int {
	return int(h.streamClients.Load())
}

// Helper methods

func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// parseWait reads the optional wait query parameter. A bare "wait" or
// "wait=true" selects the configured default.
func (h *Handlers) parseWait(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	q := r.URL.Query()
	if !q.Has("wait") {
		return 0, true
	}
	raw := q.Get("wait")
	if raw == "" || raw == "true" {
		return h.config.DefaultWait, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		writeError(w, fmt.Sprintf("Invalid wait duration %q", raw), http.StatusBadRequest)
		return 0, false
	}
	if d > h.config.MaxWait {
		d = h.config.MaxWait
	}
	return d, true
}

func (h *Handlers) writeOutcome(w http.ResponseWriter, handle string, outcome completion.Outcome, err error, elapsed time.Duration) {
	if err != nil {
		var cmdErr *completion.CommandError
		switch {
		case errors.As(err, &cmdErr):
			h.writeCommandError(w, cmdErr.Err)
		case errors.Is(err, completion.ErrSubscription):
			writeErrorReason(w, err.Error(), http.StatusServiceUnavailable, ReasonSubscription)
		default:
			writeError(w, err.Error(), http.StatusGatewayTimeout)
		}
		return
	}

	writeJSON(w, OutcomeResponse{
		Handle:  handle,
		Status:  outcome.Status.String(),
		Reason:  outcome.Reason,
		Elapsed: elapsed.Round(time.Millisecond).String(),
	}, http.StatusOK)
}

// writeCommandError maps controller errors to status codes and stable reasons.
func (h *Handlers) writeCommandError(w http.ResponseWriter, err error) {
	reason := reasons.Of(err)
	var status int
	switch reason {
	case reasons.UnknownAction, reasons.UnknownSequence:
		status = http.StatusNotFound
	case reasons.EmptySequence, reasons.InvalidAction, reasons.InvalidGripper:
		status = http.StatusBadRequest
	case reasons.ServoingMode:
		status = http.StatusConflict
	default:
		if errors.Is(err, controller.ErrClosed) {
			status, reason = http.StatusServiceUnavailable, reasons.ControllerClosed
			break
		}
		status, reason = http.StatusBadGateway, reasons.ControllerFailure
		h.logger.Errorw("Controller command failed", "error", err)
	}
	writeErrorReason(w, err.Error(), status, reason)
}

// validateJSON validates that the request has valid JSON content-type
func validateJSON(r *http.Request) error {
	if r.Header.Get("Content-Type") != "application/json" {
		return errors.New("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return errors.New("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return errors.New("clientId must be at least 2 characters")
	}
	if req.Role != "" && !req.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, req.Role)
	}
	return nil
}

func parsePage(r *http.Request) (int64, int, error) {
	q := r.URL.Query()

	var offset int64
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = v
	}

	limit := defaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("limit must be a non-negative integer")
		}
		limit = min(v, maxHistoryLimit)
	}

	return offset, limit, nil
}

// writeSSEEntry writes e as one SSE message, with its offset as the id
// when it was recorded.
func writeSSEEntry(w http.ResponseWriter, e notifylog.Entry) error {
	data, err := json.Marshal(e.Notification)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	if e.Offset >= 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", e.Offset); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Notification.Topic(), data)
	return err
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeErrorReason(w, message, statusCode, "")
}

func writeErrorReason(w http.ResponseWriter, message string, statusCode int, reason string) {
	writeJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
		Reason:  reason,
	}, statusCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
