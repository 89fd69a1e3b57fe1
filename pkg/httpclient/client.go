// Package httpclient talks to a kortex gateway over HTTP.
//
// Client implements command.Service and notification.Service, so the
// completion invoker can drive a remote controller exactly like a local
// one: commands are REST calls and notifications arrive over Server-Sent
// Events.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/internal/reasons"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

var (
	// ErrNotAuthenticated is returned when a call needs a token and Authenticate was not called
	ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")
	// ErrUnauthorized is matched by APIErrors with status 401 or 403
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx gateway response. It unwraps to the command or
// notification sentinel named by its reason, so errors.Is works across
// the wire.
type APIError struct {
	StatusCode int
	Message    string
	Reason     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap maps the gateway reason to a sentinel error.
func (e *APIError) Unwrap() error {
	if err := reasons.Err(e.Reason); err != nil {
		return err
	}
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// Client provides HTTP client for the gateway API
type Client struct {
	config       Config
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      *url.URL
	logger       *zap.SugaredLogger

	mu      sync.Mutex
	token   string
	streams map[notification.Handle]*stream
}

var (
	_ command.Service      = (*Client)(nil)
	_ notification.Service = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// WithHTTPClient replaces the request client. Its transport is shared with
// the stream client, which never times out.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = &http.Client{Transport: hc.Transport}
	}
}

// NewClient creates a new gateway HTTP client
func NewClient(config Config, opts ...Option) (*Client, error) {
	config.SetDefaults()

	// Validate required config
	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	// Parse base URL
	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	client := &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
		baseURL:      baseURL,
		logger:       logging.Nop(),
		streams:      make(map[notification.Handle]*stream),
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Authenticate authenticates with the gateway and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}
	if c.config.Role != "" {
		authReq["role"] = c.config.Role
	}

	var authResp AuthResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.SetToken(authResp.Token)
	return nil
}

// Commands

// ReadAllActions implements command.Service.
func (c *Client) ReadAllActions(ctx context.Context, actionType command.ActionType) ([]command.Action, error) {
	query := url.Values{}
	if actionType != command.ActionTypeUnspecified {
		query.Set("type", actionType.String())
	}

	var resp actionsResponse
	if err := c.doRequestWithQuery(ctx, http.MethodGet, "/api/v1/actions", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to read actions: %w", err)
	}
	return resp.Actions, nil
}

// CreateAction implements command.Service.
func (c *Client) CreateAction(ctx context.Context, action command.Action) (command.ActionHandle, error) {
	var resp createActionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/actions", action, &resp, true); err != nil {
		return "", fmt.Errorf("failed to create action: %w", err)
	}
	return resp.Handle, nil
}

// ExecuteAction implements command.Service. It returns once the
// controller accepted the action.
func (c *Client) ExecuteAction(ctx context.Context, handle command.ActionHandle) error {
	if err := c.doRequest(ctx, http.MethodPost, actionPath(handle), nil, nil, true); err != nil {
		return fmt.Errorf("failed to execute action: %w", err)
	}
	return nil
}

// ExecuteActionAndWait asks the gateway to execute the action and watch it
// for up to wait.
func (c *Client) ExecuteActionAndWait(ctx context.Context, handle command.ActionHandle, wait time.Duration) (completion.Outcome, error) {
	return c.waitRequest(ctx, actionPath(handle), wait)
}

// CreateSequence implements command.Service.
func (c *Client) CreateSequence(ctx context.Context, seq command.Sequence) (command.SequenceHandle, error) {
	var resp createSequenceResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sequences", seq, &resp, true); err != nil {
		return "", fmt.Errorf("failed to create sequence: %w", err)
	}
	return resp.Handle, nil
}

// PlaySequence implements command.Service.
func (c *Client) PlaySequence(ctx context.Context, handle command.SequenceHandle) error {
	if err := c.doRequest(ctx, http.MethodPost, sequencePath(handle), nil, nil, true); err != nil {
		return fmt.Errorf("failed to play sequence: %w", err)
	}
	return nil
}

// PlaySequenceAndWait asks the gateway to play the sequence and watch it
// for up to wait.
func (c *Client) PlaySequenceAndWait(ctx context.Context, handle command.SequenceHandle, wait time.Duration) (completion.Outcome, error) {
	return c.waitRequest(ctx, sequencePath(handle), wait)
}

// SetServoingMode implements command.Service.
func (c *Client) SetServoingMode(ctx context.Context, mode command.ServoingMode) error {
	if err := c.doRequest(ctx, http.MethodPut, "/api/v1/servoing-mode", servoingModeRequest{Mode: mode}, nil, true); err != nil {
		return fmt.Errorf("failed to set servoing mode: %w", err)
	}
	return nil
}

// SendGripperCommand implements command.Service.
func (c *Client) SendGripperCommand(ctx context.Context, cmd command.GripperCommand) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/gripper", cmd, nil, true); err != nil {
		return fmt.Errorf("failed to send gripper command: %w", err)
	}
	return nil
}

// RefreshFeedback implements command.Service.
func (c *Client) RefreshFeedback(ctx context.Context) (command.Feedback, error) {
	var fb command.Feedback
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/feedback", nil, &fb, true); err != nil {
		return command.Feedback{}, fmt.Errorf("failed to refresh feedback: %w", err)
	}
	return fb, nil
}

// History and status

// History reads recorded notifications of topic starting at offset
func (c *Client) History(ctx context.Context, topic notification.Topic, offset int64, limit int) (*HistoryResponse, error) {
	path := "/api/v1/notifications/" + url.PathEscape(topic.String())
	query := url.Values{}
	if offset >= 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp HistoryResponse
	if err := c.doRequestWithQuery(ctx, http.MethodGet, path, query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return &resp, nil
}

// GetHealth returns the health status of the gateway
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			return &HealthResponse{Healthy: false, Message: apiErr.Message}, nil
		}
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}

	return &resp, nil
}

// Admin Methods (require admin token)

// AdminGetStats returns gateway statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// AdminInjectFault makes the next controller operation abort with code (admin only)
func (c *Client) AdminInjectFault(ctx context.Context, code notification.SubErrorCode, taskIndex int) error {
	req := faultRequest{Code: code, TaskIndex: taskIndex}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/admin/faults", req, nil, true); err != nil {
		return fmt.Errorf("failed to inject fault: %w", err)
	}
	return nil
}

// AdminClearFaults removes pending faults (admin only)
func (c *Client) AdminClearFaults(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/admin/faults", nil, nil, true); err != nil {
		return fmt.Errorf("failed to clear faults: %w", err)
	}
	return nil
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.GetToken() != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) waitRequest(ctx context.Context, path string, wait time.Duration) (completion.Outcome, error) {
	query := url.Values{}
	query.Set("wait", wait.String())

	var resp OutcomeResponse
	if err := c.doRequestWithClient(ctx, c.streamClient, http.MethodPost, path, query, nil, &resp, true); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return completion.Outcome{}, ctxErr
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && errors.Is(apiErr, completion.ErrSubscription) {
			return completion.Outcome{}, &completion.SubscriptionError{Err: err}
		}
		return completion.Outcome{}, &completion.CommandError{Err: err}
	}
	return resp.Outcome(), nil
}

// doRequestWithQuery performs an HTTP request with query parameters and optional authentication
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	return c.doRequestWithClient(ctx, c.httpClient, method, path, queryParams, reqBody, respBody, requireAuth)
}

func (c *Client) doRequestWithClient(ctx context.Context, hc *http.Client, method, path string, queryParams url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	token := c.GetToken()
	if requireAuth && token == "" {
		return ErrNotAuthenticated
	}

	// Build full URL with query parameters
	fullURL := c.resolve(path, queryParams)

	// Prepare request body
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, bodyBytes)
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

func (c *Client) resolve(path string, queryParams url.Values) string {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	return c.baseURL.ResolveReference(u).String()
}

func decodeAPIError(statusCode int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
		return &APIError{StatusCode: statusCode, Message: string(bytes.TrimSpace(body))}
	}
	return &APIError{StatusCode: statusCode, Message: errResp.Message, Reason: errResp.Reason}
}

func actionPath(handle command.ActionHandle) string {
	return "/api/v1/actions/" + url.PathEscape(string(handle)) + "/execute"
}

func sequencePath(handle command.SequenceHandle) string {
	return "/api/v1/sequences/" + url.PathEscape(string(handle)) + "/play"
}
