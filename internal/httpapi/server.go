package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Snehask3825/kortex/internal/invoker"
	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/internal/notifylog"
	"github.com/Snehask3825/kortex/internal/subscription"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/notification"
)

var (
	// ErrMissingSecretKey is returned when no JWT secret is configured
	ErrMissingSecretKey = errors.New("gateway secret key is required")
	// ErrMissingCommands is returned when the server has no command service
	ErrMissingCommands = errors.New("gateway requires a command service")
	// ErrMissingNotifications is returned when the server has no notification service
	ErrMissingNotifications = errors.New("gateway requires a notification service")
)

// Config holds server configuration
type Config struct {
	Port      string `yaml:"port"`
	SecretKey string `yaml:"secretKey"`

	// NoAuth skips token checks on non-admin endpoints. Development only.
	NoAuth bool `yaml:"noAuth"`

	// AdminClientID is the client ID that receives admin tokens on login
	AdminClientID string `yaml:"adminClientId"`

	TokenTTL          time.Duration `yaml:"tokenTTL"`
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	StreamBufferSize  int           `yaml:"streamBufferSize"`

	// DefaultWait is used for "?wait" without a duration; MaxWait caps any wait
	DefaultWait time.Duration `yaml:"defaultWait"`
	MaxWait     time.Duration `yaml:"maxWait"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.AdminClientID == "" {
		c.AdminClientID = "admin"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
	if c.StreamBufferSize <= 0 {
		c.StreamBufferSize = 64
	}
	if c.DefaultWait <= 0 {
		c.DefaultWait = invoker.DefaultTimeout
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 2 * time.Minute
	}
}

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return ErrMissingSecretKey
	}
	if c.DefaultWait > c.MaxWait {
		return fmt.Errorf("defaultWait %s exceeds maxWait %s", c.DefaultWait, c.MaxWait)
	}
	return nil
}

// Dependencies are the services the gateway exposes.
type Dependencies struct {
	Commands      command.Service
	Notifications notification.Service

	// History serves the notification history endpoints when set
	History *notifylog.Log

	// Faults enables the admin fault endpoints when set
	Faults FaultInjector

	// Invoker watches commands issued with "?wait". When nil one is built
	// over Notifications.
	Invoker *invoker.Invoker

	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer

	Logger *zap.SugaredLogger
}

// Server represents the HTTP API server
type Server struct {
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	gatherer   prometheus.Gatherer
	logger     *zap.SugaredLogger

	// closing is the base context of every request; Stop cancels it
	closing    context.Context
	stopStream context.CancelFunc
}

// NewServer creates a new HTTP API server
func NewServer(deps Dependencies, config Config) (*Server, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Commands == nil {
		return nil, ErrMissingCommands
	}
	if deps.Notifications == nil {
		return nil, ErrMissingNotifications
	}

	logger := logging.OrNop(deps.Logger).Named("gateway")

	inv := deps.Invoker
	if inv == nil {
		inv = invoker.New(
			subscription.NewManager(deps.Notifications, subscription.WithLogger(logger)),
			invoker.WithLogger(logger),
		)
	}

	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL)
	server := &Server{
		handlers: &Handlers{
			commands:      deps.Commands,
			notifications: deps.Notifications,
			history:       deps.History,
			faults:        deps.Faults,
			invoker:       inv,
			jwtAuth:       jwtAuth,
			config:        config,
			logger:        logger,
		},
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		gatherer:   deps.Gatherer,
		logger:     logger,
	}

	server.closing, server.stopStream = context.WithCancel(context.Background())

	// No WriteTimeout: notification streams and waited commands outlive it.
	server.server = &http.Server{
		Addr:              ":" + config.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
		BaseContext: func(net.Listener) context.Context {
			return server.closing
		},
	}

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Infow("Gateway listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Serve accepts connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Infow("Gateway listening", "addr", l.Addr().String())
	return s.server.Serve(l)
}

// Stop cancels in-flight requests, which ends notification streams and
// waited commands, then drains connections until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.stopStream()
	return s.server.Shutdown(ctx)
}

// StreamClients returns the number of open notification streams.
func (s *Server) StreamClients() int {
	return s.handlers.StreamClients()
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := s.setupRoutes()
	return s.middleware.CORS(mux.ServeHTTP)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	h := s.handlers
	m := s.middleware

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return m.Recovery(
			m.Logging(
				m.ContentType(handler)))
	}
	as := func(role Role, handler http.HandlerFunc) http.Handler {
		return withMiddleware(m.Require(role, handler))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("POST /api/v1/auth/login", withMiddleware(h.Login))

	// Command endpoints
	mux.Handle("GET /api/v1/actions", as(RoleObserver, h.ListActions))
	mux.Handle("POST /api/v1/actions", as(RoleOperator, h.CreateAction))
	mux.Handle("POST /api/v1/actions/{handle}/execute", as(RoleOperator, h.ExecuteAction))
	mux.Handle("POST /api/v1/sequences", as(RoleOperator, h.CreateSequence))
	mux.Handle("POST /api/v1/sequences/{handle}/play", as(RoleOperator, h.PlaySequence))
	mux.Handle("PUT /api/v1/servoing-mode", as(RoleOperator, h.SetServoingMode))
	mux.Handle("POST /api/v1/gripper", as(RoleOperator, h.SendGripperCommand))
	mux.Handle("GET /api/v1/feedback", as(RoleObserver, h.GetFeedback))

	// Notification endpoints
	mux.Handle("GET /api/v1/notifications/stream", as(RoleObserver, h.StreamNotifications))
	mux.Handle("GET /api/v1/notifications/{topic}", as(RoleObserver, h.ReadHistory))

	// Admin endpoints (never bypassed by NoAuth)
	mux.Handle("POST /api/v1/admin/faults", as(RoleAdmin, h.InjectFault))
	mux.Handle("DELETE /api/v1/admin/faults", as(RoleAdmin, h.ClearFaults))
	mux.Handle("GET /api/v1/admin/stats", as(RoleAdmin, h.AdminGetStats))

	// Health endpoint (no auth required)
	mux.Handle("GET /api/v1/health", withMiddleware(h.Health))

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Root endpoint with API info
	mux.Handle("GET /{$}", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service":     "kortex gateway",
		"version":     "1.0.0",
		"description": "HTTP API for commanding the arm and following its notifications",
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"actions": map[string]string{
				"list":    "GET /api/v1/actions?type={type}",
				"create":  "POST /api/v1/actions",
				"execute": "POST /api/v1/actions/{handle}/execute?wait={duration}",
			},
			"sequences": map[string]string{
				"create": "POST /api/v1/sequences",
				"play":   "POST /api/v1/sequences/{handle}/play?wait={duration}",
			},
			"controller": map[string]string{
				"servoingMode": "PUT /api/v1/servoing-mode",
				"gripper":      "POST /api/v1/gripper",
				"feedback":     "GET /api/v1/feedback",
			},
			"notifications": map[string]string{
				"stream":  "GET /api/v1/notifications/stream?topic={topic}",
				"history": "GET /api/v1/notifications/{topic}?offset={offset}&limit={limit}",
			},
			"admin": map[string]string{
				"injectFault": "POST /api/v1/admin/faults",
				"clearFaults": "DELETE /api/v1/admin/faults",
				"stats":       "GET /api/v1/admin/stats",
			},
			"health":  "GET /api/v1/health",
			"metrics": "GET /metrics",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
