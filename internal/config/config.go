// Package config loads the kortexd configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Snehask3825/kortex/internal/bus"
	"github.com/Snehask3825/kortex/internal/controller"
	"github.com/Snehask3825/kortex/internal/httpapi"
	"github.com/Snehask3825/kortex/internal/invoker"
	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/internal/notifylog"
	"github.com/Snehask3825/kortex/internal/redisbus"
	"github.com/Snehask3825/kortex/internal/rpc"
)

var (
	// ErrInvalidWaitTimeout is returned when the default wait is not positive
	ErrInvalidWaitTimeout = errors.New("wait timeout must be positive")
	// ErrInvalidRetention is returned when history is enabled without retention
	ErrInvalidRetention = errors.New("history retention must be positive")
)

// WaitConfig controls how long watched commands wait for their outcome
type WaitConfig struct {
	// Timeout is the default wait for a terminal notification
	Timeout time.Duration `yaml:"timeout"`

	// ReleaseTimeout bounds the unsubscribe made when a watch ends
	ReleaseTimeout time.Duration `yaml:"releaseTimeout"`
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *WaitConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = invoker.DefaultTimeout
	}
	if c.ReleaseTimeout == 0 {
		c.ReleaseTimeout = 5 * time.Second
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *WaitConfig) Validate() error {
	if c.Timeout <= 0 {
		return ErrInvalidWaitTimeout
	}
	return nil
}

// HistoryConfig controls the in-memory notification history
type HistoryConfig struct {
	Disabled bool `yaml:"disabled"`

	// Retention is the number of notifications kept per topic
	Retention int `yaml:"retention"`
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *HistoryConfig) SetDefaults() {
	if c.Retention == 0 {
		c.Retention = notifylog.DefaultRetention
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *HistoryConfig) Validate() error {
	if !c.Disabled && c.Retention <= 0 {
		return ErrInvalidRetention
	}
	return nil
}

// Config is the complete kortexd configuration
type Config struct {
	Controller controller.Config `yaml:"controller"`
	Gateway    httpapi.Config    `yaml:"gateway"`
	RPC        rpc.Config        `yaml:"rpc"`

	// Redis mirrors notifications to Redis pub/sub when set
	Redis *redisbus.Config `yaml:"redis"`

	Logging logging.Config `yaml:"logging"`
	Wait    WaitConfig     `yaml:"wait"`
	Bus     bus.Config     `yaml:"bus"`
	History HistoryConfig  `yaml:"history"`
}

// New returns a configuration with every default applied.
func New() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// Load reads a YAML file and applies defaults. Unknown keys are rejected.
// The result is not validated; flags may still override it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	c := &Config{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.SetDefaults()
	return c, nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Wait.SetDefaults()
	c.Controller.SetDefaults()
	// The gateway's ?wait default follows wait.timeout unless set explicitly
	if c.Gateway.DefaultWait == 0 {
		c.Gateway.DefaultWait = c.Wait.Timeout
	}
	c.Gateway.SetDefaults()
	c.RPC.SetDefaults()
	if c.Redis != nil {
		c.Redis.SetDefaults()
	}
	c.Logging.SetDefaults()
	c.Bus.SetDefaults()
	c.History.SetDefaults()
}

// Validate validates every section and returns the first error.
func (c *Config) Validate() error {
	if err := c.Controller.Validate(); err != nil {
		return fmt.Errorf("invalid controller config: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}
	if err := c.RPC.Validate(); err != nil {
		return fmt.Errorf("invalid rpc config: %w", err)
	}
	if c.Redis != nil {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis config: %w", err)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Wait.Validate(); err != nil {
		return fmt.Errorf("invalid wait config: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("invalid history config: %w", err)
	}
	return nil
}

// WithSecretKey sets the gateway's JWT secret
func (c *Config) WithSecretKey(key string) *Config {
	c.Gateway.SecretKey = key
	return c
}

// WithGatewayPort sets the gateway's HTTP port
func (c *Config) WithGatewayPort(port string) *Config {
	c.Gateway.Port = port
	return c
}

// WithRPCAddress sets the gRPC listen address
func (c *Config) WithRPCAddress(addr string) *Config {
	c.RPC.Address = addr
	return c
}

// WithRedisURL enables the Redis notification mirror
func (c *Config) WithRedisURL(url string) *Config {
	if c.Redis == nil {
		c.Redis = &redisbus.Config{}
		c.Redis.SetDefaults()
	}
	c.Redis.URL = url
	return c
}

// WithLogLevel sets the logging level
func (c *Config) WithLogLevel(level logging.Level) *Config {
	c.Logging.Level = level
	return c
}

// WithNoAuth disables token checks on non-admin gateway endpoints
func (c *Config) WithNoAuth(noAuth bool) *Config {
	c.Gateway.NoAuth = noAuth
	return c
}
