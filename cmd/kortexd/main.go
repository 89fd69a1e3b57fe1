// Command kortexd runs a simulated arm controller behind the kortex HTTP
// gateway and gRPC service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Snehask3825/kortex/internal/config"
	"github.com/Snehask3825/kortex/internal/logging"
)

const (
	appName    = "kortexd"
	appVersion = "0.1.0"
)

type flags struct {
	configPath string
	secretKey  string
	port       string
	rpcAddress string
	redisURL   string
	logLevel   string
	noAuth     bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:     appName,
		Short:   "Simulated arm controller with HTTP and gRPC access",
		Version: appVersion,
		Long: `kortexd runs a simulated arm controller. Commands and notifications are
served over an HTTP gateway (REST and Server-Sent Events) and a gRPC service.
Notifications can be mirrored to Redis pub/sub.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to a YAML configuration file")
	cmd.Flags().StringVar(&f.secretKey, "secret-key", "", "JWT signing secret (or KORTEX_SECRET_KEY)")
	cmd.Flags().StringVar(&f.port, "port", "", "Gateway HTTP port")
	cmd.Flags().StringVar(&f.rpcAddress, "rpc-address", "", "gRPC listen address")
	cmd.Flags().StringVar(&f.redisURL, "redis-url", "", "Mirror notifications to this Redis server")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&f.noAuth, "no-auth", false, "Skip token checks on non-admin endpoints (development only)")

	return cmd
}

// loadConfig reads the configuration file, then applies the environment
// and flags explicitly set on cmd.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg := config.New()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	if key := os.Getenv("KORTEX_SECRET_KEY"); key != "" {
		cfg.WithSecretKey(key)
	}

	changed := cmd.Flags().Changed
	if changed("secret-key") {
		cfg.WithSecretKey(f.secretKey)
	}
	if changed("port") {
		cfg.WithGatewayPort(f.port)
	}
	if changed("rpc-address") {
		cfg.WithRPCAddress(f.rpcAddress)
	}
	if changed("redis-url") {
		cfg.WithRedisURL(f.redisURL)
	}
	if changed("log-level") {
		cfg.WithLogLevel(logging.Level(f.logLevel))
	}
	if changed("no-auth") {
		cfg.WithNoAuth(f.noAuth)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Infow("Starting", "app", appName, "version", appVersion)

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	httpL, rpcL, err := d.listen()
	if err != nil {
		d.close()
		return err
	}
	return d.run(ctx, httpL, rpcL)
}
