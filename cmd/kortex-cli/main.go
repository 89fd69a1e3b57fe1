// Command kortex-cli drives a kortex controller over its HTTP gateway or
// gRPC service. With --redis it follows notifications on the controller's
// Redis mirror instead of the command transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Snehask3825/kortex/internal/arm"
	"github.com/Snehask3825/kortex/internal/invoker"
	"github.com/Snehask3825/kortex/internal/redisbus"
	"github.com/Snehask3825/kortex/internal/rpc"
	"github.com/Snehask3825/kortex/internal/subscription"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/httpclient"
	"github.com/Snehask3825/kortex/pkg/notification"
)

const (
	transportHTTP = "http"
	transportGRPC = "grpc"
)

// remote is a controller reached over either transport
type remote interface {
	command.Service
	notification.Service
	Close() error
}

var (
	// Global flags
	serverURL   string
	rpcAddress  string
	transport   string
	clientID    string
	role        string
	token       string
	timeout     time.Duration
	wait        time.Duration
	noAuth      bool
	redisURL    string
	redisPrefix string

	// Set by initializeClient
	svc    remote
	client *httpclient.Client

	// notifications is svc, or the Redis mirror when --redis is set
	notifications notification.Service
	redisClient   *redis.Client
	mirror        *redisbus.Bus
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kortex-cli",
		Short: "Command line interface for a kortex arm controller",
		Long: `kortex-cli moves an arm through a kortex controller and follows its
notifications. Motion commands block until the controller reports that the
motion completed or aborted, or until --wait elapses.`,
		SilenceUsage:       true,
		PersistentPreRunE:  initializeClient,
		PersistentPostRunE: closeClient,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Gateway URL")
	rootCmd.PersistentFlags().StringVar(&rpcAddress, "rpc", "localhost:9090", "gRPC address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", transportHTTP, "Transport: http or grpc")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for gateway authentication")
	rootCmd.PersistentFlags().StringVar(&role, "role", "", "Request a narrower gateway role, e.g. observer")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("KORTEX_TOKEN"), "JWT token (or KORTEX_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().DurationVar(&wait, "wait", invoker.DefaultTimeout, "How long motions may take")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for gateways started with --no-auth)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Follow notifications on this Redis mirror (redis:// URL or host:port)")
	rootCmd.PersistentFlags().StringVar(&redisPrefix, "redis-prefix", "", "Redis channel prefix (default kortex:notifications:)")

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newActionsCommand())
	rootCmd.AddCommand(newMoveCommand())
	rootCmd.AddCommand(newPackagingCommand())
	rootCmd.AddCommand(newVerticalCommand())
	rootCmd.AddCommand(newReachCommand())
	rootCmd.AddCommand(newSequenceCommand())
	rootCmd.AddCommand(newGripperCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newFaultsCommand())

	return rootCmd
}

// initializeClient connects to the controller with the global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	if err := connectTransport(cmd); err != nil {
		return err
	}
	notifications = svc
	if redisURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	rc, err := redisbus.Connect(ctx, redisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	redisClient = rc
	mirror = redisbus.New(rc, redisbus.Config{URL: redisURL, ChannelPrefix: redisPrefix})
	notifications = mirror
	return nil
}

// connectTransport sets svc (and client for HTTP) from the transport flags
func connectTransport(cmd *cobra.Command) error {
	switch transport {
	case transportGRPC:
		c, err := rpc.Dial(rpcAddress)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		svc, client = c, nil
		return nil
	case transportHTTP:
	default:
		return fmt.Errorf("unknown transport %q (want http or grpc)", transport)
	}

	// In no-auth mode, client-id is not required
	effectiveClientID := clientID
	if effectiveClientID == "" {
		if !noAuth && token == "" {
			return fmt.Errorf("client-id is required (unless using --token or --no-auth)")
		}
		effectiveClientID = "dev-client"
	}

	c, err := httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		ClientID:  effectiveClientID,
		Role:      role,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	svc, client = c, c

	switch {
	case token != "":
		c.SetToken(token)
	case noAuth:
		// Dummy token to pass client-side auth checks
		c.SetToken("no-auth-mode")
	case cmd.Name() != "auth":
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := c.Authenticate(ctx); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}
	return nil
}

func closeClient(cmd *cobra.Command, args []string) error {
	var errs []error
	if mirror != nil {
		errs = append(errs, mirror.Close())
	}
	if redisClient != nil {
		errs = append(errs, redisClient.Close())
	}
	if svc != nil {
		errs = append(errs, svc.Close())
	}
	svc, client, notifications, mirror, redisClient = nil, nil, nil, nil, nil
	return errors.Join(errs...)
}

// requireHTTP rejects gateway-only commands on the gRPC transport
func requireHTTP(feature string) error {
	if client == nil {
		return fmt.Errorf("%s is only available with --transport http", feature)
	}
	return nil
}

// newArm builds an Arm over the connected controller
func newArm(opts ...arm.Option) *arm.Arm {
	inv := invoker.New(subscription.NewManager(notifications))
	return arm.New(svc, inv, append([]arm.Option{arm.WithTimeout(wait)}, opts...)...)
}
