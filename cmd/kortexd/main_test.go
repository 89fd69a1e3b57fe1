package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snehask3825/kortex/internal/config"
	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/internal/redisbus"
	"github.com/Snehask3825/kortex/internal/rpc"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/httpclient"
	"github.com/Snehask3825/kortex/pkg/notification"
)

func TestDaemon_ServesGatewayRPCAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.New().WithSecretKey("daemon-secret").WithRedisURL(mr.Addr())
	cfg.Controller.StepDuration = 20 * time.Millisecond
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, logging.Nop())
	require.NoError(t, err)

	httpL, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	rpcL, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.run(ctx, httpL, rpcL) }()

	// Watch the Redis mirror from a separate connection
	redisClient, err := redisbus.Connect(ctx, mr.Addr())
	require.NoError(t, err)
	defer redisClient.Close()
	mirror := redisbus.New(redisClient, *cfg.Redis)
	defer mirror.Close()

	mirrored := make(chan notification.Notification, 8)
	_, err = mirror.Subscribe(ctx, notification.TopicActions, func(n notification.Notification) {
		mirrored <- n
	}, notification.Options{})
	require.NoError(t, err)

	// Gateway
	client, err := httpclient.NewClient(httpclient.Config{ServerURL: "http://" + httpL.Addr().String(), ClientID: "operator"})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Authenticate(ctx))

	actions, err := client.ReadAllActions(ctx, command.ReachJointAngles)
	require.NoError(t, err)
	require.NotEmpty(t, actions)

	outcome, err := client.ExecuteActionAndWait(ctx, actions[0].Handle, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, outcome.IsCompleted())

	for _, want := range []notification.ActionEvent{notification.ActionStart, notification.ActionEnd} {
		select {
		case n := <-mirrored:
			assert.Equal(t, want, n.ActionEvent)
		case <-time.After(5 * time.Second):
			t.Fatalf("no %v notification mirrored to Redis", want)
		}
	}

	// gRPC
	rpcClient, err := rpc.Dial(rpcL.Addr().String())
	require.NoError(t, err)
	defer rpcClient.Close()

	fb, err := rpcClient.RefreshFeedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, command.Pose{}, fb.ToolPose)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestDaemon_BadRedis(t *testing.T) {
	cfg := config.New().WithSecretKey("s").WithRedisURL("127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := newDaemon(ctx, cfg, logging.Nop())
	assert.ErrorContains(t, err, "ping redis")
}

func TestRootCommand_RejectsInvalidConfiguration(t *testing.T) {
	t.Setenv("KORTEX_SECRET_KEY", "")

	t.Run("missing_secret", func(t *testing.T) {
		cmd := newRootCommand()
		cmd.SetArgs([]string{})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		assert.ErrorContains(t, cmd.Execute(), "secret key is required")
	})

	t.Run("bad_log_level_flag", func(t *testing.T) {
		cmd := newRootCommand()
		cmd.SetArgs([]string{"--secret-key", "s", "--log-level", "loud"})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		assert.ErrorContains(t, cmd.Execute(), "invalid logging config")
	})

	t.Run("unknown_config_key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kortex.yaml")
		require.NoError(t, os.WriteFile(path, []byte("gatway: {}\n"), 0o600))

		cmd := newRootCommand()
		cmd.SetArgs([]string{"--config", path})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		assert.ErrorContains(t, cmd.Execute(), "gatway")
	})
}

func TestRootCommand_Version(t *testing.T) {
	cmd := newRootCommand()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), appVersion)
}

func TestLoadConfig_EnvironmentAndFlags(t *testing.T) {
	t.Setenv("KORTEX_SECRET_KEY", "from-env")

	var f flags
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9911", "--rpc-address", "127.0.0.1:9912", "--no-auth"}))

	f.port, _ = cmd.Flags().GetString("port")
	f.rpcAddress, _ = cmd.Flags().GetString("rpc-address")
	f.noAuth, _ = cmd.Flags().GetBool("no-auth")

	cfg, err := loadConfig(cmd, f)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.SecretKey)
	assert.Equal(t, "9911", cfg.Gateway.Port)
	assert.Equal(t, "127.0.0.1:9912", cfg.RPC.Address)
	assert.True(t, cfg.Gateway.NoAuth)
	assert.Nil(t, cfg.Redis)
}
