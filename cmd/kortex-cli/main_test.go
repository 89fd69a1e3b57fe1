package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snehask3825/kortex/internal/bus"
	"github.com/Snehask3825/kortex/internal/controller"
	"github.com/Snehask3825/kortex/internal/httpapi"
	"github.com/Snehask3825/kortex/internal/notifylog"
	"github.com/Snehask3825/kortex/internal/redisbus"
	"github.com/Snehask3825/kortex/internal/rpc"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/notification"
)

type testController struct {
	ctrl    *controller.Controller
	bus     *bus.Bus
	gateway *httpapi.Server
	url     string
	rpcAddr string
	redis   *miniredis.Miniredis
}

func newTestController(t *testing.T) *testController {
	t.Helper()
	t.Setenv("KORTEX_TOKEN", "")

	history := notifylog.New(notifylog.DefaultRetention)
	b := bus.New(bus.Config{}, bus.WithHistory(history))

	// Mirrors every notification to Redis like kortexd does
	mr := miniredis.RunT(t)
	redisClient, err := redisbus.Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	mirror := redisbus.New(redisClient, redisbus.Config{URL: mr.Addr()})

	ctrl, err := controller.New(controller.Config{StepDuration: 20 * time.Millisecond}, notification.Publishers{b, mirror})
	require.NoError(t, err)

	gateway, err := httpapi.NewServer(httpapi.Dependencies{
		Commands:      ctrl,
		Notifications: b,
		History:       history,
		Faults:        ctrl,
	}, httpapi.Config{SecretKey: "cli-secret", KeepaliveInterval: 50 * time.Millisecond})
	require.NoError(t, err)
	ts := httptest.NewServer(gateway.Handler())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	rpcServer := rpc.NewServer(ctrl, b, rpc.Config{}, nil)
	go func() { _ = rpcServer.Serve(l) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rpcServer.Stop(ctx)
		ts.Close()
		_ = ctrl.Close()
		_ = b.Close()
		_ = mirror.Close()
		_ = redisClient.Close()
	})
	return &testController{ctrl: ctrl, bus: b, gateway: gateway, url: ts.URL, rpcAddr: l.Addr().String(), redis: mr}
}

// run executes the CLI over HTTP as the given client
func (tc *testController) run(t *testing.T, clientID string, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--server", tc.url, "--client-id", clientID, "--wait", "5s"}, args...)...)
}

// runGRPC executes the CLI over gRPC
func (tc *testController) runGRPC(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--transport", "grpc", "--rpc", tc.rpcAddr, "--wait", "5s"}, args...)...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)

	err := cmd.ExecuteContext(context.Background())
	// Post-run hooks are skipped when a command fails
	_ = closeClient(cmd, nil)
	return out.String(), err
}

func TestCLI_HTTP(t *testing.T) {
	tc := newTestController(t)

	t.Run("actions", func(t *testing.T) {
		out, err := tc.run(t, "operator", "actions")
		require.NoError(t, err)
		assert.Contains(t, out, "Packaging")
		assert.Contains(t, out, "Home")
	})

	t.Run("packaging", func(t *testing.T) {
		out, err := tc.run(t, "operator", "packaging")
		require.NoError(t, err)
		assert.Contains(t, out, "Packaging completed")
		assert.Equal(t, command.SingleLevelServoing, tc.ctrl.ServoingMode())
	})

	t.Run("move_unknown_position", func(t *testing.T) {
		_, err := tc.run(t, "operator", "move", "Nowhere")
		assert.Error(t, err)
	})

	t.Run("reach", func(t *testing.T) {
		out, err := tc.run(t, "operator", "reach", "--dz", "0.1")
		require.NoError(t, err)
		assert.Contains(t, out, "Cartesian movement completed")
	})

	t.Run("sequence_from_positions", func(t *testing.T) {
		out, err := tc.run(t, "operator", "sequence", "--positions", "Home,Zero")
		require.NoError(t, err)
		assert.Contains(t, out, "Sequence cli-sequence completed")
	})

	t.Run("sequence_from_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "seq.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`name: wave
tasks:
  - action:
      name: up
      type: REACH_JOINT_ANGLES
      jointAngles: [0, 0, 0, 0, 0, 0, 0]
  - action:
      name: home
      type: REACH_JOINT_ANGLES
      jointAngles: [0, 15, 180, 230, 0, 55, 90]
`), 0o600))

		out, err := tc.run(t, "operator", "sequence", "--file", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Sequence wave completed")
	})

	t.Run("sequence_needs_input", func(t *testing.T) {
		_, err := tc.run(t, "operator", "sequence")
		assert.ErrorContains(t, err, "--file or --positions")
	})

	t.Run("gripper", func(t *testing.T) {
		out, err := tc.run(t, "operator", "gripper", "close", "--settle", "0")
		require.NoError(t, err)
		assert.Contains(t, out, "Gripper close")

		_, err = tc.run(t, "operator", "gripper", "wiggle")
		assert.ErrorContains(t, err, "unknown gripper command")
	})

	t.Run("health", func(t *testing.T) {
		out, err := tc.run(t, "operator", "health")
		require.NoError(t, err)
		assert.Contains(t, out, "Gateway is healthy")
		assert.Contains(t, out, "SINGLE_LEVEL_SERVOING")
	})

	t.Run("history", func(t *testing.T) {
		out, err := tc.run(t, "operator", "history", "--topic", "ActionEvents", "--limit", "10")
		require.NoError(t, err)
		assert.Contains(t, out, "ACTION_START")
		assert.Contains(t, out, "ACTION_END")

		_, err = tc.run(t, "operator", "history", "--topic", "Bogus")
		assert.Error(t, err)
	})

	t.Run("observer_role", func(t *testing.T) {
		_, err := tc.run(t, "dashboard", "--role", "observer", "history")
		require.NoError(t, err)

		_, err = tc.run(t, "dashboard", "--role", "observer", "vertical")
		assert.ErrorContains(t, err, "Role operator required")
	})

	t.Run("auth", func(t *testing.T) {
		out, err := tc.run(t, "operator", "auth")
		require.NoError(t, err)
		assert.Contains(t, out, "Authenticated as operator")
		assert.Contains(t, out, "export KORTEX_TOKEN=")
	})
}

func TestCLI_Faults(t *testing.T) {
	tc := newTestController(t)

	_, err := tc.run(t, "operator", "faults", "inject")
	assert.Error(t, err, "non-admin clients cannot inject faults")

	out, err := tc.run(t, "admin", "faults", "inject", "--code", "COLLISION_DETECTED")
	require.NoError(t, err)
	assert.Contains(t, out, "COLLISION_DETECTED")

	out, err = tc.run(t, "operator", "vertical")
	assert.ErrorContains(t, err, "aborted")
	assert.Contains(t, out, "Reason: COLLISION_DETECTED")

	_, err = tc.run(t, "admin", "faults", "inject", "--code", "NOT_A_CODE")
	assert.ErrorContains(t, err, "unknown sub-error code")

	_, err = tc.run(t, "admin", "faults", "inject")
	require.NoError(t, err)
	out, err = tc.run(t, "admin", "faults", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Faults cleared")

	_, err = tc.run(t, "operator", "vertical")
	require.NoError(t, err)

	out, err = tc.run(t, "admin", "faults", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "History entries")
	assert.Contains(t, out, "ActionEvents")
}

func TestCLI_GRPC(t *testing.T) {
	tc := newTestController(t)

	out, err := tc.runGRPC(t, "actions")
	require.NoError(t, err)
	assert.Contains(t, out, "Retract")

	out, err = tc.runGRPC(t, "move", "Retract")
	require.NoError(t, err)
	assert.Contains(t, out, "Move to Retract completed")

	out, err = tc.runGRPC(t, "sequence", "--positions", "Zero,Home", "--name", "over-grpc")
	require.NoError(t, err)
	assert.Contains(t, out, "Sequence over-grpc completed")

	_, err = tc.runGRPC(t, "health")
	assert.ErrorContains(t, err, "only available with --transport http")

	_, err = tc.runGRPC(t, "faults", "clear")
	assert.ErrorContains(t, err, "only available with --transport http")
}

func TestCLI_Watch(t *testing.T) {
	for _, tt := range []struct {
		name string
		run  func(tc *testController, t *testing.T, args ...string) (string, error)
	}{
		{"http", func(tc *testController, t *testing.T, args ...string) (string, error) {
			return tc.run(t, "watcher", args...)
		}},
		{"grpc", (*testController).runGRPC},
	} {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestController(t)

			type result struct {
				out string
				err error
			}
			done := make(chan result, 1)
			go func() {
				out, err := tt.run(tc, t, "watch", "--topic", "ActionEvents", "--count", "2")
				done <- result{out, err}
			}()

			require.Eventually(t, func() bool {
				return tc.bus.SubscriberCount(notification.TopicActions) > 0
			}, 5*time.Second, 10*time.Millisecond)

			actions, err := tc.ctrl.ReadAllActions(context.Background(), command.ReachJointAngles)
			require.NoError(t, err)
			require.NoError(t, tc.ctrl.ExecuteAction(context.Background(), actions[0].Handle))

			select {
			case r := <-done:
				require.NoError(t, r.err)
				assert.Contains(t, r.out, "#1 ACTION_START")
				assert.Contains(t, r.out, "#2 ACTION_END")
				assert.Contains(t, r.out, "Received 2 notifications")
			case <-time.After(10 * time.Second):
				t.Fatal("watch did not stop after two notifications")
			}
		})
	}
}

func TestCLI_Redis(t *testing.T) {
	tc := newTestController(t)
	channel := "kortex:notifications:" + notification.TopicActions.String()

	t.Run("motion_waits_on_mirror", func(t *testing.T) {
		out, err := tc.run(t, "operator", "--redis", tc.redis.Addr(), "packaging")
		require.NoError(t, err)
		assert.Contains(t, out, "Packaging completed")

		out, err = tc.runGRPC(t, "--redis", tc.redis.Addr(), "move", "Home")
		require.NoError(t, err)
		assert.Contains(t, out, "Move to Home completed")
	})

	t.Run("watch", func(t *testing.T) {
		// Wait out subscriptions left by the motion commands
		require.Eventually(t, func() bool {
			return tc.redis.PubSubNumSub(channel)[channel] == 0
		}, 5*time.Second, 10*time.Millisecond)

		type result struct {
			out string
			err error
		}
		done := make(chan result, 1)
		go func() {
			out, err := tc.run(t, "watcher", "--redis", tc.redis.Addr(), "watch", "--count", "2")
			done <- result{out, err}
		}()

		require.Eventually(t, func() bool {
			return tc.redis.PubSubNumSub(channel)[channel] > 0
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, 0, tc.bus.SubscriberCount(notification.TopicActions), "watch must not use the gateway stream")

		actions, err := tc.ctrl.ReadAllActions(context.Background(), command.ReachJointAngles)
		require.NoError(t, err)
		require.NoError(t, tc.ctrl.ExecuteAction(context.Background(), actions[0].Handle))

		select {
		case r := <-done:
			require.NoError(t, r.err)
			assert.Contains(t, r.out, "#1 ACTION_START")
			assert.Contains(t, r.out, "#2 ACTION_END")
		case <-time.After(10 * time.Second):
			t.Fatal("watch did not stop after two notifications")
		}
	})

	t.Run("bad_address", func(t *testing.T) {
		_, err := tc.run(t, "operator", "--redis", "127.0.0.1:1", "--timeout", "1s", "actions")
		assert.ErrorContains(t, err, "failed to connect to redis")
	})

	t.Run("from_needs_http_stream", func(t *testing.T) {
		_, err := tc.run(t, "watcher", "--redis", tc.redis.Addr(), "watch", "--from", "0", "--count", "1")
		assert.ErrorContains(t, err, "--from")
	})
}

func TestCLI_WatchFromOffset(t *testing.T) {
	tc := newTestController(t)

	_, err := tc.run(t, "operator", "packaging")
	require.NoError(t, err)

	out, err := tc.run(t, "watcher", "watch", "--from", "0", "--count", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 ACTION_START offset=0")
	assert.Contains(t, out, "#2 ACTION_END offset=1")
}

func TestCLI_RejectsBadFlags(t *testing.T) {
	t.Setenv("KORTEX_TOKEN", "")

	_, err := execute(t, "--transport", "carrier-pigeon", "actions")
	assert.ErrorContains(t, err, "unknown transport")

	_, err = execute(t, "actions")
	assert.ErrorContains(t, err, "client-id is required")

	_, err = execute(t, "--no-auth", "--server", "http://127.0.0.1:1", "watch", "--topic", "Nope")
	assert.ErrorContains(t, err, "Nope")
}
