package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Snehask3825/kortex/internal/bus"
	"github.com/Snehask3825/kortex/internal/controller"
	"github.com/Snehask3825/kortex/internal/metrics"
	"github.com/Snehask3825/kortex/internal/notifylog"
	"github.com/Snehask3825/kortex/pkg/command"
)

const testSecret = "test-secret-key"

// testEnv is a gateway in front of a simulated controller
type testEnv struct {
	Ctrl    *controller.Controller
	Bus     *bus.Bus
	History *notifylog.Log
	Server  *Server
	HTTP    *httptest.Server
	Auth    *JWTAuth
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	require.NoError(t, err)

	history := notifylog.New(notifylog.DefaultRetention)
	b := bus.New(bus.Config{}, bus.WithHistory(history), bus.WithMetrics(collectors))
	ctrl, err := controller.New(controller.Config{StepDuration: 20 * time.Millisecond}, b)
	require.NoError(t, err)

	config := Config{SecretKey: testSecret, KeepaliveInterval: 50 * time.Millisecond}
	for _, m := range mutate {
		m(&config)
	}

	server, err := NewServer(Dependencies{
		Commands:      ctrl,
		Notifications: b,
		History:       history,
		Faults:        ctrl,
		Gatherer:      reg,
	}, config)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = ctrl.Close()
		_ = b.Close()
		_ = history.Close()
	})

	return &testEnv{
		Ctrl:    ctrl,
		Bus:     b,
		History: history,
		Server:  server,
		HTTP:    ts,
		Auth:    server.handlers.jwtAuth,
	}
}

// token issues a JWT granting role to clientID
func (e *testEnv) token(t *testing.T, clientID string, role Role) string {
	t.Helper()
	token, _, err := e.Auth.Issue(clientID, role)
	require.NoError(t, err)
	return token
}

// do sends a request with an optional JSON body and bearer token
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.HTTP.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.HTTP.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// actionHandle looks up a stored action by name
func (e *testEnv) actionHandle(t *testing.T, token, name string) command.ActionHandle {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/api/v1/actions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decodeBody[ActionsResponse](t, resp)
	for _, a := range list.Actions {
		if a.Name == name {
			return a.Handle
		}
	}
	t.Fatalf("action %q not found", name)
	return ""
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
