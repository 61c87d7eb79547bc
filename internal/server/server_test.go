package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterje/termbridge/internal/models"
	ptymgr "github.com/peterje/termbridge/internal/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestServer(t *testing.T) (*httptest.Server, *ptymgr.Registry, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	registry := ptymgr.NewRegistry(ptymgr.SessionConfig{StopGrace: 500 * time.Millisecond, Logger: logger})
	srv := New(Deps{
		Registry:  registry,
		Commands:  map[string]ptymgr.Command{"shell": {Path: "/bin/sh"}},
		CLIStatus: []models.CLIStatus{{Key: "shell", Name: "/bin/sh", Installed: true, Path: "/bin/sh"}},
		Logger:    logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		registry.ReleaseAll()
		ts.Close()
	})
	return ts, registry, logs
}

func TestHealth(t *testing.T) {
	ts, _, logs := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health models.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.Storage)
	require.Len(t, health.Commands, 1)
	assert.Equal(t, "shell", health.Commands[0].Key)

	// The middleware logs after the response has been written.
	var entries []observer.LoggedEntry
	require.Eventually(t, func() bool {
		entries = logs.FilterMessage("request").FilterField(zap.String("path", "/api/health")).All()
		return len(entries) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
}

func TestStopEndpointReleasesSessions(t *testing.T) {
	ts, registry, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/terminal/shell"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return len(registry.List()) == 1 }, 5*time.Second, 10*time.Millisecond)
	sess := registry.Get("shell")

	resp, err := http.Post(ts.URL+"/terminal/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.Empty(t, registry.List())
	assert.Equal(t, ptymgr.Stopped, sess.State())

	// The relay notices the process is gone and closes the socket.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}
}

func TestStopOneEndpoint(t *testing.T) {
	ts, registry, _ := newTestServer(t)

	sess, err := registry.Acquire("shell", ptymgr.Command{Path: "/bin/sh"})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/terminal/shell/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, registry.Get("shell"))
	assert.Equal(t, ptymgr.Stopped, sess.State())

	resp, err = http.Post(ts.URL+"/terminal/shell/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStopEndpointRequiresPost(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/terminal/stop")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSessionsEndpoint(t *testing.T) {
	ts, registry, _ := newTestServer(t)
	_, err := registry.Acquire("shell", ptymgr.Command{Path: "/bin/sh"})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Live    []ptymgr.Info          `json:"live"`
		History []models.SessionRecord `json:"history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Live, 1)
	assert.Equal(t, "shell", body.Live[0].Key)
	assert.Equal(t, "running", body.Live[0].State)
	assert.Empty(t, body.History)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "termbridge_relay_connections")
}

func TestWebSocketThroughMiddlewareIsNotLogged(t *testing.T) {
	ts, _, logs := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/terminal/shell"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	conn.Close()

	assert.Empty(t, logs.FilterMessage("request").FilterField(zap.String("path", "/ws/terminal/shell")).All())
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := RecoveryMiddleware(zap.New(core), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, logs.FilterMessage("panic").Len())
}
