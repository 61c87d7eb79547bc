package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionObserver(t *testing.T) {
	m := New()

	m.SessionStarted("shell", 10, []string{"/bin/sh"})
	m.SessionStarted("agent", 11, []string{"agent"})
	m.SessionExited("shell", 10, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted.WithLabelValues("shell")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted.WithLabelValues("agent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsExited.WithLabelValues("shell")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsExited.WithLabelValues("agent")))
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RelayConnections.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.RelayConnections))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RelayConnections))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RelayOutputBytes.Add(42)
	m.RelayInput.WithLabelValues("resize").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "termbridge_relay_output_bytes_total 42")
	assert.Contains(t, string(body), `termbridge_relay_input_messages_total{kind="resize"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
