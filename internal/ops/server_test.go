// ABOUTME: Tests for the ops HTTP routes and gRPC health service
// ABOUTME: Uses httptest against the chi router and an in-process health client

package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeStatus struct {
	ready bool
	rooms []string
}

func (f *fakeStatus) Ready() bool     { return f.ready }
func (f *fakeStatus) Rooms() []string { return f.rooms }

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHealth(t *testing.T) {
	s := New(Options{})
	code, body := get(t, s.Router(), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)
}

func TestReady(t *testing.T) {
	status := &fakeStatus{rooms: []string{"!a", "!b"}}
	s := New(Options{Status: status})

	code, _ := get(t, s.Router(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	status.ready = true
	code, body := get(t, s.Router(), "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready (2 rooms)", body)
}

func TestRooms(t *testing.T) {
	s := New(Options{Status: &fakeStatus{rooms: []string{"!a"}}})

	code, body := get(t, s.Router(), "/rooms")
	require.Equal(t, http.StatusOK, code)

	var out map[string][]string
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, []string{"!a"}, out["rooms"])

	_, body = get(t, New(Options{}).Router(), "/rooms")
	assert.JSONEq(t, `{"rooms":[]}`, body)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "toolbot_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := New(Options{Gatherer: reg})
	code, body := get(t, s.Router(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "toolbot_test_total 1")
}

func TestGRPCHealthFollowsReadiness(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()
	req := &healthpb.HealthCheckRequest{}

	resp, err := s.health.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	s.SetReady(true)
	resp, err = s.health.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	require.NoError(t, s.Shutdown(ctx))
	resp, err = s.health.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := New(Options{HTTPAddr: "127.0.0.1:0", GRPCAddr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}
