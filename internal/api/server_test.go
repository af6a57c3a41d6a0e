package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/metrics"
	"github.com/permitstream/harvester/internal/permit"
	"github.com/permitstream/harvester/internal/routing"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubHealth struct {
	snapshot map[string]permit.HealthState
}

func (s stubHealth) Snapshot() map[string]permit.HealthState { return s.snapshot }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	metrics.Init()

	routes, err := routing.Load(map[string]permit.RoutingEntry{
		"round_rock": {RouteTo: "austin", Reason: "consolidated"},
	}, map[string]bool{"round_rock": true, "austin": true}, zap.NewNop())
	require.NoError(t, err)

	last := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	health := stubHealth{snapshot: map[string]permit.HealthState{
		"austin":     {ConsecutiveFailures: 0, LastSuccess: &last},
		"round_rock": {ConsecutiveFailures: 4, Alerts: 1},
	}}
	targets := []permit.Target{
		{Name: "austin", Priority: 3, Endpoints: []permit.EndpointConfig{{Name: "main"}}},
		{Name: "round_rock", Priority: 1, Discovery: permit.DiscoveryConfig{Enabled: true}},
	}
	return NewServer(health, routes, targets, fixedClock{now: last.Add(90 * time.Second)}, zap.NewNop())
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		require.NoError(t, resp.Body.Close())
	}
}

func TestStatusReportsTargetHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var got statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(90), got.UptimeSeconds)
	assert.Equal(t, 1, got.RoutedTargets)
	require.Contains(t, got.Targets, "round_rock")
	assert.Equal(t, 4, got.Targets["round_rock"].ConsecutiveFailures)
	assert.Equal(t, 1, got.Targets["round_rock"].Alerts)
}

func TestTargetsListsRoster(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/targets")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var got struct {
		Targets []targetSummary `json:"targets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Targets, 2)
	assert.Equal(t, "austin", got.Targets[0].Name)
	assert.Equal(t, 1, got.Targets[0].Endpoints)
	assert.False(t, got.Targets[0].Routed)
	assert.True(t, got.Targets[1].Discovery)
	assert.True(t, got.Targets[1].Routed)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
