package controller

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/pullpilot/pkg/schemas"
)

func TestMetricsHandler(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	_, err := tc.ToggleFullStop(context.Background(), "alpha")
	require.NoError(t, err)

	_, _, err = tc.UpdateOne(context.Background(), "alpha")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	tc.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	for _, expected := range []string{
		`pullpilot_build_info{compose_version="",goversion=`,
		`pullpilot_deployments_count 2`,
		`pullpilot_run_logs_count 1`,
		`pullpilot_global_update_running 0`,
		`pullpilot_deployment_info{deployment="alpha",excluded="false",full_stop="true"} 1`,
		`pullpilot_deployment_updates_total{deployment="alpha",outcome="OK"} 1`,
		`pullpilot_deployment_update_duration_seconds_count{deployment="alpha"} 1`,
	} {
		assert.Contains(t, string(body), expected)
	}
}

func TestHealthCheckHandler(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	h := tc.HealthCheckHandler(context.Background())

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	tc.Config.Projects.Root = tc.Config.Projects.Root + "/missing"

	w = httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTelemetry(t *testing.T) {
	tc := discovered(t, standardFixtures()...)
	ctx := context.Background()

	_, err := tc.CreateSchedule(ctx, schemas.ScheduleInput{
		Target:     schemas.AllDeployments(),
		Kind:       schemas.TriggerKindCron,
		Expression: "0 4 * * *",
	})
	require.NoError(t, err)

	_, _, err = tc.UpdateOne(ctx, "beta")
	require.NoError(t, err)

	queued, err := tc.Store.QueueTask(ctx, schemas.TaskTypeUpdateDeployment, "alpha", tc.UUID.String())
	require.NoError(t, err)
	require.True(t, queued)

	telemetry, err := tc.Telemetry(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), telemetry.Deployments.Count)
	assert.Equal(t, int64(1), telemetry.Schedules.Count)
	assert.Equal(t, int64(1), telemetry.RunLogs.Count)
	assert.False(t, telemetry.RunLogs.Last.IsZero())
	assert.InDelta(t, 0.1, telemetry.TasksBufferUsage, 0.0001)
	assert.Contains(t, telemetry.NextRuns, int64(1))
	assert.Equal(t, telemetry.NextRuns[1], telemetry.Schedules.Next)
	assert.False(t, telemetry.GlobalUpdate.Running)
}
