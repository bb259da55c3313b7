package httpServer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/pullpilot/pkg/config"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

type fakeOrchestrator struct {
	mutex sync.Mutex

	views      []schemas.DeploymentView
	success    bool
	lines      []string
	queued     bool
	running    bool
	triggered  int
	history    schemas.RunLogRecords
	limits     []int
	schedules  schemas.ScheduleEntries
	created    []schemas.ScheduleInput
	deleted    []int64
	toggled    []string
	discoverFn func() error
}

func (f *fakeOrchestrator) Discover(context.Context) ([]schemas.DeploymentView, error) {
	if f.discoverFn != nil {
		if err := f.discoverFn(); err != nil {
			return nil, err
		}
	}
	return f.views, nil
}

func (f *fakeOrchestrator) UpdateOne(_ context.Context, name string) (bool, []string, error) {
	if name == "gamma" {
		return false, []string{"2026-01-01 00:00:00 [FATAL] deployment gamma not found"}, nil
	}
	return f.success, f.lines, nil
}

func (f *fakeOrchestrator) EnqueueUpdate(_ context.Context, name string) (bool, error) {
	if name == "gamma" {
		return false, fmt.Errorf("%w: deployment %s", schemas.ErrNotFound, name)
	}
	return f.queued, nil
}

func (f *fakeOrchestrator) TriggerGlobalUpdate() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.triggered++
}

func (f *fakeOrchestrator) GlobalUpdateRunning() bool { return f.running }

func (f *fakeOrchestrator) ToggleExcluded(_ context.Context, name string) (bool, error) {
	f.toggled = append(f.toggled, "excluded:"+name)
	return name != "gamma", nil
}

func (f *fakeOrchestrator) ToggleFullStop(_ context.Context, name string) (bool, error) {
	f.toggled = append(f.toggled, "full_stop:"+name)
	return name != "gamma", nil
}

func (f *fakeOrchestrator) ListHistory(_ context.Context, limit int) (schemas.RunLogRecords, error) {
	f.limits = append(f.limits, limit)
	return f.history, nil
}

func (f *fakeOrchestrator) CurrentStatus() schemas.RunStatus {
	return schemas.RunStatus{
		Running:       true,
		Total:         2,
		Current:       1,
		CurrentTarget: "alpha",
		Processed:     []schemas.ProcessedDeployment{},
	}
}

func (f *fakeOrchestrator) ListSchedules(context.Context) (schemas.ScheduleEntries, error) {
	return f.schedules, nil
}

func (f *fakeOrchestrator) CreateSchedule(_ context.Context, in schemas.ScheduleInput) (schemas.ScheduleEntry, error) {
	f.created = append(f.created, in)

	e, err := in.ToEntry()
	if err != nil {
		return e, err
	}
	e.ID = int64(len(f.created))

	return e, nil
}

func (f *fakeOrchestrator) DeleteSchedule(_ context.Context, id int64) error {
	if id != 1 {
		return fmt.Errorf("%w: schedule %d", schemas.ErrNotFound, id)
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestServer(o Orchestrator, opts Options) *Server {
	cfg := config.New()
	return NewServer(cfg.Server, o, opts)
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}

	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	var decoded map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}

	return w, decoded
}

func TestListProjects(t *testing.T) {
	o := &fakeOrchestrator{views: []schemas.DeploymentView{
		{Name: "alpha", Path: "/app/projects/alpha", Status: schemas.DeploymentStatusRunning, Containers: 2},
	}}
	s := newTestServer(o, Options{})

	w, _ := do(t, s, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `[{"name":"alpha","path":"/app/projects/alpha","status":"running","containers":2,"excluded":false,"full_stop":false}]`, w.Body.String())

	o.discoverFn = func() error { return errors.New("permission denied") }
	w, body := do(t, s, http.MethodGet, "/api/projects", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "permission denied", body["error"])
}

func TestUpdateProject(t *testing.T) {
	o := &fakeOrchestrator{success: true, lines: []string{"a", "b"}}
	s := newTestServer(o, Options{})

	w, body := do(t, s, http.MethodPost, "/api/projects/alpha/update", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []interface{}{"a", "b"}, body["logs"])

	w, body = do(t, s, http.MethodPost, "/api/projects/gamma/update", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["detail"], "deployment gamma not found")
}

func TestUpdateProjectAsync(t *testing.T) {
	o := &fakeOrchestrator{queued: true}
	s := newTestServer(o, Options{})

	w, body := do(t, s, http.MethodPost, "/api/projects/alpha/update?async=true", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", body["status"])

	o.queued = false
	_, body = do(t, s, http.MethodPost, "/api/projects/alpha/update?async=1", "")
	assert.Equal(t, "already_queued", body["status"])

	w, _ = do(t, s, http.MethodPost, "/api/projects/gamma/update?async=true", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestToggles(t *testing.T) {
	o := &fakeOrchestrator{}
	s := newTestServer(o, Options{})

	for _, target := range []string{
		"/api/projects/alpha/toggle_exclude",
		"/api/projects/alpha/toggle_fullstop",
		"/api/projects/gamma/toggle_exclude",
	} {
		w, body := do(t, s, http.MethodPost, target, "")
		assert.Equal(t, http.StatusOK, w.Code, target)
		assert.Equal(t, "ok", body["status"], target)
	}

	assert.Equal(t, []string{"excluded:alpha", "full_stop:alpha", "excluded:gamma"}, o.toggled)

	w, _ := do(t, s, http.MethodGet, "/api/projects/alpha/toggle_exclude", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestUpdateAll(t *testing.T) {
	o := &fakeOrchestrator{}
	s := newTestServer(o, Options{})

	w, body := do(t, s, http.MethodPost, "/api/update-all", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, false, body["already_running"])
	assert.Equal(t, 1, o.triggered)

	o.running = true
	_, body = do(t, s, http.MethodPost, "/api/update-all", "")
	assert.Equal(t, true, body["already_running"])
	assert.Equal(t, 1, o.triggered)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{}, Options{})

	w, body := do(t, s, http.MethodGet, "/api/update-status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["is_running"])
	assert.Equal(t, "alpha", body["current_project"])
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["current"])
	assert.Equal(t, []interface{}{}, body["processed"])
}

func TestHistory(t *testing.T) {
	o := &fakeOrchestrator{history: schemas.RunLogRecords{
		{ID: 2, Status: schemas.RunLogStatusSuccess, Summary: "alpha: OK", Details: map[string][]string{"alpha": {"line"}}},
	}}
	s := newTestServer(o, Options{})

	w, _ := do(t, s, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, w.Code)

	var records schemas.RunLogRecords
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "alpha: OK", records[0].Summary)

	w, _ = do(t, s, http.MethodGet, "/api/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)

	for _, v := range []string{"abc", "-1"} {
		w, _ = do(t, s, http.MethodGet, "/api/history?limit="+v, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	assert.Equal(t, []int{0, 5}, o.limits)
}

func TestSchedules(t *testing.T) {
	o := &fakeOrchestrator{schedules: schemas.ScheduleEntries{
		{ID: 1, Target: schemas.AllDeployments(), Kind: schemas.TriggerKindCron, Expression: "0 4 * * *", Active: true},
	}}
	s := newTestServer(o, Options{})

	w, _ := do(t, s, http.MethodGet, "/api/schedules", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":1,"target":{"all":true},"task_type":"cron","expression":"0 4 * * *","active":true}]`, w.Body.String())

	w, body := do(t, s, http.MethodPost, "/api/schedules", `{"target":"GLOBAL","frequency":"weekly","week_day":"sun","hour":3,"minute":30}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "30 3 * * sun", body["expression"])
	assert.Equal(t, map[string]interface{}{"all": true}, body["target"])
	require.Len(t, o.created, 1)
	assert.Equal(t, "1", o.created[0].DayOfMonth)

	w, _ = do(t, s, http.MethodPost, "/api/schedules", `{"target":"alpha","task_type":"date"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/schedules", `{"target":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, s, http.MethodDelete, "/api/schedules/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = do(t, s, http.MethodDelete, "/api/schedules/9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, s, http.MethodDelete, "/api/schedules/first", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptionalRoutes(t *testing.T) {
	metricsCalled := false
	opts := Options{
		Metrics: func(w http.ResponseWriter, _ *http.Request) {
			metricsCalled = true
			w.WriteHeader(http.StatusOK)
		},
		Extra: func(r chi.Router) {
			r.Get("/api/telemetry", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, statusResponse{Status: "extra"})
			})
		},
	}

	s := newTestServer(&fakeOrchestrator{}, opts)

	w, _ := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, metricsCalled)

	_, body := do(t, s, http.MethodGet, "/api/telemetry", "")
	assert.Equal(t, "extra", body["status"])

	w, _ = do(t, s, http.MethodGet, "/debug/pprof/", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	cfg := config.New()
	cfg.Server.Metrics.Enabled = false
	s = NewServer(cfg.Server, &fakeOrchestrator{}, opts)

	w, _ = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
