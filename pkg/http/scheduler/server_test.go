package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	transport "github.com/fluxcd/ecsdeploy/pkg/http"
	"github.com/fluxcd/ecsdeploy/pkg/schedule"
)

type fakeServer struct {
	events []schedule.Event
	err    error
}

func (f *fakeServer) Due(_ context.Context, ev schedule.Event) ([]deployment.TaskItem, []schedule.Dispatch, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, nil, f.err
	}
	return []deployment.TaskItem{{TaskID: "nightly"}}, []schedule.Dispatch{{AppName: "app", Environment: "prod", JobID: "nightly"}}, nil
}

func (f *fakeServer) Trigger(ctx context.Context, ev schedule.Event) ([]schedule.Dispatch, error) {
	_, refs, err := f.Due(ctx, ev)
	return refs, err
}

func TestRouterImplementsServer(t *testing.T) {
	router := NewRouter()
	// Calling NewHandler attaches handlers to the router
	NewHandler(&fakeServer{}, router)
	assert.NoError(t, transport.ImplementsServer(router))
}

func serve(s Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	NewHandler(s, NewRouter()).ServeHTTP(w, req)
	return w
}

func TestHealthzAndMetrics(t *testing.T) {
	w := serve(&fakeServer{}, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok\n", w.Body.String())

	w = serve(&fakeServer{}, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNotFound(t *testing.T) {
	req := httptest.NewRequest("GET", "/v2/anything", nil)
	req.Header.Set("Accept", "application/json")
	w := serve(&fakeServer{}, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "API endpoint not found")
}

func TestDue(t *testing.T) {
	s := &fakeServer{}
	w := serve(s, httptest.NewRequest("GET", "/v1/due?time=2020-03-04T03:00:00Z", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var res TriggerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, []schedule.Dispatch{{AppName: "app", Environment: "prod", JobID: "nightly"}}, res.Dispatched)
	require.Len(t, s.events, 1)
	assert.True(t, s.events[0].Time.Equal(time.Date(2020, time.March, 4, 3, 0, 0, 0, time.UTC)))

	w = serve(s, httptest.NewRequest("GET", "/v1/due?time=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrigger(t *testing.T) {
	s := &fakeServer{}
	w := serve(s, httptest.NewRequest("POST", "/v1/trigger", strings.NewReader(`{"time":"2020-03-04T03:00:00Z"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	var res TriggerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.Dispatched, 1)

	// no body means now
	w = serve(s, httptest.NewRequest("POST", "/v1/trigger", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.events, 2)
	assert.WithinDuration(t, time.Now(), s.events[1].Time, time.Minute)

	w = serve(s, httptest.NewRequest("POST", "/v1/trigger", strings.NewReader(`{"time":`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerStoreFailure(t *testing.T) {
	s := &fakeServer{err: errors.New("history unavailable")}
	req := httptest.NewRequest("POST", "/v1/trigger", strings.NewReader(`{}`))
	req.Header.Set("Accept", "application/json")
	w := serve(s, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "history unavailable")
}
