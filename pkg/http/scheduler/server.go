// Package scheduler serves the scheduler's HTTP API: health, metrics,
// and triggering by an outside clock.
package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaveworks/common/middleware"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	transport "github.com/fluxcd/ecsdeploy/pkg/http"
	ecsmetrics "github.com/fluxcd/ecsdeploy/pkg/metrics"
	"github.com/fluxcd/ecsdeploy/pkg/schedule"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "ecsdeploy",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{ecsmetrics.LabelMethod, ecsmetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// Server is what the API needs of a scheduler; *schedule.Scheduler
// is one.
type Server interface {
	Due(ctx context.Context, ev schedule.Event) ([]deployment.TaskItem, []schedule.Dispatch, error)
	Trigger(ctx context.Context, ev schedule.Event) ([]schedule.Dispatch, error)
}

// TriggerRequest is the body of a trigger; a zero time means now.
type TriggerRequest struct {
	Time time.Time `json:"time"`
}

// TriggerResponse lists the jobs dispatched.
type TriggerResponse struct {
	Time       time.Time           `json:"time"`
	Dispatched []schedule.Dispatch `json:"dispatched"`
}

func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})
	return r
}

// NewHandler attaches the handlers for s to the router.
func NewHandler(s Server, r *mux.Router) http.Handler {
	handle := HTTPServer{server: s, now: time.Now}

	r.Get(transport.Healthz).HandlerFunc(handle.Healthz)
	r.Get(transport.Metrics).Handler(promhttp.Handler())
	r.Get(transport.Due).HandlerFunc(handle.Due)
	r.Get(transport.Trigger).HandlerFunc(handle.Trigger)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	server Server
	now    func() time.Time
}

func (s HTTPServer) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s HTTPServer) Due(w http.ResponseWriter, r *http.Request) {
	t, err := time.Parse(time.RFC3339, mux.Vars(r)["time"])
	if err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, transport.MakeBadRequest(errors.Wrap(err, "parsing time")))
		return
	}
	_, due, err := s.server.Due(r.Context(), schedule.Event{Time: t})
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, TriggerResponse{Time: t, Dispatched: due})
}

func (s HTTPServer) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		transport.WriteError(w, r, http.StatusBadRequest, transport.MakeBadRequest(err))
		return
	}
	if req.Time.IsZero() {
		req.Time = s.now()
	}
	// The dispatches outlive the request.
	dispatched, err := s.server.Trigger(context.Background(), schedule.Event{Time: req.Time})
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, TriggerResponse{Time: req.Time, Dispatched: dispatched})
}
