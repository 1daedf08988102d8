package history

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	ecsmetrics "github.com/fluxcd/ecsdeploy/pkg/metrics"
)

var requestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "ecsdeploy",
	Subsystem: "history",
	Name:      "request_duration_seconds",
	Help:      "History store request duration in seconds.",
	Buckets:   stdprometheus.DefBuckets,
}, []string{ecsmetrics.LabelDriver, ecsmetrics.LabelMethod, ecsmetrics.LabelSuccess})

type instrumentedStore struct {
	s      Store
	driver string
}

// Instrumented records the duration of each request to the store.
func Instrumented(s Store, driver string) Store {
	return &instrumentedStore{s: s, driver: driver}
}

func (i *instrumentedStore) observe(method string, begin time.Time, err error) {
	requestDuration.With(
		ecsmetrics.LabelDriver, i.driver,
		ecsmetrics.LabelMethod, method,
		ecsmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())
}

func (i *instrumentedStore) GetCurrentActive(ctx context.Context, appName, environment string) (d *deployment.Deployment, err error) {
	defer func(begin time.Time) { i.observe("GetCurrentActive", begin, err) }(time.Now())
	return i.s.GetCurrentActive(ctx, appName, environment)
}

func (i *instrumentedStore) Get(ctx context.Context, ref *deployment.Ref) (d *deployment.Deployment, err error) {
	defer func(begin time.Time) { i.observe("Get", begin, err) }(time.Now())
	return i.s.Get(ctx, ref)
}

func (i *instrumentedStore) SetActive(ctx context.Context, ref deployment.Ref, active bool) (d *deployment.Deployment, err error) {
	defer func(begin time.Time) { i.observe("SetActive", begin, err) }(time.Now())
	return i.s.SetActive(ctx, ref, active)
}

func (i *instrumentedStore) Deactivate(ctx context.Context, ref deployment.Ref) (err error) {
	defer func(begin time.Time) { i.observe("Deactivate", begin, err) }(time.Now())
	return i.s.Deactivate(ctx, ref)
}

func (i *instrumentedStore) Put(ctx context.Context, d deployment.Deployment) (err error) {
	defer func(begin time.Time) { i.observe("Put", begin, err) }(time.Now())
	return i.s.Put(ctx, d)
}

func (i *instrumentedStore) ListActive(ctx context.Context) (ds []deployment.Deployment, err error) {
	defer func(begin time.Time) { i.observe("ListActive", begin, err) }(time.Now())
	return i.s.ListActive(ctx)
}

func (i *instrumentedStore) History(ctx context.Context, appName, environment string, limit int) (ds []deployment.Deployment, err error) {
	defer func(begin time.Time) { i.observe("History", begin, err) }(time.Now())
	return i.s.History(ctx, appName, environment, limit)
}
