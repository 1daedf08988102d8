package registry

// Monitoring middleware for the registry

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxcd/ecsdeploy/pkg/image"
	ecsmetrics "github.com/fluxcd/ecsdeploy/pkg/metrics"
)

var requestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "ecsdeploy",
	Subsystem: "registry",
	Name:      "request_duration_seconds",
	Help:      "Duration of registry API requests, in seconds.",
	Buckets:   stdprometheus.DefBuckets,
}, []string{ecsmetrics.LabelMethod, ecsmetrics.LabelSuccess})

type instrumentedRegistry struct {
	next Registry
}

func NewInstrumentedRegistry(next Registry) Registry {
	return &instrumentedRegistry{
		next: next,
	}
}

func (m *instrumentedRegistry) FindOrCreateRepository(ctx context.Context, name string) (res image.Name, err error) {
	start := time.Now()
	res, err = m.next.FindOrCreateRepository(ctx, name)
	requestDuration.With(
		ecsmetrics.LabelMethod, "FindOrCreateRepository",
		ecsmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
	return
}

func (m *instrumentedRegistry) GetAuthorizationToken(ctx context.Context) (res Credentials, err error) {
	start := time.Now()
	res, err = m.next.GetAuthorizationToken(ctx)
	requestDuration.With(
		ecsmetrics.LabelMethod, "GetAuthorizationToken",
		ecsmetrics.LabelSuccess, strconv.FormatBool(err == nil),
	).Observe(time.Since(start).Seconds())
	return
}
