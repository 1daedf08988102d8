package build

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	ecsmetrics "github.com/fluxcd/ecsdeploy/pkg/metrics"
)

var stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "ecsdeploy",
	Subsystem: "build",
	Name:      "stage_duration_seconds",
	Help:      "Duration of image pipeline stages, in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
}, []string{ecsmetrics.LabelStage, ecsmetrics.LabelSuccess})

func observeStage(s Stage, begin time.Time, err error) {
	stageDuration.With(
		ecsmetrics.LabelStage, string(s),
		ecsmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())
}
