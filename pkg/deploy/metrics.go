package deploy

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	ecsmetrics "github.com/fluxcd/ecsdeploy/pkg/metrics"
)

var (
	actionDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "ecsdeploy",
		Subsystem: "deploy",
		Name:      "duration_seconds",
		Help:      "Duration of deployments and rollbacks, in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{ecsmetrics.LabelAction, ecsmetrics.LabelSuccess})
	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "ecsdeploy",
		Subsystem: "deploy",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each stage of a deployment, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{ecsmetrics.LabelStage, ecsmetrics.LabelSuccess})
)

func observeAction(action string, begin time.Time, err error) {
	actionDuration.With(
		ecsmetrics.LabelAction, action,
		ecsmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())
}

func observeStage(stage string, begin time.Time, err error) {
	stageDuration.With(
		ecsmetrics.LabelStage, stage,
		ecsmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(time.Since(begin).Seconds())
}
