// Package jobs runs the one-off tasks of a deployment: on deploy,
// on demand, or on schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
	ecsmetrics "github.com/fluxcd/ecsdeploy/pkg/metrics"
)

const labelTrigger = "trigger"

// What started a job run.
const (
	TriggerDeploy   = "deploy"
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

var runDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "ecsdeploy",
	Subsystem: "jobs",
	Name:      "run_duration_seconds",
	Help:      "Duration of requests to start a job, in seconds.",
	Buckets:   stdprometheus.DefBuckets,
}, []string{labelTrigger, ecsmetrics.LabelSuccess})

// JobNotFound is returned when asked to run a job that the active
// deployment does not have.
type JobNotFound struct {
	AppName     string
	Environment string
	JobID       string
}

func (e *JobNotFound) Error() string {
	if e.AppName == "" {
		return fmt.Sprintf("job %q not found: no active deployment", e.JobID)
	}
	return fmt.Sprintf("job %q not found in the active deployment of %s to %s", e.JobID, e.AppName, e.Environment)
}

func (e *JobNotFound) Helpful() *ecserr.Error {
	return &ecserr.Error{
		Type: ecserr.Missing,
		Err:  e,
		Help: fmt.Sprintf(`There is no job %q in the active deployment of %s to %s.
Use `+"`ecsdeploy list-jobs %s`"+` to see the jobs that can be run.
`, e.JobID, e.AppName, e.Environment, e.Environment),
	}
}

// RunError is a failure to start a job.
type RunError struct {
	JobID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("running job %q: %s", e.JobID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

type Runner struct {
	Clusters cluster.Factory
	Logger   log.Logger
}

func (r *Runner) logger() log.Logger {
	if r.Logger == nil {
		return log.NewNopLogger()
	}
	return log.With(r.Logger, "component", "jobs")
}

// Run starts a job, and returns the ARNs of the tasks started. It does
// not wait for the tasks to finish.
func (r *Runner) Run(ctx context.Context, task deployment.TaskItem, trigger string) (arns []string, err error) {
	defer func(begin time.Time) {
		runDuration.With(
			labelTrigger, trigger,
			ecsmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	logger := log.With(r.logger(), "job", task.TaskID, "cluster", task.ECSCluster, "trigger", trigger)
	c, err := r.Clusters(task.ECSRegion)
	if err != nil {
		logger.Log("err", err)
		return nil, &RunError{JobID: task.TaskID, Err: err}
	}
	arns, err = c.RunTask(ctx, cluster.RunTaskInput{
		Cluster:           task.ECSCluster,
		TaskDefinitionArn: task.TaskDefinitionArn,
	})
	if err != nil {
		logger.Log("err", err)
		return nil, &RunError{JobID: task.TaskID, Err: err}
	}
	logger.Log("started", len(arns), "taskDefinition", task.TaskDefinitionArn)
	return arns, nil
}

// RunOnDeploy starts, all at once, the jobs among tasks that are to be
// run in the phase given. Failures are returned, one per job; none
// stops the others.
func (r *Runner) RunOnDeploy(ctx context.Context, tasks []deployment.TaskItem, phase manifest.Phase) []error {
	var (
		errs []error
		mtx  sync.Mutex
		wg   sync.WaitGroup
	)
	for _, task := range OnDeploy(tasks, phase) {
		wg.Add(1)
		go func(task deployment.TaskItem) {
			defer wg.Done()
			if _, err := r.Run(ctx, task, TriggerDeploy); err != nil {
				mtx.Lock()
				errs = append(errs, err)
				mtx.Unlock()
			}
		}(task)
	}
	wg.Wait()
	return errs
}

// OnDeploy filters tasks down to the jobs to be run in a phase.
func OnDeploy(tasks []deployment.TaskItem, phase manifest.Phase) []deployment.TaskItem {
	var out []deployment.TaskItem
	for _, t := range tasks {
		if t.TaskType == deployment.JobTask && t.RunOnDeploy == phase {
			out = append(out, t)
		}
	}
	return out
}

// RunJobNow starts the job with the id given, from the deployment
// given.
func (r *Runner) RunJobNow(ctx context.Context, jobID string, current *deployment.Deployment) ([]string, error) {
	if current == nil {
		return nil, &JobNotFound{JobID: jobID}
	}
	task, ok := current.FindTask(deployment.JobTask, jobID)
	if !ok {
		return nil, &JobNotFound{AppName: current.AppName, Environment: current.Environment, JobID: jobID}
	}
	return r.Run(ctx, task, TriggerManual)
}
