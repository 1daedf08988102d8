// Package schedule runs the jobs of active deployments that have a
// cron schedule, once a minute.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/history"
	"github.com/fluxcd/ecsdeploy/pkg/jobs"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
	ecsmetrics "github.com/fluxcd/ecsdeploy/pkg/metrics"
)

// ErrSubMinute is returned for schedules that name a second other
// than zero; they can't be honoured by a once-a-minute trigger.
var ErrSubMinute = errors.New("schedule has a seconds field other than 0; schedules are evaluated once a minute")

var (
	dispatches = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "ecsdeploy",
		Subsystem: "schedule",
		Name:      "dispatches_total",
		Help:      "Scheduled jobs dispatched, by whether they started.",
	}, []string{ecsmetrics.LabelSuccess})
	invalidSchedules = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "ecsdeploy",
		Subsystem: "schedule",
		Name:      "invalid_schedules_total",
		Help:      "Jobs skipped because their schedule could not be parsed.",
	}, []string{})
	triggerDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "ecsdeploy",
		Subsystem: "schedule",
		Name:      "trigger_duration_seconds",
		Help:      "Time spent finding the jobs due in a minute, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{ecsmetrics.LabelSuccess})
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse parses a 5 or 6 field cron expression. A leading
// `CRON_TZ=<zone>` is accepted.
func Parse(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) > 0 && (strings.HasPrefix(fields[0], "CRON_TZ=") || strings.HasPrefix(fields[0], "TZ=")) {
		fields = fields[1:]
	}
	if len(fields) == 6 && fields[0] != "0" {
		return nil, errors.Wrapf(ErrSubMinute, "parsing %q", expr)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %q", expr)
	}
	return sched, nil
}

// Check parses the schedules of the jobs in cfg, so that a bad one is
// reported before it is deployed rather than skipped by the scheduler.
func Check(cfg manifest.Configuration) error {
	confErr := &manifest.ConfigurationError{}
	for _, id := range cfg.JobIDs() {
		job := cfg.Jobs[id]
		if job.Schedule == "" {
			continue
		}
		if _, err := Parse(job.Schedule); err != nil {
			confErr.Problems = append(confErr.Problems, manifest.Problem{
				Field:   fmt.Sprintf("jobs.%s.schedule", id),
				Message: err.Error(),
			})
		}
	}
	if len(confErr.Problems) > 0 {
		return confErr
	}
	return nil
}

// Matches says whether the minute containing t is one the schedule
// fires on.
func Matches(sched cron.Schedule, t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}

// Event is what triggers a scheduler run.
type Event struct {
	Time time.Time
}

// Dispatch names a job started by the scheduler.
type Dispatch struct {
	AppName     string `json:"appName"`
	Environment string `json:"environment"`
	JobID       string `json:"jobId"`
}

func (d Dispatch) String() string {
	return fmt.Sprintf("%s/%s/%s", d.AppName, d.Environment, d.JobID)
}

// JobRunner starts jobs; *jobs.Runner is one.
type JobRunner interface {
	Run(ctx context.Context, task deployment.TaskItem, trigger string) ([]string, error)
}

type Scheduler struct {
	Store    history.Store
	Jobs     JobRunner
	Logger   log.Logger
	Location *time.Location

	inflight sync.WaitGroup
}

func (s *Scheduler) logger() log.Logger {
	if s.Logger == nil {
		return log.NewNopLogger()
	}
	return log.With(s.Logger, "component", "schedule")
}

// Due returns the jobs of active deployments that are scheduled to
// run in the minute of ev. Jobs whose schedule doesn't parse are
// logged and left out.
func (s *Scheduler) Due(ctx context.Context, ev Event) (due []deployment.TaskItem, refs []Dispatch, err error) {
	defer func(begin time.Time) {
		triggerDuration.With(ecsmetrics.LabelSuccess, fmt.Sprint(err == nil)).Observe(time.Since(begin).Seconds())
	}(time.Now())

	active, err := s.Store.ListActive(ctx)
	if err != nil {
		return nil, nil, err
	}
	t := ev.Time
	if s.Location != nil {
		t = t.In(s.Location)
	}
	logger := s.logger()
	for _, d := range active {
		for _, task := range d.JobTasks() {
			if task.Schedule == "" {
				continue
			}
			sched, err := Parse(task.Schedule)
			if err != nil {
				invalidSchedules.Add(1)
				logger.Log("app", d.AppName, "environment", d.Environment, "job", task.TaskID, "err", err)
				continue
			}
			if Matches(sched, t) {
				due = append(due, task)
				refs = append(refs, Dispatch{AppName: d.AppName, Environment: d.Environment, JobID: task.TaskID})
			}
		}
	}
	return due, refs, nil
}

// Trigger starts every job due in the minute of ev, and returns
// without waiting for them to start. Use Wait to wait for the
// dispatches to finish.
func (s *Scheduler) Trigger(ctx context.Context, ev Event) ([]Dispatch, error) {
	due, refs, err := s.Due(ctx, ev)
	if err != nil {
		s.logger().Log("time", ev.Time, "err", err)
		return nil, err
	}
	for i := range due {
		s.inflight.Add(1)
		go func(task deployment.TaskItem, ref Dispatch) {
			defer s.inflight.Done()
			logger := log.With(s.logger(), "dispatch", ref)
			arns, err := s.Jobs.Run(ctx, task, jobs.TriggerSchedule)
			dispatches.With(ecsmetrics.LabelSuccess, fmt.Sprint(err == nil)).Add(1)
			if err != nil {
				logger.Log("err", err)
				return
			}
			logger.Log("started", strings.Join(arns, ","))
		}(due[i], refs[i])
	}
	return refs, nil
}

// Wait blocks until every dispatch started so far has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Loop triggers a run at the start of every minute, until told to
// stop.
func (s *Scheduler) Loop(stop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	logger := s.logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.Wait()

	timer := time.NewTimer(untilNextMinute(time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			return
		case now := <-timer.C:
			if refs, err := s.Trigger(ctx, Event{Time: now}); err == nil && len(refs) > 0 {
				logger.Log("minute", now.Truncate(time.Minute), "dispatched", len(refs))
			}
			timer.Reset(untilNextMinute(time.Now()))
		}
	}
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}
