// Package deploy puts the stages of a deployment together: build and
// push images, register task definitions, reconcile services, record
// the deployment, and run jobs. It also rolls deployments back.
package deploy

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/history"
	"github.com/fluxcd/ecsdeploy/pkg/image"
	"github.com/fluxcd/ecsdeploy/pkg/jobs"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
	"github.com/fluxcd/ecsdeploy/pkg/reconcile"
	"github.com/fluxcd/ecsdeploy/pkg/register"
	"github.com/fluxcd/ecsdeploy/pkg/schedule"
	"github.com/fluxcd/ecsdeploy/pkg/taskset"
)

// ImagePipeline is satisfied by *build.Pipeline.
type ImagePipeline interface {
	BuildAndPush(ctx context.Context, cfg manifest.Configuration) (map[string]image.Ref, error)
	Pull(ctx context.Context, cfg manifest.Configuration) (map[string]image.Ref, error)
}

type Deployer struct {
	Store      history.Store
	Images     ImagePipeline
	Registrar  *register.Registrar
	Reconciler *reconcile.Reconciler
	Jobs       *jobs.Runner
	Logger     log.Logger

	// Now is the clock used for deployment timestamps; time.Now if
	// nil.
	Now func() time.Time
}

// Report has the things that went wrong during a deployment without
// stopping it from being recorded.
type Report struct {
	Images    map[string]image.Ref
	Reconcile reconcile.Result
	Finalize  history.FinalizeReport
	// Failures to start on-deploy jobs
	BeforeJobErrors []error
	AfterJobErrors  []error
}

// Warnings are the problems in the report that do not need anyone to
// redeploy.
func (r Report) Warnings() []error {
	var errs []error
	errs = append(errs, r.Reconcile.StabilityErrors...)
	if r.Finalize.ParentErr != nil {
		errs = append(errs, r.Finalize.ParentErr)
	}
	errs = append(errs, r.BeforeJobErrors...)
	return append(errs, r.AfterJobErrors...)
}

func (d *Deployer) logger() log.Logger {
	if d.Logger == nil {
		return log.NewNopLogger()
	}
	return d.Logger
}

func (d *Deployer) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func stage(name string, f func() error) (err error) {
	defer func(begin time.Time) { observeStage(name, begin, err) }(time.Now())
	return f()
}

// Deploy deploys cfg, and records it as the active deployment.
//
// An error is returned without anything being recorded if a job
// schedule cannot be parsed, the images cannot be built, or task
// definitions cannot be registered. Once services are being reconciled the deployment is always recorded; if some services
// failed, the record is returned along with a *ServicesError.
func (d *Deployer) Deploy(ctx context.Context, cfg manifest.Configuration) (dep *deployment.Deployment, report Report, err error) {
	defer func(begin time.Time) { observeAction("deploy", begin, err) }(time.Now())
	logger := log.With(d.logger(), "app", cfg.AppName, "environment", cfg.Environment)

	if err = schedule.Check(cfg); err != nil {
		return nil, report, err
	}

	info := deployment.Info{Config: cfg}
	if err = stage("current", func() (err error) {
		info.Current, err = d.Store.GetCurrentActive(ctx, cfg.AppName, cfg.Environment)
		return err
	}); err != nil {
		return nil, report, err
	}
	if info.Current != nil {
		logger.Log("replacing", info.Current.Ref())
	}

	if err = stage("images", func() (err error) {
		info.Images, err = d.Images.BuildAndPush(ctx, info.Config)
		return err
	}); err != nil {
		return nil, report, err
	}
	report.Images = info.Images

	if err = stage("register", func() (err error) {
		info, err = d.Registrar.Info(ctx, info)
		return err
	}); err != nil {
		return nil, report, err
	}
	info = taskset.Info(info)

	stage("reconcile", func() error {
		report.Reconcile = d.Reconciler.Reconcile(ctx, info.Services, info.Config.Services, info.Current,
			func(ctx context.Context) {
				report.BeforeJobErrors = d.Jobs.RunOnDeploy(ctx, info.Jobs, manifest.PhaseBefore)
			})
		return report.Reconcile.Err()
	})
	logger.Log("created", len(report.Reconcile.Created), "updated", len(report.Reconcile.Updated), "removed", len(report.Reconcile.Removed), "failed", len(report.Reconcile.ServiceErrors))

	if err = stage("finalize", func() (err error) {
		dep, report.Finalize, err = d.FinalizeDeployment(ctx, info)
		return err
	}); err != nil {
		return nil, report, err
	}
	logger.Log("deployed", dep.Ref(), "tasks", len(dep.Tasks))

	report.AfterJobErrors = d.Jobs.RunOnDeploy(ctx, dep.Tasks, manifest.PhaseAfter)

	if serr := report.Reconcile.Err(); serr != nil {
		return dep, report, &ServicesError{Deployment: dep.Ref().String(), Err: serr}
	}
	return dep, report, nil
}

// FinalizeDeployment records the deployment in progress as the active
// deployment, replacing the current one.
func (d *Deployer) FinalizeDeployment(ctx context.Context, info deployment.Info) (*deployment.Deployment, history.FinalizeReport, error) {
	ts := deployment.Timestamp(d.now())
	// Timestamps must increase, even if the clock doesn't.
	if info.Current != nil && ts <= info.Current.DeploymentTimestamp {
		ts = info.Current.DeploymentTimestamp + 1
	}
	rec := deployment.Deployment{
		AppName:               info.Config.AppName,
		Environment:           info.Config.Environment,
		DeploymentTimestamp:   ts,
		Tasks:                 info.Tasks(),
		DeploymentInformation: info.Config,
		ParentDeployment:      info.ParentRef(),
	}
	return history.Finalize(ctx, d.Store, log.With(d.logger(), "component", "history"), rec)
}

// Rollback makes the deployment before the active one active again,
// and brings the services back in line with it. If the active
// deployment is the first, its services are torn down and nothing is
// left active; the returned deployment is then nil.
func (d *Deployer) Rollback(ctx context.Context, appName, environment string) (parent *deployment.Deployment, err error) {
	defer func(begin time.Time) { observeAction("rollback", begin, err) }(time.Now())
	logger := log.With(d.logger(), "app", appName, "environment", environment)

	current, err := d.Store.GetCurrentActive(ctx, appName, environment)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &RollbackPreconditionError{AppName: appName, Environment: environment}
	}
	parent, err = d.Store.Get(ctx, current.ParentDeployment)
	if err != nil {
		return nil, err
	}
	if parent == nil && current.ParentDeployment != nil {
		logger.Log("warning", "parent deployment not found; services will be removed", "parent", current.ParentDeployment)
	}

	var (
		services  []deployment.TaskItem
		templates map[string]manifest.ServiceTemplate
	)
	if parent != nil {
		services = parent.ServiceTasks()
		templates = parent.DeploymentInformation.Services
	}
	res := d.Reconciler.Reconcile(ctx, services, templates, current, nil)
	if err := res.Err(); err != nil {
		return nil, &RollbackServicesError{Deployment: current.Ref().String(), Err: err}
	}
	for _, serr := range res.StabilityErrors {
		logger.Log("warning", serr)
	}

	if _, err := d.Store.SetActive(ctx, current.Ref(), false); err != nil {
		return nil, err
	}
	if parent == nil {
		logger.Log("rolledBack", current.Ref(), "active", "none")
		return nil, nil
	}
	if parent, err = d.Store.SetActive(ctx, parent.Ref(), true); err != nil {
		return nil, err
	}
	logger.Log("rolledBack", current.Ref(), "active", parent.Ref())
	return parent, nil
}

// Build builds and pushes the images of cfg, without deploying them.
func (d *Deployer) Build(ctx context.Context, cfg manifest.Configuration) (refs map[string]image.Ref, err error) {
	defer func(begin time.Time) { observeAction("build", begin, err) }(time.Now())
	return d.Images.BuildAndPush(ctx, cfg)
}

// Pull pulls the images of cfg.
func (d *Deployer) Pull(ctx context.Context, cfg manifest.Configuration) (map[string]image.Ref, error) {
	return d.Images.Pull(ctx, cfg)
}

// RunJob runs a job of the active deployment.
func (d *Deployer) RunJob(ctx context.Context, appName, environment, jobID string) ([]string, error) {
	current, err := d.Store.GetCurrentActive(ctx, appName, environment)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &jobs.JobNotFound{AppName: appName, Environment: environment, JobID: jobID}
	}
	return d.Jobs.RunJobNow(ctx, jobID, current)
}

// ListServices gives the services of the active deployment; none if
// there isn't one.
func (d *Deployer) ListServices(ctx context.Context, appName, environment string) ([]deployment.TaskItem, error) {
	current, err := d.Store.GetCurrentActive(ctx, appName, environment)
	if err != nil || current == nil {
		return nil, err
	}
	return current.ServiceTasks(), nil
}

// ListJobs gives the jobs of the active deployment; none if there
// isn't one.
func (d *Deployer) ListJobs(ctx context.Context, appName, environment string) ([]deployment.TaskItem, error) {
	current, err := d.Store.GetCurrentActive(ctx, appName, environment)
	if err != nil || current == nil {
		return nil, err
	}
	return current.JobTasks(), nil
}

// History gives the deployments of an app to an environment, newest
// first.
func (d *Deployer) History(ctx context.Context, appName, environment string, limit int) ([]deployment.Deployment, error) {
	return d.Store.History(ctx, appName, environment, limit)
}
