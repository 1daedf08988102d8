// Package register registers the task definitions a deployment
// needs, or finds the ones it can reuse.
package register

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/image"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
	"github.com/fluxcd/ecsdeploy/pkg/policy"
)

type Registrar struct {
	Clusters cluster.Factory
	Logger   log.Logger
}

func (r *Registrar) logger() log.Logger {
	if r.Logger == nil {
		return log.NewNopLogger()
	}
	return log.With(r.Logger, "component", "register")
}

// Register returns a copy of cfg with the task definition ARN of each
// active service and job filled in.
//
// Tasks not selected by cfg.UpdateOnly keep the task definition they
// have in the current deployment. Every other task has its template
// registered, under the family {app}-{id}-{env}, with container images
// naming one of the images of the manifest replaced by the pushed
// reference. A task without a template uses the ARN given in the
// manifest, if there is one.
func (r *Registrar) Register(ctx context.Context, cfg manifest.Configuration, current *deployment.Deployment, images map[string]image.Ref) (manifest.Configuration, error) {
	out := cfg.Copy()
	selection := policy.UpdateOnly(cfg.UpdateOnly)

	// Only connect if there's something to register.
	var api cluster.Cluster
	clusterAPI := func() (cluster.Cluster, error) {
		if api == nil {
			c, err := r.Clusters(cfg.AWS.Region)
			if err != nil {
				return nil, errors.Wrapf(err, "connecting to ECS in %s", cfg.AWS.Region)
			}
			api = c
		}
		return api, nil
	}

	resolve := func(typ deployment.TaskType, id string, tmpl *cluster.TaskDefinition, given string) (string, error) {
		logger := log.With(r.logger(), "type", typ, "task", id)
		if !selection.Selected(id) && current != nil {
			if prev, ok := current.FindTask(typ, id); ok && prev.TaskDefinitionArn != "" {
				logger.Log("reused", prev.TaskDefinitionArn)
				return prev.TaskDefinitionArn, nil
			}
		}
		if tmpl == nil {
			if given != "" {
				return given, nil
			}
			return "", MissingTaskTemplate(typ, id)
		}
		def, err := taskDefinition(cfg, id, tmpl, images)
		if err != nil {
			return "", &Error{TaskID: id, TaskType: typ, Err: err}
		}
		c, err := clusterAPI()
		if err != nil {
			return "", err
		}
		reg, err := c.RegisterTaskDefinition(ctx, def)
		if err != nil {
			return "", &Error{TaskID: id, TaskType: typ, Err: err}
		}
		if reg.ARN == "" {
			return "", &Error{TaskID: id, TaskType: typ, Err: errors.New("no ARN returned for registered task definition")}
		}
		logger.Log("registered", reg.ARN, "family", reg.Family, "revision", reg.Revision)
		return reg.ARN, nil
	}

	for _, id := range cfg.ServiceIDs() {
		svc := out.Services[id]
		if !svc.IsActive() {
			continue
		}
		arn, err := resolve(deployment.ServiceTask, id, svc.TaskTemplate, svc.TaskDefinitionArn)
		if err != nil {
			return cfg, err
		}
		svc.TaskDefinitionArn = arn
		out.Services[id] = svc
	}
	for _, id := range cfg.JobIDs() {
		job := out.Jobs[id]
		if !job.IsActive() {
			continue
		}
		arn, err := resolve(deployment.JobTask, id, job.TaskTemplate, job.TaskDefinitionArn)
		if err != nil {
			return cfg, err
		}
		job.TaskDefinitionArn = arn
		out.Jobs[id] = job
	}
	return out, nil
}

// Info runs Register for a deployment in progress.
func (r *Registrar) Info(ctx context.Context, info deployment.Info) (deployment.Info, error) {
	cfg, err := r.Register(ctx, info.Config, info.Current, info.Images)
	if err != nil {
		return info, err
	}
	info.Config = cfg
	return info, nil
}

// taskDefinition makes the payload for a task from its template. The
// template is shared with the configuration, so it's copied rather
// than changed.
func taskDefinition(cfg manifest.Configuration, id string, tmpl *cluster.TaskDefinition, images map[string]image.Ref) (cluster.TaskDefinition, error) {
	def := *tmpl
	def.Family = deployment.ServiceName(cfg.AppName, id, cfg.Environment)
	def.ContainerDefinitions = make([]cluster.ContainerDefinition, len(tmpl.ContainerDefinitions))
	for i, container := range tmpl.ContainerDefinitions {
		if _, ok := cfg.Images[container.Image]; ok {
			ref, ok := images[container.Image]
			if !ok {
				return def, fmt.Errorf("container %q uses image %q, which has not been pushed", container.Name, container.Image)
			}
			container.Image = ref.String()
		}
		def.ContainerDefinitions[i] = container
	}
	return def, nil
}
