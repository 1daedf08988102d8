// Package taskset works out which tasks a configuration deploys.
package taskset

import (
	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
)

// Set is the services and jobs of a configuration, each sorted by task
// id.
type Set struct {
	Services []deployment.TaskItem
	Jobs     []deployment.TaskItem
}

// Build gives the task items for the active services and jobs in cfg
// that have a task definition. Tasks without one are left out; they
// have yet to be registered.
func Build(cfg manifest.Configuration) Set {
	var set Set
	for _, id := range cfg.ServiceIDs() {
		svc := cfg.Services[id]
		if !svc.IsActive() || svc.TaskDefinitionArn == "" {
			continue
		}
		set.Services = append(set.Services, deployment.TaskItem{
			TaskID:            id,
			TaskType:          deployment.ServiceTask,
			TaskDefinitionArn: svc.TaskDefinitionArn,
			ServiceName:       deployment.ServiceName(cfg.AppName, id, cfg.Environment),
			ECSCluster:        cfg.ClusterFor(svc.Cluster),
			ECSRegion:         cfg.AWS.Region,
		})
	}
	for _, id := range cfg.JobIDs() {
		job := cfg.Jobs[id]
		if !job.IsActive() || job.TaskDefinitionArn == "" {
			continue
		}
		set.Jobs = append(set.Jobs, deployment.TaskItem{
			TaskID:            id,
			TaskType:          deployment.JobTask,
			TaskDefinitionArn: job.TaskDefinitionArn,
			ECSCluster:        cfg.ClusterFor(job.Cluster),
			ECSRegion:         cfg.AWS.Region,
			Schedule:          job.Schedule,
			RunOnDeploy:       job.RunOnDeploy,
		})
	}
	return set
}

// Info fills in the service and job tasks of a deployment in progress.
func Info(info deployment.Info) deployment.Info {
	set := Build(info.Config)
	info.Services = set.Services
	info.Jobs = set.Jobs
	return info
}
