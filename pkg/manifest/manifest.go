// Package manifest holds the deployment manifest: what an application
// is made of (images, services, jobs), and where it runs.
package manifest

import (
	"sort"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
)

// Phase says when a job runs as part of a deployment.
type Phase string

const (
	// PhaseBefore jobs run once services have been updated, but
	// before waiting for them to become stable (e.g., migrations).
	PhaseBefore Phase = "before"
	// PhaseAfter jobs run once services are stable.
	PhaseAfter Phase = "after"
)

func (p Phase) Valid() bool {
	return p == PhaseBefore || p == PhaseAfter
}

// Configuration is a manifest resolved for one environment. It is the
// input to a deployment, and a copy of it is kept with each deployment
// record so the deployment can be replayed.
type Configuration struct {
	SchemaVersion string                     `json:"schemaVersion,omitempty"`
	AppName       string                     `json:"appName"`
	Environment   string                     `json:"environment,omitempty"`
	AWS           AWS                        `json:"aws"`
	Images        map[string]ImageTemplate   `json:"images,omitempty"`
	Services      map[string]ServiceTemplate `json:"services,omitempty"`
	Jobs          map[string]JobTemplate     `json:"jobs,omitempty"`
	// UpdateOnly, if non-empty, restricts registration of new task
	// definitions to the task ids it matches (glob patterns are
	// allowed); every other task keeps the definition it has in the
	// current deployment.
	UpdateOnly []string `json:"updateOnly,omitempty"`

	// Per-environment overrides; these are merged in when the manifest
	// is loaded, and are not present in a resolved Configuration.
	Environments map[string]Override `json:"environments,omitempty"`
}

type AWS struct {
	Region            string `json:"region"`
	DefaultECSCluster string `json:"defaultECSCluster,omitempty"`
}

// ImageTemplate says how to build an image. The image is pushed to the
// repository {appName}/{repo}.
type ImageTemplate struct {
	Repo         string `json:"repo"`
	Tag          string `json:"tag"`
	BuildContext string `json:"buildContext,omitempty"`
	Dockerfile   string `json:"dockerfile,omitempty"`
}

type ServiceTemplate struct {
	TaskTemplate  *cluster.TaskDefinition `json:"taskTemplate,omitempty"`
	Active        *bool                   `json:"active,omitempty"`
	Cluster       string                  `json:"cluster,omitempty"`
	InitialCount  *int64                  `json:"initialCount,omitempty"`
	Role          string                  `json:"role,omitempty"`
	LoadBalancers []cluster.LoadBalancer  `json:"loadBalancers,omitempty"`
	// Filled in once a task definition is registered (or reused).
	TaskDefinitionArn string `json:"taskDefinitionArn,omitempty"`
}

type JobTemplate struct {
	TaskTemplate *cluster.TaskDefinition `json:"taskTemplate,omitempty"`
	Active       *bool                   `json:"active,omitempty"`
	Cluster      string                  `json:"cluster,omitempty"`
	// Schedule is a cron expression, of five fields or six with
	// seconds (which must then be zero).
	Schedule          string `json:"schedule,omitempty"`
	RunOnDeploy       Phase  `json:"runOnDeploy,omitempty"`
	TaskDefinitionArn string `json:"taskDefinitionArn,omitempty"`
}

// Override is the part of a manifest that can be varied per
// environment.
type Override struct {
	AWS        AWS                        `json:"aws,omitempty"`
	Services   map[string]ServiceTemplate `json:"services,omitempty"`
	Jobs       map[string]JobTemplate     `json:"jobs,omitempty"`
	UpdateOnly []string                   `json:"updateOnly,omitempty"`
}

const DefaultInitialCount = 1

// IsActive is true unless the service is explicitly switched off.
func (s ServiceTemplate) IsActive() bool {
	return s.Active == nil || *s.Active
}

func (s ServiceTemplate) Count() int64 {
	if s.InitialCount == nil {
		return DefaultInitialCount
	}
	return *s.InitialCount
}

func (j JobTemplate) IsActive() bool {
	return j.Active == nil || *j.Active
}

// ClusterFor gives the cluster for a task, falling back to the default.
func (c Configuration) ClusterFor(override string) string {
	if override != "" {
		return override
	}
	return c.AWS.DefaultECSCluster
}

func (c Configuration) ServiceIDs() []string {
	ids := make([]string, 0, len(c.Services))
	for id := range c.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c Configuration) JobIDs() []string {
	ids := make([]string, 0, len(c.Jobs))
	for id := range c.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c Configuration) ImageIDs() []string {
	ids := make([]string, 0, len(c.Images))
	for id := range c.Images {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Copy returns a configuration that shares no maps with the receiver,
// so that stages of a deployment can fill in ARNs without touching
// their input.
func (c Configuration) Copy() Configuration {
	out := c
	if c.Images != nil {
		out.Images = make(map[string]ImageTemplate, len(c.Images))
		for id, img := range c.Images {
			out.Images[id] = img
		}
	}
	if c.Services != nil {
		out.Services = make(map[string]ServiceTemplate, len(c.Services))
		for id, svc := range c.Services {
			out.Services[id] = svc
		}
	}
	if c.Jobs != nil {
		out.Jobs = make(map[string]JobTemplate, len(c.Jobs))
		for id, job := range c.Jobs {
			out.Jobs[id] = job
		}
	}
	if c.UpdateOnly != nil {
		out.UpdateOnly = append([]string(nil), c.UpdateOnly...)
	}
	out.Environments = nil
	return out
}
