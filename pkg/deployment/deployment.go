// Package deployment has the records ecsdeploy keeps about what it has
// deployed, and the state passed between the stages of a deployment.
package deployment

import (
	"fmt"
	"time"

	"github.com/fluxcd/ecsdeploy/pkg/image"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
)

type TaskType string

const (
	ServiceTask TaskType = "service"
	JobTask     TaskType = "job"
)

// TaskItem is a service or job as deployed: the task definition it
// points at, and where it runs.
type TaskItem struct {
	TaskID            string   `json:"taskId"`
	TaskType          TaskType `json:"taskType"`
	TaskDefinitionArn string   `json:"taskDefinitionArn"`
	// Only for services; see ServiceName.
	ServiceName string         `json:"serviceName,omitempty"`
	ECSCluster  string         `json:"ecsCluster"`
	ECSRegion   string         `json:"ecsRegion"`
	Schedule    string         `json:"schedule,omitempty"`
	RunOnDeploy manifest.Phase `json:"runOnDeploy,omitempty"`
}

// Ref points at a deployment.
type Ref struct {
	AppName             string `json:"appName"`
	DeploymentTimestamp int64  `json:"deploymentTimestamp"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@%d", r.AppName, r.DeploymentTimestamp)
}

// Deployment is the record of one deployment of an app to an
// environment. Records are never changed once written, other than to
// mark them active or inactive.
type Deployment struct {
	AppName     string `json:"appName"`
	Environment string `json:"environment"`
	// Milliseconds since the epoch; unique per app.
	DeploymentTimestamp   int64                  `json:"deploymentTimestamp"`
	Active                bool                   `json:"active"`
	Tasks                 []TaskItem             `json:"tasks"`
	DeploymentInformation manifest.Configuration `json:"deploymentInformation"`
	ParentDeployment      *Ref                   `json:"parentDeployment,omitempty"`
}

func (d Deployment) Ref() Ref {
	return Ref{AppName: d.AppName, DeploymentTimestamp: d.DeploymentTimestamp}
}

func (d Deployment) Time() time.Time {
	return time.Unix(0, d.DeploymentTimestamp*int64(time.Millisecond)).UTC()
}

// FindTask looks up a task by type and id.
func (d Deployment) FindTask(typ TaskType, id string) (TaskItem, bool) {
	for _, t := range d.Tasks {
		if t.TaskType == typ && t.TaskID == id {
			return t, true
		}
	}
	return TaskItem{}, false
}

func (d Deployment) ServiceTasks() []TaskItem {
	return d.tasksOfType(ServiceTask)
}

func (d Deployment) JobTasks() []TaskItem {
	return d.tasksOfType(JobTask)
}

func (d Deployment) tasksOfType(typ TaskType) []TaskItem {
	var tasks []TaskItem
	for _, t := range d.Tasks {
		if t.TaskType == typ {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// ServiceName gives the name of the ECS service for a task; this is
// also used as the task definition family.
func ServiceName(appName, taskID, environment string) string {
	return fmt.Sprintf("%s-%s-%s", appName, taskID, environment)
}

// Timestamp gives the deployment timestamp for a moment in time.
func Timestamp(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// Info is the state of a deployment in progress. Each stage takes an
// Info and returns a new one with its results filled in; nothing in
// here is shared between deployments.
type Info struct {
	Config manifest.Configuration
	// The deployment being replaced, if there is one.
	Current *Deployment
	// Pushed images, by image id.
	Images   map[string]image.Ref
	Services []TaskItem
	Jobs     []TaskItem
}

// Tasks gives services then jobs, the order in which they are
// recorded.
func (i Info) Tasks() []TaskItem {
	tasks := make([]TaskItem, 0, len(i.Services)+len(i.Jobs))
	tasks = append(tasks, i.Services...)
	return append(tasks, i.Jobs...)
}

func (i Info) ParentRef() *Ref {
	if i.Current == nil {
		return nil
	}
	ref := i.Current.Ref()
	return &ref
}
