package cluster

import (
	"context"
)

// Constants for service status, as reported by ECS. These are defined
// here so that no-one has to drag in the AWS SDK to be able to use
// them.
const (
	StatusActive   = "ACTIVE"
	StatusDraining = "DRAINING"
	StatusInactive = "INACTIVE"
)

// MaxServicesPerWait is the most service names ECS accepts in a single
// DescribeServices call, and so in a single stability wait.
const MaxServicesPerWait = 10

// The things we need from the container platform. Everything here is
// a thin wrapper over the platform API; the deciding of what to
// register, create, update or delete happens elsewhere.
type Cluster interface {
	RegisterTaskDefinition(ctx context.Context, def TaskDefinition) (Registration, error)
	DeregisterTaskDefinition(ctx context.Context, arn string) error
	DescribeTaskDefinition(ctx context.Context, arn string) (TaskDefinition, error)
	// DescribeService returns nil, and no error, if the service does
	// not exist in the cluster.
	DescribeService(ctx context.Context, cluster, name string) (*Service, error)
	CreateService(ctx context.Context, in CreateServiceInput) error
	UpdateService(ctx context.Context, in UpdateServiceInput) error
	DeleteService(ctx context.Context, cluster, name string) error
	RunTask(ctx context.Context, in RunTaskInput) ([]string, error)
	// WaitForServicesStable blocks until every named service has
	// converged, or the platform's wait times out. At most
	// MaxServicesPerWait names may be given.
	WaitForServicesStable(ctx context.Context, cluster string, names []string) error
}

// Factory gives a Cluster for a region. Deployments record the region
// of every task, so rollbacks and scheduled jobs can find their way
// back to the right endpoint.
type Factory func(region string) (Cluster, error)

// Static returns a Factory that hands out the same Cluster for every
// region; useful for tests and single-region setups.
func Static(c Cluster) Factory {
	return func(string) (Cluster, error) {
		return c, nil
	}
}

// TaskDefinition is the platform payload for a task. Templates in the
// manifest have the same shape, minus the family, which is derived.
type TaskDefinition struct {
	Family                  string                `json:"family,omitempty"`
	ContainerDefinitions    []ContainerDefinition `json:"containerDefinitions"`
	TaskRoleArn             string                `json:"taskRoleArn,omitempty"`
	ExecutionRoleArn        string                `json:"executionRoleArn,omitempty"`
	NetworkMode             string                `json:"networkMode,omitempty"`
	CPU                     string                `json:"cpu,omitempty"`
	Memory                  string                `json:"memory,omitempty"`
	RequiresCompatibilities []string              `json:"requiresCompatibilities,omitempty"`
}

type ContainerDefinition struct {
	Name              string            `json:"name"`
	Image             string            `json:"image"`
	CPU               int64             `json:"cpu,omitempty"`
	Memory            int64             `json:"memory,omitempty"`
	MemoryReservation int64             `json:"memoryReservation,omitempty"`
	Essential         *bool             `json:"essential,omitempty"`
	Command           []string          `json:"command,omitempty"`
	EntryPoint        []string          `json:"entryPoint,omitempty"`
	Environment       map[string]string `json:"environment,omitempty"`
	// Secrets maps environment variable names to the ARN of the
	// secret (or parameter) the platform injects.
	Secrets          map[string]string `json:"secrets,omitempty"`
	PortMappings     []PortMapping     `json:"portMappings,omitempty"`
	LogConfiguration *LogConfiguration `json:"logConfiguration,omitempty"`
}

type PortMapping struct {
	ContainerPort int64  `json:"containerPort"`
	HostPort      int64  `json:"hostPort,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
}

type LogConfiguration struct {
	LogDriver string            `json:"logDriver"`
	Options   map[string]string `json:"options,omitempty"`
}

type LoadBalancer struct {
	TargetGroupArn   string `json:"targetGroupArn,omitempty"`
	LoadBalancerName string `json:"loadBalancerName,omitempty"`
	ContainerName    string `json:"containerName"`
	ContainerPort    int64  `json:"containerPort"`
}

// Registration is the platform's identity for a registered task
// definition: family plus numeric revision, and the ARN naming both.
type Registration struct {
	Family   string
	Revision int64
	ARN      string
}

// Service describes a running service, as far as reconciliation
// cares.
type Service struct {
	Cluster           string
	Name              string
	Status            string
	TaskDefinitionArn string
	DesiredCount      int64
	RunningCount      int64
}

type CreateServiceInput struct {
	Cluster           string
	ServiceName       string
	TaskDefinitionArn string
	DesiredCount      int64
	Role              string
	LoadBalancers     []LoadBalancer
}

// UpdateServiceInput changes either the task definition or the
// desired count of a service (or both); empty fields are left alone.
type UpdateServiceInput struct {
	Cluster           string
	ServiceName       string
	TaskDefinitionArn string
	DesiredCount      *int64
}

type RunTaskInput struct {
	Cluster           string
	TaskDefinitionArn string
}
