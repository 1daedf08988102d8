package mock

import (
	"context"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
)

// Mock is a cluster.Cluster made of functions; set only the ones a
// test expects to be called.
type Mock struct {
	RegisterTaskDefinitionFunc   func(ctx context.Context, def cluster.TaskDefinition) (cluster.Registration, error)
	DeregisterTaskDefinitionFunc func(ctx context.Context, arn string) error
	DescribeTaskDefinitionFunc   func(ctx context.Context, arn string) (cluster.TaskDefinition, error)
	DescribeServiceFunc          func(ctx context.Context, clusterName, name string) (*cluster.Service, error)
	CreateServiceFunc            func(ctx context.Context, in cluster.CreateServiceInput) error
	UpdateServiceFunc            func(ctx context.Context, in cluster.UpdateServiceInput) error
	DeleteServiceFunc            func(ctx context.Context, clusterName, name string) error
	RunTaskFunc                  func(ctx context.Context, in cluster.RunTaskInput) ([]string, error)
	WaitForServicesStableFunc    func(ctx context.Context, clusterName string, names []string) error
}

var _ cluster.Cluster = &Mock{}

func (m *Mock) RegisterTaskDefinition(ctx context.Context, def cluster.TaskDefinition) (cluster.Registration, error) {
	return m.RegisterTaskDefinitionFunc(ctx, def)
}

func (m *Mock) DeregisterTaskDefinition(ctx context.Context, arn string) error {
	return m.DeregisterTaskDefinitionFunc(ctx, arn)
}

func (m *Mock) DescribeTaskDefinition(ctx context.Context, arn string) (cluster.TaskDefinition, error) {
	return m.DescribeTaskDefinitionFunc(ctx, arn)
}

func (m *Mock) DescribeService(ctx context.Context, clusterName, name string) (*cluster.Service, error) {
	return m.DescribeServiceFunc(ctx, clusterName, name)
}

func (m *Mock) CreateService(ctx context.Context, in cluster.CreateServiceInput) error {
	return m.CreateServiceFunc(ctx, in)
}

func (m *Mock) UpdateService(ctx context.Context, in cluster.UpdateServiceInput) error {
	return m.UpdateServiceFunc(ctx, in)
}

func (m *Mock) DeleteService(ctx context.Context, clusterName, name string) error {
	return m.DeleteServiceFunc(ctx, clusterName, name)
}

func (m *Mock) RunTask(ctx context.Context, in cluster.RunTaskInput) ([]string, error) {
	return m.RunTaskFunc(ctx, in)
}

func (m *Mock) WaitForServicesStable(ctx context.Context, clusterName string, names []string) error {
	return m.WaitForServicesStableFunc(ctx, clusterName, names)
}
