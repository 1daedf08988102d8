package ecs

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
)

type fakeECS struct {
	ecsiface.ECSAPI

	registered  *ecs.RegisterTaskDefinitionInput
	describe    func(*ecs.DescribeServicesInput) (*ecs.DescribeServicesOutput, error)
	created     *ecs.CreateServiceInput
	updated     *ecs.UpdateServiceInput
	run         func(*ecs.RunTaskInput) (*ecs.RunTaskOutput, error)
	waitedFor   []string
	waitErr     error
	registerErr error
}

func (f *fakeECS) RegisterTaskDefinitionWithContext(_ aws.Context, in *ecs.RegisterTaskDefinitionInput, _ ...request.Option) (*ecs.RegisterTaskDefinitionOutput, error) {
	f.registered = in
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &ecs.RegisterTaskDefinitionOutput{TaskDefinition: &ecs.TaskDefinition{
		Family:            in.Family,
		Revision:          aws.Int64(7),
		TaskDefinitionArn: aws.String("arn:aws:ecs:eu-west-1:123456789012:task-definition/" + aws.StringValue(in.Family) + ":7"),
	}}, nil
}

func (f *fakeECS) DescribeServicesWithContext(_ aws.Context, in *ecs.DescribeServicesInput, _ ...request.Option) (*ecs.DescribeServicesOutput, error) {
	return f.describe(in)
}

func (f *fakeECS) CreateServiceWithContext(_ aws.Context, in *ecs.CreateServiceInput, _ ...request.Option) (*ecs.CreateServiceOutput, error) {
	f.created = in
	return &ecs.CreateServiceOutput{}, nil
}

func (f *fakeECS) UpdateServiceWithContext(_ aws.Context, in *ecs.UpdateServiceInput, _ ...request.Option) (*ecs.UpdateServiceOutput, error) {
	f.updated = in
	return &ecs.UpdateServiceOutput{}, nil
}

func (f *fakeECS) RunTaskWithContext(_ aws.Context, in *ecs.RunTaskInput, _ ...request.Option) (*ecs.RunTaskOutput, error) {
	return f.run(in)
}

func (f *fakeECS) WaitUntilServicesStableWithContext(_ aws.Context, in *ecs.DescribeServicesInput, _ ...request.WaiterOption) error {
	f.waitedFor = aws.StringValueSlice(in.Services)
	return f.waitErr
}

func TestRegisterTaskDefinition(t *testing.T) {
	api := &fakeECS{}
	c := New(api, nil, nil)
	essential := true

	reg, err := c.RegisterTaskDefinition(context.Background(), cluster.TaskDefinition{
		Family:      "app-web-prod",
		NetworkMode: "awsvpc",
		ContainerDefinitions: []cluster.ContainerDefinition{{
			Name:         "web",
			Image:        "123456789012.dkr.ecr.eu-west-1.amazonaws.com/app/web@sha256:abc",
			Memory:       256,
			Essential:    &essential,
			Environment:  map[string]string{"B": "2", "A": "1"},
			Secrets:      map[string]string{"DB_PASSWORD": "arn:aws:ssm:eu-west-1:123456789012:parameter/db"},
			PortMappings: []cluster.PortMapping{{ContainerPort: 8080}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, cluster.Registration{
		Family:   "app-web-prod",
		Revision: 7,
		ARN:      "arn:aws:ecs:eu-west-1:123456789012:task-definition/app-web-prod:7",
	}, reg)

	in := api.registered
	assert.Equal(t, "awsvpc", aws.StringValue(in.NetworkMode))
	assert.Nil(t, in.Cpu)
	require.Len(t, in.ContainerDefinitions, 1)
	cd := in.ContainerDefinitions[0]
	assert.Equal(t, int64(256), aws.Int64Value(cd.Memory))
	assert.Nil(t, cd.Cpu, "unset numbers are left out")
	require.Len(t, cd.Environment, 2)
	assert.Equal(t, "A", aws.StringValue(cd.Environment[0].Name), "environment is in a stable order")
	require.Len(t, cd.Secrets, 1)
	assert.Equal(t, "DB_PASSWORD", aws.StringValue(cd.Secrets[0].Name))
	assert.Nil(t, cd.PortMappings[0].HostPort)

	// and back again
	back := fromContainer(cd)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, back.Environment)
	assert.Equal(t, []cluster.PortMapping{{ContainerPort: 8080}}, back.PortMappings)
}

func TestDescribeService(t *testing.T) {
	api := &fakeECS{}
	c := New(api, nil, nil)
	ctx := context.Background()

	api.describe = func(in *ecs.DescribeServicesInput) (*ecs.DescribeServicesOutput, error) {
		assert.Equal(t, "main", aws.StringValue(in.Cluster))
		return &ecs.DescribeServicesOutput{Services: []*ecs.Service{{
			ServiceName:    in.Services[0],
			Status:         aws.String(cluster.StatusActive),
			TaskDefinition: aws.String("arn:td:1"),
			DesiredCount:   aws.Int64(2),
			RunningCount:   aws.Int64(1),
		}}}, nil
	}
	s, err := c.DescribeService(ctx, "main", "app-web-prod")
	require.NoError(t, err)
	assert.Equal(t, &cluster.Service{
		Cluster:           "main",
		Name:              "app-web-prod",
		Status:            cluster.StatusActive,
		TaskDefinitionArn: "arn:td:1",
		DesiredCount:      2,
		RunningCount:      1,
	}, s)

	api.describe = func(in *ecs.DescribeServicesInput) (*ecs.DescribeServicesOutput, error) {
		return &ecs.DescribeServicesOutput{Failures: []*ecs.Failure{{Reason: aws.String("MISSING")}}}, nil
	}
	s, err = c.DescribeService(ctx, "main", "app-web-prod")
	assert.NoError(t, err)
	assert.Nil(t, s)

	api.describe = func(in *ecs.DescribeServicesInput) (*ecs.DescribeServicesOutput, error) {
		return nil, awserr.New(ecs.ErrCodeServiceNotFoundException, "no such service", nil)
	}
	s, err = c.DescribeService(ctx, "main", "app-web-prod")
	assert.NoError(t, err)
	assert.Nil(t, s)

	api.describe = func(in *ecs.DescribeServicesInput) (*ecs.DescribeServicesOutput, error) {
		return nil, awserr.New(ecs.ErrCodeClientException, "not authorized to perform ecs:DescribeServices", nil)
	}
	_, err = c.DescribeService(ctx, "main", "app-web-prod")
	assert.Error(t, err, "a client error is not the same as the service being absent")

	api.describe = func(in *ecs.DescribeServicesInput) (*ecs.DescribeServicesOutput, error) {
		return nil, awserr.New(ecs.ErrCodeClusterNotFoundException, "no such cluster", nil)
	}
	_, err = c.DescribeService(ctx, "main", "app-web-prod")
	assert.Error(t, err)
}

func TestCreateAndUpdateService(t *testing.T) {
	api := &fakeECS{}
	c := New(api, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.CreateService(ctx, cluster.CreateServiceInput{
		Cluster:           "main",
		ServiceName:       "app-web-prod",
		TaskDefinitionArn: "arn:td:1",
		DesiredCount:      2,
		LoadBalancers:     []cluster.LoadBalancer{{TargetGroupArn: "arn:tg", ContainerName: "web", ContainerPort: 8080}},
	}))
	assert.Nil(t, api.created.Role)
	assert.Equal(t, int64(2), aws.Int64Value(api.created.DesiredCount))
	require.Len(t, api.created.LoadBalancers, 1)
	assert.Nil(t, api.created.LoadBalancers[0].LoadBalancerName)

	zero := int64(0)
	require.NoError(t, c.UpdateService(ctx, cluster.UpdateServiceInput{
		Cluster:      "main",
		ServiceName:  "app-web-prod",
		DesiredCount: &zero,
	}))
	assert.Nil(t, api.updated.TaskDefinition, "only the count changes")
	assert.Equal(t, int64(0), aws.Int64Value(api.updated.DesiredCount))
}

func TestRunTask(t *testing.T) {
	api := &fakeECS{}
	c := New(api, nil, nil)
	ctx := context.Background()

	api.run = func(in *ecs.RunTaskInput) (*ecs.RunTaskOutput, error) {
		assert.Equal(t, StartedBy, aws.StringValue(in.StartedBy))
		return &ecs.RunTaskOutput{Tasks: []*ecs.Task{{TaskArn: aws.String("arn:task:1")}}}, nil
	}
	arns, err := c.RunTask(ctx, cluster.RunTaskInput{Cluster: "main", TaskDefinitionArn: "arn:td:1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"arn:task:1"}, arns)

	api.run = func(in *ecs.RunTaskInput) (*ecs.RunTaskOutput, error) {
		return &ecs.RunTaskOutput{Failures: []*ecs.Failure{{Reason: aws.String("RESOURCE:MEMORY")}}}, nil
	}
	_, err = c.RunTask(ctx, cluster.RunTaskInput{Cluster: "main", TaskDefinitionArn: "arn:td:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE:MEMORY")
}

func TestWaitForServicesStable(t *testing.T) {
	api := &fakeECS{}
	c := New(api, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.WaitForServicesStable(ctx, "main", []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, api.waitedFor)

	tooMany := make([]string, cluster.MaxServicesPerWait+1)
	assert.Error(t, c.WaitForServicesStable(ctx, "main", tooMany))

	api.waitErr = awserr.New(request.WaiterResourceNotReadyErrorCode, "exceeded wait attempts", nil)
	assert.Error(t, c.WaitForServicesStable(ctx, "main", []string{"a"}))
}

func TestThrottlingBacksOff(t *testing.T) {
	api := &fakeECS{registerErr: awserr.New("ThrottlingException", "rate exceeded", nil)}
	limiter := &Limiter{RPS: 8, Burst: 8}
	c := New(api, limiter, nil)

	_, err := c.RegisterTaskDefinition(context.Background(), cluster.TaskDefinition{Family: "f"})
	require.Error(t, err)
	assert.Equal(t, 4.0, limiter.Limit())

	api.registerErr = nil
	_, err = c.RegisterTaskDefinition(context.Background(), cluster.TaskDefinition{Family: "f"})
	require.NoError(t, err)
	assert.Equal(t, 6.0, limiter.Limit())

	for i := 0; i < 5; i++ {
		_, err = c.RegisterTaskDefinition(context.Background(), cluster.TaskDefinition{Family: "f"})
		require.NoError(t, err)
	}
	assert.Equal(t, 8.0, limiter.Limit(), "never above the configured rate")
}

func TestFactory(t *testing.T) {
	factory := NewFactory(nil, 1, 1, nil)
	_, err := factory("")
	assert.Error(t, err)
}
