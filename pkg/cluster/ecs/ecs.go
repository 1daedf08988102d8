// Package ecs implements cluster.Cluster with the AWS SDK.
package ecs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	ecsmetrics "github.com/fluxcd/ecsdeploy/pkg/metrics"
)

// StartedBy marks the tasks we run.
const StartedBy = "ecsdeploy"

var requestDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "ecsdeploy",
	Subsystem: "cluster",
	Name:      "request_duration_seconds",
	Help:      "Duration of ECS API requests, in seconds.",
	Buckets:   stdprometheus.DefBuckets,
}, []string{ecsmetrics.LabelMethod, ecsmetrics.LabelSuccess})

// Cluster talks to ECS in one region.
type Cluster struct {
	api     ecsiface.ECSAPI
	limiter *Limiter
	logger  log.Logger
}

var _ cluster.Cluster = &Cluster{}

func New(api ecsiface.ECSAPI, limiter *Limiter, logger log.Logger) *Cluster {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Cluster{api: api, limiter: limiter, logger: logger}
}

// NewFactory gives a cluster.Factory that makes one Cluster per
// region, each rate limited separately.
func NewFactory(sess client.ConfigProvider, rps float64, burst int, logger log.Logger) cluster.Factory {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var (
		mu       sync.Mutex
		clusters = map[string]*Cluster{}
	)
	return func(region string) (cluster.Cluster, error) {
		if region == "" {
			return nil, errors.New("no AWS region given for the cluster")
		}
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clusters[region]; ok {
			return c, nil
		}
		regionLogger := log.With(logger, "component", "ecs", "region", region)
		c := New(
			ecs.New(sess, aws.NewConfig().WithRegion(region)),
			&Limiter{RPS: rps, Burst: burst, Logger: regionLogger},
			regionLogger,
		)
		clusters[region] = c
		return c, nil
	}
}

// call waits its turn, makes the request, and records how it went.
func (c *Cluster) call(ctx context.Context, method string, fn func() error) (err error) {
	defer func(begin time.Time) {
		requestDuration.With(
			ecsmetrics.LabelMethod, method,
			ecsmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		defer func() { c.limiter.Observe(err) }()
	}
	return fn()
}

func (c *Cluster) RegisterTaskDefinition(ctx context.Context, def cluster.TaskDefinition) (cluster.Registration, error) {
	var out *ecs.RegisterTaskDefinitionOutput
	err := c.call(ctx, "RegisterTaskDefinition", func() (err error) {
		out, err = c.api.RegisterTaskDefinitionWithContext(ctx, toRegisterInput(def))
		return err
	})
	if err != nil {
		return cluster.Registration{}, errors.Wrapf(err, "registering task definition %s", def.Family)
	}
	td := out.TaskDefinition
	return cluster.Registration{
		Family:   aws.StringValue(td.Family),
		Revision: aws.Int64Value(td.Revision),
		ARN:      aws.StringValue(td.TaskDefinitionArn),
	}, nil
}

func (c *Cluster) DeregisterTaskDefinition(ctx context.Context, arn string) error {
	err := c.call(ctx, "DeregisterTaskDefinition", func() error {
		_, err := c.api.DeregisterTaskDefinitionWithContext(ctx, &ecs.DeregisterTaskDefinitionInput{
			TaskDefinition: aws.String(arn),
		})
		return err
	})
	return errors.Wrapf(err, "deregistering task definition %s", arn)
}

func (c *Cluster) DescribeTaskDefinition(ctx context.Context, arn string) (cluster.TaskDefinition, error) {
	var out *ecs.DescribeTaskDefinitionOutput
	err := c.call(ctx, "DescribeTaskDefinition", func() (err error) {
		out, err = c.api.DescribeTaskDefinitionWithContext(ctx, &ecs.DescribeTaskDefinitionInput{
			TaskDefinition: aws.String(arn),
		})
		return err
	})
	if err != nil {
		return cluster.TaskDefinition{}, errors.Wrapf(err, "describing task definition %s", arn)
	}
	return fromTaskDefinition(out.TaskDefinition), nil
}

// DescribeService gives nil for a service ECS says is missing. Other
// errors, including client errors such as a denied permission, are
// returned.
func (c *Cluster) DescribeService(ctx context.Context, clusterName, name string) (*cluster.Service, error) {
	var out *ecs.DescribeServicesOutput
	err := c.call(ctx, "DescribeService", func() (err error) {
		out, err = c.api.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
			Cluster:  aws.String(clusterName),
			Services: aws.StringSlice([]string{name}),
		})
		return err
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == ecs.ErrCodeServiceNotFoundException {
			c.logger.Log("service", name, "cluster", clusterName, "absent", aerr.Code())
			return nil, nil
		}
		return nil, errors.Wrapf(err, "describing service %s in %s", name, clusterName)
	}
	for _, s := range out.Services {
		if aws.StringValue(s.ServiceName) == name {
			return fromService(clusterName, s), nil
		}
	}
	return nil, nil
}

func (c *Cluster) CreateService(ctx context.Context, in cluster.CreateServiceInput) error {
	req := &ecs.CreateServiceInput{
		Cluster:        aws.String(in.Cluster),
		ServiceName:    aws.String(in.ServiceName),
		TaskDefinition: aws.String(in.TaskDefinitionArn),
		DesiredCount:   aws.Int64(in.DesiredCount),
		LoadBalancers:  toLoadBalancers(in.LoadBalancers),
	}
	if in.Role != "" {
		req.Role = aws.String(in.Role)
	}
	err := c.call(ctx, "CreateService", func() error {
		_, err := c.api.CreateServiceWithContext(ctx, req)
		return err
	})
	return errors.Wrapf(err, "creating service %s in %s", in.ServiceName, in.Cluster)
}

func (c *Cluster) UpdateService(ctx context.Context, in cluster.UpdateServiceInput) error {
	req := &ecs.UpdateServiceInput{
		Cluster:      aws.String(in.Cluster),
		Service:      aws.String(in.ServiceName),
		DesiredCount: in.DesiredCount,
	}
	if in.TaskDefinitionArn != "" {
		req.TaskDefinition = aws.String(in.TaskDefinitionArn)
	}
	err := c.call(ctx, "UpdateService", func() error {
		_, err := c.api.UpdateServiceWithContext(ctx, req)
		return err
	})
	return errors.Wrapf(err, "updating service %s in %s", in.ServiceName, in.Cluster)
}

func (c *Cluster) DeleteService(ctx context.Context, clusterName, name string) error {
	err := c.call(ctx, "DeleteService", func() error {
		_, err := c.api.DeleteServiceWithContext(ctx, &ecs.DeleteServiceInput{
			Cluster: aws.String(clusterName),
			Service: aws.String(name),
		})
		return err
	})
	return errors.Wrapf(err, "deleting service %s in %s", name, clusterName)
}

func (c *Cluster) RunTask(ctx context.Context, in cluster.RunTaskInput) ([]string, error) {
	var out *ecs.RunTaskOutput
	err := c.call(ctx, "RunTask", func() (err error) {
		out, err = c.api.RunTaskWithContext(ctx, &ecs.RunTaskInput{
			Cluster:        aws.String(in.Cluster),
			TaskDefinition: aws.String(in.TaskDefinitionArn),
			Count:          aws.Int64(1),
			StartedBy:      aws.String(StartedBy),
		})
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "running task %s in %s", in.TaskDefinitionArn, in.Cluster)
	}
	var arns []string
	for _, t := range out.Tasks {
		arns = append(arns, aws.StringValue(t.TaskArn))
	}
	if len(arns) == 0 && len(out.Failures) > 0 {
		var reasons []string
		for _, f := range out.Failures {
			reasons = append(reasons, aws.StringValue(f.Reason))
		}
		return nil, fmt.Errorf("running task %s in %s: %s", in.TaskDefinitionArn, in.Cluster, strings.Join(reasons, "; "))
	}
	return arns, nil
}

func (c *Cluster) WaitForServicesStable(ctx context.Context, clusterName string, names []string) error {
	if len(names) > cluster.MaxServicesPerWait {
		return fmt.Errorf("cannot wait for %d services at once; the most is %d", len(names), cluster.MaxServicesPerWait)
	}
	if len(names) == 0 {
		return nil
	}
	// The waiter polls on its own; count it as one request against
	// the limit.
	err := c.call(ctx, "WaitForServicesStable", func() error {
		return c.api.WaitUntilServicesStableWithContext(ctx, &ecs.DescribeServicesInput{
			Cluster:  aws.String(clusterName),
			Services: aws.StringSlice(names),
		})
	})
	return errors.Wrapf(err, "waiting for services in %s to be stable", clusterName)
}
