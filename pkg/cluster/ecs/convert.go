package ecs

import (
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ecs"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
)

func toRegisterInput(def cluster.TaskDefinition) *ecs.RegisterTaskDefinitionInput {
	in := &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(def.Family),
		RequiresCompatibilities: aws.StringSlice(def.RequiresCompatibilities),
	}
	if def.TaskRoleArn != "" {
		in.TaskRoleArn = aws.String(def.TaskRoleArn)
	}
	if def.ExecutionRoleArn != "" {
		in.ExecutionRoleArn = aws.String(def.ExecutionRoleArn)
	}
	if def.NetworkMode != "" {
		in.NetworkMode = aws.String(def.NetworkMode)
	}
	if def.CPU != "" {
		in.Cpu = aws.String(def.CPU)
	}
	if def.Memory != "" {
		in.Memory = aws.String(def.Memory)
	}
	for _, c := range def.ContainerDefinitions {
		in.ContainerDefinitions = append(in.ContainerDefinitions, toContainer(c))
	}
	return in
}

func optionalInt64(i int64) *int64 {
	if i == 0 {
		return nil
	}
	return aws.Int64(i)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toContainer(c cluster.ContainerDefinition) *ecs.ContainerDefinition {
	out := &ecs.ContainerDefinition{
		Name:              aws.String(c.Name),
		Image:             aws.String(c.Image),
		Cpu:               optionalInt64(c.CPU),
		Memory:            optionalInt64(c.Memory),
		MemoryReservation: optionalInt64(c.MemoryReservation),
		Essential:         c.Essential,
		Command:           aws.StringSlice(c.Command),
		EntryPoint:        aws.StringSlice(c.EntryPoint),
	}
	for _, k := range sortedKeys(c.Environment) {
		out.Environment = append(out.Environment, &ecs.KeyValuePair{Name: aws.String(k), Value: aws.String(c.Environment[k])})
	}
	for _, k := range sortedKeys(c.Secrets) {
		out.Secrets = append(out.Secrets, &ecs.Secret{Name: aws.String(k), ValueFrom: aws.String(c.Secrets[k])})
	}
	for _, p := range c.PortMappings {
		pm := &ecs.PortMapping{
			ContainerPort: aws.Int64(p.ContainerPort),
			HostPort:      optionalInt64(p.HostPort),
		}
		if p.Protocol != "" {
			pm.Protocol = aws.String(p.Protocol)
		}
		out.PortMappings = append(out.PortMappings, pm)
	}
	if c.LogConfiguration != nil {
		out.LogConfiguration = &ecs.LogConfiguration{
			LogDriver: aws.String(c.LogConfiguration.LogDriver),
			Options:   aws.StringMap(c.LogConfiguration.Options),
		}
	}
	return out
}

func fromTaskDefinition(td *ecs.TaskDefinition) cluster.TaskDefinition {
	def := cluster.TaskDefinition{
		Family:                  aws.StringValue(td.Family),
		TaskRoleArn:             aws.StringValue(td.TaskRoleArn),
		ExecutionRoleArn:        aws.StringValue(td.ExecutionRoleArn),
		NetworkMode:             aws.StringValue(td.NetworkMode),
		CPU:                     aws.StringValue(td.Cpu),
		Memory:                  aws.StringValue(td.Memory),
		RequiresCompatibilities: aws.StringValueSlice(td.RequiresCompatibilities),
	}
	for _, c := range td.ContainerDefinitions {
		def.ContainerDefinitions = append(def.ContainerDefinitions, fromContainer(c))
	}
	return def
}

func fromContainer(c *ecs.ContainerDefinition) cluster.ContainerDefinition {
	out := cluster.ContainerDefinition{
		Name:              aws.StringValue(c.Name),
		Image:             aws.StringValue(c.Image),
		CPU:               aws.Int64Value(c.Cpu),
		Memory:            aws.Int64Value(c.Memory),
		MemoryReservation: aws.Int64Value(c.MemoryReservation),
		Essential:         c.Essential,
		Command:           aws.StringValueSlice(c.Command),
		EntryPoint:        aws.StringValueSlice(c.EntryPoint),
	}
	if len(c.Environment) > 0 {
		out.Environment = map[string]string{}
		for _, kv := range c.Environment {
			out.Environment[aws.StringValue(kv.Name)] = aws.StringValue(kv.Value)
		}
	}
	if len(c.Secrets) > 0 {
		out.Secrets = map[string]string{}
		for _, s := range c.Secrets {
			out.Secrets[aws.StringValue(s.Name)] = aws.StringValue(s.ValueFrom)
		}
	}
	for _, p := range c.PortMappings {
		out.PortMappings = append(out.PortMappings, cluster.PortMapping{
			ContainerPort: aws.Int64Value(p.ContainerPort),
			HostPort:      aws.Int64Value(p.HostPort),
			Protocol:      aws.StringValue(p.Protocol),
		})
	}
	if c.LogConfiguration != nil {
		out.LogConfiguration = &cluster.LogConfiguration{
			LogDriver: aws.StringValue(c.LogConfiguration.LogDriver),
			Options:   aws.StringValueMap(c.LogConfiguration.Options),
		}
	}
	return out
}

func toLoadBalancers(lbs []cluster.LoadBalancer) []*ecs.LoadBalancer {
	var out []*ecs.LoadBalancer
	for _, lb := range lbs {
		l := &ecs.LoadBalancer{
			ContainerName: aws.String(lb.ContainerName),
			ContainerPort: aws.Int64(lb.ContainerPort),
		}
		if lb.TargetGroupArn != "" {
			l.TargetGroupArn = aws.String(lb.TargetGroupArn)
		}
		if lb.LoadBalancerName != "" {
			l.LoadBalancerName = aws.String(lb.LoadBalancerName)
		}
		out = append(out, l)
	}
	return out
}

func fromService(clusterName string, s *ecs.Service) *cluster.Service {
	return &cluster.Service{
		Cluster:           clusterName,
		Name:              aws.StringValue(s.ServiceName),
		Status:            aws.StringValue(s.Status),
		TaskDefinitionArn: aws.StringValue(s.TaskDefinition),
		DesiredCount:      aws.Int64Value(s.DesiredCount),
		RunningCount:      aws.Int64Value(s.RunningCount),
	}
}
