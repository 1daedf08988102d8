package taskset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
)

func boolPtr(b bool) *bool { return &b }

func testConfig() manifest.Configuration {
	return manifest.Configuration{
		AppName:     "app",
		Environment: "prod",
		AWS:         manifest.AWS{Region: "eu-west-1", DefaultECSCluster: "main"},
		Services: map[string]manifest.ServiceTemplate{
			"web":     {TaskDefinitionArn: "arn:web:1"},
			"api":     {TaskDefinitionArn: "arn:api:1", Cluster: "api-cluster"},
			"old":     {TaskDefinitionArn: "arn:old:1", Active: boolPtr(false)},
			"pending": {},
			"on":      {TaskDefinitionArn: "arn:on:1", Active: boolPtr(true)},
		},
		Jobs: map[string]manifest.JobTemplate{
			"migrate": {TaskDefinitionArn: "arn:migrate:1", RunOnDeploy: manifest.PhaseBefore},
			"nightly": {TaskDefinitionArn: "arn:nightly:1", Schedule: "0 3 * * *", Cluster: "batch"},
			"retired": {TaskDefinitionArn: "arn:retired:1", Active: boolPtr(false)},
		},
	}
}

func taskIDs(items []deployment.TaskItem) []string {
	var ids []string
	for _, item := range items {
		ids = append(ids, item.TaskID)
	}
	return ids
}

func TestBuild(t *testing.T) {
	set := Build(testConfig())

	assert.Equal(t, []string{"api", "on", "web"}, taskIDs(set.Services))
	assert.Equal(t, []string{"migrate", "nightly"}, taskIDs(set.Jobs))

	assert.Equal(t, deployment.TaskItem{
		TaskID:            "api",
		TaskType:          deployment.ServiceTask,
		TaskDefinitionArn: "arn:api:1",
		ServiceName:       "app-api-prod",
		ECSCluster:        "api-cluster",
		ECSRegion:         "eu-west-1",
	}, set.Services[0])
	assert.Equal(t, "main", set.Services[2].ECSCluster, "cluster defaults to aws.defaultECSCluster")

	assert.Equal(t, deployment.TaskItem{
		TaskID:            "nightly",
		TaskType:          deployment.JobTask,
		TaskDefinitionArn: "arn:nightly:1",
		ECSCluster:        "batch",
		ECSRegion:         "eu-west-1",
		Schedule:          "0 3 * * *",
	}, set.Jobs[1])
	assert.Equal(t, manifest.PhaseBefore, set.Jobs[0].RunOnDeploy)
	assert.Empty(t, set.Jobs[0].ServiceName, "jobs have no service name")
}

func TestBuildIsRepeatable(t *testing.T) {
	cfg := testConfig()
	first := Build(cfg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Build(cfg))
	}
}

func TestInactiveServicesExcluded(t *testing.T) {
	cfg := testConfig()
	for id, svc := range cfg.Services {
		svc.Active = boolPtr(false)
		cfg.Services[id] = svc
	}
	set := Build(cfg)
	assert.Empty(t, set.Services)
	assert.Len(t, set.Jobs, 2)
}

func TestEveryItemHasArn(t *testing.T) {
	set := Build(testConfig())
	for _, item := range append(set.Services, set.Jobs...) {
		assert.NotEmpty(t, item.TaskDefinitionArn, item.TaskID)
	}
	assert.NotContains(t, taskIDs(set.Services), "pending")
}

func TestInfo(t *testing.T) {
	info := Info(deployment.Info{Config: testConfig()})
	require.Len(t, info.Services, 3)
	require.Len(t, info.Jobs, 2)
}
