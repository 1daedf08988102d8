package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
)

const testManifest = `
schemaVersion: "1.0"
appName: app
aws:
  region: eu-west-1
  defaultECSCluster: main
images:
  img1:
    repo: hello
    tag: v1
    buildContext: .
services:
  web:
    initialCount: 2
    taskTemplate:
      containerDefinitions:
        - name: web
          image: img1
          memory: 256
          portMappings:
            - containerPort: 8080
    loadBalancers:
      - targetGroupArn: arn:aws:elasticloadbalancing:eu-west-1:123456789012:targetgroup/web/abc
        containerName: web
        containerPort: 8080
jobs:
  migrate:
    runOnDeploy: before
    taskTemplate:
      containerDefinitions:
        - name: migrate
          image: img1
          command: ["./migrate"]
  nightly:
    schedule: "0 3 * * *"
    cluster: batch
    taskTemplate:
      containerDefinitions:
        - name: nightly
          image: img1
environments:
  prod:
    aws:
      defaultECSCluster: prod-main
    services:
      web:
        initialCount: 4
    jobs:
      nightly:
        active: false
  staging: {}
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(testManifest), "staging")
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.AppName)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, AWS{Region: "eu-west-1", DefaultECSCluster: "main"}, cfg.AWS)
	assert.Equal(t, ImageTemplate{Repo: "hello", Tag: "v1", BuildContext: "."}, cfg.Images["img1"])
	assert.Nil(t, cfg.Environments)

	web := cfg.Services["web"]
	assert.True(t, web.IsActive())
	assert.Equal(t, int64(2), web.Count())
	require.NotNil(t, web.TaskTemplate)
	require.Len(t, web.TaskTemplate.ContainerDefinitions, 1)
	assert.Equal(t, "img1", web.TaskTemplate.ContainerDefinitions[0].Image)
	assert.Equal(t, []cluster.PortMapping{{ContainerPort: 8080}}, web.TaskTemplate.ContainerDefinitions[0].PortMappings)
	require.Len(t, web.LoadBalancers, 1)
	assert.Equal(t, "web", web.LoadBalancers[0].ContainerName)

	assert.Equal(t, PhaseBefore, cfg.Jobs["migrate"].RunOnDeploy)
	assert.Equal(t, "0 3 * * *", cfg.Jobs["nightly"].Schedule)
	assert.Equal(t, []string{"migrate", "nightly"}, cfg.JobIDs())
}

func TestParseEnvironmentOverride(t *testing.T) {
	cfg, err := Parse([]byte(testManifest), "prod")
	require.NoError(t, err)

	assert.Equal(t, AWS{Region: "eu-west-1", DefaultECSCluster: "prod-main"}, cfg.AWS)

	web := cfg.Services["web"]
	assert.Equal(t, int64(4), web.Count())
	assert.NotNil(t, web.TaskTemplate, "override should not drop the base template")
	assert.Len(t, web.LoadBalancers, 1)

	nightly := cfg.Jobs["nightly"]
	assert.False(t, nightly.IsActive())
	assert.Equal(t, "0 3 * * *", nightly.Schedule)
	assert.Equal(t, "batch", nightly.Cluster)
	assert.True(t, cfg.Jobs["migrate"].IsActive())
}

func TestOverrideSwitchesOff(t *testing.T) {
	doc := `
appName: app
aws: {region: eu-west-1, defaultECSCluster: main}
services:
  web:
    active: true
    initialCount: 3
    taskTemplate:
      networkMode: bridge
      containerDefinitions:
        - name: web
          image: nginx
jobs:
  nightly:
    active: true
    schedule: "0 3 * * *"
environments:
  staging:
    services:
      web:
        active: false
        initialCount: 0
        taskTemplate:
          networkMode: awsvpc
          containerDefinitions:
            - name: web
              image: nginx
    jobs:
      nightly:
        active: false
  prod: {}
`
	cfg, err := Parse([]byte(doc), "staging")
	require.NoError(t, err)
	web := cfg.Services["web"]
	assert.False(t, web.IsActive())
	assert.Equal(t, int64(0), web.Count())
	assert.Equal(t, "awsvpc", web.TaskTemplate.NetworkMode)
	assert.False(t, cfg.Jobs["nightly"].IsActive())

	// the base is left as it was
	cfg, err = Parse([]byte(doc), "prod")
	require.NoError(t, err)
	web = cfg.Services["web"]
	assert.True(t, web.IsActive())
	assert.Equal(t, int64(3), web.Count())
	assert.Equal(t, "bridge", web.TaskTemplate.NetworkMode)
	assert.True(t, cfg.Jobs["nightly"].IsActive())
}

func TestForEnvironmentLeavesBaseAlone(t *testing.T) {
	on, three := true, int64(3)
	off, zero := false, int64(0)
	base := Configuration{
		AppName: "app",
		Services: map[string]ServiceTemplate{
			"web": {
				Active:       &on,
				InitialCount: &three,
				TaskTemplate: &cluster.TaskDefinition{NetworkMode: "bridge"},
			},
		},
		Environments: map[string]Override{
			"staging": {Services: map[string]ServiceTemplate{
				"web": {
					Active:       &off,
					InitialCount: &zero,
					TaskTemplate: &cluster.TaskDefinition{NetworkMode: "awsvpc"},
				},
			}},
		},
	}
	staging, err := base.ForEnvironment("staging")
	require.NoError(t, err)
	assert.False(t, staging.Services["web"].IsActive())
	assert.Equal(t, int64(0), staging.Services["web"].Count())

	assert.True(t, on)
	assert.Equal(t, int64(3), three)
	assert.Equal(t, "bridge", base.Services["web"].TaskTemplate.NetworkMode)
}

func TestParseUnknownEnvironment(t *testing.T) {
	_, err := Parse([]byte(testManifest), "dev")
	var confErr *ConfigurationError
	require.True(t, asConfigurationError(err, &confErr), "expected ConfigurationError, got %v", err)
	assert.Equal(t, "environments", confErr.Problems[0].Field)
}

func TestParseSchemaViolations(t *testing.T) {
	for name, doc := range map[string]string{
		"missing appName":   "aws: {region: eu-west-1}",
		"unknown field":     "appName: app\naws: {region: eu-west-1}\nbogus: true",
		"bad runOnDeploy":   "appName: app\naws: {region: eu-west-1, defaultECSCluster: c}\njobs: {j: {runOnDeploy: during}}",
		"image without tag": "appName: app\naws: {region: eu-west-1}\nimages: {i: {repo: r}}",
		"not an object":     "- just\n- a list",
		"empty":             "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), "prod")
			var confErr *ConfigurationError
			require.True(t, asConfigurationError(err, &confErr), "expected ConfigurationError, got %v", err)
			assert.NotEmpty(t, confErr.Problems)
		})
	}
}

func TestParseSchemaVersion(t *testing.T) {
	doc := "schemaVersion: \"2.0\"\nappName: app\naws: {region: eu-west-1, defaultECSCluster: c}"
	_, err := Parse([]byte(doc), "prod")
	var confErr *ConfigurationError
	require.True(t, asConfigurationError(err, &confErr), "expected ConfigurationError, got %v", err)
	assert.Equal(t, "schemaVersion", confErr.Problems[0].Field)

	doc = "schemaVersion: \"1.3\"\nappName: app\naws: {region: eu-west-1, defaultECSCluster: c}"
	_, err = Parse([]byte(doc), "prod")
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	negative := int64(-1)
	cfg := Configuration{
		AppName:     "app",
		Environment: "prod",
		AWS:         AWS{Region: "eu-west-1"},
		Services: map[string]ServiceTemplate{
			"web": {
				InitialCount: &negative,
				TaskTemplate: &cluster.TaskDefinition{
					ContainerDefinitions: []cluster.ContainerDefinition{{Name: "web", Image: "nginx"}},
				},
				LoadBalancers: []cluster.LoadBalancer{{ContainerName: "api", ContainerPort: 80}},
			},
		},
		Jobs: map[string]JobTemplate{
			"web": {Cluster: "batch"},
		},
	}
	err := Validate(cfg)
	var confErr *ConfigurationError
	require.True(t, asConfigurationError(err, &confErr), "expected ConfigurationError, got %v", err)

	var fields []string
	for _, p := range confErr.Problems {
		fields = append(fields, p.Field)
	}
	assert.ElementsMatch(t, []string{
		"services.web.cluster",
		"services.web.initialCount",
		"services.web.loadBalancers[0].containerName",
		"jobs.web",
	}, fields)
}

func TestConfigurationErrorIsHelpful(t *testing.T) {
	err := &ConfigurationError{Problems: []Problem{{Field: "appName", Message: "required"}}}
	explained := ecserr.Explain(err)
	assert.Equal(t, ecserr.User, explained.Type)
	assert.Contains(t, explained.Help, "appName: required")
}

func TestCopyIsIndependent(t *testing.T) {
	cfg, err := Parse([]byte(testManifest), "staging")
	require.NoError(t, err)
	cp := cfg.Copy()
	web := cp.Services["web"]
	web.TaskDefinitionArn = "arn:changed"
	cp.Services["web"] = web
	assert.Equal(t, "", cfg.Services["web"].TaskDefinitionArn)
}

func asConfigurationError(err error, target **ConfigurationError) bool {
	e, ok := err.(*ConfigurationError)
	if ok {
		*target = e
	}
	return ok
}
