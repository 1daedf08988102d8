package manifest

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/Masterminds/semver/v3"
	"github.com/ghodss/yaml"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	"github.com/fluxcd/ecsdeploy/pkg/policy"
)

// CurrentSchemaVersion is written by `ecsdeploy` into skeleton
// manifests; any 1.x version is accepted when loading.
const CurrentSchemaVersion = "1.0"

const supportedVersionRange = ">= 1.0, < 2.0"

var (
	schema            = mustCompileSchema(schemaJSON)
	supportedVersions = mustConstraint(supportedVersionRange)
)

func mustCompileSchema(s string) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return compiled
}

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads the manifest at path and resolves it for the environment
// given.
func Load(path, env string) (Configuration, error) {
	bytes, err := ioutil.ReadFile(path)
	if err != nil {
		return Configuration{}, errors.Wrapf(err, "reading manifest %s", path)
	}
	return Parse(bytes, env)
}

// Parse checks a YAML (or JSON) manifest against the schema, then
// merges in the overrides for env and validates the result. Any
// problem with the manifest itself is returned as a
// *ConfigurationError.
func Parse(data []byte, env string) (Configuration, error) {
	var cfg Configuration

	jsonBytes, err := yaml.YAMLToJSON(data)
	if err != nil {
		confErr := &ConfigurationError{}
		confErr.add("", "not valid YAML: %s", err)
		return cfg, confErr
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(jsonBytes))
	if err != nil {
		return cfg, errors.Wrap(err, "checking manifest against schema")
	}
	if !result.Valid() {
		confErr := &ConfigurationError{}
		for _, e := range result.Errors() {
			confErr.add(e.Field(), "%s", e.Description())
		}
		return cfg, confErr
	}

	if err := json.Unmarshal(jsonBytes, &cfg); err != nil {
		return cfg, errors.Wrap(err, "decoding manifest")
	}
	if err := checkSchemaVersion(cfg.SchemaVersion); err != nil {
		return cfg, err
	}

	resolved, err := cfg.ForEnvironment(env)
	if err != nil {
		return cfg, err
	}
	return resolved, Validate(resolved)
}

func checkSchemaVersion(v string) error {
	if v == "" {
		return nil
	}
	confErr := &ConfigurationError{}
	version, err := semver.NewVersion(v)
	if err != nil {
		confErr.add("schemaVersion", "%q is not a version: %s", v, err)
		return confErr
	}
	if !supportedVersions.Check(version) {
		confErr.add("schemaVersion", "version %s is not supported (want %s)", v, supportedVersionRange)
	}
	return confErr.orNil()
}

// ForEnvironment returns a copy of the configuration with the
// overrides for env merged in. Values given in the override win;
// anything left out of the override is as in the base manifest. It is
// an error to ask for an environment that is not listed, if any are
// listed.
func (c Configuration) ForEnvironment(env string) (Configuration, error) {
	if env == "" {
		env = c.Environment
	}
	out := c.Copy()
	out.Environment = env
	if len(c.Environments) == 0 {
		return out, nil
	}

	override, ok := c.Environments[env]
	if !ok {
		confErr := &ConfigurationError{}
		confErr.add("environments", "environment %q is not defined", env)
		return out, confErr
	}

	if err := mergo.Merge(&out.AWS, override.AWS, mergo.WithOverride); err != nil {
		return out, errors.Wrapf(err, "merging aws settings for %s", env)
	}
	if len(override.Services) > 0 && out.Services == nil {
		out.Services = map[string]ServiceTemplate{}
	}
	for id, svc := range override.Services {
		merged, err := mergeService(out.Services[id], svc)
		if err != nil {
			return out, errors.Wrapf(err, "merging service %s for %s", id, env)
		}
		out.Services[id] = merged
	}
	if len(override.Jobs) > 0 && out.Jobs == nil {
		out.Jobs = map[string]JobTemplate{}
	}
	for id, job := range override.Jobs {
		merged, err := mergeJob(out.Jobs[id], job)
		if err != nil {
			return out, errors.Wrapf(err, "merging job %s for %s", id, env)
		}
		out.Jobs[id] = merged
	}
	if len(override.UpdateOnly) > 0 {
		out.UpdateOnly = append([]string(nil), override.UpdateOnly...)
	}
	return out, nil
}

// mergo treats false and 0 as unset, so it would keep the base value
// for an override of `active: false` or `initialCount: 0`. The pointer
// fields are set aside before merging and resolved here instead: an
// override that gives one always wins.

func mergeService(base, override ServiceTemplate) (ServiceTemplate, error) {
	active := overrideBool(base.Active, override.Active)
	count := overrideInt64(base.InitialCount, override.InitialCount)
	base.Active, base.InitialCount = nil, nil
	override.Active, override.InitialCount = nil, nil
	// merging writes through the pointer
	base.TaskTemplate = copyTaskTemplate(base.TaskTemplate)
	override.TaskTemplate = copyTaskTemplate(override.TaskTemplate)
	if err := mergo.Merge(&base, override, mergo.WithOverride); err != nil {
		return base, err
	}
	base.Active, base.InitialCount = active, count
	return base, nil
}

func mergeJob(base, override JobTemplate) (JobTemplate, error) {
	active := overrideBool(base.Active, override.Active)
	base.Active, override.Active = nil, nil
	base.TaskTemplate = copyTaskTemplate(base.TaskTemplate)
	override.TaskTemplate = copyTaskTemplate(override.TaskTemplate)
	if err := mergo.Merge(&base, override, mergo.WithOverride); err != nil {
		return base, err
	}
	base.Active = active
	return base, nil
}

func overrideBool(base, override *bool) *bool {
	if override != nil {
		v := *override
		return &v
	}
	if base != nil {
		v := *base
		return &v
	}
	return nil
}

func overrideInt64(base, override *int64) *int64 {
	if override != nil {
		v := *override
		return &v
	}
	if base != nil {
		v := *base
		return &v
	}
	return nil
}

// copyTaskTemplate copies the top level of a task definition. Its
// slices are replaced rather than merged into, so they can be shared.
func copyTaskTemplate(t *cluster.TaskDefinition) *cluster.TaskDefinition {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// Validate checks the things about a resolved configuration that the
// schema cannot.
func Validate(c Configuration) error {
	confErr := &ConfigurationError{}
	if c.AppName == "" {
		confErr.add("appName", "required")
	}
	if c.Environment == "" {
		confErr.add("environment", "required")
	}
	if c.AWS.Region == "" {
		confErr.add("aws.region", "required")
	}

	for _, id := range c.ImageIDs() {
		img := c.Images[id]
		field := fmt.Sprintf("images.%s", id)
		if img.Repo == "" {
			confErr.add(field+".repo", "required")
		}
		if img.Tag == "" {
			confErr.add(field+".tag", "required")
		}
	}

	for _, id := range c.ServiceIDs() {
		svc := c.Services[id]
		field := fmt.Sprintf("services.%s", id)
		if c.ClusterFor(svc.Cluster) == "" {
			confErr.add(field+".cluster", "no cluster given, and aws.defaultECSCluster is not set")
		}
		if svc.InitialCount != nil && *svc.InitialCount < 0 {
			confErr.add(field+".initialCount", "must not be negative")
		}
		if svc.TaskTemplate != nil {
			checkContainers(confErr, field, svc.TaskTemplate.ContainerDefinitions)
			for i, lb := range svc.LoadBalancers {
				if !hasContainer(svc.TaskTemplate.ContainerDefinitions, lb.ContainerName) {
					confErr.add(fmt.Sprintf("%s.loadBalancers[%d].containerName", field, i), "no container named %q in the task template", lb.ContainerName)
				}
			}
		}
	}

	for _, id := range c.JobIDs() {
		job := c.Jobs[id]
		field := fmt.Sprintf("jobs.%s", id)
		if _, ok := c.Services[id]; ok {
			confErr.add(field, "a service has the same id; task ids must be unique")
		}
		if c.ClusterFor(job.Cluster) == "" {
			confErr.add(field+".cluster", "no cluster given, and aws.defaultECSCluster is not set")
		}
		if job.RunOnDeploy != "" && !job.RunOnDeploy.Valid() {
			confErr.add(field+".runOnDeploy", "must be %q or %q", PhaseBefore, PhaseAfter)
		}
		if job.TaskTemplate != nil {
			checkContainers(confErr, field, job.TaskTemplate.ContainerDefinitions)
		}
	}

	for _, bad := range policy.UpdateOnly(c.UpdateOnly).Invalid() {
		confErr.add("updateOnly", "invalid pattern %q", bad)
	}
	return confErr.orNil()
}

func checkContainers(confErr *ConfigurationError, field string, containers []cluster.ContainerDefinition) {
	if len(containers) == 0 {
		confErr.add(field+".taskTemplate.containerDefinitions", "at least one container is required")
	}
	seen := map[string]bool{}
	for i, c := range containers {
		if c.Name == "" {
			confErr.add(fmt.Sprintf("%s.taskTemplate.containerDefinitions[%d].name", field, i), "required")
		} else if seen[c.Name] {
			confErr.add(fmt.Sprintf("%s.taskTemplate.containerDefinitions[%d].name", field, i), "duplicate container name %q", c.Name)
		}
		seen[c.Name] = true
		if c.Image == "" {
			confErr.add(fmt.Sprintf("%s.taskTemplate.containerDefinitions[%d].image", field, i), "required")
		}
	}
}

func hasContainer(containers []cluster.ContainerDefinition, name string) bool {
	for _, c := range containers {
		if c.Name == name {
			return true
		}
	}
	return false
}
