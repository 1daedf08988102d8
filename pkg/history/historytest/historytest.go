// Package historytest has tests that every history.Store driver is
// expected to pass.
package historytest

import (
	"context"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/history"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
)

// Factory makes a fresh, empty store for a test.
type Factory func(t *testing.T) history.Store

// Run runs every store test against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	for name, test := range map[string]func(*testing.T, history.Store){
		"GetNilRef":             testGetNilRef,
		"NoActiveDeployment":    testNoActiveDeployment,
		"FinalizeFirst":         testFinalizeFirst,
		"ExactlyOneActive":      testExactlyOneActive,
		"ParentAlreadyInactive": testParentAlreadyInactive,
		"SetActive":             testSetActive,
		"Deactivate":            testDeactivate,
		"PutNeverOverwrites":    testPutNeverOverwrites,
		"ListActive":            testListActive,
		"History":               testHistory,
		"DropsTasksWithoutArn":  testDropsTasksWithoutArn,
	} {
		test := test
		t.Run(name, func(t *testing.T) {
			test(t, newStore(t))
		})
	}
}

// Sample makes a deployment record with one service and one job.
func Sample(app, env string, ts int64, parent *deployment.Ref) deployment.Deployment {
	essential := true
	return deployment.Deployment{
		AppName:             app,
		Environment:         env,
		DeploymentTimestamp: ts,
		Tasks: []deployment.TaskItem{
			{
				TaskID:            "web",
				TaskType:          deployment.ServiceTask,
				TaskDefinitionArn: "arn:aws:ecs:eu-west-1:123456789012:task-definition/" + deployment.ServiceName(app, "web", env) + ":1",
				ServiceName:       deployment.ServiceName(app, "web", env),
				ECSCluster:        "main",
				ECSRegion:         "eu-west-1",
			},
			{
				TaskID:            "nightly",
				TaskType:          deployment.JobTask,
				TaskDefinitionArn: "arn:aws:ecs:eu-west-1:123456789012:task-definition/" + deployment.ServiceName(app, "nightly", env) + ":1",
				ECSCluster:        "main",
				ECSRegion:         "eu-west-1",
				Schedule:          "0 3 * * *",
			},
		},
		DeploymentInformation: manifest.Configuration{
			AppName:     app,
			Environment: env,
			AWS:         manifest.AWS{Region: "eu-west-1", DefaultECSCluster: "main"},
			Services: map[string]manifest.ServiceTemplate{
				"web": {
					TaskTemplate: &cluster.TaskDefinition{
						ContainerDefinitions: []cluster.ContainerDefinition{
							{Name: "web", Image: "nginx:1.17", Essential: &essential, Memory: 128},
						},
					},
				},
			},
			Jobs: map[string]manifest.JobTemplate{
				"nightly": {Schedule: "0 3 * * *"},
			},
		},
		ParentDeployment: parent,
	}
}

func finalize(t *testing.T, s history.Store, d deployment.Deployment) (*deployment.Deployment, history.FinalizeReport) {
	stored, report, err := history.Finalize(context.Background(), s, log.NewNopLogger(), d)
	require.NoError(t, err)
	require.NotNil(t, stored)
	return stored, report
}

func testGetNilRef(t *testing.T, s history.Store) {
	d, err := s.Get(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, d)

	d, err = s.Get(context.Background(), &deployment.Ref{AppName: "app", DeploymentTimestamp: 1})
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func testNoActiveDeployment(t *testing.T, s history.Store) {
	d, err := s.GetCurrentActive(context.Background(), "app", "prod")
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func testFinalizeFirst(t *testing.T, s history.Store) {
	ctx := context.Background()
	want := Sample("app", "prod", 1000, nil)
	stored, report := finalize(t, s, want)
	assert.NoError(t, report.ParentErr)
	assert.True(t, stored.Active)

	got, err := s.GetCurrentActive(ctx, "app", "prod")
	require.NoError(t, err)
	require.NotNil(t, got)
	want.Active = true
	assert.Equal(t, want, *got)

	ref := want.Ref()
	byRef, err := s.Get(ctx, &ref)
	require.NoError(t, err)
	assert.Equal(t, want, *byRef)

	other, err := s.GetCurrentActive(ctx, "app", "staging")
	require.NoError(t, err)
	assert.Nil(t, other, "active deployments are per environment")
}

func testExactlyOneActive(t *testing.T, s history.Store) {
	ctx := context.Background()
	first, _ := finalize(t, s, Sample("app", "prod", 1000, nil))
	parent := first.Ref()
	second, report := finalize(t, s, Sample("app", "prod", 2000, &parent))
	assert.NoError(t, report.ParentErr)

	current, err := s.GetCurrentActive(ctx, "app", "prod")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.Ref(), current.Ref())
	assert.Equal(t, &parent, current.ParentDeployment)

	all, err := s.History(ctx, "app", "prod", 0)
	require.NoError(t, err)
	var active []deployment.Ref
	for _, d := range all {
		if d.Active {
			active = append(active, d.Ref())
		}
	}
	assert.Equal(t, []deployment.Ref{second.Ref()}, active)
}

func testParentAlreadyInactive(t *testing.T, s history.Store) {
	ctx := context.Background()
	first, _ := finalize(t, s, Sample("app", "prod", 1000, nil))
	parent := first.Ref()
	finalize(t, s, Sample("app", "prod", 2000, &parent))

	// A second deployment racing with the one above, also based on
	// the first deployment.
	third, report := finalize(t, s, Sample("app", "prod", 3000, &parent))
	require.Error(t, report.ParentErr)
	assert.True(t, errors.Is(report.ParentErr, history.ErrParentNotActive), "got %v", report.ParentErr)

	current, err := s.GetCurrentActive(ctx, "app", "prod")
	require.NoError(t, err)
	assert.Equal(t, third.Ref(), current.Ref(), "the new record is written regardless")
}

func testSetActive(t *testing.T, s history.Store) {
	ctx := context.Background()
	first, _ := finalize(t, s, Sample("app", "prod", 1000, nil))

	for i := 0; i < 2; i++ {
		d, err := s.SetActive(ctx, first.Ref(), false)
		require.NoError(t, err)
		assert.False(t, d.Active)
	}
	current, err := s.GetCurrentActive(ctx, "app", "prod")
	require.NoError(t, err)
	assert.Nil(t, current)

	d, err := s.SetActive(ctx, first.Ref(), true)
	require.NoError(t, err)
	assert.True(t, d.Active)
	assert.Equal(t, first.Tasks, d.Tasks)

	_, err = s.SetActive(ctx, deployment.Ref{AppName: "app", DeploymentTimestamp: 42}, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, history.ErrNotFound), "got %v", err)
}

func testDeactivate(t *testing.T, s history.Store) {
	ctx := context.Background()
	first, _ := finalize(t, s, Sample("app", "prod", 1000, nil))

	require.NoError(t, s.Deactivate(ctx, first.Ref()))
	err := s.Deactivate(ctx, first.Ref())
	require.Error(t, err)
	assert.True(t, errors.Is(err, history.ErrNotActive), "got %v", err)

	err = s.Deactivate(ctx, deployment.Ref{AppName: "app", DeploymentTimestamp: 42})
	require.Error(t, err)
	assert.True(t, errors.Is(err, history.ErrNotFound), "got %v", err)
}

func testPutNeverOverwrites(t *testing.T, s history.Store) {
	ctx := context.Background()
	d := Sample("app", "prod", 1000, nil)
	require.NoError(t, s.Put(ctx, d))

	changed := Sample("app", "staging", 1000, nil)
	err := s.Put(ctx, changed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, history.ErrExists), "got %v", err)

	ref := d.Ref()
	got, err := s.Get(ctx, &ref)
	require.NoError(t, err)
	assert.Equal(t, "prod", got.Environment)
}

func testListActive(t *testing.T, s history.Store) {
	ctx := context.Background()
	finalize(t, s, Sample("app", "prod", 1000, nil))
	finalize(t, s, Sample("app", "staging", 1001, nil))
	other, _ := finalize(t, s, Sample("other", "prod", 1002, nil))
	_, err := s.SetActive(ctx, other.Ref(), false)
	require.NoError(t, err)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	var got []string
	for _, d := range active {
		got = append(got, d.AppName+"/"+d.Environment)
	}
	assert.ElementsMatch(t, []string{"app/prod", "app/staging"}, got)
}

func testHistory(t *testing.T, s history.Store) {
	ctx := context.Background()
	var parent *deployment.Ref
	for _, ts := range []int64{1000, 2000, 3000} {
		d, _ := finalize(t, s, Sample("app", "prod", ts, parent))
		ref := d.Ref()
		parent = &ref
	}
	finalize(t, s, Sample("app", "staging", 1500, nil))

	all, err := s.History(ctx, "app", "prod", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3000), all[0].DeploymentTimestamp)
	assert.Equal(t, int64(1000), all[2].DeploymentTimestamp)

	limited, err := s.History(ctx, "app", "prod", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(2000), limited[1].DeploymentTimestamp)
}

func testDropsTasksWithoutArn(t *testing.T, s history.Store) {
	d := Sample("app", "prod", 1000, nil)
	d.Tasks = append(d.Tasks, deployment.TaskItem{TaskID: "pending", TaskType: deployment.ServiceTask})
	stored, report := finalize(t, s, d)
	assert.Equal(t, []string{"pending"}, report.Dropped)
	for _, task := range stored.Tasks {
		assert.NotEmpty(t, task.TaskDefinitionArn)
	}
	assert.Len(t, stored.Tasks, 2)
}
