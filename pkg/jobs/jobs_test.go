package jobs

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	"github.com/fluxcd/ecsdeploy/pkg/cluster/mock"
	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
)

func job(id string, phase manifest.Phase) deployment.TaskItem {
	return deployment.TaskItem{
		TaskID:            id,
		TaskType:          deployment.JobTask,
		TaskDefinitionArn: "arn:aws:ecs:eu-west-1:123456789012:task-definition/app-" + id + "-prod:1",
		ECSCluster:        "main",
		ECSRegion:         "eu-west-1",
		RunOnDeploy:       phase,
	}
}

type runs struct {
	sync.Mutex
	started []string
}

func runner(fail map[string]error) (*Runner, *runs) {
	r := &runs{}
	m := &mock.Mock{
		RunTaskFunc: func(_ context.Context, in cluster.RunTaskInput) ([]string, error) {
			if err := fail[in.TaskDefinitionArn]; err != nil {
				return nil, err
			}
			r.Lock()
			defer r.Unlock()
			r.started = append(r.started, in.TaskDefinitionArn)
			return []string{"arn:aws:ecs:eu-west-1:123456789012:task/main/abc"}, nil
		},
	}
	return &Runner{Clusters: cluster.Static(m), Logger: log.NewNopLogger()}, r
}

func TestRunOnDeployFiltersByPhase(t *testing.T) {
	tasks := []deployment.TaskItem{
		job("migrate", manifest.PhaseBefore),
		job("warm-cache", manifest.PhaseAfter),
		job("notify", manifest.PhaseAfter),
		job("nightly", ""),
		{TaskID: "web", TaskType: deployment.ServiceTask, RunOnDeploy: manifest.PhaseAfter},
	}
	jr, r := runner(nil)

	errs := jr.RunOnDeploy(context.Background(), tasks, manifest.PhaseAfter)
	assert.Empty(t, errs)
	sort.Strings(r.started)
	assert.Equal(t, []string{job("notify", "").TaskDefinitionArn, job("warm-cache", "").TaskDefinitionArn}, r.started)
}

func TestRunOnDeployCollectsFailures(t *testing.T) {
	tasks := []deployment.TaskItem{job("a", manifest.PhaseBefore), job("b", manifest.PhaseBefore), job("c", manifest.PhaseBefore)}
	jr, r := runner(map[string]error{job("b", "").TaskDefinitionArn: errors.New("no capacity")})

	errs := jr.RunOnDeploy(context.Background(), tasks, manifest.PhaseBefore)
	require.Len(t, errs, 1)
	var rerr *RunError
	require.True(t, errors.As(errs[0], &rerr))
	assert.Equal(t, "b", rerr.JobID)
	assert.Len(t, r.started, 2)
}

func TestRunJobNow(t *testing.T) {
	current := &deployment.Deployment{
		AppName:     "app",
		Environment: "prod",
		Tasks: []deployment.TaskItem{
			job("nightly", ""),
			{TaskID: "web", TaskType: deployment.ServiceTask},
		},
	}
	jr, r := runner(nil)

	arns, err := jr.RunJobNow(context.Background(), "nightly", current)
	require.NoError(t, err)
	assert.Len(t, arns, 1)
	assert.Equal(t, []string{job("nightly", "").TaskDefinitionArn}, r.started)

	for _, id := range []string{"web", "missing"} {
		_, err = jr.RunJobNow(context.Background(), id, current)
		var notFound *JobNotFound
		require.True(t, errors.As(err, &notFound), id)
		assert.Equal(t, id, notFound.JobID)
		assert.True(t, ecserr.IsMissing(ecserr.Explain(err)))
	}

	_, err = jr.RunJobNow(context.Background(), "nightly", nil)
	assert.IsType(t, &JobNotFound{}, err)
}
