package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	"github.com/fluxcd/ecsdeploy/pkg/cluster/mock"
	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
)

// fakeECS keeps services in a map, and a log of the calls made.
type fakeECS struct {
	sync.Mutex
	services map[string]*cluster.Service
	calls    []string
	waits    [][]string
	failOn   map[string]error
}

func (f *fakeECS) log(call string) error {
	f.Lock()
	defer f.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func newFake(existing ...cluster.Service) (*fakeECS, *mock.Mock) {
	f := &fakeECS{services: map[string]*cluster.Service{}, failOn: map[string]error{}}
	for i := range existing {
		s := existing[i]
		f.services[s.Name] = &s
	}
	m := &mock.Mock{
		DescribeServiceFunc: func(_ context.Context, clusterName, name string) (*cluster.Service, error) {
			if err := f.log("describe " + name); err != nil {
				return nil, err
			}
			f.Lock()
			defer f.Unlock()
			if s, ok := f.services[name]; ok {
				found := *s
				return &found, nil
			}
			return nil, nil
		},
		CreateServiceFunc: func(_ context.Context, in cluster.CreateServiceInput) error {
			if err := f.log(fmt.Sprintf("create %s %d", in.ServiceName, in.DesiredCount)); err != nil {
				return err
			}
			f.Lock()
			defer f.Unlock()
			f.services[in.ServiceName] = &cluster.Service{
				Cluster:           in.Cluster,
				Name:              in.ServiceName,
				Status:            cluster.StatusActive,
				TaskDefinitionArn: in.TaskDefinitionArn,
				DesiredCount:      in.DesiredCount,
			}
			return nil
		},
		UpdateServiceFunc: func(_ context.Context, in cluster.UpdateServiceInput) error {
			call := "update " + in.ServiceName
			if in.DesiredCount != nil {
				call = fmt.Sprintf("scale %s %d", in.ServiceName, *in.DesiredCount)
			}
			if err := f.log(call); err != nil {
				return err
			}
			f.Lock()
			defer f.Unlock()
			s := f.services[in.ServiceName]
			if in.TaskDefinitionArn != "" {
				s.TaskDefinitionArn = in.TaskDefinitionArn
			}
			if in.DesiredCount != nil {
				s.DesiredCount = *in.DesiredCount
			}
			return nil
		},
		DeleteServiceFunc: func(_ context.Context, clusterName, name string) error {
			if err := f.log("delete " + name); err != nil {
				return err
			}
			f.Lock()
			defer f.Unlock()
			if f.services[name].DesiredCount != 0 {
				return errors.New("service still has a desired count")
			}
			delete(f.services, name)
			return nil
		},
		WaitForServicesStableFunc: func(_ context.Context, clusterName string, names []string) error {
			if err := f.log("wait " + clusterName); err != nil {
				return err
			}
			f.Lock()
			defer f.Unlock()
			f.waits = append(f.waits, names)
			return nil
		},
	}
	return f, m
}

// callsFor gives the calls made about the service named.
func (f *fakeECS) callsFor(name string) []string {
	f.Lock()
	defer f.Unlock()
	var out []string
	for _, c := range f.calls {
		if fields := strings.Fields(c); len(fields) > 1 && fields[1] == name {
			out = append(out, c)
		}
	}
	return out
}

func service(id string) deployment.TaskItem {
	return deployment.TaskItem{
		TaskID:            id,
		TaskType:          deployment.ServiceTask,
		TaskDefinitionArn: "arn:aws:ecs:eu-west-1:123456789012:task-definition/app-" + id + "-prod:2",
		ServiceName:       deployment.ServiceName("app", id, "prod"),
		ECSCluster:        "main",
		ECSRegion:         "eu-west-1",
	}
}

func reconciler(m *mock.Mock) *Reconciler {
	return &Reconciler{Clusters: cluster.Static(m), Logger: log.NewNopLogger()}
}

func TestCreateAndUpdate(t *testing.T) {
	f, m := newFake(
		cluster.Service{Name: "app-web-prod", Status: cluster.StatusActive, DesiredCount: 4},
		cluster.Service{Name: "app-old-prod", Status: cluster.StatusInactive},
	)
	three := int64(3)
	templates := map[string]manifest.ServiceTemplate{
		"worker": {InitialCount: &three, Role: "ecsServiceRole"},
	}
	res := reconciler(m).Reconcile(context.Background(),
		[]deployment.TaskItem{service("web"), service("worker"), service("old")},
		templates, nil, nil)

	require.NoError(t, res.Err())
	assert.Equal(t, []string{"web"}, res.Updated)
	assert.Equal(t, []string{"old", "worker"}, res.Created, "inactive services are created afresh")

	assert.Equal(t, []string{"describe app-web-prod", "update app-web-prod"}, f.callsFor("app-web-prod"))
	assert.Equal(t, int64(4), f.services["app-web-prod"].DesiredCount, "update leaves desired count alone")
	assert.Equal(t, service("web").TaskDefinitionArn, f.services["app-web-prod"].TaskDefinitionArn)
	assert.Equal(t, []string{"describe app-worker-prod", "create app-worker-prod 3"}, f.callsFor("app-worker-prod"))
	assert.Equal(t, []string{"describe app-old-prod", "create app-old-prod 1"}, f.callsFor("app-old-prod"))
}

func TestOrphanTeardown(t *testing.T) {
	f, m := newFake(
		cluster.Service{Name: "app-a-prod", Status: cluster.StatusActive, DesiredCount: 2},
		cluster.Service{Name: "app-b-prod", Status: cluster.StatusActive, DesiredCount: 2},
	)
	current := &deployment.Deployment{
		AppName: "app", Environment: "prod",
		Tasks: []deployment.TaskItem{service("a"), service("b"), {TaskID: "nightly", TaskType: deployment.JobTask}},
	}
	res := reconciler(m).Reconcile(context.Background(), []deployment.TaskItem{service("a")}, nil, current, nil)

	require.NoError(t, res.Err())
	assert.Equal(t, []string{"b"}, res.Removed)
	assert.Equal(t, []string{"scale app-b-prod 0", "delete app-b-prod"}, f.callsFor("app-b-prod"))
	assert.NotContains(t, f.services, "app-b-prod")
	assert.Equal(t, [][]string{{"app-a-prod"}}, f.waits, "only desired services are waited for")
}

func TestFailuresAreIsolated(t *testing.T) {
	f, m := newFake()
	f.failOn["describe app-bad-prod"] = errors.New("ThrottlingException")
	f.failOn["create app-worse-prod 1"] = errors.New("InvalidParameterException")

	res := reconciler(m).Reconcile(context.Background(),
		[]deployment.TaskItem{service("bad"), service("good"), service("worse")}, nil, nil, nil)

	assert.Equal(t, []string{"good"}, res.Created)
	require.Len(t, res.ServiceErrors, 2)
	byTask := map[string]*ServiceError{}
	for _, err := range res.ServiceErrors {
		var serr *ServiceError
		require.True(t, errors.As(err, &serr))
		byTask[serr.TaskID] = serr
	}
	assert.Equal(t, OpDescribe, byTask["bad"].Op)
	assert.Equal(t, OpCreate, byTask["worse"].Op)
	assert.Contains(t, res.Err().Error(), "ThrottlingException")
	assert.Contains(t, res.Err().Error(), "InvalidParameterException")
	assert.Equal(t, [][]string{{"app-good-prod"}}, f.waits, "failed services are not waited for")
}

func TestStabilityChunks(t *testing.T) {
	f, m := newFake()
	var services []deployment.TaskItem
	for i := 0; i < 23; i++ {
		services = append(services, service(fmt.Sprintf("svc%02d", i)))
	}
	for _, id := range []string{"x", "y"} {
		s := service(id)
		s.ECSCluster = "other"
		services = append(services, s)
	}

	res := reconciler(m).Reconcile(context.Background(), services, nil, nil, nil)
	require.NoError(t, res.Err())
	assert.Empty(t, res.StabilityErrors)

	var sizes []int
	for _, w := range f.waits {
		assert.True(t, len(w) <= cluster.MaxServicesPerWait)
		sizes = append(sizes, len(w))
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{2, 3, 10, 10}, sizes)
}

func TestChunksAreGroupedByCluster(t *testing.T) {
	a, b := service("a"), service("b")
	b.ECSCluster = "batch"
	got := chunks([]deployment.TaskItem{a, b, service("c")})
	require.Len(t, got, 2)
	assert.Equal(t, "batch", got[0].cluster)
	assert.Equal(t, []string{"app-b-prod"}, got[0].names)
	assert.Equal(t, "main", got[1].cluster)
	assert.Equal(t, []string{"app-a-prod", "app-c-prod"}, got[1].names)
}

func TestStabilityFailureIsNotFatal(t *testing.T) {
	f, m := newFake()
	f.failOn["wait main"] = errors.New("max attempts exceeded")
	res := reconciler(m).Reconcile(context.Background(), []deployment.TaskItem{service("web")}, nil, nil, nil)

	assert.NoError(t, res.Err())
	require.Len(t, res.StabilityErrors, 1)
	var serr *StabilityError
	require.True(t, errors.As(res.StabilityErrors[0], &serr))
	assert.Equal(t, "main", serr.Cluster)
	assert.Equal(t, []string{"app-web-prod"}, serr.Services)
}

func TestBeforeWaitRunsBeforeStabilityWait(t *testing.T) {
	f, m := newFake()
	called := false
	res := reconciler(m).Reconcile(context.Background(), []deployment.TaskItem{service("web")}, nil, nil,
		func(context.Context) {
			called = true
			f.log("before-wait hook")
		})
	require.NoError(t, res.Err())
	assert.True(t, called)
	require.Len(t, f.calls, 4)
	assert.Equal(t, "before-wait hook", f.calls[2])
	assert.Equal(t, "wait main", f.calls[3])
}

func TestEmptyDesiredSetTearsDown(t *testing.T) {
	f, m := newFake(cluster.Service{Name: "app-web-prod", Status: cluster.StatusActive, DesiredCount: 1})
	current := &deployment.Deployment{Tasks: []deployment.TaskItem{service("web")}}
	res := reconciler(m).Reconcile(context.Background(), nil, nil, current, nil)
	require.NoError(t, res.Err())
	assert.Equal(t, []string{"web"}, res.Removed)
	assert.Empty(t, f.services)
	assert.Empty(t, f.waits)
}
