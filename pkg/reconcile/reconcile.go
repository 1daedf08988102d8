// Package reconcile makes the services running in ECS match the
// services of a deployment.
package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/cluster"
	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
)

type Reconciler struct {
	Clusters cluster.Factory
	Logger   log.Logger
}

// Result says what a reconciliation did. Services are named by task
// id.
type Result struct {
	Created []string
	Updated []string
	Removed []string
	// One *ServiceError per service that could not be reconciled.
	ServiceErrors []error
	// One *StabilityError per failed wait. These never fail a
	// deployment.
	StabilityErrors []error
}

// Err returns the service errors as one error, or nil if there were
// none.
func (r Result) Err() error {
	if len(r.ServiceErrors) == 0 {
		return nil
	}
	return compositeError(r.ServiceErrors)
}

func (r *Reconciler) logger() log.Logger {
	if r.Logger == nil {
		return log.NewNopLogger()
	}
	return log.With(r.Logger, "component", "reconcile")
}

// Reconcile creates or updates each of the services given, and tears
// down any service of the current deployment that is not among them.
// Each service is dealt with in its own goroutine; a failure with one
// is recorded and does not stop the others.
//
// Once all services are dealt with, beforeWait (if not nil) is called,
// and then Reconcile waits for the services to become stable.
func (r *Reconciler) Reconcile(ctx context.Context, services []deployment.TaskItem, templates map[string]manifest.ServiceTemplate, current *deployment.Deployment, beforeWait func(context.Context)) Result {
	var (
		res Result
		mtx sync.Mutex
		wg  sync.WaitGroup
	)
	record := func(list *[]string, id string, err error) {
		mtx.Lock()
		defer mtx.Unlock()
		if err != nil {
			res.ServiceErrors = append(res.ServiceErrors, err)
			return
		}
		*list = append(*list, id)
	}

	var settled []deployment.TaskItem
	var settledMtx sync.Mutex
	for _, task := range services {
		wg.Add(1)
		go func(task deployment.TaskItem) {
			defer wg.Done()
			created, err := r.apply(ctx, task, templates[task.TaskID])
			if created {
				record(&res.Created, task.TaskID, err)
			} else {
				record(&res.Updated, task.TaskID, err)
			}
			if err == nil {
				settledMtx.Lock()
				settled = append(settled, task)
				settledMtx.Unlock()
			}
		}(task)
	}
	wg.Wait()

	for _, orphan := range orphans(services, current) {
		wg.Add(1)
		go func(task deployment.TaskItem) {
			defer wg.Done()
			record(&res.Removed, task.TaskID, r.remove(ctx, task))
		}(orphan)
	}
	wg.Wait()

	sort.Strings(res.Created)
	sort.Strings(res.Updated)
	sort.Strings(res.Removed)

	if beforeWait != nil {
		beforeWait(ctx)
	}
	res.StabilityErrors = r.waitForStable(ctx, settled)
	return res
}

// apply creates or updates a service; the bool returned is true if
// the service was (or would have been) created.
func (r *Reconciler) apply(ctx context.Context, task deployment.TaskItem, tmpl manifest.ServiceTemplate) (bool, error) {
	logger := log.With(r.logger(), "service", task.ServiceName, "cluster", task.ECSCluster)
	fail := func(op Op, err error) error {
		logger.Log("op", op, "err", err)
		return &ServiceError{TaskID: task.TaskID, ServiceName: task.ServiceName, Op: op, Err: err}
	}

	c, err := r.Clusters(task.ECSRegion)
	if err != nil {
		return false, fail(OpConnect, err)
	}
	existing, err := c.DescribeService(ctx, task.ECSCluster, task.ServiceName)
	if err != nil {
		return false, fail(OpDescribe, err)
	}

	if existing != nil && existing.Status == cluster.StatusActive {
		if err := c.UpdateService(ctx, cluster.UpdateServiceInput{
			Cluster:           task.ECSCluster,
			ServiceName:       task.ServiceName,
			TaskDefinitionArn: task.TaskDefinitionArn,
		}); err != nil {
			return false, fail(OpUpdate, err)
		}
		logger.Log("updated", task.TaskDefinitionArn)
		return false, nil
	}

	if err := c.CreateService(ctx, cluster.CreateServiceInput{
		Cluster:           task.ECSCluster,
		ServiceName:       task.ServiceName,
		TaskDefinitionArn: task.TaskDefinitionArn,
		DesiredCount:      tmpl.Count(),
		Role:              tmpl.Role,
		LoadBalancers:     tmpl.LoadBalancers,
	}); err != nil {
		return true, fail(OpCreate, err)
	}
	logger.Log("created", task.TaskDefinitionArn, "count", tmpl.Count())
	return true, nil
}

// remove scales a service to zero, then deletes it; ECS will not
// delete a service that still has a desired count.
func (r *Reconciler) remove(ctx context.Context, task deployment.TaskItem) error {
	logger := log.With(r.logger(), "service", task.ServiceName, "cluster", task.ECSCluster)
	fail := func(op Op, err error) error {
		logger.Log("op", op, "err", err)
		return &ServiceError{TaskID: task.TaskID, ServiceName: task.ServiceName, Op: op, Err: err}
	}

	c, err := r.Clusters(task.ECSRegion)
	if err != nil {
		return fail(OpConnect, err)
	}
	zero := int64(0)
	if err := c.UpdateService(ctx, cluster.UpdateServiceInput{
		Cluster:      task.ECSCluster,
		ServiceName:  task.ServiceName,
		DesiredCount: &zero,
	}); err != nil {
		return fail(OpScaleDown, err)
	}
	if err := c.DeleteService(ctx, task.ECSCluster, task.ServiceName); err != nil {
		return fail(OpDelete, err)
	}
	logger.Log("removed", task.ServiceName)
	return nil
}

// orphans are the services of the current deployment that are not
// wanted any more.
func orphans(desired []deployment.TaskItem, current *deployment.Deployment) []deployment.TaskItem {
	if current == nil {
		return nil
	}
	wanted := map[string]bool{}
	for _, t := range desired {
		wanted[t.TaskID] = true
	}
	var out []deployment.TaskItem
	for _, t := range current.ServiceTasks() {
		if !wanted[t.TaskID] {
			out = append(out, t)
		}
	}
	return out
}

type clusterKey struct {
	region, cluster string
}

// Chunks of services to wait for, at most cluster.MaxServicesPerWait
// to a chunk, grouped by cluster. The order is deterministic.
type chunk struct {
	clusterKey
	names []string
}

func chunks(services []deployment.TaskItem) []chunk {
	byCluster := map[clusterKey][]string{}
	var keys []clusterKey
	for _, t := range services {
		k := clusterKey{t.ECSRegion, t.ECSCluster}
		if _, ok := byCluster[k]; !ok {
			keys = append(keys, k)
		}
		byCluster[k] = append(byCluster[k], t.ServiceName)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].region == keys[j].region {
			return keys[i].cluster < keys[j].cluster
		}
		return keys[i].region < keys[j].region
	})

	var out []chunk
	for _, k := range keys {
		names := byCluster[k]
		sort.Strings(names)
		for len(names) > 0 {
			n := cluster.MaxServicesPerWait
			if len(names) < n {
				n = len(names)
			}
			out = append(out, chunk{k, names[:n]})
			names = names[n:]
		}
	}
	return out
}

func (r *Reconciler) waitForStable(ctx context.Context, services []deployment.TaskItem) []error {
	var (
		errs []error
		mtx  sync.Mutex
		wg   sync.WaitGroup
	)
	for _, ch := range chunks(services) {
		wg.Add(1)
		go func(ch chunk) {
			defer wg.Done()
			err := r.wait(ctx, ch)
			if err == nil {
				return
			}
			r.logger().Log("cluster", ch.cluster, "services", len(ch.names), "err", err)
			mtx.Lock()
			errs = append(errs, &StabilityError{Cluster: ch.cluster, Services: ch.names, Err: err})
			mtx.Unlock()
		}(ch)
	}
	wg.Wait()
	return errs
}

func (r *Reconciler) wait(ctx context.Context, ch chunk) error {
	c, err := r.Clusters(ch.region)
	if err != nil {
		return errors.Wrapf(err, "connecting to ECS in %s", ch.region)
	}
	return c.WaitForServicesStable(ctx, ch.cluster, ch.names)
}
