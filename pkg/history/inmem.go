package history

import (
	"context"
	"sort"
	"sync"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
)

// NewInMem returns a Store that keeps records in memory; for tests,
// and for trying things out with `--history-driver memory`.
func NewInMem() Store {
	return &inmem{
		records: map[deployment.Ref]deployment.Deployment{},
	}
}

type inmem struct {
	mtx     sync.Mutex
	records map[deployment.Ref]deployment.Deployment
}

// The records hold slices; hand out copies, so nobody can change a
// record behind the store's back.
func copyOf(d deployment.Deployment) *deployment.Deployment {
	d.Tasks = append([]deployment.TaskItem(nil), d.Tasks...)
	if d.ParentDeployment != nil {
		parent := *d.ParentDeployment
		d.ParentDeployment = &parent
	}
	return &d
}

func (db *inmem) GetCurrentActive(_ context.Context, appName, environment string) (*deployment.Deployment, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	var found *deployment.Deployment
	for _, d := range db.records {
		if d.AppName == appName && d.Environment == environment && d.Active {
			if found == nil || d.DeploymentTimestamp > found.DeploymentTimestamp {
				found = copyOf(d)
			}
		}
	}
	return found, nil
}

func (db *inmem) Get(_ context.Context, ref *deployment.Ref) (*deployment.Deployment, error) {
	if ref == nil {
		return nil, nil
	}
	db.mtx.Lock()
	defer db.mtx.Unlock()

	if d, ok := db.records[*ref]; ok {
		return copyOf(d), nil
	}
	return nil, nil
}

func (db *inmem) SetActive(_ context.Context, ref deployment.Ref, active bool) (*deployment.Deployment, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	d, ok := db.records[ref]
	if !ok {
		return nil, NotFound("SetActive", ref)
	}
	d.Active = active
	db.records[ref] = d
	return copyOf(d), nil
}

func (db *inmem) Deactivate(_ context.Context, ref deployment.Ref) error {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	d, ok := db.records[ref]
	switch {
	case !ok:
		return NotFound("Deactivate", ref)
	case !d.Active:
		return NotActive("Deactivate", ref)
	}
	d.Active = false
	db.records[ref] = d
	return nil
}

func (db *inmem) Put(_ context.Context, d deployment.Deployment) error {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	if _, ok := db.records[d.Ref()]; ok {
		return Exists("Put", d.Ref())
	}
	db.records[d.Ref()] = *copyOf(d)
	return nil
}

func (db *inmem) ListActive(_ context.Context) ([]deployment.Deployment, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	var ds []deployment.Deployment
	for _, d := range db.records {
		if d.Active {
			ds = append(ds, *copyOf(d))
		}
	}
	sortNewestFirst(ds)
	return ds, nil
}

func (db *inmem) History(_ context.Context, appName, environment string, limit int) ([]deployment.Deployment, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	var ds []deployment.Deployment
	for _, d := range db.records {
		if d.AppName == appName && d.Environment == environment {
			ds = append(ds, *copyOf(d))
		}
	}
	sortNewestFirst(ds)
	if limit > 0 && len(ds) > limit {
		ds = ds[:limit]
	}
	return ds, nil
}

func sortNewestFirst(ds []deployment.Deployment) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].DeploymentTimestamp == ds[j].DeploymentTimestamp {
			return ds[i].AppName < ds[j].AppName
		}
		return ds[i].DeploymentTimestamp > ds[j].DeploymentTimestamp
	})
}
