// Package history keeps the record of deployments: every deployment
// of an app to an environment, which one of those is active, and
// which one each replaced.
package history

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
)

// Store is implemented by each storage driver. Records are written
// once with Put, and afterwards only their active flag changes.
type Store interface {
	// GetCurrentActive returns the active deployment of the app to the
	// environment, or nil if there is none.
	GetCurrentActive(ctx context.Context, appName, environment string) (*deployment.Deployment, error)
	// Get returns the deployment referred to, or nil if it does not
	// exist. A nil ref gives nil without consulting the store.
	Get(ctx context.Context, ref *deployment.Ref) (*deployment.Deployment, error)
	// SetActive sets the active flag of a deployment, and returns the
	// updated record. Setting the flag to the value it already has is
	// not an error.
	SetActive(ctx context.Context, ref deployment.Ref, active bool) (*deployment.Deployment, error)
	// Deactivate clears the active flag of a deployment only if it is
	// set; if it is already clear, the error returned satisfies
	// errors.Is(err, ErrNotActive).
	Deactivate(ctx context.Context, ref deployment.Ref) error
	// Put writes a new record. It is an error (ErrExists) if there is
	// already a record with the same app and timestamp.
	Put(ctx context.Context, d deployment.Deployment) error
	// ListActive returns every active deployment, of every app.
	ListActive(ctx context.Context) ([]deployment.Deployment, error)
	// History returns the deployments of an app to an environment,
	// newest first. A limit of zero or less means no limit.
	History(ctx context.Context, appName, environment string, limit int) ([]deployment.Deployment, error)
}

var (
	ErrNotActive = errors.New("deployment is not active")
	ErrExists    = errors.New("deployment already recorded")
	ErrNotFound  = errors.New("deployment not found")
)

// ErrParentNotActive is reported when finalizing a deployment finds
// that the deployment it replaces has already been deactivated; most
// likely, another deployment of the same app and environment got
// there first.
var ErrParentNotActive = errors.Wrap(ErrNotActive, "parent deployment")

type Kind string

const (
	// StoreUnavailable means the store could not be reached, or
	// refused the request; trying again may work.
	StoreUnavailable Kind = "unavailable"
	// Inconsistent means the records are not in the state the request
	// assumed; e.g., a deployment already deactivated.
	Inconsistent Kind = "inconsistent"
	// Missing means the deployment referred to does not exist.
	Missing Kind = "missing"
)

// StoreError is the error returned by drivers for any failed request.
type StoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("history store %s (%s): %s", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Helpful() *ecserr.Error {
	switch e.Kind {
	case Missing:
		return &ecserr.Error{
			Type: ecserr.Missing,
			Err:  e,
			Help: "The deployment record asked for does not exist.\n\n    " + e.Error() + "\n",
		}
	case Inconsistent:
		return &ecserr.Error{
			Type: ecserr.User,
			Err:  e,
			Help: `The deployment history is not in the state expected. This can happen
if two deployments of the same app and environment ran at the same
time. Check the output of ` + "`ecsdeploy history <env>`" + ` and redeploy if needed.

    ` + e.Error() + "\n",
		}
	default:
		return &ecserr.Error{
			Type: ecserr.Server,
			Err:  e,
			Help: `The deployment history store could not be reached, or refused the
request. Check the history store settings (--history-driver and
--history-source) and the credentials in use, then try again.

    ` + e.Error() + "\n",
		}
	}
}

// Unavailable wraps a transport or driver failure.
func Unavailable(op string, err error) error {
	return &StoreError{Kind: StoreUnavailable, Op: op, Err: err}
}

func NotActive(op string, ref deployment.Ref) error {
	return &StoreError{Kind: Inconsistent, Op: op, Err: errors.Wrap(ErrNotActive, ref.String())}
}

func Exists(op string, ref deployment.Ref) error {
	return &StoreError{Kind: Inconsistent, Op: op, Err: errors.Wrap(ErrExists, ref.String())}
}

func NotFound(op string, ref deployment.Ref) error {
	return &StoreError{Kind: Missing, Op: op, Err: errors.Wrap(ErrNotFound, ref.String())}
}

// FinalizeReport says how finalizing went, for the parts that do not
// stop a deployment from being recorded.
type FinalizeReport struct {
	// ParentErr is the error deactivating the replaced deployment, if
	// any. If it was already inactive, this satisfies
	// errors.Is(ParentErr, ErrParentNotActive).
	ParentErr error
	// Dropped lists tasks left out of the record because they had no
	// task definition.
	Dropped []string
}

// Finalize records d as the active deployment. The deployment it
// replaces (its parent) is deactivated first; failing that is
// reported and logged, but the new record is written regardless, since
// two active records are easier to recover from than a lost one.
func Finalize(ctx context.Context, s Store, logger log.Logger, d deployment.Deployment) (*deployment.Deployment, FinalizeReport, error) {
	var report FinalizeReport

	tasks := make([]deployment.TaskItem, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		if t.TaskDefinitionArn == "" {
			report.Dropped = append(report.Dropped, t.TaskID)
			continue
		}
		tasks = append(tasks, t)
	}
	d.Tasks = tasks
	if len(report.Dropped) > 0 {
		logger.Log("op", "finalize", "deployment", d.Ref(), "dropped", fmt.Sprint(report.Dropped), "reason", "no task definition")
	}

	if d.ParentDeployment != nil {
		if err := s.Deactivate(ctx, *d.ParentDeployment); err != nil {
			if errors.Is(err, ErrNotActive) {
				err = &StoreError{Kind: Inconsistent, Op: "finalize", Err: errors.Wrap(ErrParentNotActive, d.ParentDeployment.String())}
			}
			report.ParentErr = err
			logger.Log("op", "finalize", "deployment", d.Ref(), "parent", d.ParentDeployment, "err", err)
		}
	}

	d.Active = true
	for attempt := 1; ; attempt++ {
		err := s.Put(ctx, d)
		if err == nil {
			break
		}
		// Timestamps are unique per app, and another environment may
		// have been given the same millisecond.
		if !errors.Is(err, ErrExists) || attempt == maxPutAttempts {
			return nil, report, err
		}
		logger.Log("op", "finalize", "deployment", d.Ref(), "err", err, "retry", d.DeploymentTimestamp+1)
		d.DeploymentTimestamp++
	}
	return &d, report, nil
}

const maxPutAttempts = 10
