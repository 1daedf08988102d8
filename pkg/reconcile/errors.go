package reconcile

import (
	"fmt"
	"strings"

	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
)

type Op string

const (
	OpDescribe  Op = "describe"
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpScaleDown Op = "scale down"
	OpDelete    Op = "delete"
	OpConnect   Op = "connect"
)

// ServiceError is a failure to reconcile one service. Other services
// are not affected by it.
type ServiceError struct {
	TaskID      string
	ServiceName string
	Op          Op
	Err         error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %q (%s): %s failed: %s", e.TaskID, e.ServiceName, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Helpful() *ecserr.Error {
	return &ecserr.Error{
		Type: ecserr.Server,
		Err:  e,
		Help: fmt.Sprintf(`Could not %s the ECS service %s (for %q):

    %s

Other services were reconciled regardless. Fix the problem, then run
the deployment or rollback again.
`, e.Op, e.ServiceName, e.TaskID, e.Err),
	}
}

// StabilityError is a stability wait that failed or timed out, for a
// batch of services in a cluster.
type StabilityError struct {
	Cluster  string
	Services []string
	Err      error
}

func (e *StabilityError) Error() string {
	return fmt.Sprintf("waiting for services %s in cluster %s to become stable: %s", strings.Join(e.Services, ", "), e.Cluster, e.Err)
}

func (e *StabilityError) Unwrap() error {
	return e.Err
}

type compositeError []error

func (errs compositeError) Error() string {
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is and errors.As look at each error.
func (errs compositeError) Unwrap() []error {
	return errs
}
