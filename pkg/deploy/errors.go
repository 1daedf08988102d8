package deploy

import (
	"fmt"

	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
)

// RollbackPreconditionError is returned when there is no active
// deployment to roll back from.
type RollbackPreconditionError struct {
	AppName     string
	Environment string
}

func (e *RollbackPreconditionError) Error() string {
	return fmt.Sprintf("no active deployment of %s to %s to roll back", e.AppName, e.Environment)
}

func (e *RollbackPreconditionError) Helpful() *ecserr.Error {
	return &ecserr.Error{
		Type: ecserr.User,
		Err:  e,
		Help: fmt.Sprintf(`There is no active deployment of %s to %s, so there is nothing to
roll back. This is the case before the first deployment, and after
rolling back past the first deployment.

Use `+"`ecsdeploy history %s`"+` to see what has been deployed.
`, e.AppName, e.Environment, e.Environment),
	}
}

// ServicesError is returned by Deploy when the deployment was
// recorded, but some services could not be brought up to date.
type ServicesError struct {
	Deployment string
	Err        error
}

func (e *ServicesError) Error() string {
	return fmt.Sprintf("deployment %s recorded, but: %s", e.Deployment, e.Err)
}

func (e *ServicesError) Unwrap() error {
	return e.Err
}

func (e *ServicesError) Helpful() *ecserr.Error {
	return &ecserr.Error{
		Type: ecserr.Server,
		Err:  e,
		Help: fmt.Sprintf(`The deployment %s was recorded as active, but some services could
not be created, updated or removed:

    %s

The other services were deployed. Fix the problem and deploy again,
or roll back to the previous deployment.
`, e.Deployment, e.Err),
	}
}

// RollbackServicesError is returned by Rollback when services could
// not be brought back in line with the previous deployment. The
// history is left as it was.
type RollbackServicesError struct {
	Deployment string
	Err        error
}

func (e *RollbackServicesError) Error() string {
	return fmt.Sprintf("rolling back %s: %s", e.Deployment, e.Err)
}

func (e *RollbackServicesError) Unwrap() error {
	return e.Err
}

func (e *RollbackServicesError) Helpful() *ecserr.Error {
	return &ecserr.Error{
		Type: ecserr.Server,
		Err:  e,
		Help: fmt.Sprintf(`Rolling back %s failed, since some services could not be created,
updated or removed:

    %s

Nothing was changed in the deployment history; %s is still the active
deployment, though some of its services may already have been rolled
back. Fix the problem and roll back again.
`, e.Deployment, e.Err, e.Deployment),
	}
}
