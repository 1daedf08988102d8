package register

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
)

var ErrMissingTaskTemplate = errors.New("no taskTemplate given")

// Error is a failure to come up with a task definition for a task.
type Error struct {
	TaskID   string
	TaskType deployment.TaskType
	Err      error
}

// MissingTaskTemplate is returned for a task that needs registering,
// but has no template to register.
func MissingTaskTemplate(typ deployment.TaskType, taskID string) error {
	return &Error{TaskID: taskID, TaskType: typ, Err: ErrMissingTaskTemplate}
}

func (e *Error) Error() string {
	return fmt.Sprintf("registering task definition for %s %q: %s", e.TaskType, e.TaskID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Helpful() *ecserr.Error {
	if errors.Is(e.Err, ErrMissingTaskTemplate) {
		return &ecserr.Error{
			Type: ecserr.User,
			Err:  e,
			Help: fmt.Sprintf(`The %s %q needs a new task definition, but has no taskTemplate
in the manifest. Either give it a taskTemplate, or leave it out of
updateOnly so that it keeps the task definition it has now.
`, e.TaskType, e.TaskID),
		}
	}
	return &ecserr.Error{
		Type: ecserr.Server,
		Err:  e,
		Help: fmt.Sprintf(`ECS refused the task definition for the %s %q:

    %s

Check the taskTemplate of %q in the manifest. Nothing was deployed;
task definitions registered for other tasks are left as unused
revisions.
`, e.TaskType, e.TaskID, e.Err, e.TaskID),
	}
}
