package build

import (
	"fmt"

	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
)

type Stage string

const (
	StageAuth       Stage = "auth"
	StageRepository Stage = "repository"
	StageBuild      Stage = "build"
	StagePush       Stage = "push"
	StagePull       Stage = "pull"
)

// PipelineError is a failure to produce one of the images. ImageID is
// empty when the failure was before any image was started (getting
// credentials).
type PipelineError struct {
	ImageID string
	Stage   Stage
	Err     error
}

func (e *PipelineError) Error() string {
	if e.ImageID == "" {
		return fmt.Sprintf("image pipeline (%s): %s", e.Stage, e.Err)
	}
	return fmt.Sprintf("image %q (%s): %s", e.ImageID, e.Stage, e.Err)
}

func (e *PipelineError) Cause() error {
	return e.Err
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) Helpful() *ecserr.Error {
	help := fmt.Sprintf(`Could not %s image %q:

    %s

No task definitions were registered, and nothing was deployed. Images
built and pushed before this one are left in the registry; they will
be overwritten by the next deployment.
`, e.Stage, e.ImageID, e.Err)
	if e.ImageID == "" {
		help = fmt.Sprintf(`Could not get credentials for the image registry:

    %s

Check that the AWS credentials in use are allowed to call
ecr:GetAuthorizationToken.
`, e.Err)
	}
	return &ecserr.Error{
		Type: ecserr.User,
		Help: help,
		Err:  e,
	}
}
