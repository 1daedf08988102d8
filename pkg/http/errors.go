package http

import (
	"errors"

	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
)

func MakeAPINotFound(path string) *ecserr.Error {
	return &ecserr.Error{
		Type: ecserr.Missing,
		Help: `The API endpoint requested is not supported by this scheduler.

Check that the client and the scheduler are the same version of
ecsdeploy. The path requested was

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}

func MakeBadRequest(err error) *ecserr.Error {
	return &ecserr.Error{
		Type: ecserr.User,
		Help: `The request could not be understood: ` + err.Error() + `
`,
		Err: err,
	}
}
