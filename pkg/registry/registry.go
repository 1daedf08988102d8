// Package registry finds (or makes) the image repositories images are
// pushed to, and the credentials needed to push to them.
package registry

import (
	"context"
	"strings"

	"github.com/fluxcd/ecsdeploy/pkg/image"
)

// Registry is where built images are pushed.
type Registry interface {
	// FindOrCreateRepository returns the repository with the name
	// given, creating it if it does not exist yet.
	FindOrCreateRepository(ctx context.Context, name string) (image.Name, error)
	// GetAuthorizationToken gives credentials for pushing to (and
	// pulling from) the registry.
	GetAuthorizationToken(ctx context.Context) (Credentials, error)
}

// RepositoryName gives the name of the repository for one of an app's
// images. Repository names must be lower case.
func RepositoryName(appName, repo string) string {
	return strings.ToLower(appName + "/" + repo)
}
