// Package cache keeps the answers from a registry in a key/value
// store, so that repeated deployments (and many deployments running
// at once) don't each have to ask the registry API.
package cache

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrNotCached = errors.New("item not in cache")

type Reader interface {
	// GetKey gets the value at a key, along with its refresh deadline
	GetKey(k Keyer) ([]byte, time.Time, error)
}

type Writer interface {
	// SetKey sets the value at a key, along with its refresh deadline
	SetKey(k Keyer, deadline time.Time, v []byte) error
}

type Client interface {
	Reader
	Writer
}

// Keyer provides the key under which to store the data. Keys include
// the registry account, since repository names repeat across
// accounts and regions.
type Keyer interface {
	Key() string
}

type repoKey struct {
	registry, repository string
}

// NewRepositoryKey is the key for a repository lookup in a registry.
func NewRepositoryKey(registry, repository string) Keyer {
	return &repoKey{registry, repository}
}

func (k *repoKey) Key() string {
	return strings.Join([]string{
		"ecsdeployrepov1", // Bump the version number if the cache format changes
		k.registry,
		k.repository,
	}, "|")
}

type credentialsKey struct {
	registry string
}

// NewCredentialsKey is the key for the authorization token of a
// registry.
func NewCredentialsKey(registry string) Keyer {
	return &credentialsKey{registry}
}

func (k *credentialsKey) Key() string {
	return strings.Join([]string{
		"ecsdeploycredsv1", // Bump the version number if the cache format changes
		k.registry,
	}, "|")
}
