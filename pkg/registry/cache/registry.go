package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/image"
	"github.com/fluxcd/ecsdeploy/pkg/registry"
)

const (
	// DefaultRepositoryTTL is how long a repository lookup is trusted.
	// Repositories are rarely deleted, so this can be long.
	DefaultRepositoryTTL = 24 * time.Hour
	// Credentials are refreshed this long before they expire.
	credentialsMargin = 15 * time.Minute
)

// Registry is a registry.Registry that consults the cache before
// asking the registry behind it. Failing to read or write the cache
// is logged, and otherwise treated as a cache miss.
type Registry struct {
	Next registry.Registry
	// Client is where the answers are kept
	Client Client
	// Name tells registries (accounts, regions) apart in the cache
	Name          string
	RepositoryTTL time.Duration
	Logger        log.Logger

	now func() time.Time
}

var _ registry.Registry = &Registry{}

func (c *Registry) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Registry) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return log.With(c.Logger, "component", "registry-cache")
}

// fetch returns the cached value at key, if it's there and not past
// its refresh deadline.
func (c *Registry) fetch(key Keyer, into interface{}) bool {
	val, deadline, err := c.Client.GetKey(key)
	if err != nil {
		if err != ErrNotCached {
			c.logger().Log("key", key.Key(), "err", err)
		}
		return false
	}
	if c.clock().After(deadline) {
		return false
	}
	if err := json.Unmarshal(val, into); err != nil {
		c.logger().Log("key", key.Key(), "err", errors.Wrap(err, "unmarshaling cached value"))
		return false
	}
	return true
}

func (c *Registry) store(key Keyer, deadline time.Time, v interface{}) {
	val, err := json.Marshal(v)
	if err != nil {
		c.logger().Log("key", key.Key(), "err", errors.Wrap(err, "marshaling value for cache"))
		return
	}
	if err := c.Client.SetKey(key, deadline, val); err != nil {
		c.logger().Log("key", key.Key(), "err", err)
	}
}

func (c *Registry) FindOrCreateRepository(ctx context.Context, name string) (image.Name, error) {
	key := NewRepositoryKey(c.Name, name)
	var cached image.Ref
	if c.fetch(key, &cached) && cached.Image != "" {
		return cached.Name, nil
	}
	found, err := c.Next.FindOrCreateRepository(ctx, name)
	if err != nil {
		return found, err
	}
	ttl := c.RepositoryTTL
	if ttl <= 0 {
		ttl = DefaultRepositoryTTL
	}
	// stored as a Ref, which knows how to serialise itself
	c.store(key, c.clock().Add(ttl), found.ToRef(""))
	return found, nil
}

func (c *Registry) GetAuthorizationToken(ctx context.Context) (registry.Credentials, error) {
	key := NewCredentialsKey(c.Name)
	var cached registry.Credentials
	if c.fetch(key, &cached) {
		return cached, nil
	}
	creds, err := c.Next.GetAuthorizationToken(ctx)
	if err != nil {
		return creds, err
	}
	// Credentials without an expiry aren't cached; we can't know when
	// they go stale.
	if !creds.Expires.IsZero() {
		deadline := creds.Expires.Add(-credentialsMargin)
		if deadline.After(c.clock()) {
			c.store(key, deadline, creds)
		}
	}
	return creds, nil
}
