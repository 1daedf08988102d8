// +build integration

package memcached

import (
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/registry/cache"
)

var memcachedIPs = flag.String("memcached-ips", "127.0.0.1:11211", "space-separated host:port values for memcached to connect to")

type testKey string

func (t testKey) Key() string {
	return string(t)
}

func newClient() *MemcacheClient {
	return NewMemcacheClient(MemcacheConfig{
		Servers:        strings.Fields(*memcachedIPs),
		Timeout:        time.Second,
		UpdateInterval: time.Minute,
		Logger:         log.NewLogfmtLogger(os.Stderr),
	})
}

func TestMemcache_ExpiryReadWrite(t *testing.T) {
	mc := newClient()
	defer mc.Stop()

	now := time.Now().Round(time.Second)
	key := testKey("ecsdeploy-test-" + now.Format(time.RFC3339))
	require.NoError(t, mc.SetKey(key, now, []byte("test bytes")))

	cached, deadline, err := mc.GetKey(key)
	require.NoError(t, err)
	assert.True(t, deadline.Equal(now), "deadline %s, want %s", deadline, now)
	assert.Equal(t, "test bytes", string(cached))
}

func TestMemcache_Miss(t *testing.T) {
	mc := newClient()
	defer mc.Stop()

	_, _, err := mc.GetKey(testKey("ecsdeploy-test-never-set"))
	assert.Equal(t, cache.ErrNotCached, err)
}
