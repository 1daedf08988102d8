/*
Package memcached keeps the registry cache in memcached, so that every
ecsdeploy process (the CLI on each build agent, and the scheduler)
shares one set of repository lookups and tokens.

Items are given an expiry based on their refresh deadline, with a
minimum duration so that they expire only once they've been due for
refreshing for a while. memcached may still evict items under memory
pressure; that's just a cache miss.
*/
package memcached

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecsdeploy/pkg/registry/cache"
)

const (
	// The minimum expiry given to an entry.
	MinExpiry = time.Hour

	DefaultUpdateInterval = time.Minute
	DefaultMaxIdleConns   = 16

	deadlineLen = 4
)

// MemcacheClient is a cache.Client talking to memcached. The servers
// are either given, or looked up from SRV records and kept up to date.
type MemcacheClient struct {
	client     *memcache.Client
	serverList *memcache.ServerList
	logger     log.Logger

	quit chan struct{}
	wait sync.WaitGroup
}

var _ cache.Client = &MemcacheClient{}

// MemcacheConfig defines how a MemcacheClient should be constructed.
// When Servers is empty, the servers are found by looking up the SRV
// records for Service on Host.
type MemcacheConfig struct {
	Servers        []string
	Host           string
	Service        string
	Timeout        time.Duration
	UpdateInterval time.Duration
	MaxIdleConns   int
	Logger         log.Logger
}

func NewMemcacheClient(config MemcacheConfig) *MemcacheClient {
	var servers memcache.ServerList
	client := memcache.NewFromSelector(&servers)
	client.Timeout = config.Timeout
	client.MaxIdleConns = config.MaxIdleConns

	logger := config.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	c := &MemcacheClient{
		client:     client,
		serverList: &servers,
		logger:     log.With(logger, "component", "memcached"),
		quit:       make(chan struct{}),
	}

	update := func() error {
		return servers.SetServers(config.Servers...)
	}
	if len(config.Servers) == 0 {
		update = func() error {
			return c.updateFromSRVRecords(config.Service, config.Host)
		}
	}
	if err := update(); err != nil {
		c.logger.Log("err", errors.Wrapf(err, "setting memcache servers for %q", config.Host))
	}

	interval := config.UpdateInterval
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	c.wait.Add(1)
	go c.updateLoop(interval, update)
	return c
}

// GetKey gets the value and its refresh deadline from the cache.
func (c *MemcacheClient) GetKey(k cache.Keyer) ([]byte, time.Time, error) {
	item, err := c.client.Get(k.Key())
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, time.Time{}, cache.ErrNotCached
		}
		return nil, time.Time{}, errors.Wrap(err, "fetching from memcache")
	}
	return decode(item.Value)
}

// SetKey sets the value and its refresh deadline at a key. NB the key
// expiry is set _longer_ than the deadline, to give a grace period
// in which to refresh the value.
func (c *MemcacheClient) SetKey(k cache.Keyer, refreshDeadline time.Time, v []byte) error {
	if err := c.client.Set(&memcache.Item{
		Key:        k.Key(),
		Value:      encode(refreshDeadline, v),
		Expiration: expiry(time.Now(), refreshDeadline),
	}); err != nil {
		return errors.Wrap(err, "storing in memcache")
	}
	return nil
}

// Stop the memcache client.
func (c *MemcacheClient) Stop() {
	close(c.quit)
	c.wait.Wait()
}

// encode prefixes the value with its refresh deadline, in seconds.
func encode(deadline time.Time, v []byte) []byte {
	buf := make([]byte, deadlineLen, deadlineLen+len(v))
	binary.BigEndian.PutUint32(buf, uint32(deadline.Unix()))
	return append(buf, v...)
}

func decode(item []byte) ([]byte, time.Time, error) {
	if len(item) < deadlineLen {
		return nil, time.Time{}, errors.Errorf("cached item too short (%d bytes)", len(item))
	}
	deadline := binary.BigEndian.Uint32(item)
	return item[deadlineLen:], time.Unix(int64(deadline), 0), nil
}

func expiry(now, deadline time.Time) int32 {
	ttl := deadline.Sub(now) * 2
	if ttl < MinExpiry {
		ttl = MinExpiry
	}
	return int32(ttl.Seconds())
}

func (c *MemcacheClient) updateLoop(updateInterval time.Duration, update func() error) {
	defer c.wait.Done()
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := update(); err != nil {
				c.logger.Log("err", errors.Wrap(err, "updating memcache servers"))
			}
		case <-c.quit:
			return
		}
	}
}

// updateFromSRVRecords sets the server list from SRV records. SRV
// priority and weight are ignored.
func (c *MemcacheClient) updateFromSRVRecords(service, host string) error {
	_, addrs, err := net.LookupSRV(service, "tcp", host)
	if err != nil {
		return err
	}
	var servers []string
	for _, srv := range addrs {
		servers = append(servers, fmt.Sprintf("%s:%d", srv.Target, srv.Port))
	}
	// ServerList maps keys to an _index_ in the list, and DNS answers
	// come in any order; sort so every process picks the same server.
	sort.Strings(servers)
	return c.serverList.SetServers(servers...)
}
